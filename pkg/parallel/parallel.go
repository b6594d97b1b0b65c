// Package parallel provides the data-parallel worker pool used by the graph engine.
//
// Every hot loop in NornicPGQ (CSR count and scatter passes, PageRank contribution
// passes, WCC frontier expansion) is a loop over a contiguous index range whose
// iterations touch disjoint or atomically-protected state. This package splits such a
// range into chunks and runs them on a bounded errgroup. Returning from ForEachRange is
// the barrier between phases: every chunk has finished before the call returns.
//
// # Configuration
//
//	cfg := parallel.Config{
//	    Enabled:      true,
//	    MaxWorkers:   8,   // Use 8 cores max
//	    MinBatchSize: 500, // Parallelize when >500 items
//	}
//
// # ELI12 (Explain Like I'm 12)
//
// Imagine you have 1000 books to check for a specific word. Instead of checking
// one by one, you get 4 friends to help. Each friend takes 250 books and checks
// them at the same time. Nobody moves on to the next chore until all four are done.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	// Enabled enables/disables parallel execution.
	Enabled bool `yaml:"enabled"`

	// MaxWorkers is the maximum number of goroutines to use.
	// Default: runtime.NumCPU()
	MaxWorkers int `yaml:"max_workers" validate:"gte=0"`

	// MinBatchSize is the minimum number of items before parallelizing.
	// Below this threshold the range is processed on the calling goroutine.
	// Default: 1024
	MinBatchSize int `yaml:"min_batch_size" validate:"gte=0"`
}

// DefaultConfig returns the default parallel execution configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxWorkers:   runtime.NumCPU(),
		MinBatchSize: 1024,
	}
}

// Sequential returns a configuration that never spawns workers.
func Sequential() Config {
	return Config{Enabled: false, MaxWorkers: 1, MinBatchSize: 1}
}

// Normalize fills zero values with defaults.
func (c Config) Normalize() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = 1
	}
	return c
}

// Workers returns how many workers a range of n items will be split across.
func (c Config) Workers(n int) int {
	c = c.Normalize()
	if !c.Enabled || n < c.MinBatchSize || n <= 1 {
		return 1
	}
	workers := c.MaxWorkers
	if workers > n {
		workers = n
	}
	return workers
}

// Chunks returns how many chunks ForEachChunk will hand out for n items. Callers
// size per-worker scratch space with it.
func (c Config) Chunks(n int) int {
	if n <= 0 {
		return 0
	}
	workers := c.Workers(n)
	if workers == 1 {
		return 1
	}
	chunkSize := (n + workers - 1) / workers
	return (n + chunkSize - 1) / chunkSize
}

// RangeFunc processes the half-open index range [lo, hi).
type RangeFunc func(lo, hi int) error

// ForEachRange splits [0, n) into contiguous chunks and runs fn on each.
//
// Falls back to a single sequential call when parallelism is disabled or n is below
// MinBatchSize. The first error returned by any chunk cancels the group context and is
// returned once all started chunks have finished. A cancelled ctx is reported before
// any work starts; chunks are not interrupted mid-range.
func ForEachRange(ctx context.Context, n int, cfg Config, fn RangeFunc) error {
	if n <= 0 {
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	workers := cfg.Workers(n)
	if workers == 1 {
		return fn(0, n)
	}

	chunkSize := (n + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += chunkSize {
		lo, hi := start, start+chunkSize
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}

// ForEachChunk is ForEachRange with the worker index exposed, for callers that keep
// one scratch slot per worker (partial sums, local maxima).
func ForEachChunk(ctx context.Context, n int, cfg Config, fn func(worker, lo, hi int) error) (int, error) {
	if n <= 0 {
		return 0, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	workers := cfg.Workers(n)
	if workers == 1 {
		return 1, fn(0, 0, n)
	}

	chunkSize := (n + workers - 1) / workers
	chunks := (n + chunkSize - 1) / chunkSize
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < chunks; i++ {
		worker := i
		lo, hi := i*chunkSize, (i+1)*chunkSize
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(worker, lo, hi)
		})
	}
	return chunks, g.Wait()
}
