package algo

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicpgq/pkg/csr"
	"github.com/orneryd/nornicpgq/pkg/parallel"
	"github.com/orneryd/nornicpgq/pkg/simd"
)

// PageRank configuration defaults.
const (
	// DefaultDampingFactor is the probability of following a link (vs random jump).
	DefaultDampingFactor = 0.85

	// DefaultMaxIterations is the maximum iterations before stopping.
	DefaultMaxIterations = 100

	// DefaultEpsilon is the convergence threshold on max |rank[i]-prev[i]|.
	DefaultEpsilon = 1e-6
)

// PageRankOptions configures PageRank.
type PageRankOptions struct {
	// Damping must be in (0, 1). Default: 0.85
	Damping float64 `yaml:"damping"`

	// Epsilon must be > 0. Default: 1e-6
	Epsilon float64 `yaml:"epsilon"`

	// MaxIterations must be > 0. Default: 100
	MaxIterations int `yaml:"max_iterations"`

	// Parallel configures the contribution and convergence passes.
	Parallel parallel.Config `yaml:"-"`
}

// DefaultPageRankOptions returns the standard parameters.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{
		Damping:       DefaultDampingFactor,
		Epsilon:       DefaultEpsilon,
		MaxIterations: DefaultMaxIterations,
		Parallel:      parallel.DefaultConfig(),
	}
}

// Validate rejects out-of-range parameters.
func (o PageRankOptions) Validate() error {
	if !(o.Damping > 0 && o.Damping < 1) {
		return fmt.Errorf("%w: damping %v not in (0, 1)", ErrInvalidOptions, o.Damping)
	}
	if !(o.Epsilon > 0) {
		return fmt.Errorf("%w: epsilon %v must be > 0", ErrInvalidOptions, o.Epsilon)
	}
	if o.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations %d must be > 0", ErrInvalidOptions, o.MaxIterations)
	}
	return nil
}

// PageRankResult is the output of PageRank.
type PageRankResult struct {
	// Ranks is indexed by vertex id.
	Ranks []float64

	// Iterations is the number of fully completed iterations.
	Iterations int

	// Status is StatusConverged, StatusDidNotConverge, or StatusCancelled.
	Status Status

	// MaxDiff is the convergence measure of the last completed iteration.
	MaxDiff float64
}

// Sum returns the total rank mass.
func (r *PageRankResult) Sum() float64 {
	return simd.Sum(r.Ranks)
}

// pageRankState is the per-invocation scratch of one PageRank call. mu guards
// maxDiff and the transition of converged; nothing here outlives the call.
type pageRankState struct {
	rank    []float64
	temp    []float64
	scratch []float64

	mu        sync.Mutex
	maxDiff   float64
	converged atomic.Bool
}

func newPageRankState(n int) *pageRankState {
	return &pageRankState{
		rank:    make([]float64, n),
		temp:    make([]float64, n),
		scratch: make([]float64, n),
	}
}

// mergeMaxDiff folds one worker's local maximum into the iteration's maximum.
func (s *pageRankState) mergeMaxDiff(local float64) {
	s.mu.Lock()
	if local > s.maxDiff {
		s.maxDiff = local
	}
	s.mu.Unlock()
}

// tryConverge sets the converged flag when diff <= epsilon. The unlocked load
// skips the lock once converged; the locked re-check guards the store.
func (s *pageRankState) tryConverge(diff, epsilon float64) bool {
	if s.converged.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.converged.Load() {
		return true
	}
	if diff <= epsilon {
		s.converged.Store(true)
	}
	return s.converged.Load()
}

// addFloat64 atomically adds delta to *addr.
func addFloat64(addr *float64, delta float64) {
	p := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(p)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(p, old, next) {
			return
		}
	}
}

// PageRank runs power iteration over g.
//
// Each iteration:
//
//	temp[u] += d * rank[v] / deg(v)   for every edge v->u with deg(v) > 0
//	temp[v] += (1-d) / N              for every v
//	rank, temp = temp, rank
//
// Vertices with no out-edges contribute nothing forward: their mass is dropped,
// not redistributed, so the ranks of a graph with dangling vertices sum to less
// than 1. Self-loops count toward out-degree.
//
// The contribution pass runs on the worker pool with atomic accumulation into
// temp. The iteration stops when max |rank[i]-prev[i]| <= Epsilon
// (StatusConverged) or after MaxIterations (StatusDidNotConverge). ctx is checked
// once per iteration; on cancellation the ranks of the last completed iteration
// are returned with StatusCancelled and a nil error.
func PageRank(ctx context.Context, g *csr.CSR, opts PageRankOptions) (*PageRankResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	n := g.VertexCount()

	ctx, span := tracer.Start(ctx, "algo.PageRank",
		trace.WithAttributes(
			attribute.Int("vertex_count", n),
			attribute.Int("edge_count", g.EdgeCount()),
			attribute.Float64("damping_factor", opts.Damping),
			attribute.Int("max_iterations", opts.MaxIterations),
			attribute.Float64("epsilon", opts.Epsilon),
		),
	)
	defer span.End()

	if n == 0 {
		span.AddEvent("empty_graph")
		return &PageRankResult{Ranks: []float64{}, Status: StatusConverged}, nil
	}

	st := newPageRankState(n)
	simd.Fill(st.rank, 1/float64(n))

	d := opts.Damping
	baseRank := (1 - d) / float64(n)
	atomicAdd := opts.Parallel.Workers(n) > 1

	result := &PageRankResult{Status: StatusDidNotConverge}
	for iter := 0; iter < opts.MaxIterations; iter++ {
		if ctx.Err() != nil {
			result.Status = StatusCancelled
			break
		}

		simd.Fill(st.temp, 0)
		err := parallel.ForEachRange(ctx, n, opts.Parallel, func(lo, hi int) error {
			for v := int64(lo); v < int64(hi); v++ {
				deg := g.Degree(v)
				if deg == 0 {
					continue
				}
				share := d * st.rank[v] / float64(deg)
				for _, u := range g.NeighborsOf(v) {
					if atomicAdd {
						addFloat64(&st.temp[u], share)
					} else {
						st.temp[u] += share
					}
				}
			}
			return nil
		})
		if err != nil {
			result.Status = StatusCancelled
			break
		}
		simd.AddScalar(st.temp, baseRank)

		st.maxDiff = 0
		_, err = parallel.ForEachChunk(ctx, n, opts.Parallel, func(_, lo, hi int) error {
			st.mergeMaxDiff(simd.MaxAbsDiffInto(st.scratch[lo:hi], st.temp[lo:hi], st.rank[lo:hi]))
			return nil
		})
		if err != nil {
			result.Status = StatusCancelled
			break
		}

		st.rank, st.temp = st.temp, st.rank
		result.Iterations = iter + 1
		result.MaxDiff = st.maxDiff

		if st.tryConverge(st.maxDiff, opts.Epsilon) {
			result.Status = StatusConverged
			break
		}
	}

	result.Ranks = st.rank
	span.SetAttributes(
		attribute.Int("iterations", result.Iterations),
		attribute.String("status", result.Status.String()),
		attribute.Float64("max_diff", result.MaxDiff),
	)
	return result, nil
}
