// Package cache provides the Graph Cache: built graph projections keyed by
// (property graph, projection), with at most one build in flight per key.
//
// # Concurrency
//
// GetOrBuild coalesces concurrent callers for the same key through a
// singleflight group. The BuildFunc runs on a context detached from the
// caller's cancellation, so one caller giving up never fails the others: a
// cancelled caller returns ctx.Err() at once while the build finishes for the
// rest. Every waiter receives the same value or error. Errors are never
// cached: the next call after a failed build builds again.
//
// Invalidate bumps a per-graph generation. A build that started before the
// invalidation still returns its value to the callers waiting on it, but the
// value is not stored. Flights are keyed by generation, so callers arriving
// after the invalidation start a fresh build and see the new table contents.
//
// # Bounding
//
// With MaxEntries > 0 the cache evicts least-recently-used entries through
// hashicorp/golang-lru. Eviction only forces a rebuild; it never changes a value
// a caller already holds.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/orneryd/nornicpgq/pkg/logging"
)

// ErrNilBuilder is returned by GetOrBuild when build is nil and the key is not cached.
var ErrNilBuilder = errors.New("cache: nil build function")

// Key identifies one cached projection of one property graph.
type Key struct {
	GraphID    string
	Projection string
}

func (k Key) String() string {
	return k.GraphID + "\x1f" + k.Projection
}

// BuildFunc produces the value for a missing key.
type BuildFunc[V any] func(ctx context.Context) (V, error)

// Options configures a GraphCache.
type Options struct {
	// Name labels the cache's metrics. Default: "graph".
	Name string `yaml:"-"`

	// MaxEntries bounds the cache with LRU eviction. Zero means unbounded.
	MaxEntries int `yaml:"max_entries" validate:"gte=0"`

	// Logger receives build and invalidation events.
	Logger logging.Logger `yaml:"-"`
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries       int
	Hits          int64
	Misses        int64
	Builds        int64
	BuildErrors   int64
	Discarded     int64
	Invalidations int64
	Evictions     int64
}

// GraphCache maps keys to built values. It is safe for concurrent use.
type GraphCache[V any] struct {
	name string
	log  logging.Logger

	mu      sync.Mutex
	bounded *lru.Cache[Key, V]
	entries map[Key]V
	byGraph map[string]map[Key]struct{}
	gens    map[string]uint64
	epoch   uint64
	// removing is set while the cache itself removes entries so the LRU
	// callback does not count them as evictions.
	removing bool

	flight singleflight.Group

	hits, misses, builds, buildErrors, discarded, invalidations, evictions atomic.Int64
}

type flightResult[V any] struct {
	v V
}

// New creates a GraphCache.
func New[V any](opts Options) (*GraphCache[V], error) {
	c := &GraphCache[V]{
		name:    opts.Name,
		log:     logging.OrNop(opts.Logger),
		byGraph: make(map[string]map[Key]struct{}),
		gens:    make(map[string]uint64),
	}
	if c.name == "" {
		c.name = "graph"
	}
	if opts.MaxEntries < 0 {
		return nil, fmt.Errorf("cache: negative max entries %d", opts.MaxEntries)
	}
	if opts.MaxEntries > 0 {
		bounded, err := lru.NewWithEvict[Key, V](opts.MaxEntries, c.onEvict)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		c.bounded = bounded
	} else {
		c.entries = make(map[Key]V)
	}
	return c, nil
}

// onEvict runs inside lru calls made with c.mu held.
func (c *GraphCache[V]) onEvict(key Key, _ V) {
	c.unindexLocked(key)
	if !c.removing {
		c.evictions.Add(1)
		cacheEvictions.WithLabelValues(c.name).Inc()
		logging.Debug(c.log, "graph cache eviction", map[string]any{
			"graph": key.GraphID, "projection": key.Projection,
		})
	}
}

// Get returns the cached value for key without building.
func (c *GraphCache[V]) Get(key Key) (V, bool) {
	c.mu.Lock()
	v, ok := c.lookupLocked(key)
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
		cacheRequests.WithLabelValues(c.name, "hit").Inc()
	} else {
		c.misses.Add(1)
		cacheRequests.WithLabelValues(c.name, "miss").Inc()
	}
	return v, ok
}

// GetOrBuild returns the cached value for key, building it with build when
// absent. Concurrent callers for the same key share one build.
func (c *GraphCache[V]) GetOrBuild(ctx context.Context, key Key, build BuildFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	if build == nil {
		var zero V
		return zero, ErrNilBuilder
	}

	c.mu.Lock()
	gen, epoch := c.gens[key.GraphID], c.epoch
	c.mu.Unlock()

	// Callers that arrive after an invalidation start a new flight instead of
	// joining a build that can no longer be stored.
	flightKey := fmt.Sprintf("%s@%d.%d", key, gen, epoch)
	ch := c.flight.DoChan(flightKey, func() (any, error) {
		c.mu.Lock()
		if v, ok := c.lookupLocked(key); ok {
			c.mu.Unlock()
			return &flightResult[V]{v: v}, nil
		}
		c.mu.Unlock()

		v, err := c.runBuild(context.WithoutCancel(ctx), key, build)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		stored := gen == c.gens[key.GraphID] && epoch == c.epoch
		if stored {
			c.insertLocked(key, v)
		}
		c.mu.Unlock()

		if stored {
			cacheBuilds.WithLabelValues(c.name, "stored").Inc()
		} else {
			c.discarded.Add(1)
			cacheBuilds.WithLabelValues(c.name, "discarded").Inc()
			logging.Debug(c.log, "graph cache build superseded by invalidation", map[string]any{
				"graph": key.GraphID, "projection": key.Projection,
			})
		}
		return &flightResult[V]{v: v}, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(*flightResult[V]).v, nil
	}
}

func (c *GraphCache[V]) runBuild(ctx context.Context, key Key, build BuildFunc[V]) (V, error) {
	ctx, span := tracer.Start(ctx, "GraphCache.build",
		trace.WithAttributes(
			attribute.String("cache.name", c.name),
			attribute.String("graph.id", key.GraphID),
			attribute.String("graph.projection", key.Projection),
		),
	)
	defer span.End()

	start := time.Now()
	c.builds.Add(1)
	v, err := build(ctx)
	elapsed := time.Since(start)
	recordBuild(ctx, c.name, elapsed, err == nil)

	fields := map[string]any{
		"graph":       key.GraphID,
		"projection":  key.Projection,
		"duration_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		c.buildErrors.Add(1)
		cacheBuilds.WithLabelValues(c.name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fields["error"] = err.Error()
		logging.Warn(c.log, "graph cache build failed", fields)
		return v, err
	}
	logging.Info(c.log, "graph cache build finished", fields)
	return v, nil
}

// Invalidate drops every cached projection of graphID and prevents builds
// already in flight for it from being stored. Returns the number of entries dropped.
func (c *GraphCache[V]) Invalidate(graphID string) int {
	c.mu.Lock()
	c.gens[graphID]++
	keys := c.byGraph[graphID]
	n := len(keys)
	c.removing = true
	for key := range keys {
		c.removeLocked(key)
	}
	c.removing = false
	delete(c.byGraph, graphID)
	c.setGaugeLocked()
	c.mu.Unlock()

	c.invalidations.Add(int64(n))
	cacheInvalidations.WithLabelValues(c.name).Add(float64(n))
	logging.Info(c.log, "graph cache invalidated", map[string]any{"graph": graphID, "entries": n})
	return n
}

// InvalidateAll drops every entry and supersedes every in-flight build.
func (c *GraphCache[V]) InvalidateAll() int {
	c.mu.Lock()
	c.epoch++
	n := c.lenLocked()
	c.removing = true
	if c.bounded != nil {
		c.bounded.Purge()
	} else {
		c.entries = make(map[Key]V)
	}
	c.removing = false
	c.byGraph = make(map[string]map[Key]struct{})
	c.setGaugeLocked()
	c.mu.Unlock()

	c.invalidations.Add(int64(n))
	cacheInvalidations.WithLabelValues(c.name).Add(float64(n))
	logging.Info(c.log, "graph cache cleared", map[string]any{"entries": n})
	return n
}

// Len returns the number of cached entries.
func (c *GraphCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lenLocked()
}

// Keys returns the cached keys in no particular order.
func (c *GraphCache[V]) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bounded != nil {
		return c.bounded.Keys()
	}
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *GraphCache[V]) Stats() Stats {
	return Stats{
		Entries:       c.Len(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Builds:        c.builds.Load(),
		BuildErrors:   c.buildErrors.Load(),
		Discarded:     c.discarded.Load(),
		Invalidations: c.invalidations.Load(),
		Evictions:     c.evictions.Load(),
	}
}

func (c *GraphCache[V]) lookupLocked(key Key) (V, bool) {
	if c.bounded != nil {
		return c.bounded.Get(key)
	}
	v, ok := c.entries[key]
	return v, ok
}

func (c *GraphCache[V]) insertLocked(key Key, v V) {
	if c.bounded != nil {
		c.bounded.Add(key, v)
	} else {
		c.entries[key] = v
	}
	keys, ok := c.byGraph[key.GraphID]
	if !ok {
		keys = make(map[Key]struct{})
		c.byGraph[key.GraphID] = keys
	}
	keys[key] = struct{}{}
	c.setGaugeLocked()
}

func (c *GraphCache[V]) removeLocked(key Key) {
	if c.bounded != nil {
		c.bounded.Remove(key)
		return
	}
	delete(c.entries, key)
}

func (c *GraphCache[V]) unindexLocked(key Key) {
	keys, ok := c.byGraph[key.GraphID]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.byGraph, key.GraphID)
	}
}

func (c *GraphCache[V]) lenLocked() int {
	if c.bounded != nil {
		return c.bounded.Len()
	}
	return len(c.entries)
}

func (c *GraphCache[V]) setGaugeLocked() {
	cacheEntries.WithLabelValues(c.name).Set(float64(c.lenLocked()))
}
