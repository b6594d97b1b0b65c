package csr

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicpgq/pkg/parallel"
)

var tracer = otel.Tracer("nornicpgq.csr")

// maxSliceLen bounds any single int64 array so that len*8 stays addressable.
const maxSliceLen = math.MaxInt64 / 8

// Edge is one (source, destination) pair. ID is copied into EdgeIDs when the
// build keeps edge ids; callers typically set it to the source row number.
type Edge struct {
	Src int64
	Dst int64
	ID  int64
}

// Options controls a CSR build.
type Options struct {
	// Parallel configures the count, scatter, and sort passes.
	Parallel parallel.Config

	// KeepEdgeIDs populates CSR.EdgeIDs from Edge.ID.
	KeepEdgeIDs bool

	// SortNeighbors sorts every neighbor range by (neighbor, edge id) after the
	// scatter pass, making NeighborsOf deterministic.
	SortNeighbors bool

	// MaxEdges rejects builds with more edges than this with ErrAllocation.
	// Zero means no limit.
	MaxEdges int64
}

// DefaultOptions returns parallel build options that keep edge ids and sort
// neighbor ranges.
func DefaultOptions() Options {
	return Options{
		Parallel:      parallel.DefaultConfig(),
		KeepEdgeIDs:   true,
		SortNeighbors: true,
	}
}

// FromPairs converts (src, dst) pairs into edges whose ID is the pair's index.
func FromPairs(pairs [][2]int64) []Edge {
	edges := make([]Edge, len(pairs))
	for i, p := range pairs {
		edges[i] = Edge{Src: p[0], Dst: p[1], ID: int64(i)}
	}
	return edges
}

// Build constructs a CSR from edges over vertices [0, vertexCount).
//
// The build runs in three phases separated by barriers:
//
//  1. count: each edge atomically increments its source's degree (parallel)
//  2. prefix sum: degrees become exclusive offsets (sequential, O(vertexCount))
//  3. scatter: each edge claims a slot with an atomic fetch-and-add on its
//     source's write cursor and stores its destination there (parallel)
//
// followed by an optional per-range sort. Self-loops and duplicate edges are kept.
//
// Every endpoint is checked before anything is allocated; the first edge (by
// index) with an endpoint outside [0, vertexCount) fails the build with an
// *InvalidVertexError. Allocation failures return ErrAllocation.
func Build(ctx context.Context, edges []Edge, vertexCount int, opts Options) (*CSR, error) {
	ctx, span := tracer.Start(ctx, "csr.Build",
		trace.WithAttributes(
			attribute.Int("csr.vertex_count", vertexCount),
			attribute.Int("csr.edge_count", len(edges)),
			attribute.Bool("csr.sort", opts.SortNeighbors),
		),
	)
	defer span.End()

	c, err := build(ctx, edges, vertexCount, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return c, nil
}

func build(ctx context.Context, edges []Edge, vertexCount int, opts Options) (*CSR, error) {
	if vertexCount < 0 {
		return nil, fmt.Errorf("%w: negative vertex count %d", ErrAllocation, vertexCount)
	}
	edgeCount := int64(len(edges))
	if opts.MaxEdges > 0 && edgeCount > opts.MaxEdges {
		return nil, fmt.Errorf("%w: %d edges exceeds limit %d", ErrAllocation, edgeCount, opts.MaxEdges)
	}
	if edgeCount > maxSliceLen || int64(vertexCount) >= maxSliceLen {
		return nil, fmt.Errorf("%w: %d edges over %d vertices is not addressable", ErrAllocation, edgeCount, vertexCount)
	}

	if err := checkEndpoints(ctx, edges, vertexCount, opts.Parallel); err != nil {
		return nil, err
	}

	c, cursor, err := allocate(vertexCount, len(edges), opts.KeepEdgeIDs)
	if err != nil {
		return nil, err
	}

	// Count into Offsets[v+1] so the prefix sum below can run in place.
	degrees := c.Offsets[1:]
	err = parallel.ForEachRange(ctx, len(edges), opts.Parallel, func(lo, hi int) error {
		for _, e := range edges[lo:hi] {
			atomic.AddInt64(&degrees[e.Src], 1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for v := 0; v < vertexCount; v++ {
		c.Offsets[v+1] += c.Offsets[v]
	}
	copy(cursor, c.Offsets[:vertexCount])

	err = parallel.ForEachRange(ctx, len(edges), opts.Parallel, func(lo, hi int) error {
		for _, e := range edges[lo:hi] {
			slot := atomic.AddInt64(&cursor[e.Src], 1) - 1
			c.Neighbors[slot] = e.Dst
			if c.EdgeIDs != nil {
				c.EdgeIDs[slot] = e.ID
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opts.SortNeighbors {
		if err := sortRanges(ctx, c, opts.Parallel); err != nil {
			return nil, err
		}
	}
	c.Sorted = opts.SortNeighbors || len(edges) == 0
	return c, nil
}

// checkEndpoints finds the lowest-index edge with an out-of-range endpoint.
func checkEndpoints(ctx context.Context, edges []Edge, vertexCount int, cfg parallel.Config) error {
	n := int64(vertexCount)
	firstBad := make([]int, cfg.Chunks(len(edges)))
	for i := range firstBad {
		firstBad[i] = -1
	}
	_, err := parallel.ForEachChunk(ctx, len(edges), cfg, func(worker, lo, hi int) error {
		for i := lo; i < hi; i++ {
			e := edges[i]
			if e.Src < 0 || e.Src >= n || e.Dst < 0 || e.Dst >= n {
				firstBad[worker] = i
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, i := range firstBad {
		if i < 0 {
			continue
		}
		e := edges[i]
		bad := e.Src
		if bad >= 0 && bad < n {
			bad = e.Dst
		}
		return &InvalidVertexError{Edge: i, Vertex: bad, VertexCount: vertexCount}
	}
	return nil
}

// allocate reserves every array of the result up front. A runtime refusal
// (makeslice out of range) is converted to ErrAllocation.
func allocate(vertexCount, edgeCount int, keepIDs bool) (c *CSR, cursor []int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, cursor = nil, nil
			err = fmt.Errorf("%w: %v", ErrAllocation, r)
		}
	}()
	c = &CSR{
		Offsets:   make([]int64, vertexCount+1),
		Neighbors: make([]int64, edgeCount),
	}
	if keepIDs {
		c.EdgeIDs = make([]int64, edgeCount)
	}
	cursor = make([]int64, vertexCount)
	return c, cursor, nil
}

// rangeSorter sorts one vertex's neighbor range together with its edge ids.
type rangeSorter struct {
	nb  []int64
	ids []int64
}

func (s rangeSorter) Len() int { return len(s.nb) }

func (s rangeSorter) Less(i, j int) bool {
	if s.nb[i] != s.nb[j] {
		return s.nb[i] < s.nb[j]
	}
	return s.ids != nil && s.ids[i] < s.ids[j]
}

func (s rangeSorter) Swap(i, j int) {
	s.nb[i], s.nb[j] = s.nb[j], s.nb[i]
	if s.ids != nil {
		s.ids[i], s.ids[j] = s.ids[j], s.ids[i]
	}
}

func sortRanges(ctx context.Context, c *CSR, cfg parallel.Config) error {
	return parallel.ForEachRange(ctx, c.VertexCount(), cfg, func(lo, hi int) error {
		for v := int64(lo); v < int64(hi); v++ {
			if c.Degree(v) > 1 {
				sort.Sort(rangeSorter{nb: c.NeighborsOf(v), ids: c.EdgeIDsOf(v)})
			}
		}
		return nil
	})
}

// edgesOf lists the CSR's edges in slot order. When the CSR has no edge ids the
// slot index stands in for the id.
func (c *CSR) edgesOf(reverse bool) []Edge {
	edges := make([]Edge, 0, c.EdgeCount())
	for v := int64(0); v < int64(c.VertexCount()); v++ {
		for i := c.Offsets[v]; i < c.Offsets[v+1]; i++ {
			id := i
			if c.EdgeIDs != nil {
				id = c.EdgeIDs[i]
			}
			e := Edge{Src: v, Dst: c.Neighbors[i], ID: id}
			if reverse {
				e.Src, e.Dst = e.Dst, e.Src
			}
			edges = append(edges, e)
		}
	}
	return edges
}

// Transpose builds the reverse adjacency: u appears in the result's NeighborsOf(v)
// once for every v->u edge of c. Edge ids carry over.
func (c *CSR) Transpose(ctx context.Context, opts Options) (*CSR, error) {
	return Build(ctx, c.edgesOf(true), c.VertexCount(), opts)
}

// Undirected builds a symmetric CSR holding every edge of out in both directions.
// Self-loops are stored once.
func Undirected(ctx context.Context, out *CSR, opts Options) (*CSR, error) {
	forward := out.edgesOf(false)
	edges := make([]Edge, 0, 2*len(forward))
	for _, e := range forward {
		edges = append(edges, e)
		if e.Src != e.Dst {
			edges = append(edges, Edge{Src: e.Dst, Dst: e.Src, ID: e.ID})
		}
	}
	return Build(ctx, edges, out.VertexCount(), opts)
}
