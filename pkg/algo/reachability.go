package algo

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicpgq/pkg/csr"
)

// Unbounded as maxHops removes the hop limit.
const Unbounded = -1

// ReachabilityResult lists the vertices reachable from Source.
type ReachabilityResult struct {
	Source int64

	// Levels[h] holds, ascending, the vertices whose shortest distance from
	// Source is h. Levels[0] is {Source}.
	Levels [][]int64

	// Distances maps every reached vertex to its hop distance.
	Distances map[int64]int

	// Status is StatusCompleted or StatusCancelled.
	Status Status
}

// Reachable reports whether v was reached.
func (r *ReachabilityResult) Reachable(v int64) bool {
	_, ok := r.Distances[v]
	return ok
}

// Count is the number of reached vertices, Source included.
func (r *ReachabilityResult) Count() int {
	return len(r.Distances)
}

// Reachability runs a level-synchronous BFS from source over g for at most
// maxHops levels (Unbounded, or any negative value, for no limit).
//
// Each vertex appears once, at its minimum hop distance. Unreachable vertices
// are simply absent. A source outside the graph fails with csr.ErrInvalidVertexID.
// On cancellation the levels completed so far are returned with StatusCancelled.
func Reachability(ctx context.Context, g *csr.CSR, source int64, maxHops int, opts TraversalOptions) (*ReachabilityResult, error) {
	if err := checkVertex(g, source, "source"); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "algo.Reachability",
		trace.WithAttributes(
			attribute.Int64("source", source),
			attribute.Int("max_hops", maxHops),
		),
	)
	defer span.End()

	n := g.VertexCount()
	seen := make([]int32, n)
	seen[source] = 1
	claim := func(u int64) bool {
		return atomic.CompareAndSwapInt32(&seen[u], 0, 1)
	}

	result := &ReachabilityResult{
		Source:    source,
		Levels:    [][]int64{{source}},
		Distances: map[int64]int{source: 0},
		Status:    StatusCompleted,
	}
	frontier := []int64{source}
	adj := []*csr.CSR{g}
	for hop := 1; len(frontier) > 0 && (maxHops < 0 || hop <= maxHops); hop++ {
		next, err := expandFrontier(ctx, frontier, adj, opts.Parallel, claim)
		if err != nil {
			result.Status = StatusCancelled
			break
		}
		if len(next) == 0 {
			break
		}
		sortIDs(next)
		for _, v := range next {
			result.Distances[v] = hop
		}
		result.Levels = append(result.Levels, next)
		frontier = next
	}

	span.SetAttributes(
		attribute.Int("reached", result.Count()),
		attribute.Int("levels", len(result.Levels)),
	)
	return result, nil
}

// ShortestPath returns the vertices of one shortest path from source to target
// using at most maxHops edges (negative for no limit), source and target
// included. When target is not reachable within the bound the result is empty,
// not an error. Among equal-length paths the one through smaller vertex ids at
// each step is returned when g has sorted neighbor ranges.
func ShortestPath(ctx context.Context, g *csr.CSR, source, target int64, maxHops int) ([]int64, error) {
	if err := checkVertex(g, source, "source"); err != nil {
		return nil, err
	}
	if err := checkVertex(g, target, "target"); err != nil {
		return nil, err
	}

	_, span := tracer.Start(ctx, "algo.ShortestPath",
		trace.WithAttributes(
			attribute.Int64("source", source),
			attribute.Int64("target", target),
			attribute.Int("max_hops", maxHops),
		),
	)
	defer span.End()

	if source == target {
		return []int64{source}, nil
	}

	parent := make([]int64, g.VertexCount())
	for i := range parent {
		parent[i] = -1
	}
	parent[source] = source

	frontier := []int64{source}
	for hop := 1; len(frontier) > 0 && (maxHops < 0 || hop <= maxHops); hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []int64
		for _, v := range frontier {
			for _, u := range g.NeighborsOf(v) {
				if parent[u] != -1 {
					continue
				}
				parent[u] = v
				if u == target {
					return tracePath(parent, source, target), nil
				}
				next = append(next, u)
			}
		}
		frontier = next
	}
	span.AddEvent("no_path")
	return []int64{}, nil
}

func tracePath(parent []int64, source, target int64) []int64 {
	var path []int64
	for v := target; v != source; v = parent[v] {
		path = append(path, v)
	}
	path = append(path, source)
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
