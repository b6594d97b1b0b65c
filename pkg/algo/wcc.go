package algo

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicpgq/pkg/csr"
)

// ComponentResult is the output of WeaklyConnectedComponents.
type ComponentResult struct {
	// Labels maps every vertex to the smallest vertex id in its component, or
	// NoComponent for invalid vertices.
	Labels []int64

	// Count is the number of components.
	Count int

	// Status is StatusCompleted or StatusCancelled.
	Status Status
}

// Components groups vertex ids by component label.
func (r *ComponentResult) Components() map[int64][]int64 {
	out := make(map[int64][]int64, r.Count)
	for v, label := range r.Labels {
		if label != NoComponent {
			out[label] = append(out[label], int64(v))
		}
	}
	return out
}

// WeaklyConnectedComponents labels every valid vertex with the smallest vertex
// id of its undirected component.
//
// Edges are followed in both directions through out and in, where in is the
// transpose of out; in may be nil, in which case it is built. valid marks the
// vertices the source data considers present (nil means all valid). Invalid
// vertices are never labeled and never traversed through, so they do not join
// the components on either side of them.
//
// Roots are taken in ascending id order and each root's component is found by
// level-synchronous BFS, so the first vertex to claim a component is its
// smallest id. ctx is checked before every BFS level; on cancellation the labels
// of fully explored components are kept, the component in progress is cleared,
// and StatusCancelled is returned.
func WeaklyConnectedComponents(ctx context.Context, out, in *csr.CSR, valid []bool, opts TraversalOptions) (*ComponentResult, error) {
	n := out.VertexCount()
	if valid != nil && len(valid) != n {
		return nil, fmt.Errorf("%w: %d validity flags for %d vertices", ErrInvalidOptions, len(valid), n)
	}
	if in != nil && in.VertexCount() != n {
		return nil, fmt.Errorf("%w: reverse adjacency has %d vertices, want %d", ErrInvalidOptions, in.VertexCount(), n)
	}

	ctx, span := tracer.Start(ctx, "algo.WeaklyConnectedComponents",
		trace.WithAttributes(
			attribute.Int("vertex_count", n),
			attribute.Int("edge_count", out.EdgeCount()),
		),
	)
	defer span.End()

	if in == nil {
		var err error
		in, err = out.Transpose(ctx, csr.Options{Parallel: opts.Parallel})
		if err != nil {
			return nil, err
		}
	}
	isValid := func(v int64) bool { return valid == nil || valid[v] }

	labels := make([]int64, n)
	for i := range labels {
		labels[i] = NoComponent
	}
	adj := []*csr.CSR{out, in}
	result := &ComponentResult{Labels: labels, Status: StatusCompleted}

	for root := int64(0); root < int64(n); root++ {
		if !isValid(root) || labels[root] != NoComponent {
			continue
		}
		labels[root] = root
		frontier := []int64{root}
		claim := func(u int64) bool {
			return isValid(u) && atomic.CompareAndSwapInt64(&labels[u], NoComponent, root)
		}

		for len(frontier) > 0 {
			next, err := expandFrontier(ctx, frontier, adj, opts.Parallel, claim)
			if err != nil {
				for i := range labels {
					if labels[i] == root {
						labels[i] = NoComponent
					}
				}
				result.Status = StatusCancelled
				span.AddEvent("cancelled", trace.WithAttributes(attribute.Int("components_completed", result.Count)))
				return result, nil
			}
			frontier = next
		}
		result.Count++
	}

	span.SetAttributes(attribute.Int("component_count", result.Count))
	return result, nil
}
