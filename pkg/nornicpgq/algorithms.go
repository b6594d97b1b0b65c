package nornicpgq

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicpgq/pkg/algo"
	"github.com/orneryd/nornicpgq/pkg/catalog"
	"github.com/orneryd/nornicpgq/pkg/graph"
	"github.com/orneryd/nornicpgq/pkg/logging"
	"github.com/orneryd/nornicpgq/pkg/parallel"
)

// AlgorithmResult is the table form of an algorithm run. Every row starts with
// the vertex id, label, and key. Invalid vertices are left out.
type AlgorithmResult struct {
	Columns []string
	Rows    [][]any
	Status  algo.Status
	// Iterations is set by PageRank.
	Iterations int
	// Result is the raw algorithm output: *algo.PageRankResult,
	// *algo.ComponentResult, *algo.ReachabilityResult, or []int64 for a path.
	Result any
}

// DefaultHops asks Reachability and ShortestPath for the configured default
// hop bound. Any other negative bound means unbounded.
const DefaultHops = math.MinInt

// VertexID identifies an algorithm endpoint by label and key.
type VertexID struct {
	Label string
	Key   any
}

func (db *DB) algorithmSnapshot(ctx context.Context, name string, proj graph.Projection) (*graph.Snapshot, *catalog.PropertyGraph, error) {
	snap, err := db.Snapshot(ctx, name, proj)
	if err != nil {
		return nil, nil, err
	}
	return snap, snap.Definition, nil
}

func (db *DB) logAlgorithm(name, graphName string, status algo.Status, start time.Time, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["algorithm"] = name
	fields["graph"] = graphName
	fields["status"] = status.String()
	fields["duration_ms"] = time.Since(start).Milliseconds()
	if status == algo.StatusDidNotConverge || status == algo.StatusCancelled {
		logging.Warn(db.log, "algorithm finished early", fields)
		return
	}
	logging.Info(db.log, "algorithm completed", fields)
}

func vertexRow(snap *graph.Snapshot, v int64, rest ...any) []any {
	return append([]any{v, snap.VertexLabel(v), snap.VertexKey(v)}, rest...)
}

// PageRank ranks the vertices of graph over its full projection. Zero fields
// of opts take the configured defaults.
func (db *DB) PageRank(ctx context.Context, name string, opts algo.PageRankOptions) (*AlgorithmResult, error) {
	ctx, span := tracer.Start(ctx, "nornicpgq.PageRank", trace.WithAttributes(attribute.String("graph", name)))
	defer span.End()

	defaults := db.cfg.PageRankOptions()
	if opts.Damping == 0 {
		opts.Damping = defaults.Damping
	}
	if opts.Epsilon == 0 {
		opts.Epsilon = defaults.Epsilon
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = defaults.MaxIterations
	}
	if opts.Parallel == (parallel.Config{}) {
		opts.Parallel = defaults.Parallel
	}

	snap, _, err := db.algorithmSnapshot(ctx, name, graph.Projection{})
	if err != nil {
		return nil, err
	}
	start := time.Now()
	pr, err := algo.PageRank(ctx, snap.Out, opts)
	if err != nil {
		return nil, err
	}
	res := &AlgorithmResult{
		Columns:    []string{"vertex_id", "label", "key", "rank"},
		Status:     pr.Status,
		Iterations: pr.Iterations,
		Result:     pr,
	}
	for v, r := range pr.Ranks {
		if snap.VertexValid(int64(v)) {
			res.Rows = append(res.Rows, vertexRow(snap, int64(v), r))
		}
	}
	db.logAlgorithm("pagerank", name, pr.Status, start, map[string]any{
		"iterations": pr.Iterations,
		"max_diff":   pr.MaxDiff,
	})
	return res, nil
}

// WeaklyConnectedComponents labels every valid vertex with the smallest vertex
// id in its component, ignoring edge direction.
func (db *DB) WeaklyConnectedComponents(ctx context.Context, name string) (*AlgorithmResult, error) {
	ctx, span := tracer.Start(ctx, "nornicpgq.WeaklyConnectedComponents", trace.WithAttributes(attribute.String("graph", name)))
	defer span.End()

	snap, _, err := db.algorithmSnapshot(ctx, name, graph.Projection{})
	if err != nil {
		return nil, err
	}
	start := time.Now()
	cr, err := algo.WeaklyConnectedComponents(ctx, snap.Out, snap.In, snap.Vertices.Valid,
		algo.TraversalOptions{Parallel: db.cfg.Parallel})
	if err != nil {
		return nil, err
	}
	res := &AlgorithmResult{
		Columns: []string{"vertex_id", "label", "key", "component_id"},
		Status:  cr.Status,
		Result:  cr,
	}
	for v, c := range cr.Labels {
		if c != algo.NoComponent {
			res.Rows = append(res.Rows, vertexRow(snap, int64(v), c))
		}
	}
	db.logAlgorithm("wcc", name, cr.Status, start, map[string]any{"components": cr.Count})
	return res, nil
}

// Reachability lists the vertices reachable from source within maxHops edges,
// following edge direction. maxHops 0 yields only the source, DefaultHops takes
// the configured default, and any other negative value removes the bound.
func (db *DB) Reachability(ctx context.Context, name string, source VertexID, maxHops int) (*AlgorithmResult, error) {
	ctx, span := tracer.Start(ctx, "nornicpgq.Reachability", trace.WithAttributes(attribute.String("graph", name)))
	defer span.End()

	if maxHops == DefaultHops {
		maxHops = db.cfg.Algorithms.DefaultMaxHops
	}
	snap, pg, err := db.algorithmSnapshot(ctx, name, graph.Projection{})
	if err != nil {
		return nil, err
	}
	src, err := db.lookupVertex(snap, pg, source.Label, source.Key)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rr, err := algo.Reachability(ctx, snap.Out, src, maxHops, algo.TraversalOptions{Parallel: db.cfg.Parallel})
	if err != nil {
		return nil, err
	}
	res := &AlgorithmResult{
		Columns: []string{"vertex_id", "label", "key", "hop_distance"},
		Status:  rr.Status,
		Result:  rr,
	}
	for hop, level := range rr.Levels {
		for _, v := range level {
			if snap.VertexValid(v) {
				res.Rows = append(res.Rows, vertexRow(snap, v, int64(hop)))
			}
		}
	}
	db.logAlgorithm("reachability", name, rr.Status, start, map[string]any{"reached": rr.Count()})
	return res, nil
}

// ShortestPath returns one shortest path from source to target as rows in
// path order. No path within maxHops gives zero rows, not an error. maxHops
// follows the Reachability conventions.
func (db *DB) ShortestPath(ctx context.Context, name string, source, target VertexID, maxHops int) (*AlgorithmResult, error) {
	ctx, span := tracer.Start(ctx, "nornicpgq.ShortestPath", trace.WithAttributes(attribute.String("graph", name)))
	defer span.End()

	if maxHops == DefaultHops {
		maxHops = db.cfg.Algorithms.DefaultMaxHops
	}
	snap, pg, err := db.algorithmSnapshot(ctx, name, graph.Projection{})
	if err != nil {
		return nil, err
	}
	src, err := db.lookupVertex(snap, pg, source.Label, source.Key)
	if err != nil {
		return nil, err
	}
	dst, err := db.lookupVertex(snap, pg, target.Label, target.Key)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	path, err := algo.ShortestPath(ctx, snap.Out, src, dst, maxHops)
	if err != nil {
		return nil, err
	}
	res := &AlgorithmResult{
		Columns: []string{"vertex_id", "label", "key", "step"},
		Status:  algo.StatusCompleted,
		Result:  path,
	}
	for i, v := range path {
		res.Rows = append(res.Rows, vertexRow(snap, v, int64(i)))
	}
	db.logAlgorithm("shortest_path", name, res.Status, start, map[string]any{"length": len(path)})
	return res, nil
}
