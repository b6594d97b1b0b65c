package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/orneryd/nornicpgq/pkg/catalog"
	"github.com/orneryd/nornicpgq/pkg/csr"
	"github.com/orneryd/nornicpgq/pkg/logging"
	"github.com/orneryd/nornicpgq/pkg/pattern"
	"github.com/orneryd/nornicpgq/pkg/storage"
)

var tracer = otel.Tracer("nornicpgq.graph")

// Projection selects which edges of a property graph a snapshot holds.
type Projection struct {
	// EdgeLabels restricts the snapshot to these edge labels. Empty means all.
	EdgeLabels []string
	// Reverse swaps every edge's endpoints.
	Reverse bool
}

// String is the canonical cache key of the projection: sorted lowercased
// labels joined by ',', "*" for all labels, and a "|rev" suffix when reversed.
func (p Projection) String() string {
	s := "*"
	if len(p.EdgeLabels) > 0 {
		labels := make([]string, len(p.EdgeLabels))
		for i, l := range p.EdgeLabels {
			labels[i] = strings.ToLower(strings.TrimSpace(l))
		}
		sort.Strings(labels)
		s = strings.Join(labels, ",")
	}
	if p.Reverse {
		s += "|rev"
	}
	return s
}

func (p Projection) includes(label string) bool {
	if len(p.EdgeLabels) == 0 {
		return true
	}
	for _, l := range p.EdgeLabels {
		if strings.EqualFold(strings.TrimSpace(l), label) {
			return true
		}
	}
	return false
}

// Options configures Materialize.
type Options struct {
	CSR csr.Options
	// SkipDanglingEdges drops edge rows whose endpoint key matches no vertex
	// instead of failing the build with csr.ErrInvalidVertexID.
	SkipDanglingEdges bool
	Logger            logging.Logger
}

// DefaultOptions returns options that keep edge ids and sort neighbors.
func DefaultOptions() Options {
	return Options{CSR: csr.DefaultOptions()}
}

// EdgeRecord is one edge of a snapshot, in vertex ids.
type EdgeRecord struct {
	Label string
	Row   int64
	Src   int64
	Dst   int64
}

// Snapshot is an immutable projection of a property graph.
type Snapshot struct {
	Graph string
	// Definition is the property graph the snapshot was built from.
	Definition *catalog.PropertyGraph
	Projection Projection
	Vertices   *VertexSpace
	Out        *csr.CSR
	In         *csr.CSR
	// Edges is indexed by the CSR edge id. Both stored directions of an
	// undirected row share one record.
	Edges []EdgeRecord
	// EdgeCounts counts edge table rows per label.
	EdgeCounts map[string]int
	// Dangling counts edge rows dropped by SkipDanglingEdges.
	Dangling int
}

var _ pattern.GraphSource = (*Snapshot)(nil)

func (s *Snapshot) VertexCount() int           { return s.Vertices.Len() }
func (s *Snapshot) VertexValid(v int64) bool   { return s.Vertices.Valid[v] }
func (s *Snapshot) VertexLabel(v int64) string { return s.Vertices.LabelOf(v) }
func (s *Snapshot) VertexKey(v int64) any      { return s.Vertices.Keys[v] }
func (s *Snapshot) Outgoing() *csr.CSR         { return s.Out }
func (s *Snapshot) Incoming() *csr.CSR         { return s.In }

func (s *Snapshot) VertexProperty(v int64, name string) (any, bool) {
	return s.Vertices.Property(v, name)
}

func (s *Snapshot) VerticesWithLabel(label string) (int64, int64, bool) {
	return s.Vertices.Range(label)
}

// Edge returns the table row behind CSR edge id.
func (s *Snapshot) Edge(id int64) pattern.EdgeRef {
	e := s.Edges[id]
	return pattern.EdgeRef{Label: e.Label, Row: e.Row}
}

// MemoryBytes estimates the CSR footprint of the snapshot.
func (s *Snapshot) MemoryBytes() int64 {
	return s.Out.MemoryBytes() + s.In.MemoryBytes()
}

// Materialize scans the vertex and edge tables of pg and builds the Out and In
// adjacency of the requested projection.
func Materialize(ctx context.Context, pg *catalog.PropertyGraph, tables storage.Engine, proj Projection, opts Options) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "graph.Materialize")
	defer span.End()
	span.SetAttributes(attribute.String("graph", pg.Name), attribute.String("projection", proj.String()))

	start := time.Now()
	snap, err := materialize(ctx, pg, tables, proj, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("vertices", snap.VertexCount()),
		attribute.Int("edges", snap.Out.EdgeCount()),
	)
	logging.Debug(opts.Logger, "graph materialized", map[string]any{
		"graph":       pg.Name,
		"projection":  proj.String(),
		"vertices":    snap.VertexCount(),
		"edges":       snap.Out.EdgeCount(),
		"dangling":    snap.Dangling,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return snap, nil
}

func materialize(ctx context.Context, pg *catalog.PropertyGraph, tables storage.Engine, proj Projection, opts Options) (*Snapshot, error) {
	for _, l := range proj.EdgeLabels {
		if pg.EdgeTable(l) == nil {
			return nil, fmt.Errorf("%w: edge label %s in graph %s", catalog.ErrLabelNotFound, l, pg.Name)
		}
	}

	vs := &VertexSpace{}
	for _, vt := range pg.Vertices {
		t, err := tables.GetTable(vt.Table)
		if err != nil {
			return nil, fmt.Errorf("vertex table %s: %w", vt.Table, err)
		}
		if err := vs.addLabel(vt.Label, t, vt.KeyColumn, tables); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	snap := &Snapshot{
		Graph:      pg.Name,
		Definition: pg,
		Projection: proj,
		Vertices:   vs,
		EdgeCounts: make(map[string]int),
	}
	var edges []csr.Edge
	for _, et := range pg.Edges {
		if !proj.includes(et.Label) {
			continue
		}
		t, err := tables.GetTable(et.Table)
		if err != nil {
			return nil, fmt.Errorf("edge table %s: %w", et.Table, err)
		}
		srcIdx, dstIdx := t.ColumnIndex(et.SourceColumn), t.ColumnIndex(et.DestinationColumn)
		if srcIdx < 0 || dstIdx < 0 {
			return nil, fmt.Errorf("edge table %s: %w", et.Table, storage.ErrNotFound)
		}
		if _, seen := snap.EdgeCounts[et.Label]; !seen {
			snap.EdgeCounts[et.Label] = 0
		}
		undirected := et.IsUndirected()
		err = tables.Scan(t.Name, func(rowID int64, row storage.Row) error {
			snap.EdgeCounts[et.Label]++
			src, okS := vs.Lookup(et.SourceLabel, row[srcIdx])
			dst, okD := vs.Lookup(et.DestinationLabel, row[dstIdx])
			if !okS || !okD {
				if opts.SkipDanglingEdges {
					snap.Dangling++
					return nil
				}
				src, dst = resolved(src, okS), resolved(dst, okD)
			}
			if proj.Reverse {
				src, dst = dst, src
			}
			id := int64(len(snap.Edges))
			snap.Edges = append(snap.Edges, EdgeRecord{Label: et.Label, Row: rowID, Src: src, Dst: dst})
			edges = append(edges, csr.Edge{Src: src, Dst: dst, ID: id})
			if undirected && src != dst {
				edges = append(edges, csr.Edge{Src: dst, Dst: src, ID: id})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	csrOpts := opts.CSR
	csrOpts.KeepEdgeIDs = true
	out, err := csr.Build(ctx, edges, vs.Len(), csrOpts)
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", pg.Name, err)
	}
	in, err := out.Transpose(ctx, csrOpts)
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", pg.Name, err)
	}
	snap.Out, snap.In = out, in
	return snap, nil
}

// resolved maps a failed key lookup to -1 so the CSR build reports it.
func resolved(id int64, ok bool) int64 {
	if !ok {
		return -1
	}
	return id
}
