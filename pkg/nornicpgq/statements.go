package nornicpgq

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicpgq/pkg/catalog"
	"github.com/orneryd/nornicpgq/pkg/graph"
	"github.com/orneryd/nornicpgq/pkg/logging"
	"github.com/orneryd/nornicpgq/pkg/pattern"
	"github.com/orneryd/nornicpgq/pkg/storage"
)

// Statement is a parsed statement handed over by the host. The set of kinds
// is closed; OtherStatement stands for everything the engine leaves to the host.
type Statement interface {
	statementKind() string
}

// SelectStatement runs every GRAPH_TABLE in Query.
type SelectStatement struct {
	Query *pattern.Select
}

// CreatePropertyGraph registers Graph.
type CreatePropertyGraph struct {
	Graph     *catalog.PropertyGraph
	OrReplace bool
}

// DropPropertyGraph removes a graph definition.
type DropPropertyGraph struct {
	Name     string
	IfExists bool
}

// ExplainStatement returns the traversal plans of Query instead of running it.
type ExplainStatement struct {
	Query *pattern.Select
}

// CopyStatement writes the first match result of Query to Writer as CSV.
type CopyStatement struct {
	Query  *pattern.Select
	Writer io.Writer
	Header bool
}

// InsertStatement appends the first match result of Query to Table. Vertex
// columns insert the vertex key, edge columns the edge row number.
type InsertStatement struct {
	Table string
	Query *pattern.Select
}

// ShowKind selects the SHOW variant.
type ShowKind int

const (
	// ShowDescribe lists the element tables of a graph.
	ShowDescribe ShowKind = iota
	// ShowSummarize reports per-label counts and out-degree statistics.
	ShowSummarize
)

// ShowStatement describes or summarizes Graph.
type ShowStatement struct {
	Kind  ShowKind
	Graph string
}

// OtherStatement is any statement kind the engine does not execute.
type OtherStatement struct {
	Kind string
}

func (*SelectStatement) statementKind() string     { return "select" }
func (*CreatePropertyGraph) statementKind() string { return "create_property_graph" }
func (*DropPropertyGraph) statementKind() string   { return "drop_property_graph" }
func (*ExplainStatement) statementKind() string    { return "explain" }
func (*CopyStatement) statementKind() string       { return "copy" }
func (*InsertStatement) statementKind() string     { return "insert" }
func (*ShowStatement) statementKind() string       { return "show" }
func (s *OtherStatement) statementKind() string    { return strings.ToLower(s.Kind) }

// Result is the outcome of a statement.
type Result struct {
	Columns []string
	Rows    [][]any
	// Matches holds one binding table per GRAPH_TABLE, in source order.
	// Columns and Rows mirror the first.
	Matches      []*pattern.BindingTable
	RowsAffected int64
}

// Execute runs stmt.
func (db *DB) Execute(ctx context.Context, stmt Statement) (*Result, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if stmt == nil {
		return nil, fmt.Errorf("%w: nil statement", ErrNotImplemented)
	}
	ctx, span := tracer.Start(ctx, "nornicpgq.Execute",
		trace.WithAttributes(attribute.String("statement", stmt.statementKind())))
	defer span.End()

	res, err := db.execute(ctx, stmt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(res.Rows)))
	return res, nil
}

func (db *DB) execute(ctx context.Context, stmt Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *SelectStatement:
		return db.runSelect(ctx, s.Query)
	case *CreatePropertyGraph:
		if err := db.catalog.Create(ctx, s.Graph, s.OrReplace); err != nil {
			return nil, err
		}
		return &Result{}, nil
	case *DropPropertyGraph:
		if err := db.catalog.Drop(s.Name, s.IfExists); err != nil {
			return nil, err
		}
		return &Result{}, nil
	case *ExplainStatement:
		return db.explain(ctx, s.Query)
	case *CopyStatement:
		return db.copyOut(ctx, s)
	case *InsertStatement:
		return db.insertSelect(ctx, s)
	case *ShowStatement:
		switch s.Kind {
		case ShowDescribe:
			return db.describe(s.Graph)
		case ShowSummarize:
			return db.summarize(ctx, s.Graph)
		}
		return nil, fmt.Errorf("%w: SHOW kind %d", ErrNotImplemented, s.Kind)
	default:
		return nil, fmt.Errorf("%w: %s statement", ErrNotImplemented, stmt.statementKind())
	}
}

func (db *DB) compile(ctx context.Context, q *pattern.Select) (*pattern.CompiledQuery, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: empty query", ErrNoGraphTable)
	}
	cq, err := pattern.Compile(ctx, q, db.patternOpts)
	if err != nil {
		return nil, err
	}
	if len(cq.Matches) == 0 {
		return nil, ErrNoGraphTable
	}
	return cq, nil
}

// runSelect executes every match against the full projection of its graph.
// Joining the match results with other table references is the host's job.
func (db *DB) runSelect(ctx context.Context, q *pattern.Select) (*Result, error) {
	cq, err := db.compile(ctx, q)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for _, cm := range cq.Matches {
		snap, err := db.Snapshot(ctx, cm.Query.Graph, graph.Projection{})
		if err != nil {
			return nil, err
		}
		bt, err := pattern.ExecuteMatch(ctx, cm, snap, db.patternOpts.Parallel)
		if err != nil {
			return nil, fmt.Errorf("match %d: %w", cm.ID, err)
		}
		res.Matches = append(res.Matches, bt)
	}
	first := res.Matches[0]
	res.Columns = first.Columns
	res.Rows = first.Rows
	logging.Debug(db.log, "select executed", map[string]any{
		"compile_id": cq.ContextID.String(),
		"matches":    len(cq.Matches),
		"rows":       len(res.Rows),
	})
	return res, nil
}

var explainColumns = []string{"match", "path", "kind", "plan", "join_sql"}

func (db *DB) explain(ctx context.Context, q *pattern.Select) (*Result, error) {
	cq, err := db.compile(ctx, q)
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: explainColumns}
	for _, cm := range cq.Matches {
		for _, p := range cm.Plans {
			sql := ""
			if p.Join != nil {
				sql = p.Join.SQL()
			}
			res.Rows = append(res.Rows, []any{int64(cm.ID), int64(p.Path), p.Kind.String(), p.String(), sql})
		}
	}
	return res, nil
}

// scalar turns a binding value into a host table value.
func scalar(v pattern.Value) any {
	switch x := v.(type) {
	case pattern.VertexRef:
		return x.Key
	case pattern.EdgeRef:
		return x.Row
	case []pattern.EdgeRef:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return v
	}
}

func (db *DB) copyOut(ctx context.Context, s *CopyStatement) (*Result, error) {
	if s.Writer == nil {
		return nil, fmt.Errorf("%w: COPY without a destination", ErrNotImplemented)
	}
	res, err := db.runSelect(ctx, s.Query)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(s.Writer)
	if s.Header {
		if err := w.Write(res.Columns); err != nil {
			return nil, err
		}
	}
	record := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, v := range row {
			record[i] = storage.FormatValue(scalar(v))
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return &Result{Columns: res.Columns, RowsAffected: int64(len(res.Rows))}, nil
}

func (db *DB) insertSelect(ctx context.Context, s *InsertStatement) (*Result, error) {
	t, err := db.tables.GetTable(s.Table)
	if err != nil {
		return nil, err
	}
	res, err := db.runSelect(ctx, s.Query)
	if err != nil {
		return nil, err
	}
	if len(res.Columns) != len(t.Columns) {
		return nil, fmt.Errorf("%w: table %s has %d columns, query returns %d",
			storage.ErrInvalidData, t.Name, len(t.Columns), len(res.Columns))
	}
	rows := make([]storage.Row, len(res.Rows))
	for i, r := range res.Rows {
		row := make(storage.Row, len(r))
		for j, v := range r {
			row[j] = scalar(v)
		}
		rows[i] = row
	}
	if err := db.tables.Insert(t.Name, rows); err != nil {
		return nil, err
	}
	return &Result{RowsAffected: int64(len(rows))}, nil
}

var describeColumns = []string{"element", "label", "table", "key", "source", "destination", "direction"}

func (db *DB) describe(name string) (*Result, error) {
	pg, err := db.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: describeColumns}
	for _, v := range pg.Vertices {
		res.Rows = append(res.Rows, []any{"vertex", v.Label, v.Table, v.KeyColumn, nil, nil, nil})
	}
	for _, e := range pg.Edges {
		res.Rows = append(res.Rows, []any{
			"edge", e.Label, e.Table, nil,
			e.SourceLabel + "." + e.SourceColumn,
			e.DestinationLabel + "." + e.DestinationColumn,
			string(e.Direction),
		})
	}
	return res, nil
}

var summarizeColumns = []string{"element", "label", "count", "invalid", "min_out_degree", "max_out_degree", "avg_out_degree"}

func (db *DB) summarize(ctx context.Context, name string) (*Result, error) {
	snap, err := db.Snapshot(ctx, name, graph.Projection{})
	if err != nil {
		return nil, err
	}
	sum := snap.Summarize()
	res := &Result{Columns: summarizeColumns}
	for _, l := range sum.Labels {
		res.Rows = append(res.Rows, []any{
			"vertex", l.Label, int64(l.Vertices), int64(l.Invalid),
			l.MinOutDegree, l.MaxOutDegree, l.AvgOutDegree,
		})
	}
	labels := make([]string, 0, len(sum.Edges))
	for l := range sum.Edges {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		res.Rows = append(res.Rows, []any{"edge", l, int64(sum.Edges[l]), nil, nil, nil, nil})
	}
	return res, nil
}
