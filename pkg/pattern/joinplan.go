package pattern

import (
	"fmt"
	"strings"

	"github.com/orneryd/nornicpgq/pkg/catalog"
)

// JoinVertex is a vertex table occurrence in a join plan.
type JoinVertex struct {
	Alias     string
	Variable  string
	Table     string
	KeyColumn string
}

// JoinEdge is an edge table occurrence joining vertex From to vertex To.
type JoinEdge struct {
	Alias             string
	Variable          string
	Table             string
	SourceColumn      string
	DestinationColumn string
	From, To          int
	Direction         Direction
}

// JoinPlan renders a fixed chain as relational joins for the host engine.
type JoinPlan struct {
	Vertices []JoinVertex
	Edges    []JoinEdge
	Filters  []Equality
	Columns  []string
}

// buildJoinPlan returns nil when some element cannot be pinned to a single
// table (no label in a graph with several tables, or a label alternation).
func buildJoinPlan(plan *TraversalPlan, pg *catalog.PropertyGraph) *JoinPlan {
	if plan.Kind != FixedChain || pg == nil {
		return nil
	}
	jp := &JoinPlan{Filters: plan.Filters, Columns: plan.Columns}
	vertex := func(i int, v *VertexPattern) bool {
		vt := pickVertexTable(pg, v.Labels)
		if vt == nil {
			return false
		}
		jp.Vertices = append(jp.Vertices, JoinVertex{
			Alias:     aliasFor(v.Variable, "v", i),
			Variable:  v.Variable,
			Table:     vt.Table,
			KeyColumn: vt.KeyColumn,
		})
		return true
	}
	if !vertex(0, &plan.Source) {
		return nil
	}
	for i := range plan.Steps {
		s := &plan.Steps[i]
		et := pickEdgeTable(pg, s.Edge.Labels)
		if et == nil || !vertex(i+1, &s.Target) {
			return nil
		}
		dir := s.Edge.Direction
		if et.IsUndirected() {
			dir = Any
		}
		jp.Edges = append(jp.Edges, JoinEdge{
			Alias:             aliasFor(s.Edge.Variable, "e", i),
			Variable:          s.Edge.Variable,
			Table:             et.Table,
			SourceColumn:      et.SourceColumn,
			DestinationColumn: et.DestinationColumn,
			From:              i,
			To:                i + 1,
			Direction:         dir,
		})
	}
	return jp
}

func pickVertexTable(pg *catalog.PropertyGraph, labels []string) *catalog.VertexTable {
	switch {
	case len(labels) == 1:
		return pg.VertexTable(labels[0])
	case len(labels) == 0 && len(pg.Vertices) == 1:
		return &pg.Vertices[0]
	}
	return nil
}

func pickEdgeTable(pg *catalog.PropertyGraph, labels []string) *catalog.EdgeTable {
	switch {
	case len(labels) == 1:
		return pg.EdgeTable(labels[0])
	case len(labels) == 0 && len(pg.Edges) == 1:
		return &pg.Edges[0]
	}
	return nil
}

func aliasFor(variable, prefix string, i int) string {
	if variable != "" {
		return quoteIdent(variable)
	}
	return fmt.Sprintf("_%s%d", prefix, i)
}

func quoteIdent(s string) string {
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
		}
	}
	return s
}

func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(x)
	}
}

// SQL renders the plan as a SELECT over the host tables. Vertex columns
// project the key column; edge columns project the whole edge row.
func (j *JoinPlan) SQL() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	var cols []string
	for _, c := range j.Columns {
		if v := j.vertexByVariable(c); v != nil {
			cols = append(cols, fmt.Sprintf("%s.%s AS %s", v.Alias, quoteIdent(v.KeyColumn), quoteIdent(c)))
		} else if e := j.edgeByVariable(c); e != nil {
			cols = append(cols, e.Alias+".*")
		}
	}
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	b.WriteString(strings.Join(cols, ", "))

	first := j.Vertices[0]
	fmt.Fprintf(&b, "\nFROM %s %s", quoteIdent(first.Table), first.Alias)
	for _, e := range j.Edges {
		from, to := j.Vertices[e.From], j.Vertices[e.To]
		fk := from.Alias + "." + quoteIdent(from.KeyColumn)
		src := e.Alias + "." + quoteIdent(e.SourceColumn)
		dst := e.Alias + "." + quoteIdent(e.DestinationColumn)
		tk := to.Alias + "." + quoteIdent(to.KeyColumn)
		switch e.Direction {
		case Outgoing:
			fmt.Fprintf(&b, "\nJOIN %s %s ON %s = %s", quoteIdent(e.Table), e.Alias, src, fk)
			fmt.Fprintf(&b, "\nJOIN %s %s ON %s = %s", quoteIdent(to.Table), to.Alias, tk, dst)
		case Incoming:
			fmt.Fprintf(&b, "\nJOIN %s %s ON %s = %s", quoteIdent(e.Table), e.Alias, dst, fk)
			fmt.Fprintf(&b, "\nJOIN %s %s ON %s = %s", quoteIdent(to.Table), to.Alias, tk, src)
		default:
			fmt.Fprintf(&b, "\nJOIN %s %s ON %s IN (%s, %s)", quoteIdent(e.Table), e.Alias, fk, src, dst)
			fmt.Fprintf(&b, "\nJOIN %s %s ON %s = CASE WHEN %s = %s THEN %s ELSE %s END",
				quoteIdent(to.Table), to.Alias, tk, src, fk, dst, src)
		}
	}
	kw := "WHERE"
	for _, f := range j.Filters {
		v := j.vertexByVariable(f.Variable)
		if v == nil {
			continue
		}
		fmt.Fprintf(&b, "\n%s %s.%s = %s", kw, v.Alias, quoteIdent(f.Property), sqlLiteral(f.Value))
		kw = "AND"
	}
	return b.String()
}

func (j *JoinPlan) vertexByVariable(name string) *JoinVertex {
	for i := range j.Vertices {
		if j.Vertices[i].Variable != "" && strings.EqualFold(j.Vertices[i].Variable, name) {
			return &j.Vertices[i]
		}
	}
	return nil
}

func (j *JoinPlan) edgeByVariable(name string) *JoinEdge {
	for i := range j.Edges {
		if j.Edges[i].Variable != "" && strings.EqualFold(j.Edges[i].Variable, name) {
			return &j.Edges[i]
		}
	}
	return nil
}
