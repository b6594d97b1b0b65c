package pattern

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicpgq/pkg/catalog"
	"github.com/orneryd/nornicpgq/pkg/parallel"
)

var tracer = otel.Tracer("nornicpgq.pattern")

// DefaultMaxUnboundedHops caps quantifiers written without an upper bound.
const DefaultMaxUnboundedHops = 64

// GraphLookup resolves property-graph definitions at compile time.
type GraphLookup interface {
	Get(name string) (*catalog.PropertyGraph, error)
}

// Options configures compilation and execution.
type Options struct {
	Repetition       RepetitionPolicy
	MaxUnboundedHops int
	// Graphs, when set, lets the compiler check labels against the graph
	// definition and render fixed chains as join plans.
	Graphs GraphLookup
	// Parallel splits expansion over start vertices.
	Parallel parallel.Config
}

// DefaultOptions returns simple-path semantics with the default hop cap.
func DefaultOptions() Options {
	return Options{
		Repetition:       NoRepeatedVertices,
		MaxUnboundedHops: DefaultMaxUnboundedHops,
		Parallel:         parallel.DefaultConfig(),
	}
}

// CompileContext is the state of one compilation: an identifier, the next
// match index, and the matches found so far keyed by index. It is created when
// Compile starts and dropped when it returns, so two compilations never share
// match indexes.
type CompileContext struct {
	ID        uuid.UUID
	nextMatch int
	pending   map[int]*MatchQuery
}

// NewCompileContext returns an empty context with a fresh ID.
func NewCompileContext() *CompileContext {
	return &CompileContext{ID: uuid.New(), pending: make(map[int]*MatchQuery)}
}

// register assigns the next match index to m.
func (c *CompileContext) register(m *MatchQuery) int {
	id := c.nextMatch
	c.nextMatch++
	c.pending[id] = m
	return id
}

// Pending returns the number of matches registered so far.
func (c *CompileContext) Pending() int { return len(c.pending) }

// CompiledMatch is one GRAPH_TABLE occurrence ready to execute.
type CompiledMatch struct {
	ID      int
	Query   *MatchQuery
	Plans   []*TraversalPlan
	Columns []string
}

// CompiledQuery holds every compiled match of a statement in source order.
type CompiledQuery struct {
	ContextID uuid.UUID
	Matches   []*CompiledMatch
}

// Compile locates every GRAPH_TABLE in stmt and compiles it. A MATCH inside a
// table reference kind the compiler does not model fails the whole statement
// with *UnsupportedConstructError before anything is compiled.
func Compile(ctx context.Context, stmt *Select, opts Options) (*CompiledQuery, error) {
	ctx, span := tracer.Start(ctx, "pattern.Compile")
	defer span.End()

	cq, err := compile(ctx, stmt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("matches", len(cq.Matches)), attribute.String("compile_id", cq.ContextID.String()))
	return cq, nil
}

func compile(ctx context.Context, stmt *Select, opts Options) (*CompiledQuery, error) {
	if opts.MaxUnboundedHops <= 0 {
		opts.MaxUnboundedHops = DefaultMaxUnboundedHops
	}
	cc := NewCompileContext()
	err := walkSelect(stmt, func(gt *GraphTable) error {
		m := gt.Match
		if m == nil {
			parsed, err := ParseMatch(gt.Text)
			if err != nil {
				return err
			}
			m = parsed
		}
		cc.register(m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &CompiledQuery{ContextID: cc.ID}
	ids := make([]int, 0, len(cc.pending))
	for id := range cc.pending {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cm, err := CompileMatch(id, cc.pending[id], opts)
		if err != nil {
			return nil, fmt.Errorf("match %d: %w", id, err)
		}
		out.Matches = append(out.Matches, cm)
	}
	return out, nil
}

// CompileMatch compiles a single MATCH under the given match id.
func CompileMatch(id int, m *MatchQuery, opts Options) (*CompiledMatch, error) {
	if len(m.Paths) == 0 {
		return nil, fmt.Errorf("%w: MATCH has no paths", ErrInvalidPattern)
	}
	if opts.MaxUnboundedHops <= 0 {
		opts.MaxUnboundedHops = DefaultMaxUnboundedHops
	}
	var pg *catalog.PropertyGraph
	if opts.Graphs != nil {
		var err error
		if pg, err = opts.Graphs.Get(m.Graph); err != nil {
			return nil, err
		}
	}

	kinds, err := variableKinds(m)
	if err != nil {
		return nil, err
	}
	for _, f := range m.Where {
		switch kinds[strings.ToLower(f.Variable)] {
		case kindVertex:
		case kindEdge:
			return nil, fmt.Errorf("%w: WHERE on edge variable %s", ErrInvalidPattern, f.Variable)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, f.Variable)
		}
	}
	columns := m.OutputColumns()
	for _, c := range columns {
		if _, ok := kinds[strings.ToLower(c)]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, c)
		}
	}

	cm := &CompiledMatch{ID: id, Query: m, Columns: columns}
	for i := range m.Paths {
		plan, err := compilePath(id, i, &m.Paths[i], m.Where, opts)
		if err != nil {
			return nil, err
		}
		if pg != nil {
			if err := checkLabels(plan, pg); err != nil {
				return nil, err
			}
			plan.Join = buildJoinPlan(plan, pg)
		}
		cm.Plans = append(cm.Plans, plan)
	}
	return cm, nil
}

type variableKind int

const (
	kindNone variableKind = iota
	kindVertex
	kindEdge
)

// variableKinds maps every named variable to vertex or edge. A vertex variable
// may appear in several paths (the paths join on it); an edge variable may not.
func variableKinds(m *MatchQuery) (map[string]variableKind, error) {
	kinds := make(map[string]variableKind)
	for i := range m.Paths {
		if err := m.Paths[i].Validate(); err != nil {
			return nil, err
		}
		for _, el := range m.Paths[i].Elements {
			switch x := el.(type) {
			case *VertexPattern:
				if x.Variable == "" {
					continue
				}
				key := strings.ToLower(x.Variable)
				if kinds[key] == kindEdge {
					return nil, fmt.Errorf("%w: %s is both a vertex and an edge", ErrInvalidPattern, x.Variable)
				}
				kinds[key] = kindVertex
			case *EdgePattern:
				if x.Variable == "" {
					continue
				}
				key := strings.ToLower(x.Variable)
				if kinds[key] != kindNone {
					return nil, fmt.Errorf("%w: variable %s is bound twice", ErrInvalidPattern, x.Variable)
				}
				kinds[key] = kindEdge
			}
		}
	}
	return kinds, nil
}

func compilePath(matchID, index int, path *PathPattern, where []Equality, opts Options) (*TraversalPlan, error) {
	plan := &TraversalPlan{
		MatchID:    matchID,
		Path:       index,
		Kind:       FixedChain,
		Source:     *path.Vertex(0),
		Repetition: opts.Repetition,
		Columns:    path.Variables(),
	}
	for i := 0; i < path.Len(); i++ {
		e := path.Edge(i)
		s := Step{Edge: *e, Target: *path.Vertex(i + 1), MinHops: e.MinHops, MaxHops: e.MaxHops}
		if e.IsUnbounded() {
			if opts.Repetition == AllowRepetition {
				return nil, fmt.Errorf("%w: unbounded quantifier on %s requires a repetition restriction", ErrInvalidPattern, e)
			}
			s.Unbounded = true
			s.MaxHops = opts.MaxUnboundedHops
			if s.MaxHops < s.MinHops {
				s.MaxHops = s.MinHops
			}
		}
		if !s.Fixed() {
			plan.Kind = Expansion
		}
		plan.Steps = append(plan.Steps, s)
	}
	for _, f := range where {
		if containsFold(plan.Columns, f.Variable) {
			plan.Filters = append(plan.Filters, f)
		}
	}
	return plan, nil
}

// checkLabels fails fast on labels the property graph does not declare.
func checkLabels(plan *TraversalPlan, pg *catalog.PropertyGraph) error {
	vertex := func(v *VertexPattern) error {
		for _, l := range v.Labels {
			if pg.VertexTable(l) == nil {
				return fmt.Errorf("%w: vertex label %s in graph %s", catalog.ErrLabelNotFound, l, pg.Name)
			}
		}
		return nil
	}
	if err := vertex(&plan.Source); err != nil {
		return err
	}
	for i := range plan.Steps {
		for _, l := range plan.Steps[i].Edge.Labels {
			if pg.EdgeTable(l) == nil {
				return fmt.Errorf("%w: edge label %s in graph %s", catalog.ErrLabelNotFound, l, pg.Name)
			}
		}
		if err := vertex(&plan.Steps[i].Target); err != nil {
			return err
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}

// spanAttrs describes a plan on a span.
func spanAttrs(plan *TraversalPlan) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.Int("match_id", plan.MatchID),
		attribute.Int("path", plan.Path),
		attribute.String("kind", plan.Kind.String()),
		attribute.Int("steps", len(plan.Steps)),
	)
}
