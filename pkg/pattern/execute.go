package pattern

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/orneryd/nornicpgq/pkg/csr"
	"github.com/orneryd/nornicpgq/pkg/parallel"
)

// GraphSource is a materialized graph the executor runs plans against.
// Vertex ids are dense in [0, VertexCount()); edge ids index Edge.
type GraphSource interface {
	VertexCount() int
	VertexValid(v int64) bool
	VertexLabel(v int64) string
	VertexKey(v int64) any
	VertexProperty(v int64, name string) (any, bool)
	// VerticesWithLabel returns the id range of a label's vertices.
	VerticesWithLabel(label string) (lo, hi int64, ok bool)
	Outgoing() *csr.CSR
	Incoming() *csr.CSR
	Edge(id int64) EdgeRef
}

// Value is one cell of a BindingTable: a VertexRef, an EdgeRef, or an
// []EdgeRef for a quantified edge.
type Value = any

// VertexRef identifies a vertex by label and key value.
type VertexRef struct {
	Label string
	Key   any
}

func (v VertexRef) String() string { return fmt.Sprintf("%s(%v)", v.Label, v.Key) }

// EdgeRef identifies an edge by label and row position in its edge table.
type EdgeRef struct {
	Label string
	Row   int64
}

func (e EdgeRef) String() string { return fmt.Sprintf("%s#%d", e.Label, e.Row) }

// BindingTable is the result of a match: one row per matched path tuple.
type BindingTable struct {
	Columns []string
	Rows    [][]Value
}

// Len returns the number of rows.
func (b *BindingTable) Len() int { return len(b.Rows) }

// ColumnIndex returns the position of column name (case-insensitive), or -1.
func (b *BindingTable) ColumnIndex(name string) int {
	for i, c := range b.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

type hop struct {
	to   int64
	edge int64
	ref  EdgeRef
}

type executor struct {
	plan    *TraversalPlan
	src     GraphSource
	out, in *csr.CSR
	enforce bool

	colVertex []int // per plan column: vertex element index, or -1
	colEdge   []int // per plan column: step index, or -1
}

// bindings is the per-start state of one depth-first match.
type bindings struct {
	vertices  []int64   // one per vertex element
	edges     [][]int64 // one run per step
	pathVerts []int64   // every vertex on the walk, for repetition checks
	pathEdges []EdgeRef
	rows      [][]Value
}

// Execute runs one traversal plan. Fixed steps are adjacency lookups; quantified
// steps grow a frontier of partial walks hop by hop until MaxHops or until no
// walk can be extended.
func Execute(ctx context.Context, plan *TraversalPlan, src GraphSource) (*BindingTable, error) {
	return ExecuteWithOptions(ctx, plan, src, parallel.DefaultConfig())
}

// ExecuteWithOptions is Execute with an explicit worker configuration. Rows are
// produced in start-vertex order regardless of worker count.
func ExecuteWithOptions(ctx context.Context, plan *TraversalPlan, src GraphSource, cfg parallel.Config) (*BindingTable, error) {
	ctx, span := tracer.Start(ctx, "pattern.Execute", spanAttrs(plan))
	defer span.End()

	x, err := newExecutor(plan, src)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	starts := x.candidates(&plan.Source)
	perChunk := make([][][]Value, cfg.Chunks(len(starts)))
	_, err = parallel.ForEachChunk(ctx, len(starts), cfg, func(worker, lo, hi int) error {
		b := &bindings{
			vertices: make([]int64, len(plan.Steps)+1),
			edges:    make([][]int64, len(plan.Steps)),
		}
		for i, v := range starts[lo:hi] {
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if !x.filtersPass(&plan.Source, v) {
				continue
			}
			b.vertices[0] = v
			b.pathVerts = append(b.pathVerts[:0], v)
			b.pathEdges = b.pathEdges[:0]
			x.step(0, v, b)
		}
		perChunk[worker] = b.rows
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &BindingTable{Columns: append([]string(nil), plan.Columns...)}
	for _, rows := range perChunk {
		out.Rows = append(out.Rows, rows...)
	}
	span.SetAttributes(attribute.Int("rows", len(out.Rows)))
	return out, nil
}

func newExecutor(plan *TraversalPlan, src GraphSource) (*executor, error) {
	x := &executor{
		plan:    plan,
		src:     src,
		out:     src.Outgoing(),
		in:      src.Incoming(),
		enforce: plan.Kind == Expansion && plan.Repetition != AllowRepetition,
	}
	if x.out.EdgeCount() > 0 && (!x.out.HasEdgeIDs() || !x.in.HasEdgeIDs()) {
		return nil, ErrMissingEdgeIDs
	}
	for _, c := range plan.Columns {
		vi, ei := -1, -1
		if plan.Source.Variable != "" && strings.EqualFold(plan.Source.Variable, c) {
			vi = 0
		}
		for i := range plan.Steps {
			if plan.Steps[i].Target.Variable != "" && strings.EqualFold(plan.Steps[i].Target.Variable, c) {
				vi = i + 1
			}
			if plan.Steps[i].Edge.Variable != "" && strings.EqualFold(plan.Steps[i].Edge.Variable, c) {
				ei = i
			}
		}
		if vi < 0 && ei < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, c)
		}
		x.colVertex = append(x.colVertex, vi)
		x.colEdge = append(x.colEdge, ei)
	}
	return x, nil
}

// candidates lists the valid vertices a vertex pattern's labels admit.
func (x *executor) candidates(v *VertexPattern) []int64 {
	var out []int64
	add := func(lo, hi int64) {
		for id := lo; id < hi; id++ {
			if x.src.VertexValid(id) {
				out = append(out, id)
			}
		}
	}
	if len(v.Labels) == 0 {
		add(0, int64(x.src.VertexCount()))
		return out
	}
	for _, l := range v.Labels {
		if lo, hi, ok := x.src.VerticesWithLabel(l); ok {
			add(lo, hi)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (x *executor) labelMatches(v *VertexPattern, id int64) bool {
	if !x.src.VertexValid(id) {
		return false
	}
	if len(v.Labels) == 0 {
		return true
	}
	return containsFold(v.Labels, x.src.VertexLabel(id))
}

func (x *executor) filtersPass(v *VertexPattern, id int64) bool {
	if v.Variable == "" {
		return true
	}
	for _, f := range x.plan.Filters {
		if !strings.EqualFold(f.Variable, v.Variable) {
			continue
		}
		got, ok := x.src.VertexProperty(id, f.Property)
		if !ok || !valuesEqual(got, f.Value) {
			return false
		}
	}
	return true
}

func (x *executor) targetMatches(v *VertexPattern, id int64) bool {
	return x.labelMatches(v, id) && x.filtersPass(v, id)
}

// neighbors lists the hops out of v allowed by an edge pattern. For Any, an
// edge reachable through both adjacencies is reported once.
func (x *executor) neighbors(v int64, e *EdgePattern) []hop {
	var out []hop
	collect := func(g *csr.CSR) {
		nbrs := g.NeighborsOf(v)
		ids := g.EdgeIDsOf(v)
		for i, u := range nbrs {
			ref := x.src.Edge(ids[i])
			if len(e.Labels) > 0 && !containsFold(e.Labels, ref.Label) {
				continue
			}
			out = append(out, hop{to: u, edge: ids[i], ref: ref})
		}
	}
	switch e.Direction {
	case Outgoing:
		collect(x.out)
	case Incoming:
		collect(x.in)
	default:
		collect(x.out)
		n := len(out)
		collect(x.in)
		if n > 0 && len(out) > n {
			seen := make(map[hop]struct{}, n)
			for _, h := range out[:n] {
				seen[hop{to: h.to, ref: h.ref}] = struct{}{}
			}
			kept := out[:n]
			for _, h := range out[n:] {
				if _, dup := seen[hop{to: h.to, ref: h.ref}]; !dup {
					kept = append(kept, h)
				}
			}
			out = kept
		}
	}
	return out
}

func (x *executor) violates(h hop, b *bindings, partialVerts []int64, partialEdges []EdgeRef) bool {
	if !x.enforce {
		return false
	}
	switch x.plan.Repetition {
	case NoRepeatedVertices:
		return containsID(b.pathVerts, h.to) || containsID(partialVerts, h.to)
	case NoRepeatedEdges:
		return containsRef(b.pathEdges, h.ref) || containsRef(partialEdges, h.ref)
	}
	return false
}

// step binds steps[i:] starting from vertex cur.
func (x *executor) step(i int, cur int64, b *bindings) {
	if i == len(x.plan.Steps) {
		b.rows = append(b.rows, x.row(b))
		return
	}
	s := &x.plan.Steps[i]
	if s.Fixed() {
		for _, h := range x.neighbors(cur, &s.Edge) {
			if x.violates(h, b, nil, nil) || !x.targetMatches(&s.Target, h.to) {
				continue
			}
			x.bind(i, h.to, []int64{h.edge}, []int64{h.to}, []EdgeRef{h.ref}, b)
		}
		return
	}
	x.expand(i, s, cur, b)
}

type walk struct {
	end   int64
	verts []int64
	edges []int64
	refs  []EdgeRef
}

func (x *executor) expand(i int, s *Step, cur int64, b *bindings) {
	if s.MinHops == 0 && x.targetMatches(&s.Target, cur) {
		x.bind(i, cur, nil, nil, nil, b)
	}
	frontier := []walk{{end: cur}}
	for h := 1; h <= s.MaxHops && len(frontier) > 0; h++ {
		var next []walk
		for _, w := range frontier {
			for _, nb := range x.neighbors(w.end, &s.Edge) {
				if x.violates(nb, b, w.verts, w.refs) {
					continue
				}
				nw := walk{
					end:   nb.to,
					verts: append(append(make([]int64, 0, len(w.verts)+1), w.verts...), nb.to),
					edges: append(append(make([]int64, 0, len(w.edges)+1), w.edges...), nb.edge),
					refs:  append(append(make([]EdgeRef, 0, len(w.refs)+1), w.refs...), nb.ref),
				}
				next = append(next, nw)
				if h >= s.MinHops && x.targetMatches(&s.Target, nb.to) {
					x.bind(i, nb.to, nw.edges, nw.verts, nw.refs, b)
				}
			}
		}
		frontier = next
	}
}

// bind records step i's edges and target, recurses, and restores the walk.
func (x *executor) bind(i int, target int64, edges, verts []int64, refs []EdgeRef, b *bindings) {
	nv, ne := len(b.pathVerts), len(b.pathEdges)
	b.vertices[i+1] = target
	b.edges[i] = edges
	b.pathVerts = append(b.pathVerts, verts...)
	b.pathEdges = append(b.pathEdges, refs...)
	x.step(i+1, target, b)
	b.pathVerts = b.pathVerts[:nv]
	b.pathEdges = b.pathEdges[:ne]
}

func (x *executor) row(b *bindings) []Value {
	row := make([]Value, len(x.colVertex))
	for c := range row {
		if vi := x.colVertex[c]; vi >= 0 {
			v := b.vertices[vi]
			row[c] = VertexRef{Label: x.src.VertexLabel(v), Key: x.src.VertexKey(v)}
			continue
		}
		si := x.colEdge[c]
		ids := b.edges[si]
		if x.plan.Steps[si].Fixed() {
			row[c] = x.src.Edge(ids[0])
			continue
		}
		refs := make([]EdgeRef, len(ids))
		for k, id := range ids {
			refs[k] = x.src.Edge(id)
		}
		row[c] = refs
	}
	return row
}

// ExecuteMatch runs every path plan of a compiled match, joins the path results
// on their shared vertex variables, and projects the requested columns.
func ExecuteMatch(ctx context.Context, cm *CompiledMatch, src GraphSource, cfg parallel.Config) (*BindingTable, error) {
	var acc *BindingTable
	for _, plan := range cm.Plans {
		t, err := ExecuteWithOptions(ctx, plan, src, cfg)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = t
			continue
		}
		acc = hashJoin(acc, t)
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: MATCH has no paths", ErrInvalidPattern)
	}
	return project(acc, cm.Columns)
}

func hashJoin(left, right *BindingTable) *BindingTable {
	var lk, rk []int
	var extra []int
	for ri, c := range right.Columns {
		if li := left.ColumnIndex(c); li >= 0 {
			lk = append(lk, li)
			rk = append(rk, ri)
		} else {
			extra = append(extra, ri)
		}
	}
	out := &BindingTable{Columns: append([]string(nil), left.Columns...)}
	for _, ri := range extra {
		out.Columns = append(out.Columns, right.Columns[ri])
	}
	index := make(map[string][]int, len(right.Rows))
	for i, r := range right.Rows {
		k := joinKey(r, rk)
		index[k] = append(index[k], i)
	}
	for _, l := range left.Rows {
		for _, ri := range index[joinKey(l, lk)] {
			row := append(append(make([]Value, 0, len(out.Columns)), l...), pick(right.Rows[ri], extra)...)
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

func pick(row []Value, idx []int) []Value {
	out := make([]Value, len(idx))
	for i, j := range idx {
		out[i] = row[j]
	}
	return out
}

func joinKey(row []Value, idx []int) string {
	var b strings.Builder
	for _, i := range idx {
		if v, ok := row[i].(VertexRef); ok {
			fmt.Fprintf(&b, "%s\x1f%T:%v\x1e", strings.ToLower(v.Label), v.Key, v.Key)
			continue
		}
		fmt.Fprintf(&b, "%T:%v\x1e", row[i], row[i])
	}
	return b.String()
}

func project(t *BindingTable, columns []string) (*BindingTable, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		if idx[i] = t.ColumnIndex(c); idx[i] < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, c)
		}
	}
	out := &BindingTable{Columns: append([]string(nil), columns...), Rows: make([][]Value, len(t.Rows))}
	for r, row := range t.Rows {
		out.Rows[r] = pick(row, idx)
	}
	return out, nil
}

// valuesEqual compares a stored value with a WHERE literal, treating integer and
// floating-point numbers as comparable.
func valuesEqual(stored, literal any) bool {
	switch s := stored.(type) {
	case int64:
		switch l := literal.(type) {
		case int64:
			return s == l
		case float64:
			return float64(s) == l
		}
	case float64:
		switch l := literal.(type) {
		case int64:
			return s == float64(l)
		case float64:
			return s == l
		}
	case string:
		l, ok := literal.(string)
		return ok && s == l
	case bool:
		l, ok := literal.(bool)
		return ok && s == l
	}
	return false
}

func containsID(ids []int64, v int64) bool {
	for _, x := range ids {
		if x == v {
			return true
		}
	}
	return false
}

func containsRef(refs []EdgeRef, r EdgeRef) bool {
	for _, x := range refs {
		if x == r {
			return true
		}
	}
	return false
}
