package graph

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicpgq/pkg/catalog"
	"github.com/orneryd/nornicpgq/pkg/csr"
	"github.com/orneryd/nornicpgq/pkg/logging"
	"github.com/orneryd/nornicpgq/pkg/parallel"
	"github.com/orneryd/nornicpgq/pkg/pattern"
	"github.com/orneryd/nornicpgq/pkg/storage"
)

// Vertex ids: person ann=0 bob=1 carl=2 NULL=3 ann(dup)=4, company 10=5.
func socialTables(t *testing.T) *storage.MemoryEngine {
	t.Helper()
	e := storage.NewMemoryEngine()
	varchar := func(name string) storage.Column { return storage.Column{Name: name, Type: storage.TypeVarchar} }
	bigint := func(name string) storage.Column { return storage.Column{Name: name, Type: storage.TypeBigint} }

	require.NoError(t, e.CreateTable(storage.Table{Name: "person", Columns: []storage.Column{varchar("id"), varchar("name")}}))
	require.NoError(t, e.CreateTable(storage.Table{Name: "company", Columns: []storage.Column{bigint("id"), varchar("name")}}))
	require.NoError(t, e.CreateTable(storage.Table{Name: "knows", Columns: []storage.Column{varchar("src"), varchar("dst")}}))
	require.NoError(t, e.CreateTable(storage.Table{Name: "works_at", Columns: []storage.Column{varchar("person"), bigint("company")}}))
	require.NoError(t, e.CreateTable(storage.Table{Name: "friends", Columns: []storage.Column{varchar("a"), varchar("b")}}))

	require.NoError(t, e.Insert("person", []storage.Row{
		{"ann", "Ann"}, {"bob", "Bob"}, {"carl", "Carl"}, {nil, "Ghost"}, {"ann", "Ann2"},
	}))
	require.NoError(t, e.Insert("company", []storage.Row{{int64(10), "Acme"}}))
	require.NoError(t, e.Insert("knows", []storage.Row{{"ann", "bob"}, {"bob", "carl"}, {"carl", "ann"}}))
	require.NoError(t, e.Insert("works_at", []storage.Row{{"bob", int64(10)}}))
	require.NoError(t, e.Insert("friends", []storage.Row{{"ann", "carl"}}))
	return e
}

func socialGraph(t *testing.T) *catalog.PropertyGraph {
	t.Helper()
	pg := &catalog.PropertyGraph{
		Name: "social",
		Vertices: []catalog.VertexTable{
			{Table: "person", KeyColumn: "id"},
			{Table: "company", KeyColumn: "id"},
		},
		Edges: []catalog.EdgeTable{
			{Table: "knows", SourceColumn: "src", SourceLabel: "person", DestinationColumn: "dst", DestinationLabel: "person"},
			{Table: "works_at", SourceColumn: "person", SourceLabel: "person", DestinationColumn: "company", DestinationLabel: "company"},
			{Table: "friends", SourceColumn: "a", SourceLabel: "person", DestinationColumn: "b", DestinationLabel: "person", Direction: catalog.Undirected},
		},
	}
	pg.Normalize()
	require.NoError(t, pg.Validate())
	return pg
}

func sequentialOptions() Options {
	opts := DefaultOptions()
	opts.CSR.Parallel = parallel.Sequential()
	return opts
}

func materializeSocial(t *testing.T, proj Projection) *Snapshot {
	t.Helper()
	snap, err := Materialize(context.Background(), socialGraph(t), socialTables(t), proj, sequentialOptions())
	require.NoError(t, err)
	return snap
}

func TestVertexSpace(t *testing.T) {
	snap := materializeSocial(t, Projection{})
	vs := snap.Vertices

	assert.Equal(t, []string{"person", "company"}, vs.Labels)
	assert.Equal(t, 6, vs.Len())
	assert.Equal(t, 5, vs.ValidCount())
	assert.Equal(t, 5, vs.Count("PERSON"))
	assert.Equal(t, 0, vs.Count("nobody"))

	lo, hi, ok := vs.Range("company")
	require.True(t, ok)
	assert.Equal(t, [2]int64{5, 6}, [2]int64{lo, hi})
	assert.Equal(t, "company", vs.LabelOf(5))
	assert.Equal(t, "person", vs.LabelOf(3))

	id, ok := vs.Lookup("person", "ann")
	require.True(t, ok)
	assert.Equal(t, int64(0), id, "first row wins on duplicate keys")
	id, ok = vs.Lookup("company", int64(10))
	require.True(t, ok)
	assert.Equal(t, int64(5), id)
	_, ok = vs.Lookup("person", nil)
	assert.False(t, ok)
	_, ok = vs.Lookup("company", "10")
	assert.False(t, ok, "keys compare by normalized value")

	assert.False(t, vs.Valid[3])
	name, ok := vs.Property(4, "NAME")
	require.True(t, ok)
	assert.Equal(t, "Ann2", name)
	_, ok = vs.Property(4, "age")
	assert.False(t, ok)
	assert.Equal(t, storage.Row{int64(10), "Acme"}, vs.Row(5))
}

func TestMaterializeAllEdges(t *testing.T) {
	snap := materializeSocial(t, Projection{})

	// knows x3, works_at x1, friends stored both ways.
	assert.Equal(t, 6, snap.Out.EdgeCount())
	assert.Equal(t, 6, snap.In.EdgeCount())
	assert.Len(t, snap.Edges, 5)
	assert.Equal(t, map[string]int{"knows": 3, "works_at": 1, "friends": 1}, snap.EdgeCounts)
	require.NoError(t, snap.Out.Validate())

	assert.Equal(t, []int64{1, 2}, snap.Out.NeighborsOf(0))
	assert.Equal(t, []int64{0, 0}, snap.Out.NeighborsOf(2))
	assert.Equal(t, []int64{2, 5}, snap.Out.NeighborsOf(1))
	assert.Equal(t, []int64{2, 2}, snap.In.NeighborsOf(0))
	assert.Empty(t, snap.Out.NeighborsOf(3))

	var refs []string
	for _, id := range snap.Out.EdgeIDsOf(2) {
		refs = append(refs, snap.Edge(id).String())
	}
	assert.Equal(t, []string{"knows#2", "friends#0"}, refs)
	assert.Equal(t, EdgeRecord{Label: "works_at", Row: 0, Src: 1, Dst: 5}, snap.Edges[3])
	assert.Positive(t, snap.MemoryBytes())
}

func TestMaterializeProjection(t *testing.T) {
	knows := materializeSocial(t, Projection{EdgeLabels: []string{"KNOWS"}})
	assert.Equal(t, 3, knows.Out.EdgeCount())
	assert.Equal(t, 6, knows.VertexCount(), "every vertex table is kept")
	assert.Equal(t, map[string]int{"knows": 3}, knows.EdgeCounts)

	rev := materializeSocial(t, Projection{EdgeLabels: []string{"knows"}, Reverse: true})
	assert.Equal(t, []int64{0}, rev.Out.NeighborsOf(1))
	assert.Equal(t, []int64{1}, rev.Out.NeighborsOf(2))
	assert.Equal(t, []int64{2}, rev.In.NeighborsOf(1))

	_, err := Materialize(context.Background(), socialGraph(t), socialTables(t),
		Projection{EdgeLabels: []string{"likes"}}, sequentialOptions())
	assert.ErrorIs(t, err, catalog.ErrLabelNotFound)
}

func TestProjectionString(t *testing.T) {
	tests := []struct {
		proj Projection
		want string
	}{
		{Projection{}, "*"},
		{Projection{Reverse: true}, "*|rev"},
		{Projection{EdgeLabels: []string{"works_at", " Knows"}}, "knows,works_at"},
		{Projection{EdgeLabels: []string{"knows"}, Reverse: true}, "knows|rev"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.proj.String())
		})
	}
	assert.Equal(t,
		Projection{EdgeLabels: []string{"a", "b"}}.String(),
		Projection{EdgeLabels: []string{"B", "A"}}.String())
}

func TestMaterializeDanglingEdge(t *testing.T) {
	tables := socialTables(t)
	require.NoError(t, tables.Insert("knows", []storage.Row{{"ann", "zed"}}))

	_, err := Materialize(context.Background(), socialGraph(t), tables, Projection{}, sequentialOptions())
	require.ErrorIs(t, err, csr.ErrInvalidVertexID)
	var ive *csr.InvalidVertexError
	require.ErrorAs(t, err, &ive)
	assert.Equal(t, int64(-1), ive.Vertex)

	opts := sequentialOptions()
	opts.SkipDanglingEdges = true
	rec := &logging.Recorder{}
	opts.Logger = rec
	snap, err := Materialize(context.Background(), socialGraph(t), tables, Projection{}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Dangling)
	assert.Equal(t, 4, snap.EdgeCounts["knows"])
	assert.Equal(t, 6, snap.Out.EdgeCount())
	assert.Contains(t, rec.Messages(), "graph materialized")
}

func TestMaterializeMissingTable(t *testing.T) {
	tables := socialTables(t)
	require.NoError(t, tables.DropTable("friends"))
	_, err := Materialize(context.Background(), socialGraph(t), tables, Projection{}, sequentialOptions())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMaterializeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Materialize(ctx, socialGraph(t), socialTables(t), Projection{}, sequentialOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotAsPatternSource(t *testing.T) {
	snap := materializeSocial(t, Projection{})
	m, err := pattern.ParseMatch(`GRAPH_TABLE (social MATCH (a:person)-[e:knows]->(b:person)-[w:works_at]->(c:company) COLUMNS (a, b, c))`)
	require.NoError(t, err)
	cm, err := pattern.CompileMatch(0, m, pattern.DefaultOptions())
	require.NoError(t, err)

	got, err := pattern.ExecuteMatch(context.Background(), cm, snap, parallel.Sequential())
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	assert.Equal(t, []pattern.Value{
		pattern.VertexRef{Label: "person", Key: "ann"},
		pattern.VertexRef{Label: "person", Key: "bob"},
		pattern.VertexRef{Label: "company", Key: int64(10)},
	}, got.Rows[0])

	m, err = pattern.ParseMatch(`GRAPH_TABLE (social MATCH (a:person)-[f:friends]-(b) WHERE a.name = 'Carl')`)
	require.NoError(t, err)
	cm, err = pattern.CompileMatch(1, m, pattern.DefaultOptions())
	require.NoError(t, err)
	got, err = pattern.ExecuteMatch(context.Background(), cm, snap, parallel.Sequential())
	require.NoError(t, err)
	var rows []string
	for _, r := range got.Rows {
		rows = append(rows, fmt.Sprint(r...))
	}
	sort.Strings(rows)
	assert.Equal(t, []string{"person(carl) friends#0 person(ann)"}, rows,
		"both stored directions of an undirected row collapse to one binding")
}

func TestSummarize(t *testing.T) {
	sum := materializeSocial(t, Projection{}).Summarize()
	assert.Equal(t, "social", sum.Graph)
	require.Len(t, sum.Labels, 2)
	assert.Equal(t, LabelSummary{
		Label: "person", Vertices: 5, Invalid: 1,
		MinOutDegree: 0, MaxOutDegree: 2, AvgOutDegree: 1.5,
	}, sum.Labels[0])
	assert.Equal(t, LabelSummary{Label: "company", Vertices: 1}, sum.Labels[1])
	assert.Equal(t, 3, sum.Edges["knows"])
}
