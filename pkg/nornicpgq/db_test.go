package nornicpgq_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/orneryd/nornicpgq/pkg/algo"
	"github.com/orneryd/nornicpgq/pkg/catalog"
	"github.com/orneryd/nornicpgq/pkg/config"
	"github.com/orneryd/nornicpgq/pkg/graph"
	"github.com/orneryd/nornicpgq/pkg/logging"
	"github.com/orneryd/nornicpgq/pkg/nornicpgq"
	"github.com/orneryd/nornicpgq/pkg/nornicpgq/mocks"
	"github.com/orneryd/nornicpgq/pkg/pattern"
	"github.com/orneryd/nornicpgq/pkg/storage"
)

const knowsQuery = "GRAPH_TABLE (social MATCH (a:person)-[e:knows]->(b:person) COLUMNS (a, b))"

func testConfig() *config.Config {
	cfg := config.LoadDefaults()
	cfg.Storage.InMemory = true
	return cfg
}

func createTables(t *testing.T, tables storage.Engine) {
	t.Helper()
	varchar := func(name string) storage.Column { return storage.Column{Name: name, Type: storage.TypeVarchar} }
	require.NoError(t, tables.CreateTable(storage.Table{Name: "person", Columns: []storage.Column{varchar("id"), varchar("name")}}))
	require.NoError(t, tables.CreateTable(storage.Table{Name: "knows", Columns: []storage.Column{varchar("src"), varchar("dst")}}))
	require.NoError(t, tables.Insert("person", []storage.Row{
		{"ann", "Ann"}, {"bob", "Bob"}, {"carl", "Carl"}, {"dave", "Dave"},
	}))
	require.NoError(t, tables.Insert("knows", []storage.Row{{"ann", "bob"}, {"bob", "carl"}}))
}

func socialGraph() *catalog.PropertyGraph {
	return &catalog.PropertyGraph{
		Name:     "social",
		Vertices: []catalog.VertexTable{{Table: "person", KeyColumn: "id"}},
		Edges: []catalog.EdgeTable{{
			Table: "knows", SourceColumn: "src", SourceLabel: "person",
			DestinationColumn: "dst", DestinationLabel: "person",
		}},
	}
}

// openSocial opens an in-memory database holding ann->bob->carl and an
// isolated dave.
func openSocial(t *testing.T, cfg *config.Config) (*nornicpgq.DB, *logging.Recorder) {
	t.Helper()
	rec := &logging.Recorder{}
	db, err := nornicpgq.OpenWithLogger(cfg, rec)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	createTables(t, db.Tables())
	_, err = db.Execute(context.Background(), &nornicpgq.CreatePropertyGraph{Graph: socialGraph()})
	require.NoError(t, err)
	return db, rec
}

func selectOf(text string) *pattern.Select {
	return &pattern.Select{From: &pattern.GraphTable{Text: text}}
}

func render(rows [][]any) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = strings.TrimSuffix(fmt.Sprintln(r...), "\n")
	}
	return out
}

func TestSelectUsesCacheAndSeesTableChanges(t *testing.T) {
	db, _ := openSocial(t, testConfig())
	ctx := context.Background()

	res, err := db.Execute(ctx, &nornicpgq.SelectStatement{Query: selectOf(knowsQuery)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Columns)
	assert.Equal(t, []string{"person(ann) person(bob)", "person(bob) person(carl)"}, render(res.Rows))
	require.Len(t, res.Matches, 1)

	_, err = db.Execute(ctx, &nornicpgq.SelectStatement{Query: selectOf(knowsQuery)})
	require.NoError(t, err)
	stats := db.CacheStats()
	assert.Equal(t, int64(1), stats.Builds)
	assert.Equal(t, 1, stats.Entries)

	require.NoError(t, db.Tables().Insert("knows", []storage.Row{{"carl", "dave"}}))
	assert.Equal(t, 0, db.CacheStats().Entries, "table change drops the projection")

	res, err = db.Execute(ctx, &nornicpgq.SelectStatement{Query: selectOf(knowsQuery)})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 3)
	assert.Equal(t, int64(2), db.CacheStats().Builds)
}

func TestSelectWithCacheDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = false
	db, _ := openSocial(t, cfg)

	for i := 0; i < 2; i++ {
		res, err := db.Execute(context.Background(), &nornicpgq.SelectStatement{Query: selectOf(knowsQuery)})
		require.NoError(t, err)
		assert.Len(t, res.Rows, 2)
	}
	assert.Equal(t, int64(0), db.CacheStats().Builds)
}

func TestGraphEventListener(t *testing.T) {
	db, _ := openSocial(t, testConfig())
	ctx := context.Background()
	query := &nornicpgq.SelectStatement{Query: selectOf(knowsQuery)}

	ctrl := gomock.NewController(t)
	listener := mocks.NewMockGraphEventListener(ctrl)
	gomock.InOrder(
		listener.EXPECT().SnapshotBuilt("social", "*", 4, 2),
		listener.EXPECT().GraphInvalidated("social", nornicpgq.ReasonTableChanged),
		listener.EXPECT().SnapshotBuilt("social", "*", 4, 3),
		listener.EXPECT().GraphInvalidated("SOCIAL", nornicpgq.ReasonExplicit),
		listener.EXPECT().GraphInvalidated("social", nornicpgq.ReasonGraphChanged),
	)
	db.AddListener(listener)

	_, err := db.Execute(ctx, query)
	require.NoError(t, err)
	_, err = db.Execute(ctx, query)
	require.NoError(t, err)

	require.NoError(t, db.Tables().CreateTable(storage.Table{Name: "unrelated", Columns: []storage.Column{{Name: "x", Type: storage.TypeBigint}}}))
	require.NoError(t, db.Tables().Insert("unrelated", []storage.Row{{int64(1)}}))
	require.NoError(t, db.Tables().Insert("knows", []storage.Row{{"carl", "dave"}}))

	_, err = db.Execute(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, 1, db.InvalidateGraph("SOCIAL"))

	_, err = db.Execute(ctx, &nornicpgq.DropPropertyGraph{Name: "social"})
	require.NoError(t, err)
	_, err = db.Execute(ctx, query)
	assert.ErrorIs(t, err, catalog.ErrGraphNotFound)
}

func TestSnapshotDuringRedefinitionIsNotCached(t *testing.T) {
	db, _ := openSocial(t, testConfig())
	ctx := context.Background()
	vertexOnly := &catalog.PropertyGraph{
		Name:     "social",
		Vertices: []catalog.VertexTable{{Table: "person", KeyColumn: "id"}},
	}

	ctrl := gomock.NewController(t)
	listener := mocks.NewMockGraphEventListener(ctrl)
	listener.EXPECT().GraphInvalidated("social", nornicpgq.ReasonGraphChanged)
	gomock.InOrder(
		// The graph is redefined while its first projection is being built.
		listener.EXPECT().SnapshotBuilt("social", "*", 4, 2).Do(func(string, string, int, int) {
			_, err := db.Execute(ctx, &nornicpgq.CreatePropertyGraph{Graph: vertexOnly, OrReplace: true})
			assert.NoError(t, err)
		}),
		listener.EXPECT().SnapshotBuilt("social", "*", 4, 0),
	)
	db.AddListener(listener)

	first, err := db.Snapshot(ctx, "social", graph.Projection{})
	require.NoError(t, err)
	assert.Len(t, first.Definition.Edges, 1)

	second, err := db.Snapshot(ctx, "social", graph.Projection{})
	require.NoError(t, err)
	assert.Empty(t, second.Definition.Edges)
	assert.Equal(t, 0, second.Out.EdgeCount())

	third, err := db.Snapshot(ctx, "social", graph.Projection{})
	require.NoError(t, err)
	assert.Same(t, second, third)
	stats := db.CacheStats()
	assert.Equal(t, int64(2), stats.Builds)
	assert.Equal(t, int64(1), stats.Discarded)
}

func TestExplain(t *testing.T) {
	db, _ := openSocial(t, testConfig())
	res, err := db.Execute(context.Background(), &nornicpgq.ExplainStatement{Query: &pattern.Select{
		From: &pattern.Join{
			Left:  &pattern.GraphTable{Text: "GRAPH_TABLE (social MATCH (a:person)-[e:knows]->(b:person) WHERE a.id = 'ann')"},
			Right: &pattern.GraphTable{Text: "GRAPH_TABLE (social MATCH (a:person)-[e:knows]->+(b:person))"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"match", "path", "kind", "plan", "join_sql"}, res.Columns)
	require.Len(t, res.Rows, 2)

	assert.Equal(t, int64(0), res.Rows[0][0])
	assert.Equal(t, "fixed_chain", res.Rows[0][2])
	assert.Contains(t, res.Rows[0][4], "JOIN knows e")
	assert.Contains(t, res.Rows[0][4], "WHERE a.id = 'ann'")

	assert.Equal(t, int64(1), res.Rows[1][0])
	assert.Equal(t, "expansion", res.Rows[1][2])
	assert.Equal(t, "", res.Rows[1][4])
	assert.Equal(t, int64(0), db.CacheStats().Builds, "EXPLAIN does not materialize")
}

func TestCopyAndInsert(t *testing.T) {
	db, _ := openSocial(t, testConfig())
	ctx := context.Background()

	var buf bytes.Buffer
	res, err := db.Execute(ctx, &nornicpgq.CopyStatement{Query: selectOf(knowsQuery), Writer: &buf, Header: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsAffected)
	assert.Equal(t, "a,b\nann,bob\nbob,carl\n", buf.String())

	buf.Reset()
	_, err = db.Execute(ctx, &nornicpgq.CopyStatement{
		Query:  selectOf("GRAPH_TABLE (social MATCH (a:person)-[e:knows]->{2}(b:person))"),
		Writer: &buf,
	})
	require.NoError(t, err)
	assert.Equal(t, "ann,\"[knows#0,knows#1]\",carl\n", buf.String())

	require.NoError(t, db.Tables().CreateTable(storage.Table{Name: "pairs", Columns: []storage.Column{
		{Name: "a", Type: storage.TypeVarchar}, {Name: "b", Type: storage.TypeVarchar},
	}}))
	res, err = db.Execute(ctx, &nornicpgq.InsertStatement{Table: "pairs", Query: selectOf(knowsQuery)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsAffected)
	n, err := db.Tables().RowCount("pairs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = db.Execute(ctx, &nornicpgq.InsertStatement{Table: "person", Query: selectOf("GRAPH_TABLE (social MATCH (a:person))")})
	assert.ErrorIs(t, err, storage.ErrInvalidData, "column count mismatch")
}

func TestShow(t *testing.T) {
	db, _ := openSocial(t, testConfig())
	ctx := context.Background()

	res, err := db.Execute(ctx, &nornicpgq.ShowStatement{Kind: nornicpgq.ShowDescribe, Graph: "social"})
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{"vertex", "person", "person", "id", nil, nil, nil},
		{"edge", "knows", "knows", nil, "person.src", "person.dst", "directed"},
	}, res.Rows)

	res, err = db.Execute(ctx, &nornicpgq.ShowStatement{Kind: nornicpgq.ShowSummarize, Graph: "social"})
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{"vertex", "person", int64(4), int64(0), int64(0), int64(1), 0.5},
		{"edge", "knows", int64(2), nil, nil, nil, nil},
	}, res.Rows)

	_, err = db.Execute(ctx, &nornicpgq.ShowStatement{Kind: nornicpgq.ShowDescribe, Graph: "nope"})
	assert.ErrorIs(t, err, catalog.ErrGraphNotFound)
}

func TestStatementErrors(t *testing.T) {
	db, _ := openSocial(t, testConfig())
	ctx := context.Background()

	_, err := db.Execute(ctx, &nornicpgq.OtherStatement{Kind: "UPDATE"})
	assert.ErrorIs(t, err, nornicpgq.ErrNotImplemented)

	_, err = db.Execute(ctx, &nornicpgq.SelectStatement{Query: &pattern.Select{From: &pattern.BaseTable{Name: "person"}}})
	assert.ErrorIs(t, err, nornicpgq.ErrNoGraphTable)

	_, err = db.Execute(ctx, &nornicpgq.SelectStatement{Query: &pattern.Select{
		From: &pattern.Join{Left: &pattern.GraphTable{Text: knowsQuery}, Right: &pattern.Unsupported{Kind: "PIVOT"}},
	}})
	var uc *pattern.UnsupportedConstructError
	require.True(t, errors.As(err, &uc), "got %v", err)
	assert.Equal(t, "PIVOT", uc.Kind)

	_, err = db.Execute(ctx, &nornicpgq.SelectStatement{Query: selectOf("GRAPH_TABLE (social MATCH (a:company))")})
	assert.ErrorIs(t, err, catalog.ErrLabelNotFound)

	_, err = db.Execute(ctx, &nornicpgq.CreatePropertyGraph{Graph: socialGraph()})
	assert.ErrorIs(t, err, catalog.ErrGraphExists)
}

func TestAlgorithms(t *testing.T) {
	db, rec := openSocial(t, testConfig())
	ctx := context.Background()

	pr, err := db.PageRank(ctx, "social", algo.PageRankOptions{})
	require.NoError(t, err)
	assert.Equal(t, algo.StatusConverged, pr.Status)
	require.Len(t, pr.Rows, 4)
	assert.Equal(t, []string{"vertex_id", "label", "key", "rank"}, pr.Columns)
	assert.Greater(t, pr.Rows[2][3].(float64), pr.Rows[0][3].(float64), "carl outranks ann")

	wcc, err := db.WeaklyConnectedComponents(ctx, "social")
	require.NoError(t, err)
	assert.Equal(t, []string{"0 person ann 0", "1 person bob 0", "2 person carl 0", "3 person dave 3"}, render(wcc.Rows))

	reach, err := db.Reachability(ctx, "social", nornicpgq.VertexID{Label: "person", Key: "ann"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0 person ann 0", "1 person bob 1"}, render(reach.Rows))

	reach, err = db.Reachability(ctx, "social", nornicpgq.VertexID{Label: "person", Key: "ann"}, nornicpgq.DefaultHops)
	require.NoError(t, err)
	assert.Len(t, reach.Rows, 3, "default hop bound")

	reach, err = db.Reachability(ctx, "social", nornicpgq.VertexID{Label: "person", Key: "ann"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"0 person ann 0"}, render(reach.Rows), "zero hops reach only the source")

	path, err := db.ShortestPath(ctx, "social",
		nornicpgq.VertexID{Label: "person", Key: "ann"}, nornicpgq.VertexID{Label: "person", Key: "bob"}, 0)
	require.NoError(t, err)
	assert.Empty(t, path.Rows, "bob is one hop away")

	path, err = db.ShortestPath(ctx, "social",
		nornicpgq.VertexID{Label: "person", Key: "ann"}, nornicpgq.VertexID{Label: "person", Key: "carl"}, nornicpgq.DefaultHops)
	require.NoError(t, err)
	assert.Equal(t, []string{"0 person ann 0", "1 person bob 1", "2 person carl 2"}, render(path.Rows))

	path, err = db.ShortestPath(ctx, "social",
		nornicpgq.VertexID{Label: "person", Key: "ann"}, nornicpgq.VertexID{Label: "person", Key: "dave"}, -1)
	require.NoError(t, err)
	assert.Empty(t, path.Rows)

	_, err = db.Reachability(ctx, "social", nornicpgq.VertexID{Label: "person", Key: "zed"}, 1)
	assert.ErrorIs(t, err, nornicpgq.ErrVertexNotFound)
	_, err = db.Reachability(ctx, "social", nornicpgq.VertexID{Label: "robot", Key: "ann"}, 1)
	assert.ErrorIs(t, err, catalog.ErrLabelNotFound)

	assert.Equal(t, int64(1), db.CacheStats().Builds, "every algorithm shares the cached projection")
	assert.Contains(t, rec.Messages(), "algorithm completed")
}

func TestAlgorithmKeyNormalization(t *testing.T) {
	db, err := nornicpgq.OpenWithLogger(testConfig(), nil)
	require.NoError(t, err)
	defer db.Close()

	bigint := func(name string) storage.Column { return storage.Column{Name: name, Type: storage.TypeBigint} }
	require.NoError(t, db.Tables().CreateTable(storage.Table{Name: "node", Columns: []storage.Column{bigint("id")}}))
	require.NoError(t, db.Tables().CreateTable(storage.Table{Name: "link", Columns: []storage.Column{bigint("a"), bigint("b")}}))
	require.NoError(t, db.Tables().Insert("node", []storage.Row{{1}, {2}}))
	require.NoError(t, db.Tables().Insert("link", []storage.Row{{1, 2}}))
	require.NoError(t, db.Catalog().Create(context.Background(), &catalog.PropertyGraph{
		Name:     "g",
		Vertices: []catalog.VertexTable{{Table: "node", KeyColumn: "id"}},
		Edges: []catalog.EdgeTable{{Table: "link", SourceColumn: "a", SourceLabel: "node",
			DestinationColumn: "b", DestinationLabel: "node", Direction: catalog.Undirected}},
	}, false))

	res, err := db.Reachability(context.Background(), "g", nornicpgq.VertexID{Label: "node", Key: "2"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1 node 2 0", "0 node 1 1"}, render(res.Rows), "undirected edges are followed both ways")

	_, err = db.Reachability(context.Background(), "g", nornicpgq.VertexID{Label: "node", Key: "two"}, 1)
	assert.ErrorIs(t, err, nornicpgq.ErrVertexNotFound)
}

func TestClose(t *testing.T) {
	db, err := nornicpgq.OpenWithLogger(testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Execute(context.Background(), &nornicpgq.SelectStatement{Query: selectOf(knowsQuery)})
	assert.ErrorIs(t, err, nornicpgq.ErrClosed)
	_, err = db.PageRank(context.Background(), "social", algo.PageRankOptions{})
	assert.ErrorIs(t, err, nornicpgq.ErrClosed)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Algorithms.Damping = 2
	_, err := nornicpgq.Open(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestBadgerPersistence(t *testing.T) {
	cfg := config.LoadDefaults()
	cfg.Storage.DataDir = t.TempDir()

	db, err := nornicpgq.OpenWithLogger(cfg, nil)
	require.NoError(t, err)
	createTables(t, db.Tables())
	_, err = db.Execute(context.Background(), &nornicpgq.CreatePropertyGraph{Graph: socialGraph()})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = nornicpgq.OpenWithLogger(cfg, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, db.Catalog().Exists("social"))

	res, err := db.Execute(context.Background(), &nornicpgq.SelectStatement{Query: selectOf(knowsQuery)})
	require.NoError(t, err)
	assert.Equal(t, []string{"person(ann) person(bob)", "person(bob) person(carl)"}, render(res.Rows))
}
