package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicpgq/pkg/storage"
)

const socialYAML = `name: social
vertices:
  - table: person
    key: id
edges:
  - table: knows
    source: src
    source_label: person
    destination: dst
    destination_label: person
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCLIWorkflow(t *testing.T) {
	t.Setenv("NORNICPGQ_CONFIG", "")
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	run := func(args ...string) string {
		out, err := runCLI(t, append(args, "--data-dir", data, "--log-level", "error")...)
		require.NoError(t, err, "nornicpgq %v", args)
		return out
	}

	run("table", "create", "person", "id:varchar", "name:text")
	run("table", "create", "knows", "src:varchar", "dst:varchar")
	out := run("table", "import", "person", writeFile(t, dir, "person.csv", "id,name\nann,Ann\nbob,Bob\ncarl,\n"))
	assert.Contains(t, out, "Imported 3 rows into person")
	run("table", "import", "knows", writeFile(t, dir, "knows.csv", "src,dst\nann,bob\nbob,carl\n"))

	out = run("table", "list")
	assert.Contains(t, out, "person | id VARCHAR, name VARCHAR | 3")

	out = run("graph", "create", "-f", writeFile(t, dir, "social.yaml", socialYAML))
	assert.Contains(t, out, "Created property graph social")

	out = run("match", "GRAPH_TABLE (social MATCH (a:person)-[:knows]->(b:person) COLUMNS (a, b))", "--csv")
	assert.Equal(t, "a,b\nann,bob\nbob,carl\n", out)

	out = run("explain", "GRAPH_TABLE (social MATCH (a:person)-[:knows]->{1,2}(b:person))")
	assert.Contains(t, out, "kind=expansion")

	out = run("graph", "summarize", "social")
	assert.Contains(t, out, "edge | knows | 2")

	out = run("wcc", "social")
	assert.Contains(t, out, "(3 row(s))")

	out = run("reach", "social", "person", "ann", "--to", "person:carl")
	assert.Contains(t, out, "2 | person | carl | 2")

	out = run("reach", "social", "person", "ann", "--max-hops", "0")
	assert.Contains(t, out, "(1 row(s))")

	out = run("pagerank", "social")
	assert.Contains(t, out, "status: converged")

	run("graph", "drop", "social")
	_, err := runCLI(t, "graph", "describe", "social", "--data-dir", data)
	assert.Error(t, err)
}

func TestParseColumnSpec(t *testing.T) {
	col, err := parseColumnSpec("age:int")
	require.NoError(t, err)
	assert.Equal(t, storage.Column{Name: "age", Type: storage.TypeBigint}, col)

	for _, bad := range []string{"age", ":int", "age:blob"} {
		_, err := parseColumnSpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestImportCSVRejectsBadValue(t *testing.T) {
	tables := storage.NewMemoryEngine()
	tbl := storage.Table{Name: "n", Columns: []storage.Column{{Name: "id", Type: storage.TypeBigint}}}
	require.NoError(t, tables.CreateTable(tbl))

	n, err := importCSV(t.Context(), tables, &tbl, bytes.NewBufferString("1\n2\nthree\n"), false)
	assert.ErrorIs(t, err, storage.ErrTypeMismatch)
	assert.Equal(t, int64(0), n, "the failing batch is never inserted")
}
