package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineFactories lets every behavioural test run against both engines.
func engineFactories(t *testing.T) map[string]func() Engine {
	t.Helper()
	return map[string]func() Engine{
		"memory": func() Engine { return NewMemoryEngine() },
		"badger": func() Engine {
			e, err := NewBadgerEngineInMemory()
			require.NoError(t, err)
			return e
		},
	}
}

func personTable() Table {
	return Table{
		Name: "Person",
		Columns: []Column{
			{Name: "id", Type: TypeVarchar},
			{Name: "age", Type: TypeBigint},
			{Name: "score", Type: TypeDouble},
			{Name: "active", Type: TypeBoolean},
		},
	}
}

func collect(t *testing.T, e Engine, table string) []Row {
	t.Helper()
	var rows []Row
	require.NoError(t, e.Scan(table, func(rowID int64, row Row) error {
		assert.Equal(t, int64(len(rows)), rowID)
		rows = append(rows, row)
		return nil
	}))
	return rows
}

func TestEngineTableLifecycle(t *testing.T) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			e := factory()
			defer e.Close()

			require.NoError(t, e.CreateTable(personTable()))
			err := e.CreateTable(Table{Name: "person", Columns: []Column{{Name: "x", Type: TypeVarchar}}})
			assert.ErrorIs(t, err, ErrAlreadyExists, "names are case-insensitive")

			got, err := e.GetTable("PERSON")
			require.NoError(t, err)
			assert.Equal(t, "Person", got.Name)
			assert.Equal(t, 1, got.ColumnIndex("AGE"))

			require.NoError(t, e.CreateTable(Table{Name: "knows", Columns: []Column{{Name: "src", Type: TypeVarchar}}}))
			tables, err := e.ListTables()
			require.NoError(t, err)
			require.Len(t, tables, 2)
			assert.Equal(t, "knows", tables[0].Name)
			assert.Equal(t, "Person", tables[1].Name)

			require.NoError(t, e.DropTable("person"))
			_, err = e.GetTable("person")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, e.DropTable("person"), ErrNotFound)
		})
	}
}

func TestEngineInsertScanNormalizes(t *testing.T) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			e := factory()
			defer e.Close()
			require.NoError(t, e.CreateTable(personTable()))

			require.NoError(t, e.Insert("person", []Row{
				{"alice", 30, 1.5, true},
				{"bob", "41", "2", "false"},
				{nil, nil, nil, nil},
			}))

			rows := collect(t, e, "person")
			require.Len(t, rows, 3)
			assert.Equal(t, Row{"alice", int64(30), 1.5, true}, rows[0])
			assert.Equal(t, Row{"bob", int64(41), 2.0, false}, rows[1])
			assert.Equal(t, Row{nil, nil, nil, nil}, rows[2])

			n, err := e.RowCount("person")
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)
		})
	}
}

func TestEngineInsertRejectsBadRows(t *testing.T) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			e := factory()
			defer e.Close()
			require.NoError(t, e.CreateTable(personTable()))

			err := e.Insert("person", []Row{{"alice", 1, 1.0, true}, {"bob", "not a number", 1.0, true}})
			assert.ErrorIs(t, err, ErrTypeMismatch)
			err = e.Insert("person", []Row{{"carol"}})
			assert.ErrorIs(t, err, ErrInvalidData)
			assert.ErrorIs(t, e.Insert("missing", []Row{{1}}), ErrNotFound)

			n, err := e.RowCount("person")
			require.NoError(t, err)
			assert.Zero(t, n, "nothing inserted from a rejected batch")
		})
	}
}

func TestEngineLargeInsertKeepsOrder(t *testing.T) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			e := factory()
			defer e.Close()
			require.NoError(t, e.CreateTable(Table{Name: "n", Columns: []Column{{Name: "v", Type: TypeBigint}}}))

			rows := make([]Row, 2500)
			for i := range rows {
				rows[i] = Row{i}
			}
			require.NoError(t, e.Insert("n", rows[:1200]))
			require.NoError(t, e.Insert("n", rows[1200:]))

			got := collect(t, e, "n")
			require.Len(t, got, 2500)
			for i, r := range got {
				require.Equal(t, int64(i), r[0])
			}
		})
	}
}

func TestEngineTruncate(t *testing.T) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			e := factory()
			defer e.Close()
			require.NoError(t, e.CreateTable(personTable()))
			require.NoError(t, e.Insert("person", []Row{{"a", 1, 1.0, true}}))

			require.NoError(t, e.Truncate("person"))
			assert.Empty(t, collect(t, e, "person"))

			require.NoError(t, e.Insert("person", []Row{{"b", 2, 2.0, false}}))
			rows := collect(t, e, "person")
			require.Len(t, rows, 1)
			assert.Equal(t, "b", rows[0][0])
		})
	}
}

func TestEngineDropDoesNotTouchPrefixNamedTables(t *testing.T) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			e := factory()
			defer e.Close()
			cols := []Column{{Name: "v", Type: TypeBigint}}
			require.NoError(t, e.CreateTable(Table{Name: "person", Columns: cols}))
			require.NoError(t, e.CreateTable(Table{Name: "person_knows", Columns: cols}))
			require.NoError(t, e.Insert("person_knows", []Row{{1}}))

			require.NoError(t, e.DropTable("person"))

			_, err := e.GetTable("person_knows")
			require.NoError(t, err)
			assert.Len(t, collect(t, e, "person_knows"), 1)
		})
	}
}

func TestEngineChangeNotifications(t *testing.T) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			e := factory()
			defer e.Close()
			var changes []TableChange
			e.OnTableChanged(func(c TableChange) { changes = append(changes, c) })

			require.NoError(t, e.CreateTable(personTable()))
			require.NoError(t, e.Insert("person", []Row{{"a", 1, 1.0, true}, {"b", 2, 2.0, true}}))
			require.NoError(t, e.Insert("person", nil))
			require.NoError(t, e.Truncate("person"))
			require.NoError(t, e.DropTable("person"))
			_ = e.Insert("person", []Row{{"x", 1, 1.0, true}})

			assert.Equal(t, []TableChange{
				{Table: "Person", Kind: TableCreated},
				{Table: "Person", Kind: RowsInserted, Rows: 2},
				{Table: "Person", Kind: TableTruncated, Rows: 2},
				{Table: "Person", Kind: TableDropped},
			}, changes)
		})
	}
}

func TestEngineScanStopsOnError(t *testing.T) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			e := factory()
			defer e.Close()
			require.NoError(t, e.CreateTable(Table{Name: "n", Columns: []Column{{Name: "v", Type: TypeBigint}}}))
			require.NoError(t, e.Insert("n", []Row{{1}, {2}, {3}}))

			stop := errors.New("stop")
			seen := 0
			err := e.Scan("n", func(int64, Row) error {
				seen++
				if seen == 2 {
					return stop
				}
				return nil
			})
			assert.ErrorIs(t, err, stop)
			assert.Equal(t, 2, seen)
		})
	}
}

func TestEngineClosed(t *testing.T) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			e := factory()
			require.NoError(t, e.Close())
			assert.ErrorIs(t, e.CreateTable(personTable()), ErrStorageClosed)
			_, err := e.ListTables()
			assert.ErrorIs(t, err, ErrStorageClosed)
		})
	}
}

func TestTableValidate(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		err   error
	}{
		{"empty_name", Table{Columns: []Column{{Name: "a", Type: TypeVarchar}}}, ErrInvalidID},
		{"no_columns", Table{Name: "t"}, ErrInvalidData},
		{"duplicate", Table{Name: "t", Columns: []Column{{Name: "a", Type: TypeVarchar}, {Name: "A", Type: TypeBigint}}}, ErrInvalidData},
		{"bad_type", Table{Name: "t", Columns: []Column{{Name: "a", Type: "BLOB"}}}, ErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.table.Validate(), tt.err)
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		typ  ColumnType
		in   any
		want any
		ok   bool
	}{
		{TypeBigint, 7, int64(7), true},
		{TypeBigint, 7.0, int64(7), true},
		{TypeBigint, 7.5, nil, false},
		{TypeBigint, " 12 ", int64(12), true},
		{TypeDouble, 3, 3.0, true},
		{TypeDouble, "x", nil, false},
		{TypeBoolean, "true", true, true},
		{TypeBoolean, 1, nil, false},
		{TypeVarchar, 12, "12", true},
		{TypeVarchar, nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.typ, tt.in), func(t *testing.T) {
			got, err := NormalizeValue(tt.typ, tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrTypeMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTextAndFormat(t *testing.T) {
	v, err := ParseText(TypeBigint, "")
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = ParseText(TypeVarchar, "NULL")
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = ParseText(TypeDouble, "0.5")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	assert.Equal(t, "NULL", FormatValue(nil))
	assert.Equal(t, "42", FormatValue(int64(42)))
	assert.Equal(t, "0.25", FormatValue(0.25))
	assert.Equal(t, "true", FormatValue(true))

	ct, err := ParseColumnType("integer")
	require.NoError(t, err)
	assert.Equal(t, TypeBigint, ct)
}
