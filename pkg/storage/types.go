// Package storage provides the relational table stores that property graphs are
// declared over.
//
// Two engines implement Engine:
//   - MemoryEngine: thread-safe maps, for tests and embedded use
//   - BadgerEngine: persistent tables on BadgerDB
//
// Tables are append-only row sets with a typed column list. Values are
// normalized on insert to string, int64, float64, bool, or nil (SQL NULL), so
// callers can compare keys from different tables without type switches.
//
// Every successful mutation is reported to the listeners registered with
// OnTableChanged after the engine lock is released. The graph layer uses this to
// invalidate cached projections.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by both engines.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidData   = errors.New("invalid data")
	ErrStorageClosed = errors.New("storage closed")
	ErrTypeMismatch  = errors.New("type mismatch")
)

// ColumnType is the declared type of a column.
type ColumnType string

const (
	TypeVarchar ColumnType = "VARCHAR"
	TypeBigint  ColumnType = "BIGINT"
	TypeDouble  ColumnType = "DOUBLE"
	TypeBoolean ColumnType = "BOOLEAN"
)

// ParseColumnType accepts the common SQL spellings of the supported types.
func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VARCHAR", "TEXT", "STRING":
		return TypeVarchar, nil
	case "BIGINT", "INTEGER", "INT", "INT64":
		return TypeBigint, nil
	case "DOUBLE", "FLOAT", "REAL", "FLOAT64":
		return TypeDouble, nil
	case "BOOLEAN", "BOOL":
		return TypeBoolean, nil
	}
	return "", fmt.Errorf("%w: unknown column type %q", ErrInvalidData, s)
}

// Column is one column of a table.
type Column struct {
	Name string     `yaml:"name"`
	Type ColumnType `yaml:"type"`
}

// Table is a table definition.
type Table struct {
	Name    string   `yaml:"name"`
	Columns []Column `yaml:"columns"`
}

// ColumnIndex returns the position of column name (case-insensitive), or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the table has column name.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks the table has a name and distinct, typed columns.
func (t *Table) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: table name is empty", ErrInvalidID)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: table %s has no columns", ErrInvalidData, t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		key := canonical(c.Name)
		if key == "" {
			return fmt.Errorf("%w: table %s has an unnamed column", ErrInvalidData, t.Name)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: table %s has duplicate column %s", ErrInvalidData, t.Name, c.Name)
		}
		seen[key] = struct{}{}
		if _, err := ParseColumnType(string(c.Type)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) clone() *Table {
	out := &Table{Name: t.Name, Columns: make([]Column, len(t.Columns))}
	copy(out.Columns, t.Columns)
	return out
}

// Row is one table row; nil elements are NULL.
type Row []any

// ChangeKind classifies a table change.
type ChangeKind int

const (
	TableCreated ChangeKind = iota
	TableDropped
	RowsInserted
	TableTruncated
)

func (k ChangeKind) String() string {
	switch k {
	case TableCreated:
		return "created"
	case TableDropped:
		return "dropped"
	case RowsInserted:
		return "inserted"
	case TableTruncated:
		return "truncated"
	}
	return "unknown"
}

// TableChange describes one successful mutation.
type TableChange struct {
	Table string
	Kind  ChangeKind
	Rows  int
}

// ScanFunc receives rows in insertion order. rowID is the row's position in the
// table. The row is a copy and may be retained.
type ScanFunc func(rowID int64, row Row) error

// Engine is a relational table store.
type Engine interface {
	CreateTable(t Table) error
	DropTable(name string) error
	GetTable(name string) (*Table, error)
	ListTables() ([]Table, error)
	Insert(table string, rows []Row) error
	Truncate(table string) error
	Scan(table string, fn ScanFunc) error
	RowCount(table string) (int64, error)
	OnTableChanged(fn func(TableChange))
	Close() error
}

// canonical is the lookup key of a table or column name.
func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// listeners fans TableChange events out to registered callbacks.
type listeners struct {
	fns []func(TableChange)
}

func (l *listeners) add(fn func(TableChange)) {
	if fn != nil {
		l.fns = append(l.fns, fn)
	}
}

func (l *listeners) snapshot() []func(TableChange) {
	return append([]func(TableChange)(nil), l.fns...)
}

func notify(fns []func(TableChange), change TableChange) {
	for _, fn := range fns {
		fn(change)
	}
}
