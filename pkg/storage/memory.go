package storage

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryEngine is an in-memory implementation of Engine.
// It's useful for:
// - Unit testing (no disk I/O)
// - Embedded use where tables are loaded from CSV at startup
// - Small datasets that fit in RAM
type MemoryEngine struct {
	mu     sync.RWMutex
	tables map[string]*memTable

	listenerMu sync.RWMutex
	listeners  listeners

	closed bool
}

type memTable struct {
	def  *Table
	rows []Row
}

// NewMemoryEngine creates a new in-memory storage engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{tables: make(map[string]*memTable)}
}

// OnTableChanged registers fn to be called after every successful mutation.
func (m *MemoryEngine) OnTableChanged(fn func(TableChange)) {
	m.listenerMu.Lock()
	m.listeners.add(fn)
	m.listenerMu.Unlock()
}

func (m *MemoryEngine) notify(change TableChange) {
	m.listenerMu.RLock()
	fns := m.listeners.snapshot()
	m.listenerMu.RUnlock()
	notify(fns, change)
}

// CreateTable creates a new, empty table.
func (m *MemoryEngine) CreateTable(t Table) error {
	if err := t.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStorageClosed
	}
	key := canonical(t.Name)
	if _, exists := m.tables[key]; exists {
		m.mu.Unlock()
		return fmt.Errorf("table %s: %w", t.Name, ErrAlreadyExists)
	}
	// Deep copy to prevent external mutation
	m.tables[key] = &memTable{def: t.clone()}
	m.mu.Unlock()

	m.notify(TableChange{Table: t.Name, Kind: TableCreated})
	return nil
}

// DropTable removes a table and its rows.
func (m *MemoryEngine) DropTable(name string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStorageClosed
	}
	key := canonical(name)
	mt, exists := m.tables[key]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("table %s: %w", name, ErrNotFound)
	}
	delete(m.tables, key)
	m.mu.Unlock()

	m.notify(TableChange{Table: mt.def.Name, Kind: TableDropped, Rows: len(mt.rows)})
	return nil
}

// GetTable returns a copy of the table definition.
func (m *MemoryEngine) GetTable(name string) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	mt, ok := m.tables[canonical(name)]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", name, ErrNotFound)
	}
	return mt.def.clone(), nil
}

// ListTables returns every table definition sorted by name.
func (m *MemoryEngine) ListTables() ([]Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	out := make([]Table, 0, len(m.tables))
	for _, mt := range m.tables {
		out = append(out, *mt.def.clone())
	}
	sort.Slice(out, func(i, j int) bool { return canonical(out[i].Name) < canonical(out[j].Name) })
	return out, nil
}

// Insert appends rows. Either every row is valid and appended or none is.
func (m *MemoryEngine) Insert(table string, rows []Row) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStorageClosed
	}
	mt, ok := m.tables[canonical(table)]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("table %s: %w", table, ErrNotFound)
	}
	normalized := make([]Row, len(rows))
	for i, r := range rows {
		nr, err := normalizeRow(mt.def, r)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("row %d: %w", i, err)
		}
		normalized[i] = nr
	}
	mt.rows = append(mt.rows, normalized...)
	name := mt.def.Name
	m.mu.Unlock()

	if len(rows) > 0 {
		m.notify(TableChange{Table: name, Kind: RowsInserted, Rows: len(rows)})
	}
	return nil
}

// Truncate removes every row of a table.
func (m *MemoryEngine) Truncate(table string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStorageClosed
	}
	mt, ok := m.tables[canonical(table)]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("table %s: %w", table, ErrNotFound)
	}
	n := len(mt.rows)
	mt.rows = nil
	name := mt.def.Name
	m.mu.Unlock()

	m.notify(TableChange{Table: name, Kind: TableTruncated, Rows: n})
	return nil
}

// Scan calls fn for every row in insertion order. The read lock is held for the
// whole scan; fn must not call back into the engine's mutating methods.
func (m *MemoryEngine) Scan(table string, fn ScanFunc) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStorageClosed
	}
	mt, ok := m.tables[canonical(table)]
	if !ok {
		return fmt.Errorf("table %s: %w", table, ErrNotFound)
	}
	for i, r := range mt.rows {
		if err := fn(int64(i), append(Row(nil), r...)); err != nil {
			return err
		}
	}
	return nil
}

// RowCount returns the number of rows in a table.
func (m *MemoryEngine) RowCount(table string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	mt, ok := m.tables[canonical(table)]
	if !ok {
		return 0, fmt.Errorf("table %s: %w", table, ErrNotFound)
	}
	return int64(len(mt.rows)), nil
}

// Close marks the engine closed. Further calls return ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.tables = nil
	return nil
}

var _ Engine = (*MemoryEngine)(nil)
