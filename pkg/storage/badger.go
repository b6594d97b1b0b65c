package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for data organization
const (
	prefixTable = byte(0x01) // table:name -> gob(tableMeta)
	prefixRow   = byte(0x02) // row:name:0x00:seq(8, big-endian) -> gob([]cell)
)

// insertBatchSize bounds the rows written per Badger transaction.
const insertBatchSize = 1000

// BadgerEngine provides persistent table storage using BadgerDB.
//
// Key Structure:
//   - Tables: 0x01 + lower(name) -> gob(tableMeta)
//   - Rows:   0x02 + lower(name) + 0x00 + seq -> gob([]cell)
//
// Row keys sort by sequence number, so a prefix scan returns rows in insertion
// order.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.CreateTable(storage.Table{
//		Name:    "person",
//		Columns: []storage.Column{{Name: "id", Type: storage.TypeVarchar}},
//	})
type BadgerEngine struct {
	db       *badger.DB
	mu       sync.RWMutex // serializes DDL and inserts; scans take the read side
	closed   bool
	inMemory bool

	listenerMu sync.RWMutex
	listeners  listeners
}

// tableMeta is the persisted table record.
type tableMeta struct {
	Table   Table
	NextSeq uint64
	Rows    int64
}

// cell is the persisted form of one value. Kind 0 is NULL.
type cell struct {
	Kind uint8
	S    string
	I    int64
	F    float64
	B    bool
}

const (
	kindNull uint8 = iota
	kindString
	kindInt
	kindFloat
	kindBool
)

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is silenced.
	Logger badger.Logger

	// LowMemory enables memory-constrained settings.
	// Reduces MemTableSize and other buffers to use less RAM.
	LowMemory bool
}

// NewBadgerEngine creates a persistent storage engine with default settings.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
//
// Data is not persisted and is lost when the engine is closed.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	if !opts.InMemory && opts.DataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", ErrInvalidData)
	}
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	// Use a quiet logger by default
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(8 << 20).      // 8MB memtable
			WithValueLogFileSize(32 << 20). // 32MB value log
			WithNumMemtables(1).
			WithNumLevelZeroTables(1).
			WithNumLevelZeroTablesStall(2).
			WithBlockCacheSize(8 << 20).
			WithIndexCacheSize(4 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerEngine{db: db, inMemory: opts.InMemory}, nil
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func tableKey(name string) []byte {
	return append([]byte{prefixTable}, []byte(canonical(name))...)
}

func rowPrefix(name string) []byte {
	key := append([]byte{prefixRow}, []byte(canonical(name))...)
	return append(key, 0x00)
}

func rowKey(name string, seq uint64) []byte {
	key := rowPrefix(name)
	return binary.BigEndian.AppendUint64(key, seq)
}

func encodeMeta(m *tableMeta) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode table: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeMeta(data []byte) (*tableMeta, error) {
	var m tableMeta
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}
	return &m, nil
}

func encodeRow(r Row) ([]byte, error) {
	cells := make([]cell, len(r))
	for i, v := range r {
		switch x := v.(type) {
		case nil:
		case string:
			cells[i] = cell{Kind: kindString, S: x}
		case int64:
			cells[i] = cell{Kind: kindInt, I: x}
		case float64:
			cells[i] = cell{Kind: kindFloat, F: x}
		case bool:
			cells[i] = cell{Kind: kindBool, B: x}
		default:
			return nil, fmt.Errorf("%w: cannot store %T", ErrInvalidData, v)
		}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cells); err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRow(data []byte) (Row, error) {
	var cells []cell
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cells); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	r := make(Row, len(cells))
	for i, c := range cells {
		switch c.Kind {
		case kindString:
			r[i] = c.S
		case kindInt:
			r[i] = c.I
		case kindFloat:
			r[i] = c.F
		case kindBool:
			r[i] = c.B
		}
	}
	return r, nil
}

// ============================================================================
// Engine
// ============================================================================

// OnTableChanged registers fn to be called after every successful mutation.
func (b *BadgerEngine) OnTableChanged(fn func(TableChange)) {
	b.listenerMu.Lock()
	b.listeners.add(fn)
	b.listenerMu.Unlock()
}

func (b *BadgerEngine) notify(change TableChange) {
	b.listenerMu.RLock()
	fns := b.listeners.snapshot()
	b.listenerMu.RUnlock()
	notify(fns, change)
}

func getMeta(txn *badger.Txn, name string) (*tableMeta, error) {
	item, err := txn.Get(tableKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("table %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var meta *tableMeta
	err = item.Value(func(val []byte) error {
		var derr error
		meta, derr = decodeMeta(val)
		return derr
	})
	return meta, err
}

func putMeta(txn *badger.Txn, meta *tableMeta) error {
	data, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	return txn.Set(tableKey(meta.Table.Name), data)
}

// CreateTable creates a new, empty table.
func (b *BadgerEngine) CreateTable(t Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStorageClosed
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := getMeta(txn, t.Name); err == nil {
			return fmt.Errorf("table %s: %w", t.Name, ErrAlreadyExists)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return putMeta(txn, &tableMeta{Table: *t.clone()})
	})
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.notify(TableChange{Table: t.Name, Kind: TableCreated})
	return nil
}

// DropTable removes a table and its rows.
func (b *BadgerEngine) DropTable(name string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStorageClosed
	}
	var meta *tableMeta
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = getMeta(txn, name)
		return err
	})
	if err == nil {
		err = b.deletePrefix(rowPrefix(name))
	}
	if err == nil {
		err = b.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(tableKey(name))
		})
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.notify(TableChange{Table: meta.Table.Name, Kind: TableDropped, Rows: int(meta.Rows)})
	return nil
}

// GetTable returns the table definition.
func (b *BadgerEngine) GetTable(name string) (*Table, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrStorageClosed
	}
	var meta *tableMeta
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = getMeta(txn, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta.Table.clone(), nil
}

// ListTables returns every table definition sorted by name.
func (b *BadgerEngine) ListTables() ([]Table, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrStorageClosed
	}
	var out []Table
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{prefixTable}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				meta, err := decodeMeta(val)
				if err != nil {
					return err
				}
				out = append(out, meta.Table)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return canonical(out[i].Name) < canonical(out[j].Name) })
	return out, nil
}

// Insert appends rows. Rows are validated up front; they are then written in
// batches, so a storage failure part way through can leave a prefix inserted.
func (b *BadgerEngine) Insert(table string, rows []Row) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStorageClosed
	}
	name, err := b.insertLocked(table, rows)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		b.notify(TableChange{Table: name, Kind: RowsInserted, Rows: len(rows)})
	}
	return nil
}

func (b *BadgerEngine) insertLocked(table string, rows []Row) (string, error) {
	var meta *tableMeta
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = getMeta(txn, table)
		return err
	})
	if err != nil {
		return "", err
	}

	encoded := make([][]byte, len(rows))
	for i, r := range rows {
		nr, err := normalizeRow(&meta.Table, r)
		if err != nil {
			return "", fmt.Errorf("row %d: %w", i, err)
		}
		if encoded[i], err = encodeRow(nr); err != nil {
			return "", err
		}
	}

	for start := 0; start < len(encoded); start += insertBatchSize {
		end := min(start+insertBatchSize, len(encoded))
		err := b.db.Update(func(txn *badger.Txn) error {
			next := meta.NextSeq
			for _, data := range encoded[start:end] {
				if err := txn.Set(rowKey(meta.Table.Name, next), data); err != nil {
					return err
				}
				next++
			}
			updated := *meta
			updated.NextSeq = next
			updated.Rows += int64(end - start)
			if err := putMeta(txn, &updated); err != nil {
				return err
			}
			*meta = updated
			return nil
		})
		if err != nil {
			return "", err
		}
	}
	return meta.Table.Name, nil
}

// Truncate removes every row of a table.
func (b *BadgerEngine) Truncate(table string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStorageClosed
	}
	var meta *tableMeta
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = getMeta(txn, table)
		return err
	})
	if err == nil {
		err = b.deletePrefix(rowPrefix(table))
	}
	n := int64(0)
	if err == nil {
		n = meta.Rows
		err = b.db.Update(func(txn *badger.Txn) error {
			meta.Rows = 0
			return putMeta(txn, meta)
		})
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.notify(TableChange{Table: meta.Table.Name, Kind: TableTruncated, Rows: int(n)})
	return nil
}

// deletePrefix removes every key under prefix in bounded transactions.
func (b *BadgerEngine) deletePrefix(prefix []byte) error {
	for {
		var keys [][]byte
		err := b.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix) && len(keys) < insertBatchSize; it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil || len(keys) == 0 {
			return err
		}
		err = b.db.Update(func(txn *badger.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
}

// Scan calls fn for every row in insertion order from one read transaction.
func (b *BadgerEngine) Scan(table string, fn ScanFunc) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return b.db.View(func(txn *badger.Txn) error {
		if _, err := getMeta(txn, table); err != nil {
			return err
		}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := rowPrefix(table)
		var rowID int64
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var row Row
			err := it.Item().Value(func(val []byte) error {
				var derr error
				row, derr = decodeRow(val)
				return derr
			})
			if err != nil {
				return err
			}
			if err := fn(rowID, row); err != nil {
				return err
			}
			rowID++
		}
		return nil
	})
}

// RowCount returns the number of rows in a table.
func (b *BadgerEngine) RowCount(table string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrStorageClosed
	}
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		meta, err := getMeta(txn, table)
		if err != nil {
			return err
		}
		n = meta.Rows
		return nil
	})
	return n, err
}

// IsInMemory reports whether the engine was opened without a data directory.
func (b *BadgerEngine) IsInMemory() bool {
	return b.inMemory
}

// DB exposes the underlying database so that other stores (the property-graph
// catalog) can share it under their own key prefixes.
func (b *BadgerEngine) DB() *badger.DB {
	return b.db
}

// Close closes the database.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

var _ Engine = (*BadgerEngine)(nil)
