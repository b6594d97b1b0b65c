package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Store persists property-graph definitions.
type Store interface {
	Load() ([]*PropertyGraph, error)
	Put(pg *PropertyGraph) error
	Delete(name string) error
}

// MemoryStore keeps definitions in a map. Definitions are lost on exit.
type MemoryStore struct {
	mu     sync.Mutex
	graphs map[string]*PropertyGraph
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{graphs: make(map[string]*PropertyGraph)}
}

func (s *MemoryStore) Load() ([]*PropertyGraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PropertyGraph, 0, len(s.graphs))
	for _, pg := range s.graphs {
		out = append(out, pg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return canonical(out[i].Name) < canonical(out[j].Name) })
	return out, nil
}

func (s *MemoryStore) Put(pg *PropertyGraph) error {
	s.mu.Lock()
	s.graphs[canonical(pg.Name)] = pg.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(name string) error {
	s.mu.Lock()
	delete(s.graphs, canonical(name))
	s.mu.Unlock()
	return nil
}

// prefixGraph keys definitions inside a Badger database shared with the table
// engine. Table data uses prefixes 0x01 and 0x02.
const prefixGraph = byte(0x10)

// BadgerStore persists definitions as YAML documents under their own key
// prefix of a Badger database. The database is owned by the caller.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps db.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func graphKey(name string) []byte {
	return append([]byte{prefixGraph}, []byte(canonical(name))...)
}

func (s *BadgerStore) Load() ([]*PropertyGraph, error) {
	var out []*PropertyGraph
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{prefixGraph}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				pg, err := ParseYAML(val)
				if err != nil {
					return fmt.Errorf("stored graph %q: %w", it.Item().Key()[1:], err)
				}
				out = append(out, pg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Put(pg *PropertyGraph) error {
	data, err := pg.Encode()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(graphKey(pg.Name), data)
	})
}

func (s *BadgerStore) Delete(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(graphKey(name))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BadgerStore)(nil)
)
