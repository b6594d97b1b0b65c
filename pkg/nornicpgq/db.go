// Package nornicpgq is the embedded entry point: host tables, property graph
// definitions, the graph cache, pattern matching, and graph algorithms behind
// one DB handle.
//
// A DB owns a storage engine and a catalog. Graph projections are materialized
// on first use and kept in the graph cache until a host table they read or
// their definition changes.
//
// Example:
//
//	cfg := config.LoadDefaults()
//	cfg.Storage.InMemory = true
//	db, err := nornicpgq.Open(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	res, err := db.Execute(ctx, &nornicpgq.SelectStatement{Query: &pattern.Select{
//		From: &pattern.GraphTable{Text: "GRAPH_TABLE (social MATCH (a)-[e:knows]->(b))"},
//	}})
package nornicpgq

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/orneryd/nornicpgq/pkg/cache"
	"github.com/orneryd/nornicpgq/pkg/catalog"
	"github.com/orneryd/nornicpgq/pkg/config"
	"github.com/orneryd/nornicpgq/pkg/graph"
	"github.com/orneryd/nornicpgq/pkg/logging"
	"github.com/orneryd/nornicpgq/pkg/pattern"
	"github.com/orneryd/nornicpgq/pkg/storage"
)

var tracer = otel.Tracer("nornicpgq")

// DB is an open NornicPGQ database. It is safe for concurrent use.
type DB struct {
	cfg     *config.Config
	log     logging.Logger
	tables  storage.Engine
	catalog *catalog.Catalog
	// graphs is nil when the cache is disabled.
	graphs      *cache.GraphCache[*graph.Snapshot]
	patternOpts pattern.Options
	graphOpts   graph.Options

	mu        sync.RWMutex
	closed    bool
	listeners []GraphEventListener
}

// Open opens a database with a logrus logger configured from cfg.Logging.
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.LoadDefaults()
	}
	return OpenWithLogger(cfg, logging.New("nornicpgq", cfg.Logging))
}

// OpenWithLogger opens a database that logs to log.
func OpenWithLogger(cfg *config.Config, log logging.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.LoadDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	popts, err := cfg.PatternOptions()
	if err != nil {
		return nil, err
	}

	db := &DB{
		cfg:         cfg,
		log:         logging.OrNop(log),
		patternOpts: popts,
		graphOpts:   graph.Options{CSR: cfg.CSROptions(), Logger: log},
	}

	var store catalog.Store
	if cfg.Storage.InMemory {
		db.tables = storage.NewMemoryEngine()
		store = catalog.NewMemoryStore()
	} else {
		be, err := storage.NewBadgerEngineWithOptions(cfg.StorageOptions())
		if err != nil {
			return nil, err
		}
		db.tables = be
		store = catalog.NewBadgerStore(be.DB())
	}

	db.catalog, err = catalog.New(db.tables, store, catalog.Options{Logger: log})
	if err != nil {
		db.tables.Close()
		return nil, err
	}
	db.patternOpts.Graphs = db.catalog

	if cfg.Cache.Enabled {
		db.graphs, err = cache.New[*graph.Snapshot](cfg.CacheOptions(log))
		if err != nil {
			db.tables.Close()
			return nil, err
		}
	}

	db.tables.OnTableChanged(db.onTableChanged)
	db.catalog.OnChange(func(name string) { db.invalidate(name, ReasonGraphChanged) })

	logging.Info(db.log, "database opened", map[string]any{
		"config": cfg.String(),
		"graphs": len(db.catalog.List()),
	})
	return db, nil
}

// Close releases the storage engine. Calling Close twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	if db.graphs != nil {
		db.graphs.InvalidateAll()
	}
	err := db.tables.Close()
	logging.Info(db.log, "database closed", nil)
	return err
}

// Tables returns the host table engine.
func (db *DB) Tables() storage.Engine { return db.tables }

// Catalog returns the property graph catalog.
func (db *DB) Catalog() *catalog.Catalog { return db.catalog }

// Config returns the configuration the database was opened with.
func (db *DB) Config() *config.Config { return db.cfg }

// CacheStats returns graph cache counters. The zero value when the cache is disabled.
func (db *DB) CacheStats() cache.Stats {
	if db.graphs == nil {
		return cache.Stats{}
	}
	return db.graphs.Stats()
}

// AddListener registers l for graph events.
func (db *DB) AddListener(l GraphEventListener) {
	if l == nil {
		return
	}
	db.mu.Lock()
	db.listeners = append(db.listeners, l)
	db.mu.Unlock()
}

func (db *DB) snapshotListeners() []GraphEventListener {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]GraphEventListener(nil), db.listeners...)
}

func (db *DB) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}

// InvalidateGraph drops every cached projection of name. An external DDL
// layer calls this when it changes tables behind the engine's back.
func (db *DB) InvalidateGraph(name string) int {
	return db.invalidate(name, ReasonExplicit)
}

func (db *DB) invalidate(name string, reason InvalidationReason) int {
	n := 0
	if db.graphs != nil {
		n = db.graphs.Invalidate(graphID(name))
	}
	for _, l := range db.snapshotListeners() {
		l.GraphInvalidated(name, reason)
	}
	return n
}

func (db *DB) onTableChanged(ch storage.TableChange) {
	for _, name := range db.catalog.GraphsUsingTable(ch.Table) {
		logging.Debug(db.log, "table change invalidates graph", map[string]any{
			"table": ch.Table, "change": ch.Kind.String(), "graph": name,
		})
		db.invalidate(name, ReasonTableChanged)
	}
}

func graphID(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Snapshot returns the projection proj of graph name, from the cache when
// possible. Concurrent callers for the same projection share one build. The
// definition is read inside the build so a concurrent redefinition either
// supersedes the build or is the one it sees.
func (db *DB) Snapshot(ctx context.Context, name string, proj graph.Projection) (*graph.Snapshot, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	build := func(ctx context.Context) (*graph.Snapshot, error) {
		pg, err := db.catalog.Get(name)
		if err != nil {
			return nil, err
		}
		snap, err := graph.Materialize(ctx, pg, db.tables, proj, db.graphOpts)
		if err != nil {
			return nil, err
		}
		for _, l := range db.snapshotListeners() {
			l.SnapshotBuilt(pg.Name, proj.String(), snap.VertexCount(), snap.Out.EdgeCount())
		}
		return snap, nil
	}
	if db.graphs == nil {
		return build(ctx)
	}
	return db.graphs.GetOrBuild(ctx, cache.Key{GraphID: graphID(name), Projection: proj.String()}, build)
}

// lookupVertex resolves (label, key) in snap. The key is normalized to the
// label's key column type first, so "7" finds a BIGINT key 7.
func (db *DB) lookupVertex(snap *graph.Snapshot, pg *catalog.PropertyGraph, label string, key any) (int64, error) {
	vt := pg.VertexTable(label)
	if vt == nil {
		return -1, fmt.Errorf("%w: vertex label %s in graph %s", catalog.ErrLabelNotFound, label, pg.Name)
	}
	t, err := db.tables.GetTable(vt.Table)
	if err != nil {
		return -1, err
	}
	if idx := t.ColumnIndex(vt.KeyColumn); idx >= 0 {
		nk, err := storage.NormalizeValue(t.Columns[idx].Type, key)
		if err != nil {
			return -1, fmt.Errorf("%w: %s(%v): %v", ErrVertexNotFound, label, key, err)
		}
		key = nk
	}
	id, ok := snap.Vertices.Lookup(label, key)
	if !ok {
		return -1, fmt.Errorf("%w: %s(%v)", ErrVertexNotFound, label, key)
	}
	return id, nil
}
