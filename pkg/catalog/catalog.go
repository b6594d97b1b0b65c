package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicpgq/pkg/logging"
	"github.com/orneryd/nornicpgq/pkg/storage"
)

var tracer = otel.Tracer("nornicpgq.catalog")

// TableSource is the part of the host table store the catalog validates against.
type TableSource interface {
	GetTable(name string) (*storage.Table, error)
}

// Options configures a Catalog.
type Options struct {
	Logger logging.Logger
}

// Catalog manages property-graph definitions.
//
// Thread-safe: all operations are protected by mutex. Change listeners run
// after the mutex is released.
type Catalog struct {
	mu     sync.RWMutex
	graphs map[string]*PropertyGraph
	tables TableSource
	store  Store
	logger logging.Logger

	listenerMu sync.RWMutex
	listeners  []func(name string)
}

// New creates a catalog over tables, loading existing definitions from store.
// A nil store keeps definitions in memory.
func New(tables TableSource, store Store, opts Options) (*Catalog, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Catalog{
		graphs: make(map[string]*PropertyGraph),
		tables: tables,
		store:  store,
		logger: logging.OrNop(opts.Logger),
	}
	existing, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load property graphs: %w", err)
	}
	for _, pg := range existing {
		c.graphs[canonical(pg.Name)] = pg
	}
	return c, nil
}

// OnChange registers fn to be called with the graph name after every create,
// replace, or drop.
func (c *Catalog) OnChange(fn func(name string)) {
	if fn == nil {
		return
	}
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

func (c *Catalog) notify(name string) {
	c.listenerMu.RLock()
	fns := append([]func(string)(nil), c.listeners...)
	c.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(name)
	}
}

// Create registers pg. An existing graph of the same name is an error unless
// orReplace is set. The definition is normalized, validated, and checked
// against the host tables before anything is stored.
func (c *Catalog) Create(ctx context.Context, pg *PropertyGraph, orReplace bool) error {
	_, span := tracer.Start(ctx, "catalog.Create", trace.WithAttributes(
		attribute.String("graph", pg.Name),
		attribute.Bool("or_replace", orReplace),
	))
	defer span.End()

	err := c.create(pg, orReplace)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.Warn(c.logger, "property graph rejected", map[string]any{"graph": pg.Name, "error": err.Error()})
		return err
	}
	logging.Info(c.logger, "property graph created", map[string]any{
		"graph":        pg.Name,
		"vertex_count": len(pg.Vertices),
		"edge_count":   len(pg.Edges),
		"replaced":     orReplace,
	})
	c.notify(pg.Name)
	return nil
}

func (c *Catalog) create(in *PropertyGraph, orReplace bool) error {
	pg := in.Clone()
	pg.Normalize()
	if err := pg.Validate(); err != nil {
		return err
	}
	if err := c.checkTables(pg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := canonical(pg.Name)
	if _, exists := c.graphs[key]; exists && !orReplace {
		return fmt.Errorf("%s: %w", pg.Name, ErrGraphExists)
	}
	if err := c.store.Put(pg); err != nil {
		return fmt.Errorf("failed to persist property graph: %w", err)
	}
	c.graphs[key] = pg
	return nil
}

// checkTables verifies every referenced table and column exists and that edge
// endpoint columns have the type of the vertex key they reference.
func (c *Catalog) checkTables(pg *PropertyGraph) error {
	if c.tables == nil {
		return nil
	}
	keyTypes := make(map[string]storage.ColumnType, len(pg.Vertices))
	for _, v := range pg.Vertices {
		col, err := c.column(v.Table, v.KeyColumn)
		if err != nil {
			return err
		}
		keyTypes[canonical(v.Label)] = col.Type
	}
	for _, e := range pg.Edges {
		src, err := c.column(e.Table, e.SourceColumn)
		if err != nil {
			return err
		}
		dst, err := c.column(e.Table, e.DestinationColumn)
		if err != nil {
			return err
		}
		if want := keyTypes[canonical(e.SourceLabel)]; src.Type != want {
			return fmt.Errorf("%w: %s.%s is %s but %s keys are %s",
				ErrInvalidGraph, e.Table, e.SourceColumn, src.Type, e.SourceLabel, want)
		}
		if want := keyTypes[canonical(e.DestinationLabel)]; dst.Type != want {
			return fmt.Errorf("%w: %s.%s is %s but %s keys are %s",
				ErrInvalidGraph, e.Table, e.DestinationColumn, dst.Type, e.DestinationLabel, want)
		}
	}
	return nil
}

func (c *Catalog) column(table, column string) (storage.Column, error) {
	t, err := c.tables.GetTable(table)
	if err != nil {
		return storage.Column{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	idx := t.ColumnIndex(column)
	if idx < 0 {
		return storage.Column{}, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, column)
	}
	return t.Columns[idx], nil
}

// Drop removes a graph. A missing graph is an error unless ifExists is set.
func (c *Catalog) Drop(name string, ifExists bool) error {
	c.mu.Lock()
	key := canonical(name)
	pg, exists := c.graphs[key]
	if !exists {
		c.mu.Unlock()
		if ifExists {
			return nil
		}
		return fmt.Errorf("%s: %w", name, ErrGraphNotFound)
	}
	if err := c.store.Delete(pg.Name); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to delete property graph: %w", err)
	}
	delete(c.graphs, key)
	c.mu.Unlock()

	logging.Info(c.logger, "property graph dropped", map[string]any{"graph": pg.Name})
	c.notify(pg.Name)
	return nil
}

// Get returns a copy of the named graph.
func (c *Catalog) Get(name string) (*PropertyGraph, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pg, ok := c.graphs[canonical(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrGraphNotFound)
	}
	return pg.Clone(), nil
}

// Exists reports whether a graph named name is registered.
func (c *Catalog) Exists(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.graphs[canonical(name)]
	return ok
}

// List returns copies of every graph sorted by name.
func (c *Catalog) List() []*PropertyGraph {
	c.mu.RLock()
	out := make([]*PropertyGraph, 0, len(c.graphs))
	for _, pg := range c.graphs {
		out = append(out, pg.Clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return canonical(out[i].Name) < canonical(out[j].Name) })
	return out
}

// GraphsUsingTable returns the names of graphs that read table, sorted.
func (c *Catalog) GraphsUsingTable(table string) []string {
	c.mu.RLock()
	var names []string
	for _, pg := range c.graphs {
		if pg.UsesTable(table) {
			names = append(names, pg.Name)
		}
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}
