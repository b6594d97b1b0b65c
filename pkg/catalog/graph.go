// Package catalog holds property-graph definitions declared over host tables.
//
// A PropertyGraph names which tables hold vertices (with the column that keys
// each vertex) and which tables hold edges (with the columns that reference a
// source and a destination vertex). Definitions are validated against the host
// tables when they are created and are persisted through a Store.
//
// Example definition file:
//
//	name: social
//	vertices:
//	  - table: person
//	    key: id
//	edges:
//	  - table: knows
//	    source: src
//	    source_label: person
//	    destination: dst
//	    destination_label: person
package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var graphValidate = validator.New()

// EdgeDirection says whether an edge table's rows are traversable one way or both.
type EdgeDirection string

const (
	Directed   EdgeDirection = "directed"
	Undirected EdgeDirection = "undirected"
)

// VertexTable declares a table whose rows are vertices.
type VertexTable struct {
	Table     string `yaml:"table" validate:"required"`
	KeyColumn string `yaml:"key" validate:"required"`
	// Label defaults to the table name.
	Label string `yaml:"label,omitempty"`
}

// EdgeTable declares a table whose rows are edges. SourceColumn and
// DestinationColumn hold key values of the SourceLabel and DestinationLabel
// vertex tables.
type EdgeTable struct {
	Table             string        `yaml:"table" validate:"required"`
	SourceColumn      string        `yaml:"source" validate:"required"`
	SourceLabel       string        `yaml:"source_label" validate:"required"`
	DestinationColumn string        `yaml:"destination" validate:"required"`
	DestinationLabel  string        `yaml:"destination_label" validate:"required"`
	Label             string        `yaml:"label,omitempty"`
	Direction         EdgeDirection `yaml:"direction,omitempty" validate:"omitempty,oneof=directed undirected"`
}

// IsUndirected reports whether rows contribute edges in both directions.
func (e *EdgeTable) IsUndirected() bool { return e.Direction == Undirected }

// PropertyGraph is a named graph over host tables.
type PropertyGraph struct {
	Name     string        `yaml:"name" validate:"required"`
	Vertices []VertexTable `yaml:"vertices" validate:"required,min=1,dive"`
	Edges    []EdgeTable   `yaml:"edges,omitempty" validate:"dive"`
}

// Normalize fills defaulted fields in place: labels default to the table name
// and edges default to directed.
func (pg *PropertyGraph) Normalize() {
	pg.Name = strings.TrimSpace(pg.Name)
	for i := range pg.Vertices {
		if pg.Vertices[i].Label == "" {
			pg.Vertices[i].Label = pg.Vertices[i].Table
		}
	}
	for i := range pg.Edges {
		if pg.Edges[i].Label == "" {
			pg.Edges[i].Label = pg.Edges[i].Table
		}
		if pg.Edges[i].Direction == "" {
			pg.Edges[i].Direction = Directed
		}
	}
}

// Validate checks the definition on its own, without looking at host tables:
// required fields, unique labels, and edge endpoints naming declared vertex
// labels. Call Normalize first.
func (pg *PropertyGraph) Validate() error {
	if err := graphValidate.Struct(pg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	labels := make(map[string]struct{}, len(pg.Vertices)+len(pg.Edges))
	for _, v := range pg.Vertices {
		key := canonical(v.Label)
		if _, dup := labels[key]; dup {
			return fmt.Errorf("%w: duplicate label %s", ErrInvalidGraph, v.Label)
		}
		labels[key] = struct{}{}
	}
	for _, e := range pg.Edges {
		key := canonical(e.Label)
		if _, dup := labels[key]; dup {
			return fmt.Errorf("%w: duplicate label %s", ErrInvalidGraph, e.Label)
		}
		labels[key] = struct{}{}
		if pg.VertexTable(e.SourceLabel) == nil {
			return fmt.Errorf("%w: edge %s source %s", ErrLabelNotFound, e.Label, e.SourceLabel)
		}
		if pg.VertexTable(e.DestinationLabel) == nil {
			return fmt.Errorf("%w: edge %s destination %s", ErrLabelNotFound, e.Label, e.DestinationLabel)
		}
	}
	return nil
}

// VertexTable returns the vertex table with label (case-insensitive), or nil.
func (pg *PropertyGraph) VertexTable(label string) *VertexTable {
	for i := range pg.Vertices {
		if strings.EqualFold(pg.Vertices[i].Label, label) {
			return &pg.Vertices[i]
		}
	}
	return nil
}

// EdgeTable returns the edge table with label (case-insensitive), or nil.
func (pg *PropertyGraph) EdgeTable(label string) *EdgeTable {
	for i := range pg.Edges {
		if strings.EqualFold(pg.Edges[i].Label, label) {
			return &pg.Edges[i]
		}
	}
	return nil
}

// VertexIndex returns the definition-order position of label, or -1.
func (pg *PropertyGraph) VertexIndex(label string) int {
	for i := range pg.Vertices {
		if strings.EqualFold(pg.Vertices[i].Label, label) {
			return i
		}
	}
	return -1
}

// Tables returns the distinct host tables the graph reads, sorted.
func (pg *PropertyGraph) Tables() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		key := canonical(name)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	for _, v := range pg.Vertices {
		add(v.Table)
	}
	for _, e := range pg.Edges {
		add(e.Table)
	}
	sort.Strings(out)
	return out
}

// UsesTable reports whether table backs any vertex or edge table of the graph.
func (pg *PropertyGraph) UsesTable(table string) bool {
	key := canonical(table)
	for _, t := range pg.Tables() {
		if t == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (pg *PropertyGraph) Clone() *PropertyGraph {
	out := &PropertyGraph{Name: pg.Name}
	out.Vertices = append([]VertexTable(nil), pg.Vertices...)
	out.Edges = append([]EdgeTable(nil), pg.Edges...)
	return out
}

// ParseYAML decodes and normalizes one definition. Unknown fields are errors.
func ParseYAML(data []byte) (*PropertyGraph, error) {
	return LoadYAML(bytes.NewReader(data))
}

// LoadYAML decodes one definition from r.
func LoadYAML(r io.Reader) (*PropertyGraph, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var pg PropertyGraph
	if err := dec.Decode(&pg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	pg.Normalize()
	if err := pg.Validate(); err != nil {
		return nil, err
	}
	return &pg, nil
}

// LoadFile reads a definition file.
func LoadFile(path string) (*PropertyGraph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadYAML(f)
}

// Encode renders the definition in the file format LoadYAML reads.
func (pg *PropertyGraph) Encode() ([]byte, error) {
	return yaml.Marshal(pg)
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
