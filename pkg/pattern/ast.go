// Package pattern compiles and executes SQL/PGQ path patterns.
//
// A MATCH clause such as
//
//	GRAPH_TABLE (social MATCH (a:person)-[e:knows]->{1,2}(b:person) COLUMNS (a, e, b))
//
// is parsed into a MatchQuery, located inside a host statement by walking its
// table references, and compiled into one TraversalPlan per path. Plans whose
// edges all take exactly one hop are fixed chains: they can be handed to the
// host as a JoinPlan or executed here as adjacency lookups. Any quantified edge
// makes the plan an expansion, which only this package can execute.
package pattern

import (
	"fmt"
	"strings"
)

// Direction is the traversal direction of an edge pattern.
type Direction int

const (
	// Outgoing is written -> and follows edges from source to destination.
	Outgoing Direction = iota
	// Incoming is written <- and follows edges backwards.
	Incoming
	// Any is written - and follows edges both ways.
	Any
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "->"
	case Incoming:
		return "<-"
	case Any:
		return "-"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Unbounded is the MaxHops of a quantifier with no upper bound.
const Unbounded = -1

// Element is a VertexPattern or an EdgePattern.
type Element interface {
	element()
}

// VertexPattern constrains one vertex. No labels matches any label.
type VertexPattern struct {
	Variable string
	Labels   []string
}

// EdgePattern constrains one edge, or a run of MinHops..MaxHops edges.
type EdgePattern struct {
	Variable  string
	Labels    []string
	Direction Direction
	MinHops   int
	MaxHops   int
}

func (*VertexPattern) element() {}
func (*EdgePattern) element()   {}

// IsFixed reports whether the edge takes exactly one hop.
func (e *EdgePattern) IsFixed() bool { return e.MinHops == 1 && e.MaxHops == 1 }

// IsUnbounded reports whether the edge has no upper hop bound.
func (e *EdgePattern) IsUnbounded() bool { return e.MaxHops == Unbounded }

func (v *VertexPattern) String() string {
	return "(" + v.Variable + labelSuffix(v.Labels) + ")"
}

func (e *EdgePattern) String() string {
	body := "[" + e.Variable + labelSuffix(e.Labels) + "]"
	var s string
	switch e.Direction {
	case Outgoing:
		s = "-" + body + "->"
	case Incoming:
		s = "<-" + body + "-"
	default:
		s = "-" + body + "-"
	}
	if e.IsFixed() {
		return s
	}
	if e.IsUnbounded() {
		return fmt.Sprintf("%s{%d,}", s, e.MinHops)
	}
	if e.MinHops == e.MaxHops {
		return fmt.Sprintf("%s{%d}", s, e.MinHops)
	}
	return fmt.Sprintf("%s{%d,%d}", s, e.MinHops, e.MaxHops)
}

func labelSuffix(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return ":" + strings.Join(labels, "|")
}

// PathPattern is an alternating sequence vertex, edge, vertex, ...
type PathPattern struct {
	Elements []Element
}

// Validate checks alternation, hop bounds, and that no variable is bound twice.
func (p *PathPattern) Validate() error {
	if len(p.Elements) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidPattern)
	}
	if len(p.Elements)%2 == 0 {
		return fmt.Errorf("%w: path must start and end with a vertex", ErrInvalidPattern)
	}
	seen := make(map[string]struct{})
	bind := func(name string) error {
		if name == "" {
			return nil
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: variable %s is bound twice", ErrInvalidPattern, name)
		}
		seen[key] = struct{}{}
		return nil
	}
	for i, el := range p.Elements {
		switch x := el.(type) {
		case *VertexPattern:
			if i%2 != 0 {
				return fmt.Errorf("%w: element %d must be an edge", ErrInvalidPattern, i)
			}
			if err := bind(x.Variable); err != nil {
				return err
			}
		case *EdgePattern:
			if i%2 != 1 {
				return fmt.Errorf("%w: element %d must be a vertex", ErrInvalidPattern, i)
			}
			if x.MinHops < 0 {
				return fmt.Errorf("%w: negative lower hop bound %d", ErrInvalidPattern, x.MinHops)
			}
			if x.MaxHops != Unbounded && (x.MaxHops < 1 || x.MaxHops < x.MinHops) {
				return fmt.Errorf("%w: hop bound {%d,%d}", ErrInvalidPattern, x.MinHops, x.MaxHops)
			}
			if x.Direction < Outgoing || x.Direction > Any {
				return fmt.Errorf("%w: %v", ErrInvalidPattern, x.Direction)
			}
			if err := bind(x.Variable); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: element %d is %T", ErrInvalidPattern, i, el)
		}
	}
	return nil
}

// Vertex returns the i-th vertex element.
func (p *PathPattern) Vertex(i int) *VertexPattern {
	return p.Elements[2*i].(*VertexPattern)
}

// Edge returns the i-th edge element.
func (p *PathPattern) Edge(i int) *EdgePattern {
	return p.Elements[2*i+1].(*EdgePattern)
}

// Len returns the number of edge elements.
func (p *PathPattern) Len() int { return len(p.Elements) / 2 }

// Variables returns the named variables in order of appearance.
func (p *PathPattern) Variables() []string {
	var out []string
	for _, el := range p.Elements {
		switch x := el.(type) {
		case *VertexPattern:
			if x.Variable != "" {
				out = append(out, x.Variable)
			}
		case *EdgePattern:
			if x.Variable != "" {
				out = append(out, x.Variable)
			}
		}
	}
	return out
}

func (p *PathPattern) String() string {
	var b strings.Builder
	for _, el := range p.Elements {
		b.WriteString(el.(fmt.Stringer).String())
	}
	return b.String()
}

// Equality is a WHERE filter variable.property = value on a vertex variable.
// Value is a string, int64, float64, or bool.
type Equality struct {
	Variable string
	Property string
	Value    any
}

func (e Equality) String() string {
	if s, ok := e.Value.(string); ok {
		return fmt.Sprintf("%s.%s = '%s'", e.Variable, e.Property, strings.ReplaceAll(s, "'", "''"))
	}
	return fmt.Sprintf("%s.%s = %v", e.Variable, e.Property, e.Value)
}

// MatchQuery is the content of one GRAPH_TABLE call.
type MatchQuery struct {
	Graph string
	Paths []PathPattern
	Where []Equality
	// Columns lists the variables to return; empty means every named variable.
	Columns []string
	Alias   string
}

// Variables returns every named variable across all paths, in order of first
// appearance.
func (m *MatchQuery) Variables() []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range m.Paths {
		for _, v := range m.Paths[i].Variables() {
			key := strings.ToLower(v)
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				out = append(out, v)
			}
		}
	}
	return out
}

// OutputColumns returns Columns, or every named variable when none were listed.
func (m *MatchQuery) OutputColumns() []string {
	if len(m.Columns) > 0 {
		return m.Columns
	}
	return m.Variables()
}
