package pattern

import (
	"fmt"
	"strings"
)

// PlanKind distinguishes the two shapes a path compiles to.
type PlanKind int

const (
	// FixedChain is a path whose every edge takes exactly one hop.
	FixedChain PlanKind = iota
	// Expansion is a path with at least one quantified edge.
	Expansion
)

func (k PlanKind) String() string {
	if k == FixedChain {
		return "fixed_chain"
	}
	return "expansion"
}

// RepetitionPolicy controls which walks an expansion plan may produce. It is
// enforced over the whole matched path, not per quantified edge: once a path
// holds any quantified edge, its fixed hops are checked too, so
// (a)->(b)->(c)-[]->?(d) drops A,B,A even though (a)->(b)->(c) keeps it.
// Fixed-chain plans never check repetition. A zero-hop expansion binds its
// endpoint to the vertex it started from and does not count as a revisit.
type RepetitionPolicy int

const (
	// NoRepeatedVertices matches simple paths only.
	NoRepeatedVertices RepetitionPolicy = iota
	// NoRepeatedEdges matches trails: vertices may repeat, edges may not.
	NoRepeatedEdges
	// AllowRepetition matches arbitrary walks. Only valid with bounded hops.
	AllowRepetition
)

func (r RepetitionPolicy) String() string {
	switch r {
	case NoRepeatedVertices:
		return "no_repeated_vertices"
	case NoRepeatedEdges:
		return "no_repeated_edges"
	case AllowRepetition:
		return "allow_repetition"
	}
	return fmt.Sprintf("repetition(%d)", int(r))
}

// ParseRepetitionPolicy accepts the String form of a policy.
func ParseRepetitionPolicy(s string) (RepetitionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "no_repeated_vertices":
		return NoRepeatedVertices, nil
	case "no_repeated_edges":
		return NoRepeatedEdges, nil
	case "allow_repetition":
		return AllowRepetition, nil
	}
	return 0, fmt.Errorf("%w: unknown repetition policy %q", ErrInvalidPattern, s)
}

// Step is one edge element and the vertex it leads to, with the hop range
// resolved: an unbounded MaxHops has been replaced by the compile-time cap.
type Step struct {
	Edge      EdgePattern
	Target    VertexPattern
	MinHops   int
	MaxHops   int
	Unbounded bool
}

// Fixed reports whether the step is a single adjacency lookup.
func (s *Step) Fixed() bool { return s.MinHops == 1 && s.MaxHops == 1 }

// TraversalPlan is the compiled form of one path.
type TraversalPlan struct {
	MatchID    int
	Path       int
	Kind       PlanKind
	Source     VertexPattern
	Steps      []Step
	Repetition RepetitionPolicy
	// Filters are the WHERE equalities on this path's vertex variables.
	Filters []Equality
	// Columns are the named variables of this path in order of appearance.
	Columns []string
	// Join is the relational rendering of a fixed chain, when the property
	// graph was available at compile time.
	Join *JoinPlan
}

// String renders the plan for EXPLAIN output.
func (p *TraversalPlan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "match=%d path=%d kind=%s", p.MatchID, p.Path, p.Kind)
	if p.Kind == Expansion {
		fmt.Fprintf(&b, " repetition=%s", p.Repetition)
	}
	b.WriteString(" ")
	b.WriteString(p.Source.String())
	for i := range p.Steps {
		s := &p.Steps[i]
		e := s.Edge
		e.MinHops, e.MaxHops = s.MinHops, s.MaxHops
		b.WriteString(e.String())
		if s.Unbounded {
			b.WriteString("(capped)")
		}
		b.WriteString(s.Target.String())
	}
	for _, f := range p.Filters {
		b.WriteString(" where ")
		b.WriteString(f.String())
	}
	return b.String()
}
