// Package algo implements the graph algorithms NornicPGQ exposes over a CSR:
// PageRank, weakly connected components, and bounded-hop reachability.
//
// Every algorithm owns its scratch state for the duration of one call and only
// reads the CSR, so any number of invocations may share one cached CSR.
//
// Non-fatal outcomes are reported as a Status next to a usable result rather
// than as errors: a PageRank that hits its iteration limit returns
// StatusDidNotConverge, a cancelled call returns the last completed iteration with
// StatusCancelled, and an unreachable target is an empty path.
package algo

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/orneryd/nornicpgq/pkg/csr"
)

var tracer = otel.Tracer("nornicpgq.algo")

// ErrInvalidOptions is returned when algorithm options are out of range.
var ErrInvalidOptions = errors.New("invalid algorithm options")

// NoComponent labels vertices that are invalid in the source data.
const NoComponent int64 = -1

// Status is the non-fatal outcome of an algorithm invocation.
type Status int

const (
	// StatusCompleted means a non-iterative algorithm ran to the end.
	StatusCompleted Status = iota
	// StatusConverged means PageRank met its epsilon.
	StatusConverged
	// StatusDidNotConverge means PageRank hit MaxIterations. Ranks are still usable.
	StatusDidNotConverge
	// StatusCancelled means the context was cancelled; the result is the last
	// fully completed iteration.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusConverged:
		return "converged"
	case StatusDidNotConverge:
		return "did_not_converge"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func checkVertex(g *csr.CSR, v int64, role string) error {
	if !g.Contains(v) {
		return fmt.Errorf("%w: %s %d not in [0, %d)", csr.ErrInvalidVertexID, role, v, g.VertexCount())
	}
	return nil
}
