package pattern

import (
	"errors"
	"fmt"
)

// Pattern error types
var (
	ErrInvalidPattern       = errors.New("invalid path pattern")
	ErrUnknownVariable      = errors.New("unknown pattern variable")
	ErrUnsupportedConstruct = errors.New("unsupported pattern construct")
	ErrMissingEdgeIDs       = errors.New("graph source has no edge ids")
)

// ParseError reports malformed pattern text. Pos is a byte offset into Input.
type ParseError struct {
	Pos   int
	Msg   string
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

// UnsupportedConstructError is returned when a MATCH appears inside a table
// reference kind the compiler does not model. Kind names the construct.
type UnsupportedConstructError struct {
	Kind string
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("MATCH is not supported inside %s table references", e.Kind)
}

// Unwrap lets callers test with errors.Is(err, ErrUnsupportedConstruct).
func (e *UnsupportedConstructError) Unwrap() error { return ErrUnsupportedConstruct }
