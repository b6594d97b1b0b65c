package csr

import (
	"errors"
	"fmt"
)

// Sentinel errors for CSR construction.
var (
	// ErrInvalidVertexID is returned when an edge references a vertex id outside
	// [0, vertexCount). Use errors.As with *InvalidVertexError for the offending edge.
	ErrInvalidVertexID = errors.New("invalid vertex id")

	// ErrAllocation is returned when the offsets or neighbor arrays cannot be
	// allocated, either because the requested size exceeds the configured
	// MaxEdges or addressable length, or because the runtime refused the
	// allocation. Builds are never retried.
	ErrAllocation = errors.New("csr allocation failed")

	// ErrCorrupt is returned by Validate when a CSR violates its invariants.
	ErrCorrupt = errors.New("csr invariant violated")
)

// InvalidVertexError names the first edge that referenced an out-of-range vertex.
type InvalidVertexError struct {
	// Edge is the index of the offending edge in the input slice.
	Edge int
	// Vertex is the out-of-range id.
	Vertex int64
	// VertexCount is the vertex count the build was asked for.
	VertexCount int
}

func (e *InvalidVertexError) Error() string {
	return fmt.Sprintf("invalid vertex id %d at edge %d (vertex count %d)", e.Vertex, e.Edge, e.VertexCount)
}

// Unwrap makes errors.Is(err, ErrInvalidVertexID) hold.
func (e *InvalidVertexError) Unwrap() error {
	return ErrInvalidVertexID
}
