package nornicpgq

import "errors"

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("nornicpgq: database closed")

	// ErrNotImplemented is returned for statement kinds the engine does not handle.
	ErrNotImplemented = errors.New("nornicpgq: not implemented")

	// ErrNoGraphTable is returned when a SELECT has no GRAPH_TABLE to run.
	ErrNoGraphTable = errors.New("nornicpgq: statement has no GRAPH_TABLE")

	// ErrVertexNotFound is returned when an algorithm endpoint names no vertex.
	ErrVertexNotFound = errors.New("nornicpgq: vertex not found")
)
