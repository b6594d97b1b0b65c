package nornicpgq

//go:generate mockgen -destination=mocks/mock_listener.go -package=mocks github.com/orneryd/nornicpgq/pkg/nornicpgq GraphEventListener

// InvalidationReason says why cached projections of a graph were dropped.
type InvalidationReason string

const (
	// ReasonTableChanged: a host table the graph reads was modified.
	ReasonTableChanged InvalidationReason = "table_changed"
	// ReasonGraphChanged: the graph was created, replaced, or dropped.
	ReasonGraphChanged InvalidationReason = "graph_changed"
	// ReasonExplicit: InvalidateGraph was called.
	ReasonExplicit InvalidationReason = "explicit"
)

// GraphEventListener observes graph cache activity. Callbacks run
// synchronously on the goroutine that caused the event, after internal locks
// are released.
type GraphEventListener interface {
	// GraphInvalidated is called after the cached projections of graph are dropped.
	GraphInvalidated(graph string, reason InvalidationReason)
	// SnapshotBuilt is called after a projection was materialized.
	SnapshotBuilt(graph, projection string, vertices, edges int)
}
