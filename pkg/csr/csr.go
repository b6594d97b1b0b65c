// Package csr implements the compressed sparse row adjacency structure that every
// graph algorithm and pattern traversal in NornicPGQ runs over.
//
// A CSR stores the out-neighbors of vertex v at
//
//	Neighbors[Offsets[v]:Offsets[v+1]]
//
// with Offsets non-decreasing and Offsets[VertexCount()] == EdgeCount(). EdgeIDs,
// when present, is parallel to Neighbors and maps every neighbor slot back to the
// row the edge came from.
//
// # Thread Safety
//
// A CSR is immutable once Build returns. Any number of goroutines may read it
// without locking. Callers must not write to the slices returned by NeighborsOf or
// EdgeIDsOf.
//
// # Ordering
//
// Neighbor order within a vertex range follows the order in which edges finished
// the parallel scatter pass and is not deterministic. When Options.SortNeighbors is
// set, each range is sorted ascending by (neighbor, edge id) and NeighborsOf(v) is
// guaranteed ascending.
package csr

import "fmt"

// CSR is an immutable compressed sparse row adjacency structure.
type CSR struct {
	// Offsets has VertexCount()+1 entries.
	Offsets []int64
	// Neighbors holds destination vertex ids, grouped by source.
	Neighbors []int64
	// EdgeIDs is nil unless the build kept edge ids.
	EdgeIDs []int64
	// Sorted reports whether every neighbor range is ascending.
	Sorted bool
}

// Empty returns a CSR with vertexCount isolated vertices.
func Empty(vertexCount int) *CSR {
	return &CSR{Offsets: make([]int64, vertexCount+1), Neighbors: []int64{}, Sorted: true}
}

// VertexCount returns the number of vertices.
func (c *CSR) VertexCount() int {
	if len(c.Offsets) == 0 {
		return 0
	}
	return len(c.Offsets) - 1
}

// EdgeCount returns the number of stored edges (self-loops and duplicates included).
func (c *CSR) EdgeCount() int {
	return len(c.Neighbors)
}

// Degree returns the out-degree of v.
func (c *CSR) Degree(v int64) int64 {
	return c.Offsets[v+1] - c.Offsets[v]
}

// NeighborsOf returns the out-neighbors of v. The slice aliases the CSR.
func (c *CSR) NeighborsOf(v int64) []int64 {
	return c.Neighbors[c.Offsets[v]:c.Offsets[v+1]]
}

// EdgeIDsOf returns the edge ids parallel to NeighborsOf(v), or nil when the CSR
// was built without edge ids.
func (c *CSR) EdgeIDsOf(v int64) []int64 {
	if c.EdgeIDs == nil {
		return nil
	}
	return c.EdgeIDs[c.Offsets[v]:c.Offsets[v+1]]
}

// HasEdgeIDs reports whether EdgeIDs is populated.
func (c *CSR) HasEdgeIDs() bool {
	return c.EdgeIDs != nil
}

// Contains reports whether v is a vertex id of this CSR.
func (c *CSR) Contains(v int64) bool {
	return v >= 0 && v < int64(c.VertexCount())
}

// MemoryBytes is the size of the backing arrays.
func (c *CSR) MemoryBytes() int64 {
	return int64(len(c.Offsets)+len(c.Neighbors)+len(c.EdgeIDs)) * 8
}

// Validate checks the structural invariants: Offsets starts at 0, never decreases,
// ends at EdgeCount(); every neighbor is a valid vertex; EdgeIDs, if present, is
// parallel to Neighbors; and sorted ranges are ascending when Sorted is set.
func (c *CSR) Validate() error {
	if len(c.Offsets) == 0 {
		return fmt.Errorf("%w: offsets is empty", ErrCorrupt)
	}
	if c.Offsets[0] != 0 {
		return fmt.Errorf("%w: offsets[0] = %d", ErrCorrupt, c.Offsets[0])
	}
	n := c.VertexCount()
	for v := 0; v < n; v++ {
		if c.Offsets[v] > c.Offsets[v+1] {
			return fmt.Errorf("%w: offsets decrease at vertex %d", ErrCorrupt, v)
		}
	}
	if c.Offsets[n] != int64(len(c.Neighbors)) {
		return fmt.Errorf("%w: offsets[%d] = %d, edge count %d", ErrCorrupt, n, c.Offsets[n], len(c.Neighbors))
	}
	if c.EdgeIDs != nil && len(c.EdgeIDs) != len(c.Neighbors) {
		return fmt.Errorf("%w: %d edge ids for %d neighbors", ErrCorrupt, len(c.EdgeIDs), len(c.Neighbors))
	}
	for i, u := range c.Neighbors {
		if !c.Contains(u) {
			return fmt.Errorf("%w: neighbor slot %d holds vertex %d", ErrCorrupt, i, u)
		}
	}
	if c.Sorted {
		for v := 0; v < n; v++ {
			nb := c.NeighborsOf(int64(v))
			for i := 1; i < len(nb); i++ {
				if nb[i-1] > nb[i] {
					return fmt.Errorf("%w: neighbors of %d not ascending", ErrCorrupt, v)
				}
			}
		}
	}
	return nil
}

// String summarizes the CSR for logs.
func (c *CSR) String() string {
	return fmt.Sprintf("CSR{vertices=%d, edges=%d, edge_ids=%t, sorted=%t}",
		c.VertexCount(), c.EdgeCount(), c.HasEdgeIDs(), c.Sorted)
}
