// Package graph materializes property graphs into CSR snapshots.
//
// Vertices of every vertex table are numbered densely in definition order, so
// each label owns one contiguous id range. Edge rows are resolved to vertex ids
// by key lookup and handed to the CSR builder. A Snapshot is immutable and is
// what the graph cache stores.
package graph

import (
	"fmt"
	"strings"

	"github.com/orneryd/nornicpgq/pkg/storage"
)

// VertexSpace maps vertex ids to (label, key) and back.
type VertexSpace struct {
	Labels []string
	// starts[i] is the first id of Labels[i]; starts[len(Labels)] is the count.
	starts  []int64
	Keys    []any
	Valid   []bool
	columns [][]string
	rows    []storage.Row
	index   []map[any]int64
}

// Len returns the number of vertices, valid or not.
func (s *VertexSpace) Len() int { return len(s.Keys) }

// LabelIndex returns the position of label among Labels, or -1.
func (s *VertexSpace) LabelIndex(label string) int {
	for i, l := range s.Labels {
		if strings.EqualFold(l, label) {
			return i
		}
	}
	return -1
}

// Range returns the id range [lo, hi) of label.
func (s *VertexSpace) Range(label string) (lo, hi int64, ok bool) {
	i := s.LabelIndex(label)
	if i < 0 {
		return 0, 0, false
	}
	return s.starts[i], s.starts[i+1], true
}

// labelIndexOf finds the label owning id by binary search over starts.
func (s *VertexSpace) labelIndexOf(id int64) int {
	lo, hi := 0, len(s.Labels)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.starts[mid+1] <= id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// LabelOf returns the label of vertex id.
func (s *VertexSpace) LabelOf(id int64) string {
	return s.Labels[s.labelIndexOf(id)]
}

// Lookup returns the id of the vertex with label and key. When a key repeats
// within a table the first row wins. NULL keys are never found.
func (s *VertexSpace) Lookup(label string, key any) (int64, bool) {
	i := s.LabelIndex(label)
	if i < 0 || key == nil {
		return -1, false
	}
	id, ok := s.index[i][key]
	return id, ok
}

// Property returns column name of vertex id's row.
func (s *VertexSpace) Property(id int64, name string) (any, bool) {
	cols := s.columns[s.labelIndexOf(id)]
	for c, col := range cols {
		if strings.EqualFold(col, name) {
			return s.rows[id][c], true
		}
	}
	return nil, false
}

// Row returns the table row of vertex id.
func (s *VertexSpace) Row(id int64) storage.Row { return s.rows[id] }

// ValidCount returns the number of vertices with a non-NULL key.
func (s *VertexSpace) ValidCount() int {
	n := 0
	for _, ok := range s.Valid {
		if ok {
			n++
		}
	}
	return n
}

// Count returns the number of vertices of label.
func (s *VertexSpace) Count(label string) int {
	lo, hi, ok := s.Range(label)
	if !ok {
		return 0
	}
	return int(hi - lo)
}

// addLabel scans one vertex table into the space.
func (s *VertexSpace) addLabel(label string, table *storage.Table, keyColumn string, tables storage.Engine) error {
	keyIdx := table.ColumnIndex(keyColumn)
	if keyIdx < 0 {
		return fmt.Errorf("table %s has no column %s: %w", table.Name, keyColumn, storage.ErrNotFound)
	}
	if len(s.starts) == 0 {
		s.starts = append(s.starts, 0)
	}
	idx := make(map[any]int64)
	err := tables.Scan(table.Name, func(_ int64, row storage.Row) error {
		id := int64(len(s.Keys))
		key := row[keyIdx]
		s.Keys = append(s.Keys, key)
		s.Valid = append(s.Valid, key != nil)
		s.rows = append(s.rows, row)
		if key != nil {
			if _, dup := idx[key]; !dup {
				idx[key] = id
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Labels = append(s.Labels, label)
	s.columns = append(s.columns, table.ColumnNames())
	s.index = append(s.index, idx)
	s.starts = append(s.starts, int64(len(s.Keys)))
	return nil
}
