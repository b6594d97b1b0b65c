package graph

// LabelSummary describes the vertices of one label.
type LabelSummary struct {
	Label        string
	Vertices     int
	Invalid      int
	MinOutDegree int64
	MaxOutDegree int64
	AvgOutDegree float64
}

// Summary is the SUMMARIZE view of a snapshot.
type Summary struct {
	Graph    string
	Labels   []LabelSummary
	Edges    map[string]int
	Dangling int
}

// Summarize computes per-label vertex counts and out-degree statistics.
func (s *Snapshot) Summarize() Summary {
	sum := Summary{Graph: s.Graph, Edges: make(map[string]int, len(s.EdgeCounts)), Dangling: s.Dangling}
	for l, n := range s.EdgeCounts {
		sum.Edges[l] = n
	}
	for _, label := range s.Vertices.Labels {
		lo, hi, _ := s.Vertices.Range(label)
		ls := LabelSummary{Label: label, Vertices: int(hi - lo)}
		var total int64
		first := true
		for v := lo; v < hi; v++ {
			if !s.Vertices.Valid[v] {
				ls.Invalid++
				continue
			}
			d := s.Out.Degree(v)
			total += d
			if first || d < ls.MinOutDegree {
				ls.MinOutDegree = d
			}
			if first || d > ls.MaxOutDegree {
				ls.MaxOutDegree = d
			}
			first = false
		}
		if valid := ls.Vertices - ls.Invalid; valid > 0 {
			ls.AvgOutDegree = float64(total) / float64(valid)
		}
		sum.Labels = append(sum.Labels, ls)
	}
	return sum
}
