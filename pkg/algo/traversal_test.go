package algo

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicpgq/pkg/csr"
	"github.com/orneryd/nornicpgq/pkg/parallel"
)

func TestWCCTriangleSingleComponent(t *testing.T) {
	g := buildCSR(t, 3, [][2]int64{{0, 1}, {1, 2}, {2, 0}})

	res, err := WeaklyConnectedComponents(context.Background(), g, nil, nil, DefaultTraversalOptions())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0}, res.Labels)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestWCCIgnoresDirectionAndUsesSmallestID(t *testing.T) {
	// 4->3 and 5->3 only reach 3 against the edge direction from 3.
	g := buildCSR(t, 7, [][2]int64{{4, 3}, {5, 3}, {2, 1}, {6, 6}})

	res, err := WeaklyConnectedComponents(context.Background(), g, nil, nil, DefaultTraversalOptions())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 1, 3, 3, 3, 6}, res.Labels)
	assert.Equal(t, 4, res.Count)
	assert.Equal(t, map[int64][]int64{0: {0}, 1: {1, 2}, 3: {3, 4, 5}, 6: {6}}, res.Components())
}

func TestWCCInvalidVerticesGetNoLabel(t *testing.T) {
	// 0 - 1 - 2 - 3 with 1 invalid: 0 is cut off from 2 and 3.
	g := buildCSR(t, 4, [][2]int64{{0, 1}, {1, 2}, {2, 3}})
	valid := []bool{true, false, true, true}

	res, err := WeaklyConnectedComponents(context.Background(), g, nil, valid, DefaultTraversalOptions())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, NoComponent, 2, 2}, res.Labels)
	assert.Equal(t, 2, res.Count)
}

func TestWCCIsEquivalenceRelation(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	const n = 400
	pairs := make([][2]int64, 300)
	for i := range pairs {
		pairs[i] = [2]int64{int64(r.Intn(n)), int64(r.Intn(n))}
	}
	valid := make([]bool, n)
	for i := range valid {
		valid[i] = r.Intn(10) != 0
	}
	g := buildCSR(t, n, pairs)

	seq, err := WeaklyConnectedComponents(context.Background(), g, nil, valid, TraversalOptions{Parallel: parallel.Sequential()})
	require.NoError(t, err)
	par, err := WeaklyConnectedComponents(context.Background(), g, nil, valid, TraversalOptions{Parallel: parallelCfg()})
	require.NoError(t, err)
	assert.Equal(t, seq.Labels, par.Labels, "labels are independent of worker count")

	for v, label := range seq.Labels {
		if !valid[v] {
			assert.Equal(t, NoComponent, label)
			continue
		}
		assert.LessOrEqual(t, label, int64(v), "label is the smallest id in the component")
		assert.Equal(t, label, seq.Labels[label], "the label vertex labels itself")
	}
	// Every edge between valid endpoints stays inside one component.
	for _, p := range pairs {
		if valid[p[0]] && valid[p[1]] {
			assert.Equal(t, seq.Labels[p[0]], seq.Labels[p[1]])
		}
	}
}

func TestWCCCancelled(t *testing.T) {
	g := buildCSR(t, 3, [][2]int64{{0, 1}})
	in, err := g.Transpose(context.Background(), csr.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := WeaklyConnectedComponents(ctx, g, in, nil, DefaultTraversalOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, []int64{NoComponent, NoComponent, NoComponent}, res.Labels)
}

func TestWCCRejectsMismatchedInputs(t *testing.T) {
	g := buildCSR(t, 3, nil)
	_, err := WeaklyConnectedComponents(context.Background(), g, nil, []bool{true}, DefaultTraversalOptions())
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = WeaklyConnectedComponents(context.Background(), g, csr.Empty(2), nil, DefaultTraversalOptions())
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestReachabilityLevels(t *testing.T) {
	// 0 -> 1 -> 2 -> 3, plus a shortcut 0 -> 2 and a back edge 3 -> 0.
	g := buildCSR(t, 5, [][2]int64{{0, 1}, {1, 2}, {2, 3}, {0, 2}, {3, 0}})

	tests := []struct {
		name    string
		maxHops int
		levels  [][]int64
	}{
		{"zero_hops", 0, [][]int64{{0}}},
		{"one_hop", 1, [][]int64{{0}, {1, 2}}},
		{"two_hops", 2, [][]int64{{0}, {1, 2}, {3}}},
		{"unbounded", Unbounded, [][]int64{{0}, {1, 2}, {3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, cfg := range []parallel.Config{parallel.Sequential(), parallelCfg()} {
				res, err := Reachability(context.Background(), g, 0, tt.maxHops, TraversalOptions{Parallel: cfg})
				require.NoError(t, err)
				assert.Equal(t, tt.levels, res.Levels)
				assert.False(t, res.Reachable(4))
			}
		})
	}
}

func TestReachabilityDistances(t *testing.T) {
	g := buildCSR(t, 4, [][2]int64{{0, 1}, {1, 2}, {2, 3}})
	res, err := Reachability(context.Background(), g, 1, Unbounded, DefaultTraversalOptions())
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{1: 0, 2: 1, 3: 2}, res.Distances)
	assert.Equal(t, 3, res.Count())
	assert.False(t, res.Reachable(0))
}

func TestReachabilityInvalidSource(t *testing.T) {
	g := buildCSR(t, 2, nil)
	_, err := Reachability(context.Background(), g, 2, 1, DefaultTraversalOptions())
	assert.ErrorIs(t, err, csr.ErrInvalidVertexID)
	_, err = Reachability(context.Background(), g, -1, 1, DefaultTraversalOptions())
	assert.ErrorIs(t, err, csr.ErrInvalidVertexID)
}

func TestShortestPath(t *testing.T) {
	g := buildCSR(t, 6, [][2]int64{{0, 1}, {1, 2}, {2, 3}, {0, 4}, {4, 3}})

	tests := []struct {
		name    string
		src     int64
		dst     int64
		maxHops int
		want    []int64
	}{
		{"shortest_of_two", 0, 3, Unbounded, []int64{0, 4, 3}},
		{"within_bound", 0, 3, 2, []int64{0, 4, 3}},
		{"bound_too_small", 0, 3, 1, []int64{}},
		{"self", 2, 2, 0, []int64{2}},
		{"unreachable", 3, 0, Unbounded, []int64{}},
		{"isolated", 0, 5, Unbounded, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := ShortestPath(context.Background(), g, tt.src, tt.dst, tt.maxHops)
			require.NoError(t, err)
			assert.Equal(t, tt.want, path)
		})
	}

	_, err := ShortestPath(context.Background(), g, 0, 6, 1)
	assert.ErrorIs(t, err, csr.ErrInvalidVertexID)
}
