package algo

import (
	"context"
	"sort"

	"github.com/orneryd/nornicpgq/pkg/csr"
	"github.com/orneryd/nornicpgq/pkg/parallel"
)

// TraversalOptions configures the BFS-based algorithms.
type TraversalOptions struct {
	// Parallel configures frontier expansion.
	Parallel parallel.Config
}

// DefaultTraversalOptions returns parallel frontier expansion.
func DefaultTraversalOptions() TraversalOptions {
	return TraversalOptions{Parallel: parallel.DefaultConfig()}
}

// expandFrontier visits the neighbors of every frontier vertex in each of adj and
// returns those for which claim succeeds. claim must be safe for concurrent use
// and succeed at most once per vertex.
func expandFrontier(ctx context.Context, frontier []int64, adj []*csr.CSR, cfg parallel.Config, claim func(u int64) bool) ([]int64, error) {
	locals := make([][]int64, cfg.Chunks(len(frontier)))
	_, err := parallel.ForEachChunk(ctx, len(frontier), cfg, func(worker, lo, hi int) error {
		var next []int64
		for _, v := range frontier[lo:hi] {
			for _, g := range adj {
				for _, u := range g.NeighborsOf(v) {
					if claim(u) {
						next = append(next, u)
					}
				}
			}
		}
		locals[worker] = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, l := range locals {
		total += len(l)
	}
	next := make([]int64, 0, total)
	for _, l := range locals {
		next = append(next, l...)
	}
	return next, nil
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
