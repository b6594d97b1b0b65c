// Package simd provides SIMD-accelerated float64 vector kernels for NornicPGQ.
//
// The PageRank iteration spends most of its non-scatter time on three whole-vector
// operations: filling the scratch vector, summing rank mass, and measuring the
// largest per-vertex change between iterations. These are delegated to
// github.com/viterin/vek, which dispatches to AVX2 on amd64 when the CPU supports
// it and to a pure Go loop elsewhere.
//
// # Supported Operations
//
//   - Sum: total of a vector
//   - MaxAbsDiff: max_i |a[i]-b[i]| (the convergence measure)
//   - Fill: set every element to a constant
//   - Scale: multiply every element by a constant in place
//   - AddScalar: add a constant to every element in place
//
// # Usage
//
//	import "github.com/orneryd/nornicpgq/pkg/simd"
//
//	ranks := make([]float64, n)
//	simd.Fill(ranks, 1/float64(n))
//	mass := simd.Sum(ranks)
//
// All functions tolerate empty input. Functions taking two vectors return 0 (or do
// nothing) when the lengths differ.
package simd
