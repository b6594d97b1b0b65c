package simd

import (
	"runtime"

	"github.com/viterin/vek"
	"golang.org/x/sys/cpu"
)

// Implementation represents the active SIMD implementation
type Implementation string

const (
	// ImplGeneric indicates pure Go fallback (no SIMD)
	ImplGeneric Implementation = "generic"
	// ImplAVX2 indicates x86 AVX2+FMA SIMD
	ImplAVX2 Implementation = "avx2"
)

// RuntimeInfo contains information about the active SIMD implementation
type RuntimeInfo struct {
	// Implementation is the active SIMD backend
	Implementation Implementation
	// Features lists specific CPU features being used
	Features []string
	// Accelerated indicates whether SIMD acceleration is active
	Accelerated bool
}

// hasAVX2 checks if the CPU supports AVX2+FMA at runtime
var hasAVX2 = runtime.GOARCH == "amd64" && cpu.X86.HasAVX2 && cpu.X86.HasFMA

// Info returns which kernel implementation vek will use on this machine.
func Info() RuntimeInfo {
	if hasAVX2 {
		return RuntimeInfo{
			Implementation: ImplAVX2,
			Features:       []string{"AVX2", "FMA"},
			Accelerated:    true,
		}
	}
	return RuntimeInfo{Implementation: ImplGeneric}
}

// Sum returns the sum of all elements of v.
//
// Example:
//
//	simd.Sum([]float64{0.25, 0.25, 0.5}) // 1.0
func Sum(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return vek.Sum(v)
}

// MaxAbsDiff returns max_i |a[i]-b[i]|.
//
// Returns 0 if the vectors are empty or have different lengths. Allocates one
// scratch vector; use MaxAbsDiffInto on hot paths.
func MaxAbsDiff(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return MaxAbsDiffInto(make([]float64, len(a)), a, b)
}

// MaxAbsDiffInto is MaxAbsDiff using scratch (len(scratch) >= len(a)) as working
// space. scratch is overwritten.
func MaxAbsDiffInto(scratch, a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 || len(scratch) < len(a) {
		return 0
	}
	d := scratch[:len(a)]
	vek.Sub_Into(d, a, b)
	vek.Abs_Inplace(d)
	return vek.Max(d)
}

// Fill sets every element of v to x.
func Fill(v []float64, x float64) {
	if len(v) == 0 {
		return
	}
	v[0] = x
	// doubling copy; copy is memmove so this is as fast as a vectorized store
	for filled := 1; filled < len(v); filled *= 2 {
		copy(v[filled:], v[:filled])
	}
}

// Scale multiplies every element of v by x in place.
func Scale(v []float64, x float64) {
	if len(v) == 0 {
		return
	}
	vek.MulNumber_Inplace(v, x)
}

// AddScalar adds x to every element of v in place.
func AddScalar(v []float64, x float64) {
	if len(v) == 0 {
		return
	}
	vek.AddNumber_Inplace(v, x)
}
