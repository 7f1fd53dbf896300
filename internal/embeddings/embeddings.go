package embeddings

import (
	"context"
	"errors"
	"math"

	"voice-id/internal/faults"
)

// Vector is a simple float32 slice wrapper.
type Vector []float32

var (
	// ErrZeroNorm is returned when normalizing a vector whose L2 norm is zero.
	ErrZeroNorm = &faults.Error{Kind: faults.ErrComputation, Op: "normalize", Err: errors.New("zero norm")}

	// ErrIncompatible is returned when vectors of different lengths are combined.
	ErrIncompatible = &faults.Error{Kind: faults.ErrValidation, Op: "mean", Err: errors.New("vector dimensions differ")}
)

// Extractor turns mono float32 PCM into a speaker embedding. Implementations
// wrap an external biometric model.
type Extractor interface {
	Extract(ctx context.Context, pcm []float32, sampleRate int) (Vector, error)
}

// New validates values and returns an owned copy. Empty input and NaN/Inf
// components are rejected.
func New(values []float32) (Vector, error) {
	if len(values) == 0 {
		return nil, faults.Validation("new vector", "vector is empty")
	}
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, faults.Validation("new vector", "component %d is not finite", i)
		}
	}
	return Vector(values).Clone(), nil
}

// FromFloat64 converts a float64 slice (e.g. decoded JSON) and validates it.
func FromFloat64(values []float64) (Vector, error) {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return New(out)
}

// Clone returns an independent copy. A nil vector clones to nil.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Dim returns the number of components.
func (v Vector) Dim() int { return len(v) }

// Compatible reports whether v and o have the same length.
func (v Vector) Compatible(o Vector) bool { return len(v) == len(o) }

// Equal reports exact component-wise equality.
func (v Vector) Equal(o Vector) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// ApproxEqual reports whether every component differs by at most tol.
func (v Vector) ApproxEqual(o Vector, tol float64) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if math.Abs(float64(v[i])-float64(o[i])) > tol {
			return false
		}
	}
	return true
}

// Norm returns the L2 norm, accumulated in float64.
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns v scaled to unit L2 norm. v itself is not modified.
func (v Vector) Normalize() (Vector, error) {
	n := v.Norm()
	if n == 0 {
		return nil, ErrZeroNorm
	}
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// Mean returns the element-wise arithmetic mean of vs.
func Mean(vs ...Vector) (Vector, error) {
	if len(vs) == 0 {
		return nil, faults.Validation("mean", "no vectors")
	}
	dim := len(vs[0])
	acc := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, ErrIncompatible
		}
		for i, x := range v {
			acc[i] += float64(x)
		}
	}
	out := make(Vector, dim)
	for i := range acc {
		out[i] = float32(acc[i] / float64(len(vs)))
	}
	return out, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is empty, they differ in length, or either has zero norm.
func CosineSimilarity(a, b Vector) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (na * nb))
}
