// Package embeddings defines the text embedding contract used by the
// semantic schema index and an OpenAI-compatible HTTP client for it.
package embeddings

import (
	"context"
	"errors"
	"math"
)

// ErrDimensionMismatch indicates two vectors have different lengths.
var ErrDimensionMismatch = errors.New("embeddings: vector dimension mismatch")

// Embedder maps a batch of texts to fixed-length vectors. The index and
// its queries must use the same embedder so that scores stay comparable.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// NormalizeL2 returns a copy of v scaled to unit L2 norm. A zero vector
// is returned unchanged.
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	norm := math.Sqrt(sum)
	if norm == 0 {
		copy(out, v)
		return out
	}
	inv := float32(1.0 / norm)
	for i := range v {
		out[i] = v[i] * inv
	}
	return out
}

// Dot computes the inner product of two vectors. Over unit vectors this
// equals cosine similarity.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot, nil
}
