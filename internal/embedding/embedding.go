// Package embedding adapts external embedding services to a single
// text -> vector contract.
//
// Clients never retry. Retry, rate limiting and caching are caller policies
// applied with the decorators in policy.go.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the embedding backend cannot be reached,
// times out, or answers with something that is not a usable vector.
var ErrUnavailable = errors.New("embedding service unavailable")

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension is the vector length produced by the configured model.
	Dimension() int
	// Model names the configured embedding model.
	Model() string
}

// unavailable wraps cause with ErrUnavailable, keeping context errors
// matchable with errors.Is.
func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Errorf(format, args...))
}

// checkVector validates a decoded vector against the expected dimension.
func checkVector(vec []float32, dimension int) error {
	if len(vec) == 0 {
		return unavailable("empty embedding in response")
	}
	if dimension > 0 && len(vec) != dimension {
		return unavailable("embedding has %d dimensions, expected %d", len(vec), dimension)
	}
	return nil
}

// toFloat32 converts []float64 to []float32.
// Backends answer in float64; storage keeps float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
