package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeVector_RoundTrip(t *testing.T) {
	v := []float32{0, 1.5, -2.25, float32(math.Pi)}
	blob := serializeVector(v)
	assert.Len(t, blob, 16)
	assert.Equal(t, v, deserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestTruncate(t *testing.T) {
	results := []*ScoredChunk{{}, {}, {}}
	assert.Len(t, truncate(results, 2), 2)
	assert.Len(t, truncate(results, 5), 3)
	assert.Empty(t, truncate(results, 0))
}
