package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// serializeVector encodes a vector as little-endian float32 values.
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector is the inverse of serializeVector.
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// cosineSimilarity returns 0 for zero vectors or mismatched lengths.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortScored orders results by score descending, then ordinal ascending.
func sortScored(results []*ScoredChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Ordinal < results[j].Chunk.Ordinal
	})
}

// truncate keeps at most topK results; non-positive topK keeps none.
func truncate(results []*ScoredChunk, topK int) []*ScoredChunk {
	if topK <= 0 {
		return []*ScoredChunk{}
	}
	if len(results) > topK {
		return results[:topK]
	}
	return results
}

// validateChunks checks a collection before it is written and returns its
// embedding dimension.
func validateChunks(chunks []*Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, ErrEmptyCollection
	}

	dim := len(chunks[0].Embedding)
	if dim == 0 {
		return 0, fmt.Errorf("%w: chunk %q has no embedding", ErrDimensionMismatch, chunks[0].Path)
	}

	seen := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) != dim {
			return 0, fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(c.Embedding), dim)
		}
		if _, ok := seen[c.Path]; ok {
			return 0, fmt.Errorf("%w: %s", ErrDuplicatePath, c.Path)
		}
		seen[c.Path] = struct{}{}
	}
	return dim, nil
}

// withoutEmbedding returns a shallow copy of c with the embedding dropped.
func withoutEmbedding(c *Chunk) *Chunk {
	out := *c
	out.Embedding = nil
	return &out
}
