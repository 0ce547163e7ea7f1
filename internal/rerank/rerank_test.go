package rerank

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanqinglian/aihelper-rag/internal/retriever"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

func candidate(path, content string, vectorScore float64, rank int) retriever.Candidate {
	return retriever.Candidate{
		Chunk:       &storage.Chunk{Path: path, Content: content},
		VectorScore: vectorScore,
		Rank:        rank,
	}
}

func paths(cs []retriever.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Chunk.Path
	}
	return out
}

func TestRerank_LoginScenario(t *testing.T) {
	// Logout is semantically closer, but only Login shares a term with the question.
	candidates := []retriever.Candidate{
		candidate("b/Logout.jsx", "logout handler", 0.82, 0),
		candidate("a/Login.jsx", "login handler", 0.80, 1),
	}

	got := New().Rerank("find the login code", candidates, 8)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a/Login.jsx", "b/Logout.jsx"}, paths(got))
	assert.Greater(t, got[0].HybridScore, got[1].HybridScore)
	assert.Greater(t, got[0].BM25Score, 0.0)
	assert.Zero(t, got[1].BM25Score)
}

func TestRerank_HybridFormula(t *testing.T) {
	candidates := []retriever.Candidate{
		candidate("x.js", "alpha", 0.9, 0),
		candidate("y.js", "beta", 0.5, 1),
		candidate("z.js", "alpha alpha beta", 0.1, 2),
	}

	got := New().Rerank("alpha", candidates, 3)
	byPath := map[string]retriever.Candidate{}
	for _, c := range got {
		byPath[c.Chunk.Path] = c
	}

	minB, maxB := math.Inf(1), math.Inf(-1)
	for _, c := range got {
		minB = math.Min(minB, c.BM25Score)
		maxB = math.Max(maxB, c.BM25Score)
	}
	for _, c := range got {
		v := (c.VectorScore - 0.1) / (0.9 - 0.1)
		b := (c.BM25Score - minB) / (maxB - minB)
		assert.InDelta(t, 0.4*v+0.6*b, c.HybridScore, 1e-9, c.Chunk.Path)
	}
	assert.Zero(t, byPath["y.js"].BM25Score)
}

func TestRerank_Deterministic(t *testing.T) {
	var candidates []retriever.Candidate
	for i := 0; i < 20; i++ {
		candidates = append(candidates, candidate(fmt.Sprintf("m%d/f.js", i), fmt.Sprintf("user data %d getUserData", i%3), float64(i%4)/4, i))
	}

	r := New()
	first := r.Rerank("get user data", candidates, 8)
	second := r.Rerank("get user data", candidates, 8)
	assert.Equal(t, paths(first), paths(second))
	for i := range first {
		assert.Equal(t, first[i].HybridScore, second[i].HybridScore)
	}
}

func TestRerank_TieBreaks(t *testing.T) {
	// Identical content: hybrid ties, so raw vector score and then rank decide.
	candidates := []retriever.Candidate{
		candidate("c.js", "same", 0.5, 0),
		candidate("a.js", "same", 0.5, 1),
		candidate("b.js", "same", 0.5, 2),
	}
	got := New().Rerank("nothing matches", candidates, 3)
	assert.Equal(t, []string{"c.js", "a.js", "b.js"}, paths(got))
}

func TestRerank_FlatScoresNormalizeToOne(t *testing.T) {
	candidates := []retriever.Candidate{
		candidate("a.js", "login", 0.7, 0),
		candidate("b.js", "login", 0.7, 1),
	}
	got := New().Rerank("login", candidates, 2)
	for _, c := range got {
		assert.InDelta(t, 1.0, c.HybridScore, 1e-9)
	}
}

func TestRerank_EmptyCorpusScoresZero(t *testing.T) {
	candidates := []retriever.Candidate{
		candidate("", "", 0.3, 0),
		candidate("", "{}", 0.9, 1),
	}
	got := New().Rerank("login", candidates, 2)
	require.Len(t, got, 2)
	assert.Zero(t, got[0].BM25Score)
	assert.Zero(t, got[1].BM25Score)
	assert.InDelta(t, 0.9, got[0].VectorScore, 1e-9)
}

func TestRerank_TopNAndInputUntouched(t *testing.T) {
	var candidates []retriever.Candidate
	for i := 0; i < 12; i++ {
		candidates = append(candidates, candidate(fmt.Sprintf("f%02d.js", i), "x", float64(i), i))
	}

	got := New().Rerank("x", candidates, 0)
	assert.Len(t, got, DefaultTopN)
	assert.Equal(t, "f11.js", got[0].Chunk.Path)
	assert.Equal(t, "f00.js", candidates[0].Chunk.Path)
	assert.Zero(t, candidates[0].HybridScore)

	assert.Empty(t, New().Rerank("x", nil, 5))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, normalize([]float64{2, 3, 4}))
	assert.Equal(t, []float64{1, 1}, normalize([]float64{0.3, 0.3}))
	assert.Equal(t, []float64{0, 0}, normalize([]float64{0, 0}))
	assert.Equal(t, []float64{0, 0}, normalize([]float64{-1, -1}))
}
