// Package rerank merges lexical BM25 relevance with vector similarity.
package rerank

import (
	"math"
	"sort"

	"github.com/tanqinglian/aihelper-rag/internal/retriever"
	"github.com/tanqinglian/aihelper-rag/internal/tokenize"
)

// Defaults for Reranker fields.
const (
	DefaultK1           = 1.5
	DefaultB            = 0.75
	DefaultVectorWeight = 0.4
	DefaultBM25Weight   = 0.6
	DefaultTopN         = 8
)

// Reranker scores a candidate batch with BM25, using the batch itself as the
// IDF corpus, and orders it by a weighted sum of both normalized signals.
type Reranker struct {
	K1           float64
	B            float64
	VectorWeight float64
	BM25Weight   float64
}

// New returns a reranker with the default parameters.
func New() *Reranker {
	return &Reranker{K1: DefaultK1, B: DefaultB, VectorWeight: DefaultVectorWeight, BM25Weight: DefaultBM25Weight}
}

// Rerank returns the best topN candidates (DefaultTopN when topN is not
// positive) with BM25Score and HybridScore set. The input slice is not modified.
//
// Ordering is by hybrid score descending, then raw vector score descending,
// then original retrieval rank.
func (r *Reranker) Rerank(question string, candidates []retriever.Candidate, topN int) []retriever.Candidate {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if len(candidates) == 0 {
		return []retriever.Candidate{}
	}

	out := make([]retriever.Candidate, len(candidates))
	copy(out, candidates)

	docs := make([][]string, len(out))
	for i, c := range out {
		docs[i] = tokenize.Tokenize(c.Chunk.Path + " " + c.Chunk.Content)
	}

	bm25 := r.score(tokenize.Tokenize(question), docs)
	vec := make([]float64, len(out))
	for i, c := range out {
		vec[i] = c.VectorScore
	}
	vNorm := normalize(vec)
	bNorm := normalize(bm25)

	for i := range out {
		out[i].BM25Score = bm25[i]
		out[i].HybridScore = r.VectorWeight*vNorm[i] + r.BM25Weight*bNorm[i]
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.HybridScore != b.HybridScore {
			return a.HybridScore > b.HybridScore
		}
		if a.VectorScore != b.VectorScore {
			return a.VectorScore > b.VectorScore
		}
		return a.Rank < b.Rank
	})

	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// score computes Okapi BM25 of every doc against the distinct query terms.
// Empty docs, an empty query, or an empty corpus score zero.
func (r *Reranker) score(query []string, docs [][]string) []float64 {
	scores := make([]float64, len(docs))

	var totalLen int
	tfs := make([]map[string]int, len(docs))
	df := make(map[string]int)
	for i, doc := range docs {
		totalLen += len(doc)
		tf := make(map[string]int, len(doc))
		for _, term := range doc {
			tf[term]++
		}
		for term := range tf {
			df[term]++
		}
		tfs[i] = tf
	}
	if totalLen == 0 || len(query) == 0 {
		return scores
	}

	n := float64(len(docs))
	avgdl := float64(totalLen) / n

	terms := make(map[string]struct{}, len(query))
	for _, q := range query {
		terms[q] = struct{}{}
	}

	for i, doc := range docs {
		if len(doc) == 0 {
			continue
		}
		dl := float64(len(doc))
		var s float64
		for term := range terms {
			tf := float64(tfs[i][term])
			if tf == 0 {
				continue
			}
			nq := float64(df[term])
			idf := math.Log(1 + (n-nq+0.5)/(nq+0.5))
			s += idf * tf * (r.K1 + 1) / (tf + r.K1*(1-r.B+r.B*dl/avgdl))
		}
		scores[i] = s
	}
	return scores
}

// normalize min-max scales values into [0,1]. A flat batch maps to 1 when
// the shared value is positive, else 0.
func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	if hi == lo {
		if hi > 0 {
			for i := range out {
				out[i] = 1
			}
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}
