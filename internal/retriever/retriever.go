// Package retriever embeds a question and fetches the nearest chunks of a
// project's collection.
package retriever

import (
	"context"
	"errors"
	"fmt"

	"github.com/tanqinglian/aihelper-rag/internal/embedding"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

// ErrProjectNotIndexed is returned when a project has no published collection.
var ErrProjectNotIndexed = errors.New("project not indexed")

// DefaultTopK is the retrieval breadth used when callers pass zero.
const DefaultTopK = 50

// Candidate is one retrieved chunk with its scores. BM25Score and
// HybridScore are filled in by the reranker.
type Candidate struct {
	Chunk       *storage.Chunk
	VectorScore float64
	BM25Score   float64
	HybridScore float64
	// Rank is the position in the vector-similarity ordering, starting at 0.
	Rank int
}

// Retriever runs the semantic half of question answering.
type Retriever struct {
	embedder embedding.Embedder
	store    storage.VectorStore
}

// New creates a retriever.
func New(embedder embedding.Embedder, store storage.VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns at most topK candidates ordered by cosine similarity.
func (r *Retriever) Retrieve(ctx context.Context, projectID, question string, topK int) ([]Candidate, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	results, err := r.store.Query(ctx, projectID, vec, topK)
	if err != nil {
		if errors.Is(err, storage.ErrCollectionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotIndexed, projectID)
		}
		return nil, fmt.Errorf("query collection: %w", err)
	}

	candidates := make([]Candidate, len(results))
	for i, res := range results {
		candidates[i] = Candidate{Chunk: res.Chunk, VectorScore: res.Score, Rank: i}
	}
	return candidates, nil
}
