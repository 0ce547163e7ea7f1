package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memCollection is never modified after it is published.
type memCollection struct {
	chunks []*Chunk
	byPath map[string]*Chunk
	info   CollectionInfo
}

// MemoryStore keeps collections in process memory. Useful for tests and for
// running without any external service; contents are lost on exit.
type MemoryStore struct {
	collections sync.Map // projectID -> *memCollection
}

var _ VectorStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// UpsertCollection builds a private copy of chunks and publishes it with a
// single map store.
func (s *MemoryStore) UpsertCollection(_ context.Context, projectID string, chunks []*Chunk) error {
	dim, err := validateChunks(chunks)
	if err != nil {
		return err
	}

	coll := &memCollection{
		chunks: make([]*Chunk, len(chunks)),
		byPath: make(map[string]*Chunk, len(chunks)),
		info: CollectionInfo{
			ProjectID:  projectID,
			ChunkCount: len(chunks),
			Dimension:  dim,
			UpdatedAt:  time.Now().UTC(),
		},
	}
	for i, c := range chunks {
		cp := *c
		cp.ProjectID = projectID
		cp.Embedding = append([]float32(nil), c.Embedding...)
		coll.chunks[i] = &cp
		coll.byPath[cp.Path] = &cp
		coll.info.SizeBytes += ChunkSize(&cp)
	}

	s.collections.Store(projectID, coll)
	return nil
}

func (s *MemoryStore) load(projectID string) (*memCollection, error) {
	v, ok := s.collections.Load(projectID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, projectID)
	}
	return v.(*memCollection), nil
}

// Query scans the collection and ranks by cosine similarity.
func (s *MemoryStore) Query(ctx context.Context, projectID string, vector []float32, topK int) ([]*ScoredChunk, error) {
	coll, err := s.load(projectID)
	if err != nil {
		return nil, err
	}
	if len(vector) != coll.info.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), coll.info.Dimension)
	}

	results := make([]*ScoredChunk, 0, len(coll.chunks))
	for _, c := range coll.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, &ScoredChunk{
			Chunk: withoutEmbedding(c),
			Score: cosineSimilarity(vector, c.Embedding),
		})
	}
	sortScored(results)
	return truncate(results, topK), nil
}

// DeleteCollection removes the project's collection if present.
func (s *MemoryStore) DeleteCollection(_ context.Context, projectID string) error {
	s.collections.Delete(projectID)
	return nil
}

// GetChunk returns the chunk stored for path.
func (s *MemoryStore) GetChunk(_ context.Context, projectID, path string) (*Chunk, error) {
	coll, err := s.load(projectID)
	if err != nil {
		return nil, err
	}
	c, ok := coll.byPath[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, path)
	}
	return withoutEmbedding(c), nil
}

// ListPaths returns all indexed paths in lexical order.
func (s *MemoryStore) ListPaths(_ context.Context, projectID string) ([]string, error) {
	coll, err := s.load(projectID)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(coll.chunks))
	for _, c := range coll.chunks {
		paths = append(paths, c.Path)
	}
	sort.Strings(paths)
	return paths, nil
}

// CollectionInfo returns statistics of the published collection.
func (s *MemoryStore) CollectionInfo(_ context.Context, projectID string) (*CollectionInfo, error) {
	coll, err := s.load(projectID)
	if err != nil {
		return nil, err
	}
	info := coll.info
	return &info, nil
}

// Health always succeeds.
func (s *MemoryStore) Health(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
