package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Chunk is one indexed source file of a project together with its embedding.
type Chunk struct {
	ID        string // deterministic, see ChunkID
	ProjectID string
	Path      string // relative to the project source dir, forward slashes
	Module    string // first path segment
	SubModule string // second path segment, empty for root-level files
	Content   string // possibly truncated file text
	Ordinal   int    // insertion order within the collection
	Embedding []float32
}

// ScoredChunk pairs a chunk with its cosine similarity to a query vector.
type ScoredChunk struct {
	Chunk *Chunk
	Score float64
}

// CollectionInfo describes the published collection of a project.
type CollectionInfo struct {
	ProjectID  string
	ChunkCount int
	Dimension  int
	SizeBytes  int64 // zero when the backend does not track it
	UpdatedAt  time.Time
}

// VectorStore persists one collection of chunks per project.
//
// UpsertCollection replaces a project's collection as a whole: concurrent
// readers see either the previous collection or the new one, never a mix.
// Chunks returned by Query, GetChunk and ListPaths carry no embedding.
type VectorStore interface {
	UpsertCollection(ctx context.Context, projectID string, chunks []*Chunk) error
	// Query returns at most topK chunks by descending cosine similarity,
	// ties broken by ordinal.
	Query(ctx context.Context, projectID string, vector []float32, topK int) ([]*ScoredChunk, error)
	// DeleteCollection is a no-op for projects that were never indexed.
	DeleteCollection(ctx context.Context, projectID string) error
	GetChunk(ctx context.Context, projectID, path string) (*Chunk, error)
	ListPaths(ctx context.Context, projectID string) ([]string, error)
	CollectionInfo(ctx context.Context, projectID string) (*CollectionInfo, error)
	Health(ctx context.Context) error
	Close() error
}

// chunkNamespace scopes deterministic chunk IDs.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("aihelper-rag/chunk"))

// ChunkID derives a stable UUID from project and path, so re-indexing the
// same tree yields the same IDs.
func ChunkID(projectID, path string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(projectID+"/"+path)).String()
}

// ChunkSize is the storage footprint attributed to a chunk: content bytes
// plus four bytes per embedding component.
func ChunkSize(c *Chunk) int64 {
	return int64(len(c.Content)) + 4*int64(len(c.Embedding))
}
