//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// setupTestStorage connects to a local Qdrant. Skips test if Qdrant is not running.
func setupTestStorage(t *testing.T) *QdrantStorage {
	t.Helper()
	storage, err := NewQdrantStorage(context.Background(), QdrantConfig{
		Host:   "localhost",
		Port:   6334,
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

// qdrantProject wraps a store so each subtest works under a unique project
// prefix and cleans up after itself.
type qdrantProject struct {
	*QdrantStorage
	prefix string
}

func (q *qdrantProject) id(projectID string) string { return q.prefix + projectID }

func (q *qdrantProject) UpsertCollection(ctx context.Context, projectID string, chunks []*Chunk) error {
	return q.QdrantStorage.UpsertCollection(ctx, q.id(projectID), chunks)
}

func (q *qdrantProject) Query(ctx context.Context, projectID string, vector []float32, topK int) ([]*ScoredChunk, error) {
	return q.QdrantStorage.Query(ctx, q.id(projectID), vector, topK)
}

func (q *qdrantProject) DeleteCollection(ctx context.Context, projectID string) error {
	return q.QdrantStorage.DeleteCollection(ctx, q.id(projectID))
}

func (q *qdrantProject) GetChunk(ctx context.Context, projectID, path string) (*Chunk, error) {
	return q.QdrantStorage.GetChunk(ctx, q.id(projectID), path)
}

func (q *qdrantProject) ListPaths(ctx context.Context, projectID string) ([]string, error) {
	return q.QdrantStorage.ListPaths(ctx, q.id(projectID))
}

func (q *qdrantProject) CollectionInfo(ctx context.Context, projectID string) (*CollectionInfo, error) {
	return q.QdrantStorage.CollectionInfo(ctx, q.id(projectID))
}

func TestQdrantStorage(t *testing.T) {
	storage := setupTestStorage(t)

	runVectorStoreSuite(t, func(t *testing.T) VectorStore {
		q := &qdrantProject{QdrantStorage: storage, prefix: uuid.NewString()[:8] + "_"}
		t.Cleanup(func() {
			ctx := context.Background()
			for _, p := range []string{"p1", "p2"} {
				_ = q.DeleteCollection(ctx, p)
			}
		})
		return q
	})
}

func TestQdrantStorage_SwapDropsOldGeneration(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	project := "swap" + uuid.NewString()[:8]
	defer storage.DeleteCollection(ctx, project)

	for i := 0; i < 2; i++ {
		require.NoError(t, storage.UpsertCollection(ctx, project, []*Chunk{testChunk("a.js", 0, 1, 0)}))
	}

	names, err := storage.client.ListCollections(ctx)
	require.NoError(t, err)

	var generations int
	for _, n := range names {
		if len(n) > len(aliasName(project)) && n[:len(aliasName(project))+1] == aliasName(project)+"_" {
			generations++
		}
	}
	assert.Equal(t, 1, generations)
}

func TestQdrantStorage_TiesAtTopKKeepInsertionOrder(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	project := "ties" + uuid.NewString()[:8]
	defer storage.DeleteCollection(ctx, project)

	chunks := make([]*Chunk, 0, 3*tieSlack)
	for i := range 3 * tieSlack {
		chunks = append(chunks, testChunk(fmt.Sprintf("f%02d.js", i), i, 1, 0))
	}
	require.NoError(t, storage.UpsertCollection(ctx, project, chunks))

	got, err := storage.Query(ctx, project, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, i, r.Chunk.Ordinal)
	}
}
