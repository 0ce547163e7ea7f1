package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunk(path string, ordinal int, vec ...float32) *Chunk {
	return &Chunk{
		ID:        ChunkID("p1", path),
		Path:      path,
		Module:    "pages",
		Content:   "content of " + path,
		Ordinal:   ordinal,
		Embedding: vec,
	}
}

// runVectorStoreSuite exercises the VectorStore contract against any backend.
func runVectorStoreSuite(t *testing.T, newStore func(t *testing.T) VectorStore) {
	ctx := context.Background()

	t.Run("query before index", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Query(ctx, "never", []float32{1, 0}, 5)
		assert.ErrorIs(t, err, ErrCollectionNotFound)
		_, err = s.ListPaths(ctx, "never")
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})

	t.Run("ranks by cosine with ordinal ties", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertCollection(ctx, "p1", []*Chunk{
			testChunk("pages/b.js", 0, 0, 1),
			testChunk("pages/a.js", 1, 1, 0),
			testChunk("pages/c.js", 2, 2, 0), // same direction as a.js
		}))

		results, err := s.Query(ctx, "p1", []float32{1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "pages/a.js", results[0].Chunk.Path)
		assert.Equal(t, "pages/c.js", results[1].Chunk.Path)
		assert.Equal(t, "pages/b.js", results[2].Chunk.Path)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.InDelta(t, 0.0, results[2].Score, 1e-6)
		assert.Nil(t, results[0].Chunk.Embedding)

		top, err := s.Query(ctx, "p1", []float32{1, 0}, 1)
		require.NoError(t, err)
		assert.Len(t, top, 1)
	})

	t.Run("upsert replaces whole collection", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertCollection(ctx, "p1", []*Chunk{
			testChunk("pages/Login/index.jsx", 0, 1, 0),
			testChunk("pages/Old/index.jsx", 1, 0, 1),
		}))
		require.NoError(t, s.UpsertCollection(ctx, "p1", []*Chunk{
			testChunk("pages/Login/index.jsx", 0, 1, 0),
		}))

		paths, err := s.ListPaths(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, []string{"pages/Login/index.jsx"}, paths)

		_, err = s.GetChunk(ctx, "p1", "pages/Old/index.jsx")
		assert.ErrorIs(t, err, ErrChunkNotFound)

		c, err := s.GetChunk(ctx, "p1", "pages/Login/index.jsx")
		require.NoError(t, err)
		assert.Equal(t, "content of pages/Login/index.jsx", c.Content)
		assert.Equal(t, ChunkID("p1", "pages/Login/index.jsx"), c.ID)

		info, err := s.CollectionInfo(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 1, info.ChunkCount)
		assert.Equal(t, 2, info.Dimension)
	})

	t.Run("projects are isolated", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertCollection(ctx, "p1", []*Chunk{testChunk("a.js", 0, 1, 0)}))
		require.NoError(t, s.UpsertCollection(ctx, "p2", []*Chunk{testChunk("b.js", 0, 1, 0)}))

		paths, err := s.ListPaths(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, []string{"b.js"}, paths)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertCollection(ctx, "p1", []*Chunk{testChunk("a.js", 0, 1, 0)}))
		require.NoError(t, s.DeleteCollection(ctx, "p1"))
		require.NoError(t, s.DeleteCollection(ctx, "p1"))
		require.NoError(t, s.DeleteCollection(ctx, "never"))

		_, err := s.Query(ctx, "p1", []float32{1, 0}, 5)
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})

	t.Run("rejects invalid collections", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.UpsertCollection(ctx, "p1", nil), ErrEmptyCollection)
		assert.ErrorIs(t, s.UpsertCollection(ctx, "p1", []*Chunk{
			testChunk("a.js", 0, 1, 0),
			testChunk("b.js", 1, 1, 0, 0),
		}), ErrDimensionMismatch)
		assert.ErrorIs(t, s.UpsertCollection(ctx, "p1", []*Chunk{
			testChunk("a.js", 0, 1, 0),
			testChunk("a.js", 1, 0, 1),
		}), ErrDuplicatePath)

		_, err := s.CollectionInfo(ctx, "p1")
		assert.ErrorIs(t, err, ErrCollectionNotFound, "failed upserts publish nothing")
	})

	t.Run("readers see old or new collection", func(t *testing.T) {
		s := newStore(t)
		old := []*Chunk{testChunk("old/a.js", 0, 1, 0), testChunk("old/b.js", 1, 0, 1)}
		fresh := []*Chunk{testChunk("new/a.js", 0, 1, 0), testChunk("new/b.js", 1, 0, 1), testChunk("new/c.js", 2, 1, 1)}
		require.NoError(t, s.UpsertCollection(ctx, "p1", old))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				assert.NoError(t, s.UpsertCollection(ctx, "p1", fresh))
				assert.NoError(t, s.UpsertCollection(ctx, "p1", old))
			}
		}()

		for i := 0; i < 20; i++ {
			results, err := s.Query(ctx, "p1", []float32{1, 0}, 10)
			require.NoError(t, err)
			prefix := results[0].Chunk.Path[:4]
			for _, r := range results {
				assert.Equal(t, prefix, r.Chunk.Path[:4], "mixed generations")
			}
			assert.Contains(t, []int{2, 3}, len(results))
		}
		wg.Wait()
	})
}

func TestChunkID_Deterministic(t *testing.T) {
	a := ChunkID("p1", "pages/a.js")
	assert.Equal(t, a, ChunkID("p1", "pages/a.js"))
	assert.NotEqual(t, a, ChunkID("p2", "pages/a.js"))
	assert.NotEqual(t, a, ChunkID("p1", "pages/b.js"))
}

func TestChunkSize(t *testing.T) {
	assert.Equal(t, int64(5+4*3), ChunkSize(&Chunk{Content: "héll", Embedding: make([]float32, 3)}))
}
