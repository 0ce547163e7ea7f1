package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanqinglian/aihelper-rag/internal/config"
	"github.com/tanqinglian/aihelper-rag/internal/project"
)

func TestNew_MemoryBackend(t *testing.T) {
	cfg := config.Default()
	cfg.VectorStore.Backend = config.BackendMemory

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Projects)
	assert.NotNil(t, a.QA)
	assert.NotNil(t, a.Agent)
	assert.NotNil(t, a.Models, "ollama lists its models")
	assert.Equal(t, config.BackendMemory, a.Backend.StoreBackend)

	p, err := a.Projects.Create(context.Background(), project.CreateRequest{Name: "demo", SourceDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, cfg.ProjectDefaults.MaxFileChars, p.Config.MaxFileChars)

	require.NoError(t, a.Shutdown(context.Background()))
}

func TestNew_SQLiteBackendPersistsProjects(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	ctx := context.Background()

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	created, err := a.Projects.Create(ctx, project.CreateRequest{Name: "demo", SourceDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Close())

	reopened, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Projects.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
}

func TestNew_OpenAIWithoutKeyFails(t *testing.T) {
	cfg := config.Default()
	cfg.VectorStore.Backend = config.BackendMemory
	cfg.Embedding.Provider = config.ProviderOpenAI
	cfg.Embedding.APIKey = ""
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}
