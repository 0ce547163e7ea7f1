package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AIHELPER_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Retrieval.TopK)
	assert.Equal(t, 8, cfg.Retrieval.RerankTopN)
	assert.InDelta(t, 0.4, cfg.Retrieval.VectorWeight, 1e-9)
	assert.InDelta(t, 0.6, cfg.Retrieval.BM25Weight, 1e-9)
	assert.Equal(t, 6000, cfg.ProjectDefaults.MaxFileChars)
	assert.Contains(t, cfg.ProjectDefaults.IgnoreDirs, "node_modules")
	assert.Equal(t, BackendSQLite, cfg.VectorStore.Backend)
	assert.Equal(t, filepath.Join("data", "aihelper.db"), cfg.DatabasePath())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aihelper.toml")
	content := `
data_dir = "/var/lib/aihelper"

[embedding]
provider = "openai"
model = "text-embedding-3-small"
dimension = 1536
timeout = "5s"

[retrieval]
top_k = 20
rerank_top_n = 4

[project_defaults]
extensions = [".go"]
max_file_chars = 100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("RETRIEVAL_TOP_K", "30")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/aihelper", cfg.DataDir)
	assert.Equal(t, ProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout.Duration)
	assert.Equal(t, 30, cfg.Retrieval.TopK, "env overrides file")
	assert.Equal(t, 4, cfg.Retrieval.RerankTopN)
	assert.Equal(t, []string{".go"}, cfg.ProjectDefaults.Extensions)
	assert.Equal(t, 100, cfg.ProjectDefaults.MaxFileChars)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "bogus" }},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "lancedb" }},
		{"zero top k", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"negative weight", func(c *Config) { c.Retrieval.VectorWeight = -1 }},
		{"both weights zero", func(c *Config) { c.Retrieval.VectorWeight, c.Retrieval.BM25Weight = 0, 0 }},
		{"zero max chars", func(c *Config) { c.ProjectDefaults.MaxFileChars = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	assert.NoError(t, Default().Validate())
}
