// Package config loads service configuration from defaults, an optional TOML
// file, and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Provider and backend names accepted by the configuration.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
)

// ErrInvalid is returned by Validate for inconsistent settings.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration that decodes from TOML strings such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full service configuration.
type Config struct {
	Server          ServerConfig    `toml:"server"`
	Log             LogConfig       `toml:"log"`
	DataDir         string          `toml:"data_dir"`
	Embedding       EmbeddingConfig `toml:"embedding"`
	LLM             LLMConfig       `toml:"llm"`
	VectorStore     StoreConfig     `toml:"vector_store"`
	Retrieval       RetrievalConfig `toml:"retrieval"`
	ProjectDefaults ProjectDefaults `toml:"project_defaults"`
	Agent           AgentConfig     `toml:"agent"`
	GitHub          GitHubConfig    `toml:"github"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig selects the logger flavour.
type LogConfig struct {
	Mode string `toml:"mode"`
}

// EmbeddingConfig configures the embedding backend and the caller-side policies
// wrapped around it.
type EmbeddingConfig struct {
	Provider        string   `toml:"provider"`
	BaseURL         string   `toml:"base_url"`
	Model           string   `toml:"model"`
	Dimension       int      `toml:"dimension"`
	Timeout         Duration `toml:"timeout"`
	APIKey          string   `toml:"api_key"`
	RateLimit       float64  `toml:"rate_limit"`
	RetryMaxElapsed Duration `toml:"retry_max_elapsed"`
	CacheSize       int      `toml:"cache_size"`
}

// LLMConfig configures the chat model used for answers.
type LLMConfig struct {
	Provider string   `toml:"provider"`
	BaseURL  string   `toml:"base_url"`
	Model    string   `toml:"model"`
	Timeout  Duration `toml:"timeout"`
	APIKey   string   `toml:"api_key"`
}

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	Backend      string `toml:"backend"`
	QdrantHost   string `toml:"qdrant_host"`
	QdrantPort   int    `toml:"qdrant_port"`
	QdrantAPIKey string `toml:"qdrant_api_key"`
}

// RetrievalConfig holds retrieval breadth and hybrid ranking parameters.
type RetrievalConfig struct {
	TopK         int     `toml:"top_k"`
	RerankTopN   int     `toml:"rerank_top_n"`
	VectorWeight float64 `toml:"vector_weight"`
	BM25Weight   float64 `toml:"bm25_weight"`
	BM25K1       float64 `toml:"bm25_k1"`
	BM25B        float64 `toml:"bm25_b"`
}

// ProjectDefaults is applied to projects created without an explicit config.
type ProjectDefaults struct {
	Extensions   []string `toml:"extensions"`
	IgnoreDirs   []string `toml:"ignore_dirs"`
	MaxFileChars int      `toml:"max_file_chars"`
}

// AgentConfig bounds the multi-step agent.
type AgentConfig struct {
	MaxRounds int `toml:"max_rounds"`
}

// GitHubConfig configures repository imports.
type GitHubConfig struct {
	Token string `toml:"token"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8900"},
		Log:     LogConfig{Mode: "development"},
		DataDir: "data",
		Embedding: EmbeddingConfig{
			Provider:        ProviderOllama,
			BaseURL:         "http://localhost:11434",
			Model:           "bge-m3",
			Dimension:       1024,
			Timeout:         Duration{60 * time.Second},
			RetryMaxElapsed: Duration{30 * time.Second},
			CacheSize:       1000,
		},
		LLM: LLMConfig{
			Provider: ProviderOllama,
			BaseURL:  "http://localhost:11434",
			Model:    "qwen2.5-coder:14b",
			Timeout:  Duration{600 * time.Second},
		},
		VectorStore: StoreConfig{
			Backend:    BackendSQLite,
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Retrieval: RetrievalConfig{
			TopK:         50,
			RerankTopN:   8,
			VectorWeight: 0.4,
			BM25Weight:   0.6,
			BM25K1:       1.5,
			BM25B:        0.75,
		},
		ProjectDefaults: ProjectDefaults{
			Extensions:   []string{".js", ".jsx", ".ts", ".tsx", ".less", ".css", ".vue"},
			IgnoreDirs:   []string{"node_modules", ".umi", ".umi-production", "dist", ".git", "__pycache__"},
			MaxFileChars: 6000,
		},
		Agent: AgentConfig{MaxRounds: 5},
	}
}

// Load builds the configuration. path may be empty, in which case
// AIHELPER_CONFIG is consulted; a missing file named by either is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("AIHELPER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("AIHELPER_ADDR", c.Server.Addr)
	c.Log.Mode = getEnv("AIHELPER_LOG_MODE", c.Log.Mode)
	c.DataDir = getEnv("AIHELPER_DATA_DIR", c.DataDir)

	c.Embedding.Provider = getEnv("EMBED_PROVIDER", c.Embedding.Provider)
	c.Embedding.BaseURL = getEnv("EMBED_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.Model = getEnv("EMBED_MODEL", c.Embedding.Model)
	c.Embedding.Dimension = getEnvInt("EMBED_DIMENSION", c.Embedding.Dimension)
	c.Embedding.Timeout.Duration = getEnvDuration("EMBED_TIMEOUT", c.Embedding.Timeout.Duration)
	c.Embedding.RateLimit = getEnvFloat("EMBED_RATE_LIMIT", c.Embedding.RateLimit)
	c.Embedding.RetryMaxElapsed.Duration = getEnvDuration("EMBED_RETRY_MAX_ELAPSED", c.Embedding.RetryMaxElapsed.Duration)
	c.Embedding.CacheSize = getEnvInt("EMBED_CACHE_SIZE", c.Embedding.CacheSize)

	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.Timeout.Duration = getEnvDuration("LLM_TIMEOUT", c.LLM.Timeout.Duration)

	// OPENAI_API_KEY serves both backends when they point at OpenAI
	apiKey := os.Getenv("OPENAI_API_KEY")
	c.Embedding.APIKey = getEnv("EMBED_API_KEY", firstNonEmpty(c.Embedding.APIKey, apiKey))
	c.LLM.APIKey = getEnv("LLM_API_KEY", firstNonEmpty(c.LLM.APIKey, apiKey))

	c.VectorStore.Backend = getEnv("VECTOR_STORE", c.VectorStore.Backend)
	c.VectorStore.QdrantHost = getEnv("QDRANT_HOST", c.VectorStore.QdrantHost)
	c.VectorStore.QdrantPort = getEnvInt("QDRANT_PORT", c.VectorStore.QdrantPort)
	c.VectorStore.QdrantAPIKey = getEnv("QDRANT_API_KEY", c.VectorStore.QdrantAPIKey)

	c.Retrieval.TopK = getEnvInt("RETRIEVAL_TOP_K", c.Retrieval.TopK)
	c.Retrieval.RerankTopN = getEnvInt("RERANK_TOP_N", c.Retrieval.RerankTopN)
	c.Retrieval.VectorWeight = getEnvFloat("RERANK_VECTOR_WEIGHT", c.Retrieval.VectorWeight)
	c.Retrieval.BM25Weight = getEnvFloat("RERANK_BM25_WEIGHT", c.Retrieval.BM25Weight)

	c.Agent.MaxRounds = getEnvInt("AGENT_MAX_ROUNDS", c.Agent.MaxRounds)
	c.GitHub.Token = getEnv("GITHUB_TOKEN", c.GitHub.Token)
}

// Validate reports settings that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var problems []string

	switch c.Embedding.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		problems = append(problems, fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider))
	}
	switch c.LLM.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		problems = append(problems, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}
	switch c.VectorStore.Backend {
	case BackendSQLite, BackendQdrant, BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown vector store backend %q", c.VectorStore.Backend))
	}
	if c.Embedding.Dimension <= 0 {
		problems = append(problems, "embedding.dimension must be positive")
	}
	if c.Retrieval.TopK <= 0 {
		problems = append(problems, "retrieval.top_k must be positive")
	}
	if c.Retrieval.RerankTopN <= 0 {
		problems = append(problems, "retrieval.rerank_top_n must be positive")
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.BM25Weight < 0 {
		problems = append(problems, "retrieval weights must not be negative")
	}
	if c.Retrieval.VectorWeight == 0 && c.Retrieval.BM25Weight == 0 {
		problems = append(problems, "at least one retrieval weight must be positive")
	}
	if c.ProjectDefaults.MaxFileChars <= 0 {
		problems = append(problems, "project_defaults.max_file_chars must be positive")
	}
	if c.Agent.MaxRounds <= 0 {
		problems = append(problems, "agent.max_rounds must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// DatabasePath is the SQLite file shared by the project registry and the
// local vector store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "aihelper.db")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
