// Package app wires the configured components into a running service.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tanqinglian/aihelper-rag/internal/agent"
	"github.com/tanqinglian/aihelper-rag/internal/config"
	"github.com/tanqinglian/aihelper-rag/internal/embedding"
	"github.com/tanqinglian/aihelper-rag/internal/generator"
	"github.com/tanqinglian/aihelper-rag/internal/httpapi"
	"github.com/tanqinglian/aihelper-rag/internal/indexer"
	"github.com/tanqinglian/aihelper-rag/internal/logging"
	"github.com/tanqinglian/aihelper-rag/internal/project"
	"github.com/tanqinglian/aihelper-rag/internal/qa"
	"github.com/tanqinglian/aihelper-rag/internal/rerank"
	"github.com/tanqinglian/aihelper-rag/internal/retriever"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

// App holds the wired services. Close releases them.
type App struct {
	Cfg      *config.Config
	Log      *zap.Logger
	Store    storage.VectorStore
	Projects *project.Manager
	QA       *qa.Service
	Agent    *agent.Agent
	Backend  *httpapi.Backend

	// Models is set when the embedding provider can list its models.
	Models httpapi.ModelLister

	db *sql.DB
}

// New builds every component described by cfg. Interrupted jobs from a
// previous run are recovered before New returns.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	a := &App{Cfg: cfg, Log: logger}

	registry, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	base, err := newEmbedder(cfg.Embedding)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	if lister, ok := base.(httpapi.ModelLister); ok {
		a.Models = lister
	}
	indexEmbedder := embedding.NewRetrying(
		embedding.NewRateLimited(base, cfg.Embedding.RateLimit),
		cfg.Embedding.RetryMaxElapsed.Duration,
	)
	queryEmbedder := embedding.NewCached(
		embedding.NewRetrying(base, cfg.Embedding.RetryMaxElapsed.Duration),
		cfg.Embedding.CacheSize,
	)

	chat, err := newChatModel(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init chat model: %w", err)
	}

	ix := indexer.New(indexEmbedder, a.Store, logger.Named("indexer"))
	defaults := project.Config{
		Extensions:   cfg.ProjectDefaults.Extensions,
		IgnoreDirs:   cfg.ProjectDefaults.IgnoreDirs,
		MaxFileChars: cfg.ProjectDefaults.MaxFileChars,
	}
	a.Projects, err = project.NewManager(ctx, registry, ix, a.Store, defaults, logger.Named("projects"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init project manager: %w", err)
	}

	rr := rerank.New()
	rr.VectorWeight = cfg.Retrieval.VectorWeight
	rr.BM25Weight = cfg.Retrieval.BM25Weight
	if cfg.Retrieval.BM25K1 > 0 {
		rr.K1 = cfg.Retrieval.BM25K1
	}
	if cfg.Retrieval.BM25B > 0 {
		rr.B = cfg.Retrieval.BM25B
	}

	a.QA = qa.NewService(
		a.Projects,
		retriever.New(queryEmbedder, a.Store),
		rr,
		generator.New(chat),
		qa.Options{TopK: cfg.Retrieval.TopK, TopN: cfg.Retrieval.RerankTopN},
		logger.Named("qa"),
	)
	a.Agent = agent.New(a.QA, a.Store, chat, cfg.Agent.MaxRounds, logger.Named("agent"))

	a.Backend = &httpapi.Backend{
		Provider:     cfg.Embedding.Provider,
		BaseURL:      cfg.Embedding.BaseURL,
		EmbedModel:   cfg.Embedding.Model,
		LLMModel:     cfg.LLM.Model,
		Models:       a.Models,
		StoreBackend: cfg.VectorStore.Backend,
		Store:        a.Store,
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) (project.Registry, error) {
	cfg := a.Cfg
	switch cfg.VectorStore.Backend {
	case config.BackendMemory:
		a.Store = storage.NewMemoryStore()
		return project.NewMemoryRegistry(), nil

	case config.BackendQdrant:
		db, registry, err := a.openRegistry(ctx)
		if err != nil {
			return nil, err
		}
		a.db = db
		store, err := storage.NewQdrantStorage(ctx, storage.QdrantConfig{
			Host:   cfg.VectorStore.QdrantHost,
			Port:   cfg.VectorStore.QdrantPort,
			APIKey: cfg.VectorStore.QdrantAPIKey,
			Logger: a.Log.Named("qdrant"),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init qdrant: %w", err)
		}
		a.Store = store
		return registry, nil

	default:
		db, registry, err := a.openRegistry(ctx)
		if err != nil {
			return nil, err
		}
		a.db = db
		store, err := storage.NewSQLiteStore(ctx, db)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		a.Store = store
		return registry, nil
	}
}

func (a *App) openRegistry(ctx context.Context) (*sql.DB, *project.SQLiteRegistry, error) {
	if err := os.MkdirAll(a.Cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.OpenSQLite(a.Cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	registry, err := project.NewSQLiteRegistry(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init project registry: %w", err)
	}
	return db, registry, nil
}

func newEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return embedding.NewOpenAIClient(embedding.OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout.Duration,
		})
	default:
		return embedding.NewOllamaClient(embedding.OllamaConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout.Duration,
		}), nil
	}
}

func newChatModel(cfg config.LLMConfig) (generator.ChatModel, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return generator.NewOpenAIChat(generator.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout.Duration,
		})
	default:
		return generator.NewOllamaChat(generator.OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout.Duration,
		}), nil
	}
}

// Shutdown waits for running index jobs to stop.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Projects == nil {
		return nil
	}
	return a.Projects.Shutdown(ctx)
}

// Close releases the store and database. Call Shutdown first.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
