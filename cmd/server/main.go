// Package main provides the HTTP and MCP server for the code assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tanqinglian/aihelper-rag/internal/app"
	"github.com/tanqinglian/aihelper-rag/internal/config"
	"github.com/tanqinglian/aihelper-rag/internal/httpapi"
	"github.com/tanqinglian/aihelper-rag/internal/logging"
	mcpserver "github.com/tanqinglian/aihelper-rag/internal/mcp"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 15 * time.Second
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	configPath := flag.String("config", os.Getenv("AIHELPER_CONFIG"), "path to a TOML config file")
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout; HTTP keeps running in the background")
	flag.Parse()

	if err := run(*configPath, *stdio); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(1)
	}
}

func run(configPath string, stdio bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if cfg.Log.Mode == "production" || cfg.Log.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	if stdio {
		// stdout belongs to the MCP transport
		gin.DefaultWriter = os.Stderr
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := mcpserver.NewServer(&mcpserver.Config{
		Projects: a.Projects,
		QA:       a.QA,
		Store:    a.Store,
		Version:  version,
		Logger:   logger.Named("mcp"),
	})

	router := httpapi.NewRouter(httpapi.Deps{
		Projects: a.Projects,
		QA:       a.QA,
		Agent: func(maxRounds int) httpapi.AgentRunner {
			if maxRounds <= 0 {
				return a.Agent
			}
			return a.Agent.WithMaxRounds(maxRounds)
		},
		Backend: a.Backend,
		Logger:  logger.Named("http"),
	})
	router.Any("/mcp", gin.WrapH(mcpserver.NewHTTPHandler(mcpSrv, &mcpserver.HTTPHandlerOptions{Stateless: true})))
	router.GET("/mcp/health", gin.WrapF(mcpserver.NewHealthHandler(a.Store, cfg.VectorStore.Backend)))

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("store", cfg.VectorStore.Backend),
			zap.String("embedding", cfg.Embedding.Provider+"/"+cfg.Embedding.Model),
			zap.String("llm", cfg.LLM.Provider+"/"+cfg.LLM.Model))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if stdio {
		g.Go(func() error {
			logger.Info("starting MCP server (stdio mode)")
			err := mcpSrv.Run(gctx)
			// stdin closed means the client went away
			cancel()
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return shutdown(shutdownCtx, a, httpSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops index jobs before the HTTP server. Index progress streams
// only end with their job, so the server cannot drain while jobs run.
func shutdown(ctx context.Context, jobs, srv shutdowner) error {
	jobsErr := jobs.Shutdown(ctx)
	return errors.Join(jobsErr, srv.Shutdown(ctx))
}
