// Package main provides the aihelper CLI for managing and querying project indexes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tanqinglian/aihelper-rag/internal/app"
	"github.com/tanqinglian/aihelper-rag/internal/config"
	"github.com/tanqinglian/aihelper-rag/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "aihelper",
	Short: "Local code question-answering tool",
	Long: `CLI tool for indexing source trees and asking questions about them.

Commands share the data directory with the server, so projects created here
are visible to the HTTP API and MCP tools and vice versa.

Environment variables:
  AIHELPER_CONFIG    Path to a TOML config file
  AIHELPER_DATA_DIR  Directory holding the project and vector database
  EMBED_PROVIDER     ollama or openai (default: ollama)
  LLM_PROVIDER       ollama or openai (default: ollama)
  OPENAI_API_KEY     OpenAI API key (required for the openai provider)
  GITHUB_TOKEN       GitHub token for higher rate limits (optional)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("AIHELPER_CONFIG"), "path to a TOML config file")
	rootCmd.AddCommand(projectCmd, indexCmd, watchCmd, askCmd, searchCmd, agentCmd, importCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// openApp wires the services for one command. The returned close func waits
// for running jobs before releasing the database.
func openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		_ = a.Shutdown(context.Background())
		_ = a.Close()
	}
	return a, closeFn, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
