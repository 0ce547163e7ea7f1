package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tanqinglian/aihelper-rag/internal/project"
	"github.com/tanqinglian/aihelper-rag/internal/qa"
	"github.com/tanqinglian/aihelper-rag/internal/retriever"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

// Projects reads project records and running jobs. Implemented by *project.Manager.
type Projects interface {
	Get(ctx context.Context, id string) (*project.Project, error)
	List(ctx context.Context) ([]*project.Project, error)
	Job(id string) (*project.Job, bool)
}

// Answerer searches and answers. Implemented by *qa.Service.
type Answerer interface {
	Search(ctx context.Context, projectID, query string, topN int) ([]retriever.Candidate, error)
	Ask(ctx context.Context, projectID, question string) (*qa.Answer, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	logger *zap.Logger
}

// Config holds server dependencies.
type Config struct {
	Projects Projects
	QA       Answerer
	Store    storage.VectorStore
	Version  string
	Logger   *zap.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "aihelper-rag", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_projects",
		Description: "List the registered code projects with their index status. Use a project id from here in the other tools.",
	}, makeListProjectsHandler(cfg.Projects))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_code",
		Description: "Search a project's source files with hybrid semantic and keyword ranking. Returns file paths and previews. Use fetch_file for full content.",
	}, makeSearchHandler(cfg.QA))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_code",
		Description: "Answer a question about a project's code base, grounded in its most relevant files.",
	}, makeAskHandler(cfg.QA))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_file",
		Description: "Retrieve an indexed source file of a project by path.",
	}, makeFetchHandler(cfg.Store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_files",
		Description: "List all indexed file paths of a project.",
	}, makeListHandler(cfg.Store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Get the index status of a project: state, file and chunk counts, last index time and the progress of a running job.",
	}, makeStatusHandler(cfg.Projects, cfg.Store))

	return &Server{server: server, logger: logger}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
