// Package httpapi exposes projects, indexing and question answering over
// HTTP with server-sent event streams.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tanqinglian/aihelper-rag/internal/agent"
	"github.com/tanqinglian/aihelper-rag/internal/project"
	"github.com/tanqinglian/aihelper-rag/internal/qa"
)

// Projects is the project manager surface used by the API.
type Projects interface {
	Create(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	Get(ctx context.Context, id string) (*project.Project, error)
	List(ctx context.Context) ([]*project.Project, error)
	Update(ctx context.Context, id string, req project.UpdateRequest) (*project.Project, error)
	Delete(ctx context.Context, id string) error
	StartIndex(ctx context.Context, id string) (*project.Job, error)
	Stats(ctx context.Context) (*project.Stats, error)
}

// Answerer answers questions. Implemented by *qa.Service.
type Answerer interface {
	Ask(ctx context.Context, projectID, question string) (*qa.Answer, error)
	AskStream(ctx context.Context, projectID, question string, emit func(qa.Event) error) error
}

// AgentRunner runs multi-step questions. Implemented by *agent.Agent.
type AgentRunner interface {
	Run(ctx context.Context, projectIDs []string, question string, emit func(agent.Step) error) error
}

// Deps are the services behind the routes. Agent builds a runner with the
// requested round limit; without it /agent/ask answers 503.
type Deps struct {
	Projects Projects
	QA       Answerer
	Agent    func(maxRounds int) AgentRunner
	Backend  *Backend
	Logger   *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handlers{deps: deps, logger: deps.Logger}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(deps.Logger))

	router.GET("/health", h.health)
	router.GET("/validate-path", h.validatePath)

	projects := router.Group("/projects")
	{
		projects.GET("", h.listProjects)
		projects.POST("", h.createProject)
		projects.GET("/:id", h.getProject)
		projects.PUT("/:id", h.updateProject)
		projects.DELETE("/:id", h.deleteProject)
		projects.POST("/:id/index", h.indexProject)
	}

	router.POST("/ask", h.ask)
	router.POST("/ask/stream", h.askStream)
	router.POST("/agent/ask", h.agentAsk)

	monitoring := router.Group("/monitoring")
	{
		monitoring.GET("/backend", h.backend)
		monitoring.GET("/stats", h.stats)
	}

	return router
}

type handlers struct {
	deps   Deps
	logger *zap.Logger
}
