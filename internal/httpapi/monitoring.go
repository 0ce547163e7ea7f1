package httpapi

import (
	"context"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
)

// ModelLister reports the models a backend serves.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// HealthChecker reports whether a dependency answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Backend describes the model and vector store backends for monitoring.
// Models is nil for providers that cannot list models.
type Backend struct {
	Provider     string
	BaseURL      string
	EmbedModel   string
	LLMModel     string
	Models       ModelLister
	StoreBackend string
	Store        HealthChecker
}

type backendStatus struct {
	Provider            string       `json:"provider"`
	BaseURL             string       `json:"base_url"`
	Running             bool         `json:"running"`
	Models              []string     `json:"models,omitempty"`
	EmbedModelAvailable bool         `json:"embed_model_available"`
	LLMModelAvailable   bool         `json:"llm_model_available"`
	RequiredEmbedModel  string       `json:"required_embed_model"`
	RequiredLLMModel    string       `json:"required_llm_model"`
	Error               string       `json:"error,omitempty"`
	VectorStore         *storeStatus `json:"vector_store,omitempty"`
}

type storeStatus struct {
	Backend string `json:"backend"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

const backendCheckTimeout = 5 * time.Second

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) backend(c *gin.Context) {
	b := h.deps.Backend
	if b == nil {
		c.JSON(http.StatusOK, backendStatus{})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), backendCheckTimeout)
	defer cancel()

	status := backendStatus{
		Provider:           b.Provider,
		BaseURL:            b.BaseURL,
		RequiredEmbedModel: b.EmbedModel,
		RequiredLLMModel:   b.LLMModel,
	}
	if b.Models != nil {
		models, err := b.Models.Models(ctx)
		if err != nil {
			status.Error = err.Error()
		} else {
			status.Running = true
			status.Models = models
			status.EmbedModelAvailable = hasModel(models, b.EmbedModel)
			status.LLMModelAvailable = hasModel(models, b.LLMModel)
		}
	}
	if b.Store != nil {
		ss := &storeStatus{Backend: b.StoreBackend, Healthy: true}
		if err := b.Store.Health(ctx); err != nil {
			ss.Healthy = false
			ss.Error = err.Error()
		}
		status.VectorStore = ss
	}
	c.JSON(http.StatusOK, status)
}

// hasModel accepts the bare name for a model served under its ":latest" tag.
func hasModel(models []string, name string) bool {
	return slices.Contains(models, name) || slices.Contains(models, name+":latest")
}

type projectSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	FileCount int    `json:"file_count"`
}

func (h *handlers) stats(c *gin.Context) {
	ctx := c.Request.Context()
	s, err := h.deps.Projects.Stats(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}
	projects, err := h.deps.Projects.List(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}
	summary := make([]projectSummary, len(projects))
	for i, p := range projects {
		summary[i] = projectSummary{ID: p.ID, Name: p.Name, Status: string(p.Status), FileCount: p.FileCount}
	}
	c.JSON(http.StatusOK, gin.H{
		"total_projects":         s.Projects,
		"indexed_projects":       s.IndexedProjects,
		"indexing_projects":      s.IndexingProjects,
		"total_indexed_files":    s.TotalFiles,
		"total_index_size_bytes": s.TotalBytes,
		"projects_summary":       summary,
	})
}

func (h *handlers) validatePath(c *gin.Context) {
	path := c.Query("path")
	info, err := os.Stat(path)
	valid := path != "" && err == nil && info.IsDir()
	message := "directory exists"
	if !valid {
		message = "directory does not exist"
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "valid": valid, "message": message})
}
