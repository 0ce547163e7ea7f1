package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tanqinglian/aihelper-rag/internal/agent"
	"github.com/tanqinglian/aihelper-rag/internal/embedding"
	"github.com/tanqinglian/aihelper-rag/internal/generator"
	"github.com/tanqinglian/aihelper-rag/internal/indexer"
	"github.com/tanqinglian/aihelper-rag/internal/project"
	"github.com/tanqinglian/aihelper-rag/internal/qa"
	"github.com/tanqinglian/aihelper-rag/internal/retriever"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// errorStatuses maps domain errors to HTTP status and error code.
var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{project.ErrProjectNotFound, http.StatusNotFound, "project_not_found"},
	{storage.ErrChunkNotFound, http.StatusNotFound, "file_not_found"},
	{project.ErrConcurrentIndex, http.StatusConflict, "concurrent_index"},
	{project.ErrInvalidProject, http.StatusBadRequest, "invalid_project"},
	{indexer.ErrInvalidSourceDirectory, http.StatusBadRequest, "invalid_source_directory"},
	{retriever.ErrProjectNotIndexed, http.StatusBadRequest, "project_not_indexed"},
	{qa.ErrEmptyQuestion, http.StatusBadRequest, "empty_question"},
	{agent.ErrNoProjects, http.StatusBadRequest, "no_projects"},
	{generator.ErrGenerationFailed, http.StatusBadGateway, "generation_failed"},
	{embedding.ErrUnavailable, http.StatusServiceUnavailable, "embedding_unavailable"},
	{storage.ErrQdrantUnreachable, http.StatusServiceUnavailable, "vector_store_unavailable"},
	{project.ErrShuttingDown, http.StatusServiceUnavailable, "shutting_down"},
}

// statusFor returns the HTTP status and code for err.
func statusFor(err error) (int, string) {
	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// respondErr responds with the status mapped from err.
func respondErr(c *gin.Context, err error) {
	status, code := statusFor(err)
	RespondError(c, status, code, err)
}

func badRequest(c *gin.Context, err error) {
	RespondError(c, http.StatusBadRequest, "bad_request", err)
}
