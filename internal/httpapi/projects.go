package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tanqinglian/aihelper-rag/internal/indexer"
	"github.com/tanqinglian/aihelper-rag/internal/project"
)

func (h *handlers) listProjects(c *gin.Context) {
	projects, err := h.deps.Projects.List(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if projects == nil {
		projects = []*project.Project{}
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (h *handlers) createProject(c *gin.Context) {
	var req project.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.deps.Projects.Create(c.Request.Context(), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *handlers) getProject(c *gin.Context) {
	p, err := h.deps.Projects.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) updateProject(c *gin.Context) {
	var req project.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.deps.Projects.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) deleteProject(c *gin.Context) {
	id := c.Param("id")
	if err := h.deps.Projects.Delete(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// indexProject starts a job and streams its events. The job keeps running
// if the client disconnects.
func (h *handlers) indexProject(c *gin.Context) {
	id := c.Param("id")
	job, err := h.deps.Projects.StartIndex(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}

	sse := newSSEWriter(c)
	err = job.Watch(c.Request.Context(), func(e indexer.Event) error {
		return sse.write(e)
	})
	if err != nil && !errors.Is(err, c.Request.Context().Err()) {
		h.logger.Warn("Index event stream ended", zap.String("project", id), zap.Error(err))
	}
}
