package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tanqinglian/aihelper-rag/internal/agent"
	"github.com/tanqinglian/aihelper-rag/internal/qa"
)

type askRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	Question  string `json:"question" binding:"required"`
}

type agentAskRequest struct {
	Question   string   `json:"question" binding:"required"`
	ProjectIDs []string `json:"project_ids"`
	MaxRounds  int      `json:"max_rounds"`
}

func (h *handlers) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	answer, err := h.deps.QA.Ask(c.Request.Context(), req.ProjectID, req.Question)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// askStream answers as SSE. Failures before the first event get a plain
// error status; later failures arrive as an error frame.
func (h *handlers) askStream(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sse := newSSEWriter(c)
	err := h.deps.QA.AskStream(c.Request.Context(), req.ProjectID, req.Question, func(e qa.Event) error {
		if e.Type == qa.EventError && !sse.started {
			return nil
		}
		return sse.write(e)
	})
	if err != nil && !sse.started {
		respondErr(c, err)
		return
	}
	if err != nil && c.Request.Context().Err() == nil {
		h.logger.Warn("Answer stream failed", zap.String("project", req.ProjectID), zap.Error(err))
	}
}

func (h *handlers) agentAsk(c *gin.Context) {
	if h.deps.Agent == nil {
		RespondError(c, http.StatusServiceUnavailable, "agent_disabled", errors.New("agent is not configured"))
		return
	}
	var req agentAskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	projectIDs := req.ProjectIDs
	if len(projectIDs) == 0 {
		all, err := h.deps.Projects.List(ctx)
		if err != nil {
			respondErr(c, err)
			return
		}
		for _, p := range all {
			if p.Queryable() {
				projectIDs = append(projectIDs, p.ID)
			}
		}
	} else {
		for _, id := range projectIDs {
			if _, err := h.deps.Projects.Get(ctx, id); err != nil {
				respondErr(c, err)
				return
			}
		}
	}

	sse := newSSEWriter(c)
	err := h.deps.Agent(req.MaxRounds).Run(ctx, projectIDs, req.Question, func(s agent.Step) error {
		return sse.write(frame{Type: string(s.Type), Data: s})
	})
	if err != nil && !sse.started {
		respondErr(c, err)
	}
}
