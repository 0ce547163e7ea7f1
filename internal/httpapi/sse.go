package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// frame is the JSON body of one SSE data line.
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// sseWriter writes "data: {...}\n\n" frames. Headers are sent with the first
// frame, so a handler can still answer with a plain error status before that.
type sseWriter struct {
	c       *gin.Context
	started bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (s *sseWriter) start() {
	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
	s.started = true
}

// write sends one frame of v, which must marshal to {"type":..., "data":...}.
// It fails once the client is gone.
func (s *sseWriter) write(v any) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	if !s.started {
		s.start()
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", body); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}
