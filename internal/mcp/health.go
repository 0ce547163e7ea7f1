package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	VectorStore string `json:"vector_store"`
	Backend     string `json:"backend"`
	Timestamp   string `json:"timestamp"`
}

// HealthChecker interface defines the health check dependency.
// Every storage.VectorStore implements it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// It checks the vector store and answers 503 when it is unreachable.
func NewHealthHandler(store HealthChecker, backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Backend:   backend,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusOK
		if err := store.Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.VectorStore = "disconnected"
			status = http.StatusServiceUnavailable
		} else {
			response.Status = "healthy"
			response.VectorStore = "connected"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}
}
