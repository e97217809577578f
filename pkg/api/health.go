package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/minepanel/pkg/metrics"
)

// Version is reported by /health
var Version = "dev"

// readyCheckTimeout bounds the checks behind /ready
const readyCheckTimeout = 3 * time.Second

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func (s *Server) registerHealth(r chi.Router) {
	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Handle("/metrics", metrics.Handler())
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	})
}

// readyHandler implements the /ready endpoint. It checks storage and the
// container runtime, then reports every critical component.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	metrics.UpdateComponent(metrics.ComponentAPI, true, "")
	if s.manager != nil {
		_ = metrics.Check(ctx, metrics.ComponentStorage, func(ctx context.Context) error {
			_, err := s.manager.ListRecords(ctx)
			return err
		})
		_ = metrics.Check(ctx, metrics.ComponentRuntime, s.manager.Runtime().Ping)
	} else {
		metrics.UpdateComponent(metrics.ComponentStorage, false, "manager not initialized")
	}

	metrics.ReadyHandler()(w, r)
}
