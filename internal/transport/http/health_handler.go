package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"econetl/internal/infrastructure"
	"econetl/internal/operations"
)

// HealthHandler reports service liveness
type HealthHandler struct {
	runs    *operations.RunStore
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(runs *operations.RunStore, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		runs:    runs,
		started: time.Now(),
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	ActiveRun string    `json:"active_run,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   infrastructure.ServiceVersion,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
	if id, ok := h.runs.Active(); ok {
		resp.ActiveRun = id
	}
	render.JSON(w, r, resp)
}
