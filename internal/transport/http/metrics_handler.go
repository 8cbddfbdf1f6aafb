package http

import (
	"net/http"

	"github.com/go-chi/render"

	apierrors "econetl/internal/errors"
)

// MetricsHandler serves the Prometheus scrape endpoint
type MetricsHandler struct {
	exporter http.Handler
}

// NewMetricsHandler wraps the exporter handler, which is nil when the
// Prometheus exporter is disabled
func NewMetricsHandler(exporter http.Handler) *MetricsHandler {
	return &MetricsHandler{exporter: exporter}
}

// ServeHTTP handles GET /metrics
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.NewWithDetails(
			http.StatusNotFound, "METRICS_DISABLED", "Prometheus exporter is not enabled", nil)))
		return
	}
	h.exporter.ServeHTTP(w, r)
}
