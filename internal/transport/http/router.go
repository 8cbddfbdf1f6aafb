package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/trace"

	"econetl/internal/middleware"
)

// RouterDeps are the handlers and settings the router is assembled from
type RouterDeps struct {
	Health         *HealthHandler
	Reports        *ReportHandler
	Runs           *RunsHandler
	Metrics        *MetricsHandler
	Tracer         trace.Tracer
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter assembles the serve mode routes
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if deps.Tracer != nil {
		r.Use(middleware.Tracing(deps.Tracer))
	}
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", deps.Health.HealthCheck)
	r.Method(http.MethodGet, "/metrics", deps.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		if deps.RequestTimeout > 0 {
			r.Use(middleware.Timeout(deps.RequestTimeout))
		}
		r.Mount("/report", deps.Reports.Routes())
		r.Mount("/runs", deps.Runs.Routes())
	})

	return r
}
