package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"econetl/internal/config"
	apierrors "econetl/internal/errors"
	"econetl/internal/files"
	"econetl/internal/operations"
	"econetl/pkg/contracts/domain"
)

// ReportHandler serves execution reports
type ReportHandler struct {
	runs      *operations.RunStore
	discovery *files.Discovery
	logger    *slog.Logger
}

// NewReportHandler creates a report handler. Reports of earlier processes
// are found in the gold layer through discovery.
func NewReportHandler(runs *operations.RunStore, discovery *files.Discovery, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		runs:      runs,
		discovery: discovery,
		logger:    logger.With(slog.String("handler", "report")),
	}
}

// Routes returns the report routes
func (h *ReportHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/latest", h.GetLatest)
	return r
}

// GetLatest handles GET /api/report/latest
func (h *ReportHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.runs.Latest(); ok {
		render.JSON(w, r, report)
		return
	}

	if h.discovery == nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrNoReport))
		return
	}
	latest, ok, err := h.discovery.FindLatest(config.LayerGold, files.ReportPrefix, ".json")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "report_discovery_failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrNoReport))
		return
	}

	var report domain.ExecutionReport
	if err := files.ReadJSON(latest.Path, &report); err != nil {
		h.logger.ErrorContext(r.Context(), "report_read_failed",
			slog.String("path", latest.Path),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}
	render.JSON(w, r, &report)
}
