package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "econetl/internal/errors"
	"econetl/internal/infrastructure"
	"econetl/internal/operations"
	"econetl/pkg/contracts/domain"
)

// Runner executes one pipeline run under the given ID
type Runner interface {
	RunWithID(ctx context.Context, runID string) (*domain.ExecutionReport, error)
	// Progress reports the stage states of a run still executing
	Progress(runID string) ([]domain.StageReport, bool)
}

// RunsHandler starts pipeline runs on demand. At most one run is active; runs
// execute in the background under the server's base context.
type RunsHandler struct {
	runner Runner
	runs   *operations.RunStore
	base   context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewRunsHandler creates a runs handler. Cancelling base cancels active runs.
func NewRunsHandler(base context.Context, runner Runner, runs *operations.RunStore, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{
		runner: runner,
		runs:   runs,
		base:   base,
		logger: logger.With(slog.String("handler", "runs")),
		now:    time.Now,
	}
}

// RunResponse describes a run that was accepted or is still running
type RunResponse struct {
	RunID  string               `json:"run_id"`
	Status string               `json:"status"`
	Stages []domain.StageReport `json:"stages,omitempty"`
}

// Routes returns the run routes
func (h *RunsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.StartRun)
	r.Get("/{runID}", h.GetRun)
	return r
}

// StartRun handles POST /api/runs
func (h *RunsHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	runID := infrastructure.GenerateRunID(h.now())
	if err := h.runs.Begin(runID); err != nil {
		if errors.Is(err, operations.ErrRunInProgress) {
			active, _ := h.runs.Active()
			render.Render(w, r, apierrors.NewErrorResponse(apierrors.NewWithDetails(
				http.StatusConflict, apierrors.ErrRunInProgress.ErrorCode, apierrors.ErrRunInProgress.Message,
				map[string]string{"active_run": active})))
			return
		}
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.FromError(err)))
		return
	}

	ctx := infrastructure.WithTraceID(h.base, infrastructure.GetTraceID(r.Context()))
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		report, err := h.runner.RunWithID(ctx, runID)
		if err != nil {
			infrastructure.WithError(h.logger, err).ErrorContext(ctx, "run_failed", slog.String("run_id", runID))
		}
		h.runs.Finish(runID, report)
	}()

	h.logger.InfoContext(r.Context(), "run_accepted", slog.String("run_id", runID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, RunResponse{RunID: runID, Status: "running"})
}

// GetRun handles GET /api/runs/{runID}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if active, ok := h.runs.Active(); ok && active == runID {
		stages, _ := h.runner.Progress(runID)
		render.JSON(w, r, RunResponse{RunID: runID, Status: "running", Stages: stages})
		return
	}
	report, ok := h.runs.Get(runID)
	if !ok {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrNotFound))
		return
	}
	render.JSON(w, r, report)
}

// Wait blocks until every background run has finished
func (h *RunsHandler) Wait() {
	h.wg.Wait()
}
