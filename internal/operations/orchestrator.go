package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"econetl/internal/config"
	"econetl/internal/extractors"
	"econetl/internal/files"
	"econetl/internal/infrastructure"
	"econetl/internal/transform"
	"econetl/internal/warehouse"
	"econetl/pkg/contracts/domain"
)

// Dependencies are the collaborators an Orchestrator drives
type Dependencies struct {
	Extractors []extractors.Extractor
	Params     extractors.Params
	Silver     transform.Transformer
	Gold       transform.Transformer
	Loader     Loader
	Store      *files.Manager
	Tracer     *OperationTracer
}

// Orchestrator runs the extract, silver, gold and load stages and reports
type Orchestrator struct {
	cfg    *config.Config
	deps   Dependencies
	engine *Config
	logger *slog.Logger
	now    func() time.Time
	closer func() error

	mu     sync.Mutex
	active map[string]activeRun
}

// activeRun is the engine of a run in progress and its stage order
type activeRun struct {
	manager *Manager
	order   []string
}

// NewOrchestrator creates an orchestrator over explicit dependencies
func NewOrchestrator(cfg *config.Config, deps Dependencies, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		engine: FromPipelineConfig(cfg.Pipeline),
		logger: infrastructure.WithComponent(logger, "orchestrator"),
		now:    time.Now,
		active: make(map[string]activeRun),
	}
}

// NewFromConfig wires the production collaborators described by cfg
func NewFromConfig(ctx context.Context, cfg *config.Config, tracer *OperationTracer, logger *slog.Logger) (*Orchestrator, error) {
	store := files.NewManager(cfg.DataPaths, logger)
	if err := store.EnsureLayers(); err != nil {
		return nil, err
	}

	exs, err := extractors.New(cfg, store, logger)
	if err != nil {
		return nil, err
	}

	wh, err := warehouse.Open(ctx, cfg.Warehouse, logger)
	if err != nil {
		return nil, err
	}

	o := NewOrchestrator(cfg, Dependencies{
		Extractors: exs,
		Silver:     transform.NewBronzeToSilver(cfg.Transform, store, logger),
		Gold:       transform.NewSilverToGold(cfg.Transform, store, logger),
		Loader:     warehouse.NewLoader(wh, cfg.Warehouse, logger),
		Store:      store,
		Tracer:     tracer,
	}, logger)
	o.closer = wh.Close
	return o, nil
}

// Close releases the warehouse connection
func (o *Orchestrator) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer()
}

// Run executes one pipeline run under a fresh run ID
func (o *Orchestrator) Run(ctx context.Context) (*domain.ExecutionReport, error) {
	return o.RunWithID(ctx, infrastructure.GenerateRunID(o.now()))
}

// RunWithID executes one pipeline run. The report is always returned; err is
// non-nil exactly when the run failed.
func (o *Orchestrator) RunWithID(ctx context.Context, runID string) (*domain.ExecutionReport, error) {
	ctx = infrastructure.WithRunID(infrastructure.EnsureTraceID(ctx), runID)
	start := o.now()

	collector := NewCollector(start, o.deps.Tracer.Metrics())
	registry := o.registry(collector)
	manager := NewManager(registry, o.engine, o.logger)
	manager.SetTracer(o.deps.Tracer)

	o.track(runID, manager, registry)
	defer o.untrack(runID)

	o.logger.InfoContext(ctx, "pipeline_start",
		slog.Int("sources", len(o.deps.Extractors)),
		slog.Int("max_workers", o.engine.MaxConcurrency))

	resp, state, runErr := manager.Execute(ctx, OperationRequest{ID: runID})
	if runErr != nil {
		collector.AddError(fmt.Sprintf("pipeline: %v", runErr))
	}

	report := collector.Report(runID, o.now())
	missing := state.FailedSources()
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	if missing != nil {
		report.MissingSources = missing
	}
	report.Stages = state.StageReports(resp.Order)
	if gold, ok := state.GetContext(ContextKeyGoldArtifact); ok {
		report.GoldArtifact, _ = gold.(string)
	}
	report.PipelineStatus = PipelineStatus(runErr, state.HasFailures(), report.MissingSources, report.Metrics.Errors)

	o.persist(ctx, report)

	duration := report.Metrics.EndTime.Sub(start)
	o.deps.Tracer.Metrics().RecordRun(ctx, string(report.PipelineStatus), duration)
	o.logger.InfoContext(ctx, "pipeline_complete",
		slog.String("status", string(report.PipelineStatus)),
		slog.Int("records_processed", report.Metrics.RecordsProcessed),
		slog.Int("errors", len(report.Metrics.Errors)),
		slog.Int("warnings", len(report.Metrics.Warnings)),
		slog.Duration("duration", duration))

	return report, runErr
}

// Progress returns the stage states of a run that is still executing
func (o *Orchestrator) Progress(runID string) ([]domain.StageReport, bool) {
	o.mu.Lock()
	run, ok := o.active[runID]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	state, err := run.manager.GetOperation(runID)
	if err != nil {
		return nil, false
	}
	return state.StageReports(run.order), true
}

func (o *Orchestrator) track(runID string, manager *Manager, registry *Registry) {
	var order []string
	if steps, err := registry.GetDependencyOrder(); err == nil {
		for _, step := range steps {
			order = append(order, step.ID())
		}
	}
	o.mu.Lock()
	o.active[runID] = activeRun{manager: manager, order: order}
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(runID string) {
	o.mu.Lock()
	delete(o.active, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) registry(sink MetricsSink) *Registry {
	workers := o.engine.MaxConcurrency
	r := NewRegistry()
	// registration order is fixed and every ID is unique, so Register cannot fail
	_ = r.Register(NewExtractStage(o.deps.Extractors, o.deps.Params, workers, sink, o.logger))
	_ = r.Register(NewSilverStage(o.deps.Silver, workers, sink, o.logger))
	_ = r.Register(NewGoldStage(o.deps.Gold, len(o.deps.Extractors), o.engine.MaxFailedSourceRatio, sink, o.logger))
	_ = r.Register(NewLoadStage(o.deps.Loader, config.Layer(o.cfg.Warehouse.LoadLayer), sink, o.logger))
	return r
}

func (o *Orchestrator) persist(ctx context.Context, report *domain.ExecutionReport) {
	if o.deps.Store == nil {
		return
	}
	path, err := o.deps.Store.WriteJSON(config.LayerGold, files.ReportName(report.RunID), report)
	if err != nil {
		report.Metrics.Warnings = append(report.Metrics.Warnings, fmt.Sprintf("report: %v", err))
		infrastructure.WithError(o.logger, err).WarnContext(ctx, "report_persist_failed")
		return
	}
	o.logger.InfoContext(ctx, "report_written", slog.String("path", path))
}
