package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"econetl/internal/config"
	"econetl/internal/files"
	"econetl/internal/infrastructure"
	"econetl/internal/operations"
	handlers "econetl/internal/transport/http"
	"econetl/pkg/contracts/domain"
)

// Application is the assembled pipeline service
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	Orchestrator  *operations.Orchestrator
	Runs          *operations.RunStore
	Router        http.Handler
	Server        *http.Server

	runsHandler *handlers.RunsHandler
	cancelRuns  context.CancelFunc
}

// NewApplication wires every component described by cfg
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return newApplication(ctx, cfg, logger)
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.InfoContext(ctx, "application_starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", infrastructure.ServiceVersion),
		slog.Any("sources", cfg.EnabledSources()))
	cfg.DataPaths.LogPathResolution(logger)

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := infrastructure.CreateBusinessMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	orchestrator, err := operations.NewFromConfig(ctx, cfg, operations.NewOperationTracer(providers, metrics), logger)
	if err != nil {
		providers.Shutdown(ctx)
		return nil, err
	}

	return &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		Metrics:       metrics,
		Orchestrator:  orchestrator,
		Runs:          operations.NewRunStore(0),
	}, nil
}

// RunOnce executes a single pipeline run
func (a *Application) RunOnce(ctx context.Context) (*domain.ExecutionReport, error) {
	return a.Orchestrator.Run(ctx)
}

// setupRouter builds the serve mode handlers; runs started over HTTP live
// under base
func (a *Application) setupRouter(base context.Context) {
	runCtx, cancel := context.WithCancel(base)
	a.cancelRuns = cancel
	a.runsHandler = handlers.NewRunsHandler(runCtx, a.Orchestrator, a.Runs, a.Logger)

	a.Router = handlers.NewRouter(handlers.RouterDeps{
		Health:         handlers.NewHealthHandler(a.Runs, a.Logger),
		Reports:        handlers.NewReportHandler(a.Runs, files.NewDiscovery(a.Config.DataPaths), a.Logger),
		Runs:           a.runsHandler,
		Metrics:        handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP),
		Tracer:         a.OTelProviders.Tracer,
		RequestTimeout: a.Config.Server.ReadTimeout,
		Logger:         a.Logger,
	})

	a.Server = &http.Server{
		Addr:         a.Config.Server.Addr,
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
func (a *Application) Serve(ctx context.Context) error {
	a.setupRouter(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.InfoContext(ctx, "server_listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "shutdown_signal_received")
	case err, ok := <-errCh:
		if ok {
			a.Stop(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}
	return a.Stop(context.Background())
}

// Stop shuts the server down, waits for background runs and releases resources
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if a.cancelRuns != nil {
		a.cancelRuns()
		a.runsHandler.Wait()
	}
	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "application_stopped")
	return errors.Join(errs...)
}

// Close releases the warehouse and flushes telemetry
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if err := a.Orchestrator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("warehouse close: %w", err))
	}
	if err := a.OTelProviders.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ShutdownTimeout bounds Close in the run subcommand
func (a *Application) ShutdownTimeout() time.Duration {
	return a.Config.Server.ShutdownTimeout
}
