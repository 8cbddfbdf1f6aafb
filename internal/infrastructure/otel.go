package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"econetl/internal/config"
)

const (
	ServiceName    = "econetl"
	ServiceVersion = "1.0.0"
	MeterName      = "econetl"
)

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel sets up tracing and metrics according to cfg. When telemetry is
// disabled the returned providers carry no-op tracer and meter implementations.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = slog.Default()
	}
	providers := &OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer(MeterName),
		Meter:  noop.NewMeterProvider().Meter(MeterName),
		Logger: logger,
	}
	if !cfg.Enabled {
		return providers, nil
	}

	ctx := context.Background()
	res, err := createResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := initializeTracing(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "otel_initialized",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("metric_exporter", cfg.MetricExporter))

	return providers, nil
}

func createResource() (*resource.Resource, error) {
	hostname, _ := os.Hostname()
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(ServiceVersion),
		attribute.String("service.instance.id", fmt.Sprintf("%s-%d", hostname, time.Now().Unix())),
	), nil
}

func initializeTracing(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders) error {
	if cfg.TraceExporter != "stdout" {
		return nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)
	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(ServiceVersion))
	otel.SetTracerProvider(tp)

	providers.Logger.DebugContext(ctx, "tracing_initialized",
		slog.Float64("sample_ratio", cfg.SampleRatio))
	return nil
}

func initializeMetrics(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders) error {
	if cfg.MetricExporter != "prometheus" {
		return nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	providers.MeterProvider = mp
	providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(ServiceVersion))
	otel.SetMeterProvider(mp)

	providers.Logger.DebugContext(ctx, "metrics_initialized")
	return nil
}

// BusinessMetrics holds the pipeline's application metrics
type BusinessMetrics struct {
	PipelineRuns           metric.Int64Counter
	PipelineDuration       metric.Float64Histogram
	StageDuration          metric.Float64Histogram
	RecordsExtracted       metric.Int64Counter
	ExtractionRequests     metric.Int64Counter
	ExtractionFailedTries  metric.Int64Counter
	ExtractionFailures     metric.Int64Counter
	LayerRowsWritten       metric.Int64Counter
	DuplicatesRemoved      metric.Int64Counter
	WarehouseRowsLoaded    metric.Int64Counter
	WarehouseBatchFailures metric.Int64Counter
}

// CreateBusinessMetrics registers the pipeline instruments on meter
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	var (
		m   BusinessMetrics
		err error
	)

	if m.PipelineRuns, err = meter.Int64Counter("pipeline_runs_total",
		metric.WithDescription("Pipeline runs by final status")); err != nil {
		return nil, err
	}
	if m.PipelineDuration, err = meter.Float64Histogram("pipeline_duration_seconds",
		metric.WithDescription("End to end pipeline duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.StageDuration, err = meter.Float64Histogram("pipeline_stage_duration_seconds",
		metric.WithDescription("Duration of each pipeline stage"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.RecordsExtracted, err = meter.Int64Counter("extraction_records_total",
		metric.WithDescription("Raw observations extracted per source")); err != nil {
		return nil, err
	}
	if m.ExtractionRequests, err = meter.Int64Counter("extraction_requests_total",
		metric.WithDescription("HTTP requests issued to upstream providers")); err != nil {
		return nil, err
	}
	if m.ExtractionFailedTries, err = meter.Int64Counter("extraction_failed_attempts_total",
		metric.WithDescription("Retried upstream requests")); err != nil {
		return nil, err
	}
	if m.ExtractionFailures, err = meter.Int64Counter("extraction_failures_total",
		metric.WithDescription("Extractor invocations that failed")); err != nil {
		return nil, err
	}
	if m.LayerRowsWritten, err = meter.Int64Counter("layer_rows_written_total",
		metric.WithDescription("Rows persisted per storage layer")); err != nil {
		return nil, err
	}
	if m.DuplicatesRemoved, err = meter.Int64Counter("silver_duplicates_removed_total",
		metric.WithDescription("Exact duplicate rows removed while cleaning")); err != nil {
		return nil, err
	}
	if m.WarehouseRowsLoaded, err = meter.Int64Counter("warehouse_rows_loaded_total",
		metric.WithDescription("Rows committed to the warehouse")); err != nil {
		return nil, err
	}
	if m.WarehouseBatchFailures, err = meter.Int64Counter("warehouse_batch_failures_total",
		metric.WithDescription("Warehouse batches that failed to commit")); err != nil {
		return nil, err
	}

	return &m, nil
}

// RecordStage records a stage duration with its outcome
func (m *BusinessMetrics) RecordStage(ctx context.Context, stage string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("success", success),
	))
}

// RecordExtraction records the counters of one extractor invocation
func (m *BusinessMetrics) RecordExtraction(ctx context.Context, source string, requests, records, failedAttempts int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.ExtractionRequests.Add(ctx, int64(requests), attrs)
	m.RecordsExtracted.Add(ctx, int64(records), attrs)
	m.ExtractionFailedTries.Add(ctx, int64(failedAttempts), attrs)
	if err != nil {
		m.ExtractionFailures.Add(ctx, 1, attrs)
	}
}

// RecordLayerWrite records rows persisted to a storage layer
func (m *BusinessMetrics) RecordLayerWrite(ctx context.Context, layer, source string, rows, duplicates int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("layer", layer), attribute.String("source", source))
	m.LayerRowsWritten.Add(ctx, int64(rows), attrs)
	if duplicates > 0 {
		m.DuplicatesRemoved.Add(ctx, int64(duplicates), attrs)
	}
}

// RecordLoad records the outcome of a warehouse load
func (m *BusinessMetrics) RecordLoad(ctx context.Context, table string, rows, failedBatches int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("table", table))
	m.WarehouseRowsLoaded.Add(ctx, int64(rows), attrs)
	if failedBatches > 0 {
		m.WarehouseBatchFailures.Add(ctx, int64(failedBatches), attrs)
	}
}

// RecordRun records a finished pipeline run
func (m *BusinessMetrics) RecordRun(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.PipelineRuns.Add(ctx, 1, attrs)
	m.PipelineDuration.Record(ctx, d.Seconds(), attrs)
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}
	return nil
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}
