package operations

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"econetl/internal/infrastructure"
)

// OperationTracer wraps runs and stages in spans and records stage metrics
type OperationTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.BusinessMetrics
}

// NewOperationTracer creates a tracer from initialized providers. A nil
// providers value yields a no-op tracer.
func NewOperationTracer(providers *infrastructure.OTelProviders, metrics *infrastructure.BusinessMetrics) *OperationTracer {
	pt := &OperationTracer{
		tracer:  tracenoop.NewTracerProvider().Tracer(infrastructure.MeterName),
		metrics: metrics,
	}
	if providers != nil && providers.Tracer != nil {
		pt.tracer = providers.Tracer
	}
	return pt
}

// Metrics returns the business metrics, possibly nil
func (pt *OperationTracer) Metrics() *infrastructure.BusinessMetrics {
	if pt == nil {
		return nil
	}
	return pt.metrics
}

// TraceOperation starts the span covering a whole run
func (pt *OperationTracer) TraceOperation(ctx context.Context, operationID string, stepCount int) (context.Context, trace.Span) {
	if pt == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return pt.tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("operation.id", operationID),
			attribute.Int("operation.steps", stepCount),
		))
}

// TraceStage starts the span of one stage attempt
func (pt *OperationTracer) TraceStage(ctx context.Context, operationID, stageID string, attempt int) (context.Context, trace.Span) {
	if pt == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return pt.tracer.Start(ctx, "pipeline.stage."+stageID,
		trace.WithAttributes(
			attribute.String("operation.id", operationID),
			attribute.String("stage.id", stageID),
			attribute.Int("stage.attempt", attempt),
		))
}

// EndStage closes a stage span and records its duration
func (pt *OperationTracer) EndStage(ctx context.Context, span trace.Span, stageID string, d time.Duration, err error) {
	if err != nil {
		infrastructure.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	pt.Metrics().RecordStage(ctx, stageID, d, err == nil)
}

// EndOperation closes the run span
func (pt *OperationTracer) EndOperation(ctx context.Context, span trace.Span, status OperationStatusValue, err error) {
	span.SetAttributes(attribute.String("operation.status", string(status)))
	if err != nil {
		infrastructure.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
