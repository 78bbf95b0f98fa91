package export

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"asrsexport/internal/calendar"
	"asrsexport/internal/infrastructure"
)

const (
	TracerName = "asrsexport.export"
)

// ItemTracer provides OpenTelemetry instrumentation for export items
type ItemTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.ExportMetrics
}

// NewItemTracer creates a tracer recording on the given providers
func NewItemTracer(providers *infrastructure.OTelProviders) (*ItemTracer, error) {
	if providers == nil {
		return noopItemTracer(), nil
	}

	metrics, err := infrastructure.CreateExportMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create export metrics: %w", err)
	}

	return &ItemTracer{
		tracer:  providers.Tracer,
		metrics: metrics,
	}, nil
}

func noopItemTracer() *ItemTracer {
	return &ItemTracer{tracer: tracenoop.NewTracerProvider().Tracer(TracerName)}
}

// TraceItem creates a span covering one WorkItem
func (t *ItemTracer) TraceItem(ctx context.Context, item calendar.WorkItem) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "export.item",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("asrs.year", item.Year),
			attribute.String("asrs.month", item.MonthLabel()),
			attribute.String("asrs.file", item.FileName()),
		),
	)
}

// TraceStep creates a child span for one step of an item's pipeline
func (t *ItemTracer) TraceStep(ctx context.Context, step string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "export.step."+step,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("export.step", step)),
	)
}

// RecordOutcome closes out an item span and counts the outcome
func (t *ItemTracer) RecordOutcome(ctx context.Context, span trace.Span, o Outcome) {
	span.SetAttributes(attribute.String("export.status", o.Status()))

	var bytes int64
	if o.Result != nil && !o.Result.Skipped {
		bytes = o.Result.Bytes
	}

	if o.Err != nil {
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, o.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if o.UploadErr != nil {
		span.AddEvent("upload failed", trace.WithAttributes(attribute.String("error", o.UploadErr.Error())))
		t.metrics.RecordUploadFailure(ctx)
	}

	t.metrics.RecordItem(ctx, o.Status(), string(o.ErrorType()), o.Duration, bytes)
}
