package infrastructure

import (
	"context"
	"fmt"
	"io"
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
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"asrsexport/internal/config"
)

const (
	ServiceName    = "asrs-exporter"
	ServiceVersion = "1.0.0"
	MeterName      = "asrsexport"
)

// OTelProviders holds the OpenTelemetry providers of one process
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel sets up tracing and metrics as configured. Disabled
// signals fall back to no-op implementations so callers never nil-check.
// Spans are written to traceOut when tracing is enabled.
func InitializeOTel(cfg config.TelemetryConfig, traceOut io.Writer, logger *slog.Logger) (*OTelProviders, error) {
	ctx := context.Background()
	if logger == nil {
		logger = GetLogger()
	}

	res, err := createResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer(MeterName),
		Meter:  metricnoop.NewMeterProvider().Meter(MeterName),
		Logger: logger,
	}

	if cfg.EnableTracing {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(traceOut))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
		)
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(ServiceVersion))
		otel.SetTracerProvider(tp)
	}

	if cfg.EnableMetrics {
		registry := promclient.NewRegistry()
		exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(ServiceVersion))
		providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		otel.SetMeterProvider(mp)
	}

	logger.InfoContext(ctx, "OpenTelemetry initialization complete",
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	return providers, nil
}

// createResource creates the OpenTelemetry resource
func createResource() (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(ServiceVersion),
		attribute.String("service.instance.id", generateInstanceID()),
	), nil
}

// ExportMetrics holds the instruments recorded by the export job
type ExportMetrics struct {
	ItemsTotal      metric.Int64Counter
	ItemDuration    metric.Float64Histogram
	UploadFailures  metric.Int64Counter
	DownloadedBytes metric.Int64Counter
}

// CreateExportMetrics creates the export job's instruments on meter
func CreateExportMetrics(meter metric.Meter) (*ExportMetrics, error) {
	itemsTotal, err := meter.Int64Counter(
		"asrs_items_total",
		metric.WithDescription("Total number of work items attempted, by status"),
	)
	if err != nil {
		return nil, err
	}

	itemDuration, err := meter.Float64Histogram(
		"asrs_item_duration_seconds",
		metric.WithDescription("Time spent exporting one work item"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	uploadFailures, err := meter.Int64Counter(
		"asrs_upload_failures_total",
		metric.WithDescription("Total number of failed remote store uploads"),
	)
	if err != nil {
		return nil, err
	}

	downloadedBytes, err := meter.Int64Counter(
		"asrs_downloaded_bytes",
		metric.WithDescription("Total bytes of CSV data saved locally"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &ExportMetrics{
		ItemsTotal:      itemsTotal,
		ItemDuration:    itemDuration,
		UploadFailures:  uploadFailures,
		DownloadedBytes: downloadedBytes,
	}, nil
}

// RecordItem records one work item's outcome. errorType is empty on success.
func (m *ExportMetrics) RecordItem(ctx context.Context, status, errorType string, duration time.Duration, bytes int64) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("status", status)}
	if errorType != "" {
		attrs = append(attrs, attribute.String("error.type", errorType))
	}

	m.ItemsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ItemDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	if bytes > 0 {
		m.DownloadedBytes.Add(ctx, bytes)
	}
}

// RecordUploadFailure counts a failed upload
func (m *ExportMetrics) RecordUploadFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.UploadFailures.Add(ctx, 1)
}

// Shutdown flushes and stops the configured providers
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

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
