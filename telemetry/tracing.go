package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSampleRatio keeps one poll trace in ten. A watcher polls every few
// seconds for the length of a stream, so full sampling floods the collector.
const DefaultSampleRatio = 0.1

// TracingConfig selects the OTLP collector and sampling for InitTracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the collector host:port; empty disables tracing.
	Endpoint string
	// SampleRatio outside (0,1] falls back to DefaultSampleRatio.
	SampleRatio float64
}

func (c TracingConfig) ratio() float64 {
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		return DefaultSampleRatio
	}
	return c.SampleRatio
}

// InitTracing installs a global tracer provider exporting over OTLP/gRPC and
// returns a func that flushes pending spans. With no endpoint it only logs and
// the global no-op provider stays in place.
func InitTracing(cfg TracingConfig) (func(), error) {
	if cfg.Endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set", slog.String("component", "telemetry"))
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter for %s: %w", cfg.Endpoint, err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := newProvider(cfg, sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	slog.Info("tracing initialized",
		slog.String("component", "telemetry"),
		slog.String("endpoint", cfg.Endpoint),
		slog.Float64("sample_ratio", cfg.ratio()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("tracer provider shutdown failed", slog.String("component", "telemetry"), slog.Any("err", err))
		}
	}, nil
}

// newProvider applies the sampler for cfg on top of opts.
func newProvider(cfg TracingConfig, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append(opts, sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.ratio()))))
	return sdktrace.NewTracerProvider(opts...)
}

// StartSpan opens a span tagged with the context's correlation id, if any.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// EndSpan sets the span outcome from err and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
