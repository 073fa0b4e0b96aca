// Package telemetry installs the OpenTelemetry tracer provider. Tracing is off
// unless enabled in config; spans are then exported over OTLP/HTTP.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

const ServiceName = "cancer-navigator"

type Options struct {
	Enabled  bool
	Endpoint string
	Version  string
}

type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Init returns a shutdown func that must run on exit. With tracing disabled
// the global no-op provider stays in place.
func Init(ctx context.Context, opts Options, logger *zap.Logger) (ShutdownFunc, error) {
	if !opts.Enabled {
		logger.Info("tracing disabled")
		return noop, nil
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(opts.Version),
		)),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", zap.String("endpoint", endpoint))
	return tp.Shutdown, nil
}
