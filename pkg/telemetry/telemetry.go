// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/nstogner/solemate/pkg/config"
)

// Setup installs the global tracer provider. Spans are exported over
// OTLP/HTTP when an endpoint is configured and dropped otherwise. The
// returned function flushes and stops the provider.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName(cfg))),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, exporterOptions(cfg.OTLPEndpoint)...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

func serviceName(cfg config.TelemetryConfig) string {
	if cfg.ServiceName == "" {
		return "solemate"
	}
	return cfg.ServiceName
}

// exporterOptions accepts "collector:4318" as well as full http(s) URLs.
func exporterOptions(endpoint string) []otlptracehttp.Option {
	insecure := true
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
		insecure = false
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(strings.TrimRight(endpoint, "/"))}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}
