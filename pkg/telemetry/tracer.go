// Package telemetry wires OpenTelemetry tracing for the orchestrator: one
// span per stage execution, and one per stage run inside each repair
// iteration. The exporter is
// stdout-based rather than OTLP, matching this module's go.mod - there is
// no collector endpoint to ship spans to, so a trace is printed where an
// operator can see it rather than shipped over gRPC.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls whether tracing is active and how spans are sampled.
type Config struct {
	Enabled      bool
	ServiceName  string
	SamplingRate float64
}

// InitTracerProvider installs a global TracerProvider per cfg and returns
// a shutdown function the caller must invoke before exit to flush pending
// spans. When cfg.Enabled is false, a no-op provider is installed and the
// returned shutdown is a no-op.
func InitTracerProvider(ctx context.Context, cfg Config) (trace.TracerProvider, func(context.Context) error, error) {
	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: failed to create stdout exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: failed to build resource: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	if cfg.SamplingRate <= 0 {
		sampler = sdktrace.AlwaysSample()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}

// GetTracer returns a named tracer from the globally installed provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
