// Package tracing boots the process-wide OpenTelemetry tracer provider
// backing the per-trade pipeline span (C7's processedAt/elapsedMillis
// correlation).
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// NewProvider builds a TracerProvider tagged with serviceName, registers
// it as the global provider, and returns it so the caller can flush it
// on shutdown. No exporter is attached here: a deployment wires one in
// (OTLP, stdout, ...) by adding a span processor to the returned
// provider before traffic starts.
func NewProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp, nil
}
