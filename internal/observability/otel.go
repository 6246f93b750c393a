package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// InitTracing registers a process-wide TracerProvider so every request can
// be correlated by trace_id/span_id in logs (see LoggerWithTrace) even
// though no OTLP collector is wired up: the curated dependency set carries
// the otel SDK and API but none of the contrib exporter modules, so spans
// are generated and propagated in-process without being shipped anywhere.
// A real exporter can be attached later via sdktrace.WithBatcher without
// touching call sites, since they only ever go through otel.Tracer.
func InitTracing(ctx context.Context, serviceName, environment string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("init resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
