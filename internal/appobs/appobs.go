// Package appobs wires the engine's emit.Emitter/graph.PrometheusMetrics
// abstractions to the process-wide observability stack: structured logs to
// stdout, OpenTelemetry spans, and a single Prometheus registry shared by
// every workflow engine and exposed over /metrics.
package appobs

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tsingsx/algotest/graph"
	"github.com/tsingsx/algotest/graph/emit"
)

// Stack bundles the observability dependencies every workflow engine needs.
type Stack struct {
	Emitter  emit.Emitter
	Metrics  *graph.PrometheusMetrics
	Registry *prometheus.Registry
	shutdown func(context.Context) error
}

// New builds the shared observability stack for serviceName: a tracer
// provider registered as the OpenTelemetry global, a fan-out emitter that
// logs every graph event to stdout and records it as a span, and a single
// Prometheus registry for all engines.
//
// No span processor or exporter is attached to the provider, so finished
// spans are not exported anywhere; nothing here reads
// OTEL_EXPORTER_OTLP_ENDPOINT.
func New(serviceName string) (*Stack, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("appobs: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	tracer := tp.Tracer(serviceName)

	registry := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(registry)

	emitter := emit.NewMultiEmitter(
		emit.NewLogEmitter(os.Stdout, true),
		emit.NewOTelEmitter(tracer),
	)

	return &Stack{
		Emitter:  emitter,
		Metrics:  metrics,
		Registry: registry,
		shutdown: tp.Shutdown,
	}, nil
}

// Shutdown flushes the tracer provider. Call it once at process exit.
func (s *Stack) Shutdown(ctx context.Context) error {
	if s == nil || s.shutdown == nil {
		return nil
	}
	return s.shutdown(ctx)
}

// EngineOptions returns the graph.Option set every workflow engine should be
// constructed with, beyond its own WithMaxSteps.
func (s *Stack) EngineOptions() []graph.Option {
	if s == nil {
		return nil
	}
	return []graph.Option{graph.WithMetrics(s.Metrics)}
}
