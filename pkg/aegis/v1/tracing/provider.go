// Package tracing defines the tracer provider interface used by the
// control-plane, allowing embedders to integrate with an existing
// OpenTelemetry setup.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerProvider supplies tracers for control-plane spans.
type TracerProvider interface {
	// GetTracer returns a tracer with the given name and options.
	GetTracer(name string, opts ...trace.TracerOption) trace.Tracer

	// Shutdown flushes buffered spans and releases exporter resources.
	// NoOp implementations return nil immediately.
	Shutdown(ctx context.Context) error
}
