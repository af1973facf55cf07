// Package log defines the public logging interface used across Aegis packages.
package log

import (
	"context"
	"log/slog"
)

// Logger is the logging interface consumed by every Aegis component.
// It lets library consumers plug in their own logging implementation while
// internal packages stay agnostic of the concrete backend.
type Logger interface {
	// Debugf logs a formatted message at the DEBUG level.
	Debugf(format string, args ...interface{})
	// Infof logs a formatted message at the INFO level.
	Infof(format string, args ...interface{})
	// Warnf logs a formatted message at the WARN level.
	Warnf(format string, args ...interface{})
	// Errorf logs a formatted message at the ERROR level. Implementations
	// should inspect the final argument and, if it is an error, attach it as
	// a structured attribute.
	Errorf(format string, args ...interface{})

	// Log logs a message at the given slog.Level with key-value attributes.
	Log(level slog.Level, msg string, args ...interface{})
	// LogCtx logs like Log but threads a context so implementations can
	// attach trace identifiers when tracing is active.
	LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{})

	// With returns a Logger that adds the given attributes to every entry.
	With(args ...interface{}) Logger
	// IsEnabled reports whether the logger emits entries at the given level.
	IsEnabled(level slog.Level) bool
}
