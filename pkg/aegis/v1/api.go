package v1

import (
	"context"
	"time"

	"github.com/aegis-labs/aegis/internal/config"
	"github.com/aegis-labs/aegis/pkg/aegis/v1/events"
	aegiserrors "github.com/aegis-labs/aegis/pkg/aegis/v1/errors"
	"github.com/aegis-labs/aegis/pkg/aegis/v1/metrics"
	"github.com/aegis-labs/aegis/pkg/aegis/v1/tracing"
)

// SafetyManagerV1 is the public interface of the Aegis safety control-plane.
// An orchestration loop registers plans, validates them before running,
// polls stop flags while executing, and cleans up when plans terminate.
type SafetyManagerV1 interface {
	// RegisterPlan records a plan ID (and optional parent edge) with the
	// stop controller. parentID may be empty for root plans.
	RegisterPlan(planID, parentID string) error

	// ValidatePlan checks a plan against the configured limits and the
	// operation validator. It returns the approval decision and every
	// safety event raised during validation. Rejection is a value, never
	// an error.
	ValidatePlan(ctx context.Context, plan *Plan) (bool, []SafetyEvent)

	// ValidateOperation classifies a single operation string. The context
	// map may carry "recursion_depth" (int), "plan_id" and "target_path".
	ValidateOperation(operation string, opContext map[string]interface{}) (bool, RiskLevel, string)

	// RequestStop records a user/system intervention event and stops the
	// plan and all of its descendants.
	RequestStop(ctx context.Context, planID, reason string)

	// IsStopRequested reports whether the plan's cancellation flag is set.
	// Cancellation is level-triggered: executing loops must poll this.
	IsStopRequested(planID string) bool

	// CleanupPlan removes all controller state for a terminated plan.
	CleanupPlan(planID string)

	// SafetySummary returns the aggregate status report.
	SafetySummary() *SafetySummary

	// StartMonitoring starts the background resource sampling loop.
	StartMonitoring() error
	// StopMonitoring terminates the sampling loop within a bounded join.
	StopMonitoring() error

	// MetricsRegistryProvider returns the underlying metrics provider.
	MetricsRegistryProvider() metrics.RegistryProvider
	// TracerProvider returns the underlying tracing provider.
	TracerProvider() tracing.TracerProvider

	// Setter methods for configuring the manager programmatically.
	SetLimits(limits *config.SafetyLimits) error
	SetEventBus(bus events.Bus) error
	SetMetricsRegistryProvider(provider metrics.RegistryProvider) error
	SetTracerProvider(provider tracing.TracerProvider) error
	SetAuditLogPath(path string) error
	SetApprovalFunc(fn ApprovalFunc) error
	SetMetricsSource(source MetricsSource) error
	SetMonitorInterval(interval time.Duration) error
}

// Option configures the manager at construction time.
type Option func(SafetyManagerV1) error

// WithLimits provides the safety limits configuration. Zero-valued fields
// are populated with defaults.
func WithLimits(limits *config.SafetyLimits) Option {
	return func(m SafetyManagerV1) error {
		if limits == nil {
			return aegiserrors.NewConfigError("safety limits cannot be nil", nil)
		}
		return m.SetLimits(limits)
	}
}

// WithEventBus provides a custom event bus.
func WithEventBus(bus events.Bus) Option {
	return func(m SafetyManagerV1) error {
		if bus == nil {
			return aegiserrors.NewConfigError("event bus cannot be nil", nil)
		}
		return m.SetEventBus(bus)
	}
}

// WithMetricsRegistryProvider provides a custom metrics provider.
func WithMetricsRegistryProvider(provider metrics.RegistryProvider) Option {
	return func(m SafetyManagerV1) error {
		if provider == nil {
			return aegiserrors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		return m.SetMetricsRegistryProvider(provider)
	}
}

// WithTracerProvider provides a custom tracing provider.
func WithTracerProvider(provider tracing.TracerProvider) Option {
	return func(m SafetyManagerV1) error {
		if provider == nil {
			return aegiserrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return m.SetTracerProvider(provider)
	}
}

// WithAuditLogPath sets the location of the append-only audit log file.
// Parent directories are created on first write.
func WithAuditLogPath(path string) Option {
	return func(m SafetyManagerV1) error {
		if path == "" {
			return aegiserrors.NewConfigError("audit log path cannot be empty", nil)
		}
		return m.SetAuditLogPath(path)
	}
}

// WithApprovalFunc plugs in a human-in-the-loop approval channel for plans
// carrying HIGH-risk findings. Without one the manager denies such plans.
func WithApprovalFunc(fn ApprovalFunc) Option {
	return func(m SafetyManagerV1) error {
		if fn == nil {
			return aegiserrors.NewConfigError("approval func cannot be nil", nil)
		}
		return m.SetApprovalFunc(fn)
	}
}

// WithMetricsSource provides the resource metrics source the monitor samples.
func WithMetricsSource(source MetricsSource) Option {
	return func(m SafetyManagerV1) error {
		if source == nil {
			return aegiserrors.NewConfigError("metrics source cannot be nil", nil)
		}
		return m.SetMetricsSource(source)
	}
}

// WithMonitorInterval overrides the monitor's sampling interval.
func WithMonitorInterval(interval time.Duration) Option {
	return func(m SafetyManagerV1) error {
		if interval <= 0 {
			return aegiserrors.NewConfigError("monitor interval must be positive", nil)
		}
		return m.SetMonitorInterval(interval)
	}
}
