// Package safety implements the control-plane façade: it owns the
// validator, the resource monitor, the stop controller and the audit trail,
// and exposes them behind the public SafetyManagerV1 interface.
package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegis-labs/aegis/internal/config"
	intevents "github.com/aegis-labs/aegis/internal/events"
	intmetrics "github.com/aegis-labs/aegis/internal/metrics"
	"github.com/aegis-labs/aegis/internal/monitor"
	"github.com/aegis-labs/aegis/internal/stopctl"
	inttracing "github.com/aegis-labs/aegis/internal/tracing"
	"github.com/aegis-labs/aegis/internal/validator"
	v1 "github.com/aegis-labs/aegis/pkg/aegis/v1"
	aegiserrors "github.com/aegis-labs/aegis/pkg/aegis/v1/errors"
	"github.com/aegis-labs/aegis/pkg/aegis/v1/events"
	aegislog "github.com/aegis-labs/aegis/pkg/aegis/v1/log"
	aegismetrics "github.com/aegis-labs/aegis/pkg/aegis/v1/metrics"
	aegistracing "github.com/aegis-labs/aegis/pkg/aegis/v1/tracing"
)

const (
	tracerName = "aegis.safety.manager"

	// eventBufferLimit bounds the in-memory event buffer. The audit file
	// keeps the full trail; the buffer serves summaries and approval
	// callbacks.
	eventBufferLimit = 1000

	// recentWindow is the lookback used for SafetySummary violation counts.
	recentWindow = time.Hour

	// DefaultAuditLogPath is where the audit trail lands unless overridden.
	DefaultAuditLogPath = "aegis_output/safety_audit.jsonl"
)

// Manager coordinates the safety components. It is safe for concurrent use.
type Manager struct {
	log aegislog.Logger

	limits          *config.SafetyLimits
	validator       *validator.Validator
	stop            *stopctl.Controller
	monitor         *monitor.Monitor
	source          v1.MetricsSource
	monitorInterval time.Duration
	eventBus        events.Bus
	metricsProvider aegismetrics.RegistryProvider
	tracerProvider  aegistracing.TracerProvider
	approval        v1.ApprovalFunc
	auditPath       string
	audit           *AuditLog

	eventsMu    sync.Mutex
	events      []v1.SafetyEvent
	totalEvents int64

	eventsTotal        *prometheus.CounterVec
	validationsTotal   *prometheus.CounterVec
	validationDuration prometheus.Histogram
	activePlansGauge   prometheus.Gauge
	monitorRunning     prometheus.Gauge
	samplesTotal       prometheus.Counter
	alertsTotal        *prometheus.CounterVec
	busViolationsTotal *prometheus.CounterVec
	busEmergencies     prometheus.Counter
	busPlanStops       prometheus.Counter
	emergenciesTotal   prometheus.Counter
	plansStoppedTotal  prometheus.Counter
}

var _ v1.SafetyManagerV1 = (*Manager)(nil)

// NewManager constructs a Manager, applying options and falling back to
// defaults for anything not provided: built-in limits, a procfs metrics
// source, a no-op event bus, a fresh Prometheus registry and a no-op tracer.
func NewManager(log aegislog.Logger, opts ...v1.Option) (*Manager, error) {
	if log == nil {
		return nil, aegiserrors.NewConfigError("logger cannot be nil", nil)
	}

	m := &Manager{
		log:             log,
		monitorInterval: monitor.DefaultInterval,
		auditPath:       DefaultAuditLogPath,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("failed to apply manager option: %w", err)
		}
	}

	if m.limits == nil {
		m.log.Debugf("No safety limits provided, using defaults")
		m.limits = config.DefaultLimits()
	} else {
		m.limits.ApplyDefaults()
	}
	if m.eventBus == nil {
		m.eventBus = intevents.NewNoOpEventBus()
	}
	if m.metricsProvider == nil {
		m.metricsProvider = intmetrics.NewPrometheusRegistryProvider()
	}
	if m.tracerProvider == nil {
		noop, err := inttracing.NewNoOpProvider()
		if err != nil {
			return nil, aegiserrors.NewConfigError("failed to create default no-op tracer provider", err)
		}
		m.tracerProvider = noop
	}
	if m.source == nil {
		source, err := monitor.NewProcFSSource()
		if err != nil {
			return nil, aegiserrors.NewConfigError("procfs metrics source unavailable, provide one via WithMetricsSource", err)
		}
		m.source = source
	}

	m.validator = validator.New(m.limits)
	m.stop = stopctl.New(m.log)

	maxMem, maxCPU := m.limits.ResourceCeilings()
	m.monitor = monitor.New(m.source, v1.ResourceLimits{MaxMemoryMB: maxMem, MaxCPUPercent: maxCPU}, m.monitorInterval, m.log)
	m.monitor.AddAlertCallback(m.handleResourceAlert)

	audit, err := NewAuditLog(m.auditPath)
	if err != nil {
		// Persistence is best-effort: a manager without a writable audit
		// file still enforces limits.
		m.log.Errorf("Failed to open audit log, events will not be persisted: %v", err)
	} else {
		m.audit = audit
	}

	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	m.monitor.SetCollectors(m.samplesTotal, m.alertsTotal)

	m.log.Infof("Safety manager initialized (max_depth=%d max_subtasks=%d max_memory=%.0fMB max_cpu=%.0f%%)",
		m.limits.MaxRecursionDepth, m.limits.MaxSubtasks, maxMem, maxCPU)
	return m, nil
}

func (m *Manager) initMetrics() error {
	registry := m.metricsProvider.Registry()
	if registry == nil {
		return aegiserrors.NewConfigError("metrics registry provider returned a nil registry", nil)
	}

	m.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_safety_events_total",
		Help: "Total safety events recorded, by violation kind and severity.",
	}, []string{"kind", "severity"})
	m.validationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_plan_validations_total",
		Help: "Total plan validations, by decision.",
	}, []string{"decision"})
	m.validationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aegis_plan_validation_duration_seconds",
		Help:    "Duration of plan validation.",
		Buckets: prometheus.DefBuckets,
	})
	m.activePlansGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_active_plans",
		Help: "Registered plans whose stop flag is not set.",
	})
	m.monitorRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_monitor_running",
		Help: "Whether the resource monitor loop is running (1) or not (0).",
	})
	m.samplesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_resource_samples_total",
		Help: "Total resource samples collected by the monitor.",
	})
	m.alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_resource_alerts_total",
		Help: "Total resource limit alerts raised by the monitor, by severity.",
	}, []string{"severity"})
	m.busViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_bus_violation_events_total",
		Help: "Violation and alert events observed on the event bus, by type and severity.",
	}, []string{"type", "severity"})
	m.busEmergencies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_bus_emergency_events_total",
		Help: "Emergency trigger events observed on the event bus.",
	})
	m.busPlanStops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_bus_plan_stopped_events_total",
		Help: "Plan stop events observed on the event bus.",
	})
	m.emergenciesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_emergency_shutdowns_total",
		Help: "Total emergency shutdown activations.",
	})
	m.plansStoppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_plans_stopped_total",
		Help: "Total plans transitioned to stopped.",
	})

	collectors := []prometheus.Collector{
		m.eventsTotal, m.validationsTotal, m.validationDuration,
		m.activePlansGauge, m.monitorRunning, m.samplesTotal,
		m.alertsTotal, m.busViolationsTotal, m.busEmergencies,
		m.busPlanStops, m.emergenciesTotal, m.plansStoppedTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return aegiserrors.NewConfigError("failed to register metrics collector", err)
		}
	}
	return nil
}

// RegisterPlan records a plan with the stop controller.
func (m *Manager) RegisterPlan(planID, parentID string) error {
	if err := m.stop.Register(planID, parentID); err != nil {
		return err
	}
	m.activePlansGauge.Set(float64(m.stop.ActiveCount()))
	m.eventBus.Emit(events.Event{
		Type:      events.PlanRegistered,
		Timestamp: time.Now(),
		PlanID:    planID,
		Payload:   map[string]interface{}{"parent_id": parentID},
	})
	return nil
}

// ValidatePlan checks a plan against the configured limits and classifies
// every subtask. The decision ladder: CRITICAL findings or structural limit
// violations reject outright; HIGH findings defer to the approval callback,
// which defaults to deny; anything lower approves.
func (m *Manager) ValidatePlan(ctx context.Context, plan *v1.Plan) (bool, []v1.SafetyEvent) {
	tracer := m.tracerProvider.GetTracer(tracerName)
	ctx, span := tracer.Start(ctx, "ValidatePlan")
	defer span.End()

	start := time.Now()
	defer func() {
		m.validationDuration.Observe(time.Since(start).Seconds())
	}()

	if plan == nil {
		event := v1.NewEvent(v1.ViolationSystemRisk, v1.RiskHigh,
			"malformed plan: nil", v1.ActionPlanRejected, "", "", nil)
		m.logEvent(ctx, event)
		m.recordDecision(ctx, span, "", false, "nil plan")
		return false, []v1.SafetyEvent{event}
	}
	span.SetAttributes(
		attribute.String("aegis.plan.id", plan.ID),
		attribute.Int("aegis.plan.recursion_depth", plan.RecursionDepth),
		attribute.Int("aegis.plan.subtasks", len(plan.Subtasks)),
	)

	var raised []v1.SafetyEvent
	limitViolated := false

	if plan.RecursionDepth > m.limits.MaxRecursionDepth {
		limitViolated = true
		raised = append(raised, v1.NewEvent(v1.ViolationRecursionDepth, v1.RiskHigh,
			fmt.Sprintf("recursion depth %d exceeds maximum %d", plan.RecursionDepth, m.limits.MaxRecursionDepth),
			v1.ActionPlanRejected, plan.ID, "",
			map[string]interface{}{"recursion_depth": plan.RecursionDepth, "max_recursion_depth": m.limits.MaxRecursionDepth}))
	}
	if len(plan.Subtasks) > m.limits.MaxSubtasks {
		limitViolated = true
		raised = append(raised, v1.NewEvent(v1.ViolationResourceLimit, v1.RiskMedium,
			fmt.Sprintf("plan has %d subtasks, maximum is %d", len(plan.Subtasks), m.limits.MaxSubtasks),
			v1.ActionPlanRejected, plan.ID, "",
			map[string]interface{}{"subtask_count": len(plan.Subtasks), "max_subtasks": m.limits.MaxSubtasks}))
	}

	for _, subtask := range plan.Subtasks {
		verdict := m.validator.Validate(subtask.Description, validator.Context{
			RecursionDepth: plan.RecursionDepth,
			PlanID:         plan.ID,
		})
		if verdict.Allowed && verdict.Risk < v1.RiskHigh {
			continue
		}
		action := v1.ActionRequiresApproval
		if verdict.Risk >= v1.RiskCritical {
			action = v1.ActionOperationBlocked
		}
		raised = append(raised, v1.NewEvent(v1.ViolationUnsafeOperation, verdict.Risk,
			verdict.Message, action, plan.ID, subtask.ID,
			map[string]interface{}{"operation": subtask.Description, "recursion_depth": plan.RecursionDepth}))
	}

	hasCritical := false
	hasHigh := false
	for _, event := range raised {
		if event.Severity >= v1.RiskCritical {
			hasCritical = true
		}
		if event.Severity >= v1.RiskHigh {
			hasHigh = true
		}
	}

	approved := true
	reason := "plan passed safety validation"
	switch {
	case hasCritical:
		approved = false
		reason = "plan contains critical-risk operations"
	case limitViolated:
		approved = false
		reason = "plan exceeds configured limits"
	case hasHigh:
		if m.approval == nil {
			approved = false
			reason = "high-risk plan denied: no approval channel configured"
			m.log.Warnf("Plan %s carries high-risk findings and no approval func is set, denying", plan.ID)
		} else if m.approval(plan, raised) {
			reason = "high-risk plan approved by operator"
		} else {
			approved = false
			reason = "high-risk plan denied by operator"
		}
	}

	for _, event := range raised {
		m.logEvent(ctx, event)
	}
	m.recordDecision(ctx, span, plan.ID, approved, reason)
	return approved, raised
}

func (m *Manager) recordDecision(_ context.Context, span trace.Span, planID string, approved bool, reason string) {
	decision := "approved"
	busType := events.PlanApproved
	if !approved {
		decision = "rejected"
		busType = events.PlanRejected
		span.SetStatus(codes.Error, reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.String("aegis.plan.decision", decision))
	m.validationsTotal.WithLabelValues(decision).Inc()
	m.eventBus.Emit(events.Event{
		Type:      busType,
		Timestamp: time.Now(),
		PlanID:    planID,
		Payload:   map[string]interface{}{"reason": reason},
	})
	m.log.Infof("Plan %s validation decision: %s (%s)", planID, decision, reason)
}

// ValidateOperation classifies a single operation string without raising
// events. The context map may carry "recursion_depth", "plan_id" and
// "target_path".
func (m *Manager) ValidateOperation(operation string, opContext map[string]interface{}) (bool, v1.RiskLevel, string) {
	verdict := m.validator.Validate(operation, contextFromMap(opContext))
	return verdict.Allowed, verdict.Risk, verdict.Message
}

func contextFromMap(opContext map[string]interface{}) validator.Context {
	var vctx validator.Context
	if opContext == nil {
		return vctx
	}
	switch depth := opContext["recursion_depth"].(type) {
	case int:
		vctx.RecursionDepth = depth
	case float64:
		vctx.RecursionDepth = int(depth)
	}
	if planID, ok := opContext["plan_id"].(string); ok {
		vctx.PlanID = planID
	}
	if target, ok := opContext["target_path"].(string); ok {
		vctx.TargetPath = target
	}
	return vctx
}

// RequestStop records an intervention event and stops the plan and all of
// its descendants. Unknown plan IDs are logged and otherwise ignored.
func (m *Manager) RequestStop(ctx context.Context, planID, reason string) {
	tracer := m.tracerProvider.GetTracer(tracerName)
	ctx, span := tracer.Start(ctx, "RequestStop",
		trace.WithAttributes(attribute.String("aegis.plan.id", planID)))
	defer span.End()

	event := v1.NewEvent(v1.ViolationUserIntervention, v1.RiskMedium,
		fmt.Sprintf("stop requested: %s", reason), v1.ActionStopRequested, planID, "",
		map[string]interface{}{"reason": reason})
	m.logEvent(ctx, event)

	stopped, err := m.stop.RequestStop(planID, true, false)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.log.Warnf("Stop request for plan %s failed: %v", planID, err)
		return
	}
	for _, id := range stopped {
		m.plansStoppedTotal.Inc()
		m.eventBus.Emit(events.Event{
			Type:      events.PlanStopped,
			Timestamp: time.Now(),
			PlanID:    id,
			Payload:   map[string]interface{}{"reason": reason, "origin": planID},
		})
	}
	m.activePlansGauge.Set(float64(m.stop.ActiveCount()))
	m.log.Infof("Stop requested for plan %s (%d plan(s) transitioned): %s", planID, len(stopped), reason)
}

// IsStopRequested reports whether the plan's stop flag is set.
func (m *Manager) IsStopRequested(planID string) bool {
	return m.stop.IsStopped(planID)
}

// CleanupPlan removes controller state for a terminated plan.
func (m *Manager) CleanupPlan(planID string) {
	m.stop.Cleanup(planID)
	m.activePlansGauge.Set(float64(m.stop.ActiveCount()))
	m.eventBus.Emit(events.Event{
		Type:      events.PlanCleanedUp,
		Timestamp: time.Now(),
		PlanID:    planID,
	})
}

// SafetySummary returns the aggregate status report. Violation counts cover
// the last hour of the in-memory buffer.
func (m *Manager) SafetySummary() *v1.SafetySummary {
	cutoff := time.Now().Add(-recentWindow)
	recent := make(map[v1.ViolationKind]int)

	m.eventsMu.Lock()
	for _, event := range m.events {
		if event.Timestamp.After(cutoff) {
			recent[event.Kind]++
		}
	}
	total := m.totalEvents
	m.eventsMu.Unlock()

	return &v1.SafetySummary{
		Resources:        m.monitor.Summary(),
		RecentViolations: recent,
		ActivePlans:      m.stop.ActiveCount(),
		MonitorRunning:   m.monitor.Running(),
		TotalEvents:      total,
	}
}

// RecentEvents returns a copy of the in-memory event buffer, oldest first.
func (m *Manager) RecentEvents() []v1.SafetyEvent {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	out := make([]v1.SafetyEvent, len(m.events))
	copy(out, m.events)
	return out
}

// StartMonitoring starts the background resource sampling loop.
func (m *Manager) StartMonitoring() error {
	if err := m.monitor.Start(); err != nil {
		return err
	}
	m.monitorRunning.Set(1)
	m.eventBus.Emit(events.Event{Type: events.MonitoringStarted, Timestamp: time.Now()})
	return nil
}

// StopMonitoring terminates the sampling loop within a bounded join.
func (m *Manager) StopMonitoring() error {
	err := m.monitor.Stop()
	m.monitorRunning.Set(0)
	m.eventBus.Emit(events.Event{Type: events.MonitoringStopped, Timestamp: time.Now()})
	return err
}

// Close stops monitoring and releases the audit file handle.
func (m *Manager) Close() error {
	stopErr := m.StopMonitoring()
	if m.audit != nil {
		if err := m.audit.Close(); err != nil {
			m.log.Warnf("Failed to close audit log: %v", err)
		}
	}
	return stopErr
}

// handleResourceAlert is the monitor's alert callback. HIGH or worse alerts
// pull the brake on every plan the controller knows about.
func (m *Manager) handleResourceAlert(event v1.SafetyEvent) {
	m.logEvent(context.Background(), event)
	m.eventBus.Emit(events.Event{
		Type:      events.ResourceAlert,
		Timestamp: time.Now(),
		Severity:  event.Severity.String(),
		Payload:   event.Context,
	})

	if event.Severity < v1.RiskHigh {
		return
	}
	planIDs := m.stop.RegisteredPlanIDs()
	if len(planIDs) == 0 {
		return
	}
	m.log.Warnf("Resource alert at severity %s, stopping %d registered plan(s)", event.Severity, len(planIDs))
	for _, planID := range planIDs {
		stopped, err := m.stop.RequestStop(planID, true, false)
		if err != nil {
			continue
		}
		for range stopped {
			m.plansStoppedTotal.Inc()
		}
	}
	m.activePlansGauge.Set(float64(m.stop.ActiveCount()))
}

// logEvent is the single funnel every safety event passes through: bounded
// in-memory buffer, metrics, audit file, event bus. Audit write failures
// are logged, never returned.
func (m *Manager) logEvent(_ context.Context, event v1.SafetyEvent) {
	m.eventsMu.Lock()
	m.events = append(m.events, event)
	if len(m.events) > eventBufferLimit {
		m.events = m.events[len(m.events)-eventBufferLimit:]
	}
	m.totalEvents++
	m.eventsMu.Unlock()

	m.eventsTotal.WithLabelValues(string(event.Kind), event.Severity.String()).Inc()

	if m.audit != nil {
		if err := m.audit.Append(event); err != nil {
			m.log.Errorf("Failed to append safety event to audit log: %v", err)
		}
	}

	m.eventBus.Emit(events.Event{
		Type:      events.SafetyViolation,
		Timestamp: event.Timestamp,
		PlanID:    event.PlanID,
		SubtaskID: event.SubtaskID,
		Severity:  event.Severity.String(),
		Payload: map[string]interface{}{
			"kind":         string(event.Kind),
			"description":  event.Description,
			"action_taken": event.ActionTaken,
		},
	})

	if event.Severity >= v1.RiskHigh {
		m.log.Warnf("Safety event [%s/%s] %s (action=%s plan=%s)",
			event.Kind, event.Severity, event.Description, event.ActionTaken, event.PlanID)
	} else {
		m.log.Debugf("Safety event [%s/%s] %s (action=%s plan=%s)",
			event.Kind, event.Severity, event.Description, event.ActionTaken, event.PlanID)
	}
}

// MetricsRegistryProvider returns the metrics provider.
func (m *Manager) MetricsRegistryProvider() aegismetrics.RegistryProvider {
	return m.metricsProvider
}

// TracerProvider returns the tracing provider.
func (m *Manager) TracerProvider() aegistracing.TracerProvider {
	return m.tracerProvider
}

// GetBusViolationCounter exposes the bus-level violation counter for the
// metrics event listener.
func (m *Manager) GetBusViolationCounter() *prometheus.CounterVec {
	return m.busViolationsTotal
}

// GetBusEmergencyCounter exposes the bus-level emergency counter for the
// metrics event listener.
func (m *Manager) GetBusEmergencyCounter() prometheus.Counter {
	return m.busEmergencies
}

// GetBusPlanStopsCounter exposes the bus-level plan stop counter for the
// metrics event listener.
func (m *Manager) GetBusPlanStopsCounter() prometheus.Counter {
	return m.busPlanStops
}

// SetLimits sets the safety limits. Intended for option wiring before the
// manager is in use.
func (m *Manager) SetLimits(limits *config.SafetyLimits) error {
	m.limits = limits
	return nil
}

// SetEventBus sets the event bus.
func (m *Manager) SetEventBus(bus events.Bus) error {
	m.eventBus = bus
	return nil
}

// SetMetricsRegistryProvider sets the metrics provider.
func (m *Manager) SetMetricsRegistryProvider(provider aegismetrics.RegistryProvider) error {
	m.metricsProvider = provider
	return nil
}

// SetTracerProvider sets the tracing provider.
func (m *Manager) SetTracerProvider(provider aegistracing.TracerProvider) error {
	m.tracerProvider = provider
	return nil
}

// SetAuditLogPath sets the audit log path.
func (m *Manager) SetAuditLogPath(path string) error {
	m.auditPath = path
	return nil
}

// SetApprovalFunc sets the approval callback for high-risk plans.
func (m *Manager) SetApprovalFunc(fn v1.ApprovalFunc) error {
	m.approval = fn
	return nil
}

// SetMetricsSource sets the resource metrics source.
func (m *Manager) SetMetricsSource(source v1.MetricsSource) error {
	m.source = source
	return nil
}

// SetMonitorInterval sets the monitor's sampling interval.
func (m *Manager) SetMonitorInterval(interval time.Duration) error {
	m.monitorInterval = interval
	return nil
}
