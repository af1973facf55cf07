package v1

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-labs/aegis/internal/util"
)

// RiskLevel is the ordered severity tier applied to operations and alerts.
// The numeric ordering is the contract: comparisons with >= drive every
// threshold decision in the control-plane.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskLevelNames = map[RiskLevel]string{
	RiskLow:      "LOW",
	RiskMedium:   "MEDIUM",
	RiskHigh:     "HIGH",
	RiskCritical: "CRITICAL",
}

// String returns the canonical uppercase tier name.
func (r RiskLevel) String() string {
	if name, ok := riskLevelNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RISK(%d)", int(r))
}

// ParseRiskLevel converts a tier name (case-insensitive) back to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	case "CRITICAL":
		return RiskCritical, nil
	}
	return RiskLow, fmt.Errorf("unknown risk level: %q", s)
}

// MaxRiskLevel returns the higher of two tiers. Risk only ever ratchets up.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if a >= b {
		return a
	}
	return b
}

// MarshalJSON encodes the tier as its name so audit records stay readable.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts a tier name.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// ViolationKind is the categorical tag of a safety event.
type ViolationKind string

const (
	ViolationResourceLimit    ViolationKind = "resource_limit"
	ViolationRecursionDepth   ViolationKind = "recursion_depth"
	ViolationExecutionTime    ViolationKind = "execution_time"
	ViolationUnsafeOperation  ViolationKind = "unsafe_operation"
	ViolationSystemRisk       ViolationKind = "system_risk"
	ViolationUserIntervention ViolationKind = "user_intervention"
)

// Actions recorded on safety events.
const (
	ActionLogged           = "logged"
	ActionPlanRejected     = "plan_rejected"
	ActionRequiresApproval = "requires_approval"
	ActionOperationBlocked = "operation_blocked"
	ActionStopRequested    = "stop_requested"
	ActionAlertDispatched  = "alert_dispatched"
	ActionEmergencyStop    = "emergency_shutdown"
)

// SafetyEvent is the atomic audit record describing one detected condition.
// Events are immutable once constructed; the context map is deep-copied at
// creation so later mutation by the caller cannot alter the record.
type SafetyEvent struct {
	ID          string
	Timestamp   time.Time
	Kind        ViolationKind
	Severity    RiskLevel
	Description string
	Context     map[string]interface{}
	ActionTaken string
	PlanID      string
	SubtaskID   string
}

// NewEvent constructs an immutable safety event with a fresh ID and the
// current timestamp. The context map is deep-copied.
func NewEvent(kind ViolationKind, severity RiskLevel, description, actionTaken, planID, subtaskID string, context map[string]interface{}) SafetyEvent {
	var ctxCopy map[string]interface{}
	if context != nil {
		ctxCopy, _ = util.DeepCopy(context).(map[string]interface{})
	}
	return SafetyEvent{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Kind:        kind,
		Severity:    severity,
		Description: description,
		Context:     ctxCopy,
		ActionTaken: actionTaken,
		PlanID:      planID,
		SubtaskID:   subtaskID,
	}
}

// auditRecord is the wire form of a SafetyEvent in the append-only audit log:
// one JSON object per line, timestamp as numeric epoch seconds.
type auditRecord struct {
	ID          string                 `json:"id,omitempty"`
	Timestamp   float64                `json:"timestamp"`
	EventType   string                 `json:"event_type"`
	Severity    string                 `json:"severity"`
	Description string                 `json:"description"`
	PlanID      string                 `json:"plan_id,omitempty"`
	SubtaskID   string                 `json:"subtask_id,omitempty"`
	ActionTaken string                 `json:"action_taken"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// MarshalJSON encodes the event in the audit wire form.
func (e SafetyEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(auditRecord{
		ID:          e.ID,
		Timestamp:   float64(e.Timestamp.UnixNano()) / float64(time.Second),
		EventType:   string(e.Kind),
		Severity:    e.Severity.String(),
		Description: e.Description,
		PlanID:      e.PlanID,
		SubtaskID:   e.SubtaskID,
		ActionTaken: e.ActionTaken,
		Context:     e.Context,
	})
}

// UnmarshalJSON decodes the audit wire form back into a SafetyEvent.
func (e *SafetyEvent) UnmarshalJSON(data []byte) error {
	var rec auditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	severity, err := ParseRiskLevel(rec.Severity)
	if err != nil {
		return err
	}
	e.ID = rec.ID
	e.Timestamp = time.Unix(0, int64(rec.Timestamp*float64(time.Second)))
	e.Kind = ViolationKind(rec.EventType)
	e.Severity = severity
	e.Description = rec.Description
	e.PlanID = rec.PlanID
	e.SubtaskID = rec.SubtaskID
	e.ActionTaken = rec.ActionTaken
	e.Context = rec.Context
	return nil
}

// Subtask is an atomic step within a plan. Its description is what the
// operation validator classifies.
type Subtask struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Description string `json:"description" yaml:"description"`
}

// Plan is a unit of autonomous work submitted for validation. The caller
// owns the plan; the control-plane references it by ID only.
type Plan struct {
	ID             string    `json:"id" yaml:"id"`
	ParentID       string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	RecursionDepth int       `json:"recursion_depth" yaml:"recursion_depth"`
	Subtasks       []Subtask `json:"subtasks" yaml:"subtasks"`
}

// Sample is one reading from the resource metrics source.
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	MemoryMB      float64   `json:"memory_mb"`
	MemoryPercent float64   `json:"memory_percent"`
	CPUPercent    float64   `json:"cpu_percent"`
}

// MetricsSource is the outbound collaborator interface the resource monitor
// depends on: something that can report current memory and CPU utilization.
// The default implementation reads procfs; tests substitute a fake.
type MetricsSource interface {
	Sample() (Sample, error)
}

// ResourceLimits is the subset of the safety limits the monitor compares
// samples against.
type ResourceLimits struct {
	MaxMemoryMB   float64 `json:"max_memory_usage_mb" yaml:"max_memory_usage_mb"`
	MaxCPUPercent float64 `json:"max_cpu_usage_percent" yaml:"max_cpu_usage_percent"`
}

// ResourceStatus summarizes the monitor's view of the system.
type ResourceStatus struct {
	Current      Sample         `json:"current"`
	Average      Sample         `json:"average"`
	Limits       ResourceLimits `json:"limits"`
	WithinLimits bool           `json:"within_limits"`
	SampleCount  int            `json:"sample_count"`
}

// SafetySummary is the manager's aggregate status report, suitable for
// rendering by a CLI or GUI collaborator.
type SafetySummary struct {
	Resources        ResourceStatus        `json:"resources"`
	RecentViolations map[ViolationKind]int `json:"recent_violations"`
	ActivePlans      int                   `json:"active_plans"`
	MonitorRunning   bool                  `json:"monitor_running"`
	TotalEvents      int64                 `json:"total_events"`
}

// ApprovalFunc decides whether a plan carrying HIGH-risk (but not CRITICAL)
// findings may proceed. The default is nil, which the manager treats as
// deny: autonomous operation fails closed.
type ApprovalFunc func(plan *Plan, events []SafetyEvent) bool
