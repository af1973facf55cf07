// Package events defines the event bus interface and the engine-level event
// types published by the safety control-plane.
package events

import "time"

// EventType categorizes a control-plane event.
type EventType string

const (
	MonitoringStarted  EventType = "MonitoringStarted"
	MonitoringStopped  EventType = "MonitoringStopped"
	PlanRegistered     EventType = "PlanRegistered"
	PlanApproved       EventType = "PlanApproved"
	PlanRejected       EventType = "PlanRejected"
	PlanStopped        EventType = "PlanStopped"
	PlanCleanedUp      EventType = "PlanCleanedUp"
	SafetyViolation    EventType = "SafetyViolation"
	ResourceAlert      EventType = "ResourceAlert"
	EmergencyTriggered EventType = "EmergencyTriggered"
	EmergencyReset     EventType = "EmergencyReset"
)

// Event is a significant occurrence inside the control-plane, published for
// in-process listeners (metrics exporters, UIs). Audit-grade records go
// through the manager's safety event funnel instead; bus delivery is
// best-effort and may drop under backpressure.
type Event struct {
	// Type categorizes the event.
	Type EventType `json:"type"`
	// Timestamp marks when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// PlanID identifies the plan context, if applicable.
	PlanID string `json:"plan_id,omitempty"`
	// SubtaskID identifies the subtask context, if applicable.
	SubtaskID string `json:"subtask_id,omitempty"`
	// Severity carries the risk tier name for violation and alert events.
	Severity string `json:"severity,omitempty"`
	// Payload contains event-specific data. It must never contain values
	// the audit log would redact.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Bus is the interface for publishing control-plane events.
// Implementations must not block the caller: the manager and the monitor
// emit from hot paths, including the sampling goroutine.
type Bus interface {
	// Emit publishes an event to the bus.
	Emit(event Event)
}
