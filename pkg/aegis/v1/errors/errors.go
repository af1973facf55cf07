// Package errors defines the typed error values returned by Aegis components.
//
// Plan and operation rejections are NOT errors: they are expected, frequent
// outcomes and are returned as verdict values with explanatory safety events.
// The types here cover infrastructure and configuration failures only.
package errors

import (
	"errors"
	"fmt"
)

// ConfigError represents a failure while loading, parsing or applying the
// safety limits configuration or manager options.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates that an input (limits file, plan structure,
// option value) failed validation checks.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// PlanNotRegisteredError is returned when an operation references a plan ID
// unknown to the stop controller.
type PlanNotRegisteredError struct {
	PlanID string
}

func NewPlanNotRegisteredError(planID string) *PlanNotRegisteredError {
	return &PlanNotRegisteredError{PlanID: planID}
}
func (e *PlanNotRegisteredError) Error() string {
	return fmt.Sprintf("plan not registered: %s", e.PlanID)
}

// IsPlanNotRegistered checks whether err wraps a PlanNotRegisteredError.
func IsPlanNotRegistered(err error) bool {
	var pnr *PlanNotRegisteredError
	return errors.As(err, &pnr)
}

// CallbackPanicError records a panic recovered from a subscriber callback
// (alert, stop or shutdown). One faulty subscriber must never prevent
// delivery to the rest, so these are logged rather than propagated.
type CallbackPanicError struct {
	Component string
	Value     interface{}
}

func NewCallbackPanicError(component string, value interface{}) *CallbackPanicError {
	return &CallbackPanicError{Component: component, Value: value}
}
func (e *CallbackPanicError) Error() string {
	return fmt.Sprintf("callback panic in %s: %v", e.Component, e.Value)
}

// AuditWriteError indicates the append-only audit log could not be written.
// It is caught at the manager boundary and logged, never surfaced to callers.
type AuditWriteError struct {
	Path  string
	Cause error
}

func NewAuditWriteError(path string, cause error) *AuditWriteError {
	return &AuditWriteError{Path: path, Cause: cause}
}
func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit log write failed for '%s': %v", e.Path, e.Cause)
}
func (e *AuditWriteError) Unwrap() error { return e.Cause }

// MonitorStoppedError indicates the resource monitor loop did not confirm
// shutdown within the bounded join timeout.
type MonitorStoppedError struct {
	Timeout string
}

func NewMonitorStoppedError(timeout string) *MonitorStoppedError {
	return &MonitorStoppedError{Timeout: timeout}
}
func (e *MonitorStoppedError) Error() string {
	return fmt.Sprintf("resource monitor did not stop within %s", e.Timeout)
}
