package events

import "github.com/aegis-labs/aegis/pkg/aegis/v1/events"

// NoOpEventBus discards every event. It is the fallback bus when no event
// handling is configured, so emitting components never hold a nil Bus.
type NoOpEventBus struct{}

// NewNoOpEventBus returns a bus that does nothing.
func NewNoOpEventBus() events.Bus {
	return &NoOpEventBus{}
}

// Emit implements events.Bus.
func (n *NoOpEventBus) Emit(event events.Event) {
	// Intentionally does nothing.
}

var _ events.Bus = (*NoOpEventBus)(nil)
