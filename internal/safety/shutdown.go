package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	v1 "github.com/aegis-labs/aegis/pkg/aegis/v1"
	aegiserrors "github.com/aegis-labs/aegis/pkg/aegis/v1/errors"
	"github.com/aegis-labs/aegis/pkg/aegis/v1/events"
	aegislog "github.com/aegis-labs/aegis/pkg/aegis/v1/log"
)

// ShutdownCallback is invoked once when an emergency shutdown triggers.
// Callbacks run synchronously, in registration order, with panics contained.
type ShutdownCallback func(reason string)

// EmergencyShutdown is the big red button: a one-shot, idempotent kill
// switch that stops every registered plan, runs the registered callbacks
// and halts resource monitoring. Reset re-arms it.
type EmergencyShutdown struct {
	manager *Manager
	log     aegislog.Logger

	mu        sync.Mutex
	triggered bool
	callbacks []ShutdownCallback
}

// NewEmergencyShutdown wires a kill switch to a manager.
func NewEmergencyShutdown(manager *Manager) *EmergencyShutdown {
	if manager == nil {
		panic("safety.NewEmergencyShutdown: manager cannot be nil")
	}
	return &EmergencyShutdown{manager: manager, log: manager.log}
}

// AddShutdownCallback registers a callback to run on trigger.
func (s *EmergencyShutdown) AddShutdownCallback(fn ShutdownCallback) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Triggered reports whether the shutdown has fired and not been reset.
func (s *EmergencyShutdown) Triggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggered
}

// Trigger fires the shutdown exactly once per armed period. Subsequent
// calls before Reset are no-ops. Order matters: plans are stopped first so
// execution loops observe their flags at the next poll, then callbacks run,
// then the terminal event is recorded, then monitoring stops.
func (s *EmergencyShutdown) Trigger(reason string) {
	s.mu.Lock()
	if s.triggered {
		s.mu.Unlock()
		s.log.Warnf("Emergency shutdown already triggered, ignoring (reason: %s)", reason)
		return
	}
	s.triggered = true
	callbacks := make([]ShutdownCallback, len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	s.log.Errorf("EMERGENCY SHUTDOWN triggered: %s", reason)
	s.manager.emergenciesTotal.Inc()

	m := s.manager
	for _, planID := range m.stop.RegisteredPlanIDs() {
		stopped, err := m.stop.RequestStop(planID, true, false)
		if err != nil {
			continue
		}
		for range stopped {
			m.plansStoppedTotal.Inc()
		}
	}
	m.activePlansGauge.Set(float64(m.stop.ActiveCount()))

	for i, fn := range callbacks {
		s.runCallback(i, reason, fn)
	}

	event := v1.NewEvent(v1.ViolationSystemRisk, v1.RiskCritical,
		fmt.Sprintf("emergency shutdown: %s", reason), v1.ActionEmergencyStop, "", "",
		map[string]interface{}{"reason": reason})
	m.logEvent(context.Background(), event)

	m.eventBus.Emit(events.Event{
		Type:      events.EmergencyTriggered,
		Timestamp: time.Now(),
		Severity:  v1.RiskCritical.String(),
		Payload:   map[string]interface{}{"reason": reason},
	})

	if err := m.StopMonitoring(); err != nil {
		s.log.Warnf("Failed to stop monitoring during emergency shutdown: %v", err)
	}
}

func (s *EmergencyShutdown) runCallback(index int, reason string, fn ShutdownCallback) {
	defer func() {
		if r := recover(); r != nil {
			err := aegiserrors.NewCallbackPanicError(fmt.Sprintf("shutdown callback %d", index), r)
			s.log.Errorf("Shutdown callback panicked: %v", err)
		}
	}()
	fn(reason)
}

// Reset re-arms the kill switch. Stop flags on individual plans are not
// cleared; the stop controller owns those.
func (s *EmergencyShutdown) Reset() {
	s.mu.Lock()
	wasTriggered := s.triggered
	s.triggered = false
	s.mu.Unlock()

	if !wasTriggered {
		return
	}
	s.log.Infof("Emergency shutdown reset, system re-armed")
	s.manager.eventBus.Emit(events.Event{
		Type:      events.EmergencyReset,
		Timestamp: time.Now(),
	})
}
