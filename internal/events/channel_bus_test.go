package events_test

import (
	"context"
	"os"
	"testing"
	"time"

	intevents "github.com/aegis-labs/aegis/internal/events"
	"github.com/aegis-labs/aegis/internal/logger"
	"github.com/aegis-labs/aegis/pkg/aegis/v1/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestChannelEventBus_DeliversInOrder(t *testing.T) {
	log := logger.NewLogger("debug", "text", os.Stderr)
	bus := intevents.NewChannelEventBus(8, log)
	defer bus.Close()

	bus.Emit(events.Event{Type: events.PlanRegistered, PlanID: "p1"})
	bus.Emit(events.Event{Type: events.PlanStopped, PlanID: "p1"})

	first := <-bus.GetChannel()
	second := <-bus.GetChannel()
	assert.Equal(t, events.PlanRegistered, first.Type)
	assert.Equal(t, events.PlanStopped, second.Type)
}

func TestChannelEventBus_DropsWhenFull(t *testing.T) {
	log := logger.NewLogger("debug", "text", os.Stderr)
	bus := intevents.NewChannelEventBus(1, log)
	defer bus.Close()

	bus.Emit(events.Event{Type: events.PlanRegistered})
	done := make(chan struct{})
	go func() {
		// Must return immediately even with a full buffer.
		bus.Emit(events.Event{Type: events.PlanStopped})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	received := <-bus.GetChannel()
	assert.Equal(t, events.PlanRegistered, received.Type, "the overflow event was dropped")
	select {
	case leftover := <-bus.GetChannel():
		t.Fatalf("unexpected event %v survived the drop", leftover.Type)
	default:
	}
}

func TestChannelEventBus_DefaultBufferSize(t *testing.T) {
	log := logger.NewLogger("debug", "text", os.Stderr)
	bus := intevents.NewChannelEventBus(0, log)
	defer bus.Close()

	for i := 0; i < 100; i++ {
		bus.Emit(events.Event{Type: events.SafetyViolation})
	}
	assert.Len(t, bus.GetChannel(), 100, "non-positive size falls back to the 100-slot default")
}

func TestNoOpEventBus_Discards(t *testing.T) {
	bus := intevents.NewNoOpEventBus()
	bus.Emit(events.Event{Type: events.EmergencyTriggered})
}

func TestMetricsEventListener_CountsEvents(t *testing.T) {
	log := logger.NewLogger("debug", "text", os.Stderr)
	bus := intevents.NewChannelEventBus(32, log)

	violations := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_violations_total"}, []string{"type", "severity"})
	emergencies := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_emergencies_total"})
	planStops := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_plan_stops_total"})

	listener := intevents.NewMetricsEventListener(bus, violations, emergencies, planStops, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listenerDone := make(chan struct{})
	go func() {
		listener.Start(ctx)
		close(listenerDone)
	}()

	bus.Emit(events.Event{Type: events.SafetyViolation, Severity: "CRITICAL"})
	bus.Emit(events.Event{Type: events.ResourceAlert, Severity: "HIGH"})
	bus.Emit(events.Event{Type: events.EmergencyTriggered})
	bus.Emit(events.Event{Type: events.PlanStopped})
	bus.Emit(events.Event{Type: events.PlanRegistered})
	bus.Close()
	<-listenerDone

	assert.Equal(t, 1.0, testutil.ToFloat64(violations.WithLabelValues("SafetyViolation", "CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(violations.WithLabelValues("ResourceAlert", "HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(emergencies))
	assert.Equal(t, 1.0, testutil.ToFloat64(planStops))
}

func TestMetricsEventListener_StopsOnContextCancel(t *testing.T) {
	log := logger.NewLogger("debug", "text", os.Stderr)
	bus := intevents.NewChannelEventBus(4, log)
	defer bus.Close()

	violations := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cancel_violations_total"}, []string{"type", "severity"})
	emergencies := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_cancel_emergencies_total"})
	planStops := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_cancel_plan_stops_total"})

	listener := intevents.NewMetricsEventListener(bus, violations, emergencies, planStops, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		listener.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop on context cancellation")
	}
}
