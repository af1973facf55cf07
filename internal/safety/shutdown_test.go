package safety_test

import (
	"testing"

	"github.com/aegis-labs/aegis/internal/safety"
	aegis "github.com/aegis-labs/aegis/pkg/aegis/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmergencyShutdown_StopsEverythingOnce(t *testing.T) {
	f := setupManager(t, nil)
	m := f.manager
	shutdown := safety.NewEmergencyShutdown(m)

	require.NoError(t, m.RegisterPlan("p1", ""))
	require.NoError(t, m.RegisterPlan("p2", "p1"))
	require.NoError(t, m.StartMonitoring())

	var reasons []string
	shutdown.AddShutdownCallback(func(reason string) { reasons = append(reasons, reason) })

	shutdown.Trigger("resource exhaustion")

	assert.True(t, shutdown.Triggered())
	assert.True(t, m.IsStopRequested("p1"))
	assert.True(t, m.IsStopRequested("p2"))
	assert.False(t, m.SafetySummary().MonitorRunning, "shutdown halts the monitor")
	assert.Equal(t, []string{"resource exhaustion"}, reasons)

	recent := m.RecentEvents()
	require.NotEmpty(t, recent)
	terminal := recent[len(recent)-1]
	assert.Equal(t, aegis.ViolationSystemRisk, terminal.Kind)
	assert.Equal(t, aegis.RiskCritical, terminal.Severity)
	assert.Equal(t, aegis.ActionEmergencyStop, terminal.ActionTaken)
	assert.Contains(t, terminal.Description, "resource exhaustion")
}

func TestEmergencyShutdown_SecondTriggerIsNoOp(t *testing.T) {
	f := setupManager(t, nil)
	shutdown := safety.NewEmergencyShutdown(f.manager)

	calls := 0
	shutdown.AddShutdownCallback(func(string) { calls++ })

	shutdown.Trigger("first")
	eventsAfterFirst := f.manager.SafetySummary().TotalEvents
	shutdown.Trigger("second")

	assert.Equal(t, 1, calls, "callbacks fire once per armed period")
	assert.Equal(t, eventsAfterFirst, f.manager.SafetySummary().TotalEvents,
		"the ignored trigger records no event")
}

func TestEmergencyShutdown_ResetRearms(t *testing.T) {
	f := setupManager(t, nil)
	shutdown := safety.NewEmergencyShutdown(f.manager)

	calls := 0
	shutdown.AddShutdownCallback(func(string) { calls++ })

	shutdown.Trigger("first")
	shutdown.Reset()
	assert.False(t, shutdown.Triggered())

	shutdown.Trigger("second")
	assert.Equal(t, 2, calls)
}

func TestEmergencyShutdown_ResetWithoutTriggerIsNoOp(t *testing.T) {
	f := setupManager(t, nil)
	shutdown := safety.NewEmergencyShutdown(f.manager)
	shutdown.Reset()
	assert.False(t, shutdown.Triggered())
}

func TestEmergencyShutdown_CallbackPanicIsContained(t *testing.T) {
	f := setupManager(t, nil)
	shutdown := safety.NewEmergencyShutdown(f.manager)

	shutdown.AddShutdownCallback(func(string) { panic("handler bug") })
	survived := false
	shutdown.AddShutdownCallback(func(string) { survived = true })

	shutdown.Trigger("panic test")
	assert.True(t, survived, "a panicking callback must not starve the rest")
}

func TestEmergencyShutdown_DoesNotClearStopFlagsOnReset(t *testing.T) {
	f := setupManager(t, nil)
	m := f.manager
	shutdown := safety.NewEmergencyShutdown(m)

	require.NoError(t, m.RegisterPlan("p1", ""))
	shutdown.Trigger("halt")
	shutdown.Reset()

	assert.True(t, m.IsStopRequested("p1"),
		"re-arming the switch does not resurrect stopped plans")
}

func TestEmergencyShutdown_TriggerWithIdleMonitor(t *testing.T) {
	f := setupManager(t, nil)
	shutdown := safety.NewEmergencyShutdown(f.manager)

	// Nothing registered, monitor never started; the trigger must still
	// complete and record its terminal event.
	shutdown.Trigger("precautionary halt")

	assert.Equal(t, int64(1), f.manager.SafetySummary().TotalEvents)
	assert.True(t, shutdown.Triggered())
}
