package safety_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aegis-labs/aegis/internal/config"
	"github.com/aegis-labs/aegis/internal/logger"
	"github.com/aegis-labs/aegis/internal/safety"
	aegis "github.com/aegis-labs/aegis/pkg/aegis/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource reports a fixed sample, adjustable under a lock.
type stubSource struct {
	mu     sync.Mutex
	sample aegis.Sample
}

func (s *stubSource) Sample() (aegis.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample := s.sample
	sample.Timestamp = time.Now()
	return sample, nil
}

func (s *stubSource) set(sample aegis.Sample) {
	s.mu.Lock()
	s.sample = sample
	s.mu.Unlock()
}

type managerFixture struct {
	manager   *safety.Manager
	source    *stubSource
	auditPath string
}

func setupManager(t *testing.T, limits *config.SafetyLimits, extra ...aegis.Option) *managerFixture {
	t.Helper()
	log := logger.NewLogger("debug", "text", os.Stderr)
	source := &stubSource{sample: aegis.Sample{MemoryMB: 1, CPUPercent: 1}}
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")

	opts := []aegis.Option{
		aegis.WithMetricsSource(source),
		aegis.WithAuditLogPath(auditPath),
		aegis.WithMonitorInterval(10 * time.Millisecond),
	}
	if limits != nil {
		opts = append(opts, aegis.WithLimits(limits))
	}
	opts = append(opts, extra...)

	manager, err := safety.NewManager(log, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return &managerFixture{manager: manager, source: source, auditPath: auditPath}
}

func eventKinds(events []aegis.SafetyEvent) []aegis.ViolationKind {
	kinds := make([]aegis.ViolationKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestNewManager_RequiresLogger(t *testing.T) {
	_, err := safety.NewManager(nil)
	assert.Error(t, err)
}

func TestValidatePlan_CleanPlanApproved(t *testing.T) {
	f := setupManager(t, nil)

	plan := &aegis.Plan{
		ID:             "plan-1",
		RecursionDepth: 1,
		Subtasks: []aegis.Subtask{
			{ID: "s1", Description: "summarize the document"},
			{ID: "s2", Description: "write results to report.md"},
		},
	}
	approved, raised := f.manager.ValidatePlan(context.Background(), plan)

	assert.True(t, approved)
	assert.Empty(t, raised)
}

func TestValidatePlan_NilPlanRejected(t *testing.T) {
	f := setupManager(t, nil)

	approved, raised := f.manager.ValidatePlan(context.Background(), nil)

	assert.False(t, approved)
	require.Len(t, raised, 1)
	assert.Equal(t, aegis.ViolationSystemRisk, raised[0].Kind)
}

func TestValidatePlan_RecursionDepthExceeded(t *testing.T) {
	f := setupManager(t, &config.SafetyLimits{MaxRecursionDepth: 2})

	plan := &aegis.Plan{ID: "deep", RecursionDepth: 3}
	approved, raised := f.manager.ValidatePlan(context.Background(), plan)

	assert.False(t, approved)
	require.Len(t, raised, 1)
	event := raised[0]
	assert.Equal(t, aegis.ViolationRecursionDepth, event.Kind)
	assert.Equal(t, aegis.RiskHigh, event.Severity)
	assert.Equal(t, aegis.ActionPlanRejected, event.ActionTaken)
	assert.Equal(t, 3, event.Context["recursion_depth"])
}

func TestValidatePlan_DepthAtLimitPasses(t *testing.T) {
	f := setupManager(t, &config.SafetyLimits{MaxRecursionDepth: 2})

	plan := &aegis.Plan{ID: "edge", RecursionDepth: 2}
	approved, raised := f.manager.ValidatePlan(context.Background(), plan)

	assert.True(t, approved)
	assert.Empty(t, raised)
}

func TestValidatePlan_SubtaskCountExceeded(t *testing.T) {
	f := setupManager(t, &config.SafetyLimits{MaxSubtasks: 2})

	plan := &aegis.Plan{ID: "wide", Subtasks: []aegis.Subtask{
		{Description: "a"}, {Description: "b"}, {Description: "c"},
	}}
	approved, raised := f.manager.ValidatePlan(context.Background(), plan)

	assert.False(t, approved, "limit violations reject even at MEDIUM severity")
	require.Len(t, raised, 1)
	assert.Equal(t, aegis.ViolationResourceLimit, raised[0].Kind)
	assert.Equal(t, aegis.RiskMedium, raised[0].Severity)
}

func TestValidatePlan_BlockedOperationRejects(t *testing.T) {
	f := setupManager(t, nil)

	plan := &aegis.Plan{ID: "hostile", Subtasks: []aegis.Subtask{
		{ID: "s1", Description: "clean up with rm -rf / for a fresh start"},
	}}
	approved, raised := f.manager.ValidatePlan(context.Background(), plan)

	assert.False(t, approved)
	require.Len(t, raised, 1)
	event := raised[0]
	assert.Equal(t, aegis.ViolationUnsafeOperation, event.Kind)
	assert.Equal(t, aegis.RiskCritical, event.Severity)
	assert.Equal(t, aegis.ActionOperationBlocked, event.ActionTaken)
	assert.Equal(t, "s1", event.SubtaskID)
}

func TestValidatePlan_HighRiskFailsClosedWithoutApproval(t *testing.T) {
	f := setupManager(t, nil)

	plan := &aegis.Plan{ID: "risky", Subtasks: []aegis.Subtask{
		{ID: "s1", Description: "rm -rf ./scratch"},
	}}
	approved, raised := f.manager.ValidatePlan(context.Background(), plan)

	assert.False(t, approved, "no approval channel means deny")
	require.Len(t, raised, 1)
	assert.Equal(t, aegis.RiskHigh, raised[0].Severity)
	assert.Equal(t, aegis.ActionRequiresApproval, raised[0].ActionTaken)
}

func TestValidatePlan_HighRiskHonorsApprovalFunc(t *testing.T) {
	approvals := 0
	approve := func(plan *aegis.Plan, raised []aegis.SafetyEvent) bool {
		approvals++
		return true
	}
	f := setupManager(t, nil, aegis.WithApprovalFunc(approve))

	plan := &aegis.Plan{ID: "risky", Subtasks: []aegis.Subtask{
		{ID: "s1", Description: "rm -rf ./scratch"},
	}}
	approved, raised := f.manager.ValidatePlan(context.Background(), plan)

	assert.True(t, approved)
	assert.Equal(t, 1, approvals)
	require.Len(t, raised, 1, "approval does not suppress the event record")
}

func TestValidatePlan_ApprovalFuncCanDeny(t *testing.T) {
	deny := func(*aegis.Plan, []aegis.SafetyEvent) bool { return false }
	f := setupManager(t, nil, aegis.WithApprovalFunc(deny))

	plan := &aegis.Plan{ID: "risky", Subtasks: []aegis.Subtask{
		{Description: "rm -rf ./scratch"},
	}}
	approved, _ := f.manager.ValidatePlan(context.Background(), plan)
	assert.False(t, approved)
}

func TestValidatePlan_CriticalSkipsApprovalFunc(t *testing.T) {
	called := false
	approve := func(*aegis.Plan, []aegis.SafetyEvent) bool {
		called = true
		return true
	}
	f := setupManager(t, nil, aegis.WithApprovalFunc(approve))

	plan := &aegis.Plan{ID: "hostile", Subtasks: []aegis.Subtask{
		{Description: "sudo systemctl stop firewalld"},
	}}
	approved, _ := f.manager.ValidatePlan(context.Background(), plan)

	assert.False(t, approved)
	assert.False(t, called, "CRITICAL findings are not negotiable")
}

func TestValidateOperation(t *testing.T) {
	f := setupManager(t, nil)

	allowed, risk, msg := f.manager.ValidateOperation("read the changelog", nil)
	assert.True(t, allowed)
	assert.Equal(t, aegis.RiskLow, risk)
	assert.NotEmpty(t, msg)

	allowed, risk, _ = f.manager.ValidateOperation("iptables -F", map[string]interface{}{
		"recursion_depth": float64(5),
		"plan_id":         "p1",
	})
	assert.False(t, allowed, "deep recursion escalates a MEDIUM finding to CRITICAL")
	assert.Equal(t, aegis.RiskCritical, risk)

	allowed, risk, _ = f.manager.ValidateOperation("write output", map[string]interface{}{
		"target_path": "payload.exe",
	})
	assert.False(t, allowed)
	assert.Equal(t, aegis.RiskHigh, risk)
}

func TestRequestStop_PropagatesToDescendants(t *testing.T) {
	f := setupManager(t, nil)
	m := f.manager

	require.NoError(t, m.RegisterPlan("root", ""))
	require.NoError(t, m.RegisterPlan("child", "root"))
	require.NoError(t, m.RegisterPlan("grandchild", "child"))
	require.NoError(t, m.RegisterPlan("bystander", ""))

	m.RequestStop(context.Background(), "root", "operator abort")

	assert.True(t, m.IsStopRequested("root"))
	assert.True(t, m.IsStopRequested("child"))
	assert.True(t, m.IsStopRequested("grandchild"))
	assert.False(t, m.IsStopRequested("bystander"))

	kinds := eventKinds(m.RecentEvents())
	assert.Contains(t, kinds, aegis.ViolationUserIntervention)
}

func TestRequestStop_UnknownPlanIsLoggedNotFatal(t *testing.T) {
	f := setupManager(t, nil)
	f.manager.RequestStop(context.Background(), "ghost", "whatever")
	assert.False(t, f.manager.IsStopRequested("ghost"))
}

func TestCleanupPlan(t *testing.T) {
	f := setupManager(t, nil)
	m := f.manager

	require.NoError(t, m.RegisterPlan("p1", ""))
	m.RequestStop(context.Background(), "p1", "done")
	require.True(t, m.IsStopRequested("p1"))

	m.CleanupPlan("p1")
	assert.False(t, m.IsStopRequested("p1"), "cleanup removes all plan state")
	assert.Equal(t, 0, m.SafetySummary().ActivePlans)
}

func TestSafetySummary_CountsRecentViolationsByKind(t *testing.T) {
	f := setupManager(t, &config.SafetyLimits{MaxRecursionDepth: 1})
	m := f.manager

	m.ValidatePlan(context.Background(), &aegis.Plan{ID: "deep", RecursionDepth: 5})
	m.ValidatePlan(context.Background(), &aegis.Plan{ID: "hostile", Subtasks: []aegis.Subtask{
		{Description: "sudo reboot"},
	}})

	summary := m.SafetySummary()
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.RecentViolations[aegis.ViolationRecursionDepth])
	assert.Equal(t, 1, summary.RecentViolations[aegis.ViolationUnsafeOperation])
	assert.Equal(t, int64(2), summary.TotalEvents)
	assert.False(t, summary.MonitorRunning)
}

func TestManager_EventBufferEvictsOldestPastLimit(t *testing.T) {
	f := setupManager(t, nil)
	m := f.manager
	require.NoError(t, m.RegisterPlan("long-runner", ""))

	const logged = 1100
	for i := 0; i < logged; i++ {
		m.RequestStop(context.Background(), "long-runner", fmt.Sprintf("sweep %d", i))
	}

	recent := m.RecentEvents()
	require.Len(t, recent, 1000)
	assert.Equal(t, "stop requested: sweep 100", recent[0].Description)
	assert.Equal(t, "stop requested: sweep 1099", recent[len(recent)-1].Description)
	assert.Equal(t, int64(logged), m.SafetySummary().TotalEvents)
}

func TestManager_EventsPersistToAuditFile(t *testing.T) {
	f := setupManager(t, nil)

	plan := &aegis.Plan{ID: "hostile", Subtasks: []aegis.Subtask{
		{ID: "s1", Description: "run sudo rm on the cache"},
	}}
	approved, raised := f.manager.ValidatePlan(context.Background(), plan)
	require.False(t, approved)
	require.Len(t, raised, 1)

	recorded, err := safety.ReadAuditLog(f.auditPath)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, raised[0].ID, recorded[0].ID)
	assert.Equal(t, aegis.RiskCritical, recorded[0].Severity)
	assert.Equal(t, "hostile", recorded[0].PlanID)
}

func TestManager_ResourceBreachStopsAllPlans(t *testing.T) {
	limits := &config.SafetyLimits{MaxMemoryMB: 10}
	f := setupManager(t, limits)
	m := f.manager

	require.NoError(t, m.RegisterPlan("p1", ""))
	require.NoError(t, m.RegisterPlan("p2", "p1"))
	require.NoError(t, m.RegisterPlan("p3", ""))

	f.source.set(aegis.Sample{MemoryMB: 50, CPUPercent: 10})
	require.NoError(t, m.StartMonitoring())

	require.Eventually(t, func() bool {
		return m.IsStopRequested("p1") && m.IsStopRequested("p2") && m.IsStopRequested("p3")
	}, 2*time.Second, 5*time.Millisecond, "a HIGH resource alert must brake every registered plan")

	summary := m.SafetySummary()
	assert.True(t, summary.MonitorRunning)
	assert.False(t, summary.Resources.WithinLimits)
	assert.Equal(t, 0, summary.ActivePlans)
	require.NoError(t, m.StopMonitoring())

	kinds := eventKinds(m.RecentEvents())
	assert.Contains(t, kinds, aegis.ViolationResourceLimit)
}

func TestManager_CPUOnlyBreachDoesNotStopPlans(t *testing.T) {
	limits := &config.SafetyLimits{MaxMemoryMB: 1000, MaxCPUPercent: 20}
	f := setupManager(t, limits)
	m := f.manager

	require.NoError(t, m.RegisterPlan("p1", ""))
	f.source.set(aegis.Sample{MemoryMB: 5, CPUPercent: 90})
	require.NoError(t, m.StartMonitoring())

	require.Eventually(t, func() bool {
		return m.SafetySummary().RecentViolations[aegis.ViolationResourceLimit] > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.StopMonitoring())

	assert.False(t, m.IsStopRequested("p1"), "MEDIUM alerts record events without braking plans")
}

func TestManager_StartStopMonitoring(t *testing.T) {
	f := setupManager(t, nil)
	m := f.manager

	require.NoError(t, m.StartMonitoring())
	assert.True(t, m.SafetySummary().MonitorRunning)
	require.NoError(t, m.StopMonitoring())
	assert.False(t, m.SafetySummary().MonitorRunning)
}

func TestManager_MetricsAndTracingProvidersExposed(t *testing.T) {
	f := setupManager(t, nil)

	require.NotNil(t, f.manager.MetricsRegistryProvider())
	assert.NotNil(t, f.manager.MetricsRegistryProvider().Registry())
	require.NotNil(t, f.manager.TracerProvider())
	assert.NotNil(t, f.manager.TracerProvider().GetTracer("test"))
}
