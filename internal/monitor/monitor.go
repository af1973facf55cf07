// Package monitor implements the background resource sampling loop that
// watches memory and CPU utilization against the configured safety limits.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	v1 "github.com/aegis-labs/aegis/pkg/aegis/v1"
	aegiserrors "github.com/aegis-labs/aegis/pkg/aegis/v1/errors"
	aegislog "github.com/aegis-labs/aegis/pkg/aegis/v1/log"
)

const (
	// DefaultInterval is the pause between samples. The loop sleeps this
	// long regardless of how long callback dispatch took.
	DefaultInterval = 5 * time.Second
	// historyLimit caps the rolling sample history; oldest evicted first.
	historyLimit = 100
	// averageWindow is the number of recent samples folded into the
	// rolling average reported by Summary.
	averageWindow = 10
	// stopJoinTimeout bounds how long Stop waits for the loop to exit.
	stopJoinTimeout = 2 * time.Second
)

// AlertCallback receives a safety event for every limit breach.
// Callbacks run synchronously on the sampling goroutine and must not block.
type AlertCallback func(event v1.SafetyEvent)

// Monitor samples a MetricsSource on a fixed interval, keeps a bounded
// rolling history, and dispatches alert events when a sample breaches the
// configured ceilings.
type Monitor struct {
	source   v1.MetricsSource
	limits   v1.ResourceLimits
	interval time.Duration
	log      aegislog.Logger

	mu        sync.Mutex
	history   []v1.Sample
	callbacks []AlertCallback
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	// Optional collectors wired by the safety manager after construction.
	samplesTotal prometheus.Counter
	alertsTotal  *prometheus.CounterVec
}

// New creates a monitor. A non-positive interval selects DefaultInterval.
// Panics on a nil source or logger.
func New(source v1.MetricsSource, limits v1.ResourceLimits, interval time.Duration, log aegislog.Logger) *Monitor {
	if source == nil || log == nil {
		panic("Monitor requires a non-nil metrics source and logger")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		source:   source,
		limits:   limits,
		interval: interval,
		log:      log.With("component", "ResourceMonitor"),
	}
}

// SetCollectors wires optional Prometheus collectors for sample and alert
// counts. Must be called before Start.
func (m *Monitor) SetCollectors(samples prometheus.Counter, alerts *prometheus.CounterVec) {
	m.samplesTotal = samples
	m.alertsTotal = alerts
}

// AddAlertCallback registers a callback for limit-breach events.
func (m *Monitor) AddAlertCallback(fn AlertCallback) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Start launches the sampling loop. Starting a running monitor is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Warnf("Start called on an already-running monitor")
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	m.log.Infof("Resource monitoring started (interval: %s)", m.interval)
	go m.loop(stopCh, doneCh)
	return nil
}

// Stop terminates the loop and waits for it to exit within a bounded join.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	select {
	case <-doneCh:
		m.log.Infof("Resource monitoring stopped")
		return nil
	case <-time.After(stopJoinTimeout):
		return aegiserrors.NewMonitorStoppedError(stopJoinTimeout.String())
	}
}

// Running reports whether the sampling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// loop samples, then sleeps the fixed interval, until stopped. Callback
// duration does not shorten the sleep.
func (m *Monitor) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	for {
		m.sampleOnce()
		select {
		case <-stopCh:
			return
		case <-time.After(m.interval):
		}
	}
}

// sampleOnce reads the source, records history, and dispatches alerts for
// any ceiling breach. Source failures are logged and skipped; they must
// never kill the loop.
func (m *Monitor) sampleOnce() {
	sample, err := m.source.Sample()
	if err != nil {
		m.log.Warnf("Failed to sample resource metrics: %v", err)
		return
	}
	if m.samplesTotal != nil {
		m.samplesTotal.Inc()
	}

	m.mu.Lock()
	m.history = append(m.history, sample)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	callbacks := make([]AlertCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, event := range m.checkLimits(sample) {
		if m.alertsTotal != nil {
			m.alertsTotal.WithLabelValues(event.Severity.String()).Inc()
		}
		m.dispatch(event, callbacks)
	}
}

// checkLimits compares one sample against the ceilings. Memory breaches are
// HIGH severity, CPU breaches MEDIUM; both carry the RESOURCE_LIMIT kind.
func (m *Monitor) checkLimits(sample v1.Sample) []v1.SafetyEvent {
	var alerts []v1.SafetyEvent

	if m.limits.MaxMemoryMB > 0 && sample.MemoryMB > m.limits.MaxMemoryMB {
		alerts = append(alerts, v1.NewEvent(
			v1.ViolationResourceLimit,
			v1.RiskHigh,
			fmt.Sprintf("memory usage %.1f MB exceeds limit %.1f MB", sample.MemoryMB, m.limits.MaxMemoryMB),
			v1.ActionAlertDispatched,
			"", "",
			map[string]interface{}{
				"memory_mb":      sample.MemoryMB,
				"memory_percent": sample.MemoryPercent,
				"limit_mb":       m.limits.MaxMemoryMB,
			},
		))
	}

	if m.limits.MaxCPUPercent > 0 && sample.CPUPercent > m.limits.MaxCPUPercent {
		alerts = append(alerts, v1.NewEvent(
			v1.ViolationResourceLimit,
			v1.RiskMedium,
			fmt.Sprintf("cpu usage %.1f%% exceeds limit %.1f%%", sample.CPUPercent, m.limits.MaxCPUPercent),
			v1.ActionAlertDispatched,
			"", "",
			map[string]interface{}{
				"cpu_percent":   sample.CPUPercent,
				"limit_percent": m.limits.MaxCPUPercent,
			},
		))
	}

	return alerts
}

// dispatch delivers an event to every callback, recovering panics so one
// faulty subscriber cannot starve the rest or kill the sampling loop.
func (m *Monitor) dispatch(event v1.SafetyEvent, callbacks []AlertCallback) {
	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Errorf("Alert callback panicked: %v", aegiserrors.NewCallbackPanicError("ResourceMonitor", r))
				}
			}()
			fn(event)
		}()
	}
}

// Summary reports the latest sample, the rolling average over the last ten
// samples, the configured ceilings, and whether the latest sample is within
// them.
func (m *Monitor) Summary() v1.ResourceStatus {
	m.mu.Lock()
	history := make([]v1.Sample, len(m.history))
	copy(history, m.history)
	m.mu.Unlock()

	status := v1.ResourceStatus{
		Limits:       m.limits,
		WithinLimits: true,
		SampleCount:  len(history),
	}
	if len(history) == 0 {
		return status
	}

	status.Current = history[len(history)-1]

	window := history
	if len(window) > averageWindow {
		window = window[len(window)-averageWindow:]
	}
	var avg v1.Sample
	for _, s := range window {
		avg.MemoryMB += s.MemoryMB
		avg.MemoryPercent += s.MemoryPercent
		avg.CPUPercent += s.CPUPercent
	}
	n := float64(len(window))
	avg.MemoryMB /= n
	avg.MemoryPercent /= n
	avg.CPUPercent /= n
	avg.Timestamp = status.Current.Timestamp
	status.Average = avg

	if m.limits.MaxMemoryMB > 0 && status.Current.MemoryMB > m.limits.MaxMemoryMB {
		status.WithinLimits = false
	}
	if m.limits.MaxCPUPercent > 0 && status.Current.CPUPercent > m.limits.MaxCPUPercent {
		status.WithinLimits = false
	}
	return status
}
