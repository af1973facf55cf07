package events

import (
	"context"

	"github.com/aegis-labs/aegis/pkg/aegis/v1/events"
	aegislog "github.com/aegis-labs/aegis/pkg/aegis/v1/log"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsEventListener consumes a ChannelEventBus and updates Prometheus
// counters from the event stream. Running the counters off the bus keeps
// subscriber work away from the monitor's sampling goroutine.
type MetricsEventListener struct {
	bus              *ChannelEventBus
	log              aegislog.Logger
	violationCounter *prometheus.CounterVec
	emergencyCounter prometheus.Counter
	planStoppedTotal prometheus.Counter
}

// NewMetricsEventListener creates a listener bound to the given bus and
// collectors. Panics on nil dependencies.
func NewMetricsEventListener(bus *ChannelEventBus, violations *prometheus.CounterVec, emergencies, planStops prometheus.Counter, log aegislog.Logger) *MetricsEventListener {
	if bus == nil || violations == nil || emergencies == nil || planStops == nil || log == nil {
		panic("MetricsEventListener requires a non-nil bus, collectors and logger")
	}
	return &MetricsEventListener{
		bus:              bus,
		log:              log.With("component", "MetricsEventListener"),
		violationCounter: violations,
		emergencyCounter: emergencies,
		planStoppedTotal: planStops,
	}
}

// Start consumes events until the bus channel closes or the context ends.
// Run it in its own goroutine.
func (l *MetricsEventListener) Start(ctx context.Context) {
	l.log.Debugf("Starting metrics event listener...")
	for {
		select {
		case event, ok := <-l.bus.GetChannel():
			if !ok {
				l.log.Debugf("Event bus channel closed, stopping listener.")
				return
			}
			l.handleEvent(event)
		case <-ctx.Done():
			l.log.Debugf("Context cancelled, stopping metrics event listener.")
			return
		}
	}
}

func (l *MetricsEventListener) handleEvent(event events.Event) {
	switch event.Type {
	case events.SafetyViolation, events.ResourceAlert:
		l.violationCounter.WithLabelValues(string(event.Type), event.Severity).Inc()
	case events.EmergencyTriggered:
		l.emergencyCounter.Inc()
	case events.PlanStopped:
		l.planStoppedTotal.Inc()
	}
}
