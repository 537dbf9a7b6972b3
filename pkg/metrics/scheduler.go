package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulerMetrics tracks armed visit timers and the transitions they cause.
type SchedulerMetrics struct {
	armed       prometheus.Gauge
	transitions *prometheus.CounterVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	if reg == nil {
		return &SchedulerMetrics{}
	}
	armed := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "visit_scheduler_timers_armed",
		Help: "Visit confirmation timers currently armed.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "visit_scheduler_transitions_total",
		Help: "Visit status transitions performed or skipped by the scheduler.",
	}, []string{"outcome"})
	reg.MustRegister(armed, transitions)
	return &SchedulerMetrics{armed: armed, transitions: transitions}
}

func (m *SchedulerMetrics) SetArmed(n int) {
	if m == nil || m.armed == nil {
		return
	}
	m.armed.Set(float64(n))
}

// IncTransition counts one timer outcome such as "confirmed" or "skipped".
func (m *SchedulerMetrics) IncTransition(outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(outcome)).Inc()
}
