package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ResolverMetrics records how payment status races settle.
type ResolverMetrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewResolverMetrics registers the resolver metrics on the provided registerer.
func NewResolverMetrics(reg prometheus.Registerer) *ResolverMetrics {
	if reg == nil {
		return &ResolverMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_resolver_outcomes_total",
		Help: "Payment status resolutions by winning observer.",
	}, []string{"source", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_resolver_duration_seconds",
		Help:    "Time from resolver start until the race settled.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180, 300},
	}, []string{"source"})
	reg.MustRegister(outcomes, duration)
	return &ResolverMetrics{outcomes: outcomes, duration: duration}
}

// ObserveResolution counts one settled race.
func (m *ResolverMetrics) ObserveResolution(source, status string, elapsed time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(source), normalizeLabel(status)).Inc()
	m.duration.WithLabelValues(normalizeLabel(source)).Observe(elapsed.Seconds())
}
