package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder on a Prometheus registry.
type PrometheusRecorder struct {
	events  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the settlement collectors with reg. Pass
// a fresh registry in tests to avoid duplicate registration.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postera",
			Subsystem: "settlement",
			Name:      "events_total",
			Help:      "Settlement events by kind and outcome",
		},
		[]string{"event", "kind", "outcome"},
	)

	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "postera",
			Subsystem: "settlement",
			Name:      "latency_seconds",
			Help:      "Settlement operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	reg.MustRegister(events, latency)

	return &PrometheusRecorder{events: events, latency: latency}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.events.With(prometheus.Labels{
		"event":   name,
		"kind":    labels["kind"],
		"outcome": labels["outcome"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(operation string, d time.Duration, _ map[string]string) {
	p.latency.With(prometheus.Labels{"operation": operation}).Observe(d.Seconds())
}
