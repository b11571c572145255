package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loyalpass"

// Metrics holds the service collectors on a dedicated registry.
type Metrics struct {
	registry    *prometheus.Registry
	redemptions *prometheus.CounterVec
	settlements *prometheus.HistogramVec
	passes      *prometheus.CounterVec
}

// New registers the service collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redemption",
			Name:      "requests_total",
			Help:      "Redemption attempts segmented by outcome.",
		}, []string{"outcome"}),
		settlements: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Time from submission to classified outcome for ledger transactions.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		}, []string{"op", "outcome"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "passes",
			Name:      "issued_total",
			Help:      "Pass issuance attempts segmented by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.redemptions,
		m.settlements,
		m.passes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSettlement records a settlement latency by operation and outcome.
func (m *Metrics) ObserveSettlement(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(op, outcome).Observe(elapsed.Seconds())
}

// Redemption counts one redemption attempt.
func (m *Metrics) Redemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

// PassIssued counts one pass issuance attempt.
func (m *Metrics) PassIssued(outcome string) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
