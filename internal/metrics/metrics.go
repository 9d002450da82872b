package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for recorded operations.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics owns the collectors exported on /metrics.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	sessions   prometheus.Gauge
}

// New registers the board collectors on a fresh registry. liveMessages is
// sampled on every scrape.
func New(liveMessages func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slashboard",
			Name:      "operations_total",
			Help:      "Board operations handled, by action and outcome.",
		}, []string{"action", "outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "slashboard",
			Name:      "sessions",
			Help:      "Currently connected client sessions.",
		}),
	}
	reg.MustRegister(
		m.operations,
		m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if liveMessages != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "slashboard",
			Name:      "live_messages",
			Help:      "Messages currently stored on the board.",
		}, func() float64 { return float64(liveMessages()) }))
	}
	return m
}

// Observe counts one handled operation.
func (m *Metrics) Observe(action, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(action, outcome).Inc()
}

// SessionOpened tracks a new connection.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed tracks a finished connection.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
