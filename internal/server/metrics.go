package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. Each Server owns its own
// prometheus.Registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	sessions     prometheus.Gauge
	admitted     prometheus.Counter
	rejected     *prometheus.CounterVec
	relayed      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	violations   prometheus.Counter
	sendFailures prometheus.Counter
}

// NewMetrics creates and registers the relay collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "msger",
			Name:      "sessions_active",
			Help:      "Number of admitted sessions.",
		}),
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msger",
			Name:      "sessions_admitted_total",
			Help:      "Sessions admitted since start.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msger",
			Name:      "handshakes_rejected_total",
			Help:      "Connections that were never admitted, by reason.",
		}, []string{"reason"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msger",
			Name:      "messages_relayed_total",
			Help:      "Messages broadcast to other sessions, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msger",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages that were not relayed, by reason.",
		}, []string{"reason"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msger",
			Name:      "protocol_violations_total",
			Help:      "Connections terminated for breaking the frame protocol.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msger",
			Name:      "send_failures_total",
			Help:      "Broadcast sends that failed and dropped the recipient.",
		}),
	}

	m.registry.MustRegister(
		m.sessions,
		m.admitted,
		m.rejected,
		m.relayed,
		m.dropped,
		m.violations,
		m.sendFailures,
	)
	return m
}

// Handler returns an HTTP handler exposing the collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
