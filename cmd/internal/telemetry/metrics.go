// Package telemetry owns the process metrics registry.
//
// All Metrics methods are safe on a nil receiver so components can be
// constructed without metrics in tests.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pacschat"

// Metrics groups the presence and conversation counters.
type Metrics struct {
	reg *prometheus.Registry

	connects       prometheus.Counter
	dialFailures   prometheus.Counter
	disconnects    prometheus.Counter
	joins          prometheus.Counter
	connected      prometheus.Gauge
	deliveries     *prometheus.CounterVec
	decodeFailures prometheus.Counter
	sends          prometheus.Counter
	sendsDropped   prometheus.Counter
	historyFetches *prometheus.CounterVec
	sessionChanges *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "connects_total",
			Help: "Presence connections established.",
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "dial_failures_total",
			Help: "Failed presence connection attempts.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "disconnects_total",
			Help: "Presence connections lost or closed.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "joins_total",
			Help: "Join announcements published.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "connected",
			Help: "1 while the presence channel is connected.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "deliveries_total",
			Help: "Inbound deliveries by decoded kind.",
		}, []string{"kind"}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "decode_failures_total",
			Help: "Inbound frames that failed to decode.",
		}),
		sends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "sends_total",
			Help: "Private messages handed to the transport.",
		}),
		sendsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "sends_dropped_total",
			Help: "Private messages dropped while disconnected.",
		}),
		historyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "conversation", Name: "history_fetches_total",
			Help: "History fetches by outcome (applied, stale, error).",
		}, []string{"outcome"}),
		sessionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "transitions_total",
			Help: "Session transitions by kind (login, logout, restore).",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.connects, m.dialFailures, m.disconnects, m.joins, m.connected,
		m.deliveries, m.decodeFailures, m.sends, m.sendsDropped,
		m.historyFetches, m.sessionChanges,
	)
	return m
}

// Registry exposes the underlying registry (tests, custom handlers).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.connects.Inc()
	m.connected.Set(1)
}

func (m *Metrics) Disconnected() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
	m.connected.Set(0)
}

func (m *Metrics) DialFailed() {
	if m == nil {
		return
	}
	m.dialFailures.Inc()
}

func (m *Metrics) Joined() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

func (m *Metrics) Delivered(kind string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind).Inc()
}

func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) Sent() {
	if m == nil {
		return
	}
	m.sends.Inc()
}

func (m *Metrics) SendDropped() {
	if m == nil {
		return
	}
	m.sendsDropped.Inc()
}

// HistoryFetch records a fetch outcome: "applied", "stale" or "error".
func (m *Metrics) HistoryFetch(outcome string) {
	if m == nil {
		return
	}
	m.historyFetches.WithLabelValues(outcome).Inc()
}

// SessionTransition records "login", "logout" or "restore".
func (m *Metrics) SessionTransition(kind string) {
	if m == nil {
		return
	}
	m.sessionChanges.WithLabelValues(kind).Inc()
}
