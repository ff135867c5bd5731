// Package metrics exposes server counters in Prometheus format on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "passvault"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveConnections   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	RejectedConnections prometheus.Counter
	Commands            *prometheus.CounterVec
	CommandDuration     *prometheus.HistogramVec
	AuditDropped        prometheus.Counter

	SafetyInFlight prometheus.Gauge
	SafetyRequests *prometheus.CounterVec
	SafetyDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of currently connected clients.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total accepted client connections.",
		}),
		RejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections refused because the connection limit was reached.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Handled commands by name and outcome.",
		}, []string{"command", "status"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit records discarded because the queue was full.",
		}),
		SafetyInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "in_flight_requests",
			Help:      "Breach-check requests currently in flight.",
		}),
		SafetyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "requests_total",
			Help:      "Breach-check requests by HTTP status code.",
		}, []string{"code", "method"}),
		SafetyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "request_duration_seconds",
			Help:      "Breach-check request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ActiveConnections,
		m.ConnectionsTotal,
		m.RejectedConnections,
		m.Commands,
		m.CommandDuration,
		m.AuditDropped,
		m.SafetyInFlight,
		m.SafetyRequests,
		m.SafetyDuration,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// InstrumentRoundTripper wraps an HTTP transport used for breach checks.
func (m *Metrics) InstrumentRoundTripper(next http.RoundTripper) http.RoundTripper {
	if m == nil {
		return next
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperInFlight(m.SafetyInFlight,
		promhttp.InstrumentRoundTripperCounter(m.SafetyRequests,
			promhttp.InstrumentRoundTripperDuration(m.SafetyDuration, next),
		),
	)
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) ConnectionRejected() {
	if m == nil {
		return
	}
	m.RejectedConnections.Inc()
}

func (m *Metrics) ObserveCommand(command string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "failed"
	if ok {
		status = "success"
	}
	m.Commands.WithLabelValues(command, status).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (m *Metrics) AuditRecordDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}
