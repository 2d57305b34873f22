// Package metrics exposes relay activity as Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tchat"

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	AcceptedConnections prometheus.Counter
	RejectedConnections prometheus.Counter
	RegisteredPeers     prometheus.Gauge
	MessagesReceived    prometheus.Counter
	MessagesDelivered   prometheus.Counter
	MessagesRejected    prometheus.Counter
	Errors              *prometheus.CounterVec
}

// New creates and registers relay metrics on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AcceptedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "accepted_total",
			Help:      "Connections accepted and handed to the relay.",
		}),
		RejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "rejected_total",
			Help:      "Connections closed because they could not be configured.",
		}),
		RegisteredPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "registered_peers",
			Help:      "Peers currently held by the relay registry.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_received_total",
			Help:      "Lines read from peers and queued for broadcast.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_delivered_total",
			Help:      "Lines successfully written to a receiving peer.",
		}),
		MessagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_rejected_total",
			Help:      "Lines dropped by the per-peer rate limit.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "errors_total",
			Help:      "Per-peer errors by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.AcceptedConnections,
		m.RejectedConnections,
		m.RegisteredPeers,
		m.MessagesReceived,
		m.MessagesDelivered,
		m.MessagesRejected,
		m.Errors,
	)
	return m
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Accepted() {
	if m != nil {
		m.AcceptedConnections.Inc()
	}
}

func (m *Metrics) Rejected() {
	if m != nil {
		m.RejectedConnections.Inc()
	}
}

// SetPeers records the registry size.
func (m *Metrics) SetPeers(n int) {
	if m != nil {
		m.RegisteredPeers.Set(float64(n))
	}
}

func (m *Metrics) Received(n int) {
	if m != nil {
		m.MessagesReceived.Add(float64(n))
	}
}

func (m *Metrics) Delivered(n int) {
	if m != nil {
		m.MessagesDelivered.Add(float64(n))
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.MessagesRejected.Inc()
	}
}

// Error counts one failure of op, such as "read" or "write".
func (m *Metrics) Error(op string) {
	if m != nil {
		m.Errors.WithLabelValues(op).Inc()
	}
}
