// Package observability holds logging and metrics setup shared by the server
// and client binaries.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace is the metrics namespace used by the binaries.
const DefaultNamespace = "tcpsimple"

// Metrics records server connection and frame activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeConnections prometheus.Gauge
	acceptedTotal     *prometheus.CounterVec
	framesReceived    prometheus.Counter
	framesSent        prometheus.Counter
	sendFailures      prometheus.Counter
	protocolErrors    prometheus.Counter
	admissionWaits    prometheus.Counter
}

// NewMetrics registers the server collectors with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Number of registered client sessions.",
		}),
		acceptedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "accepted_connections_total",
			Help:      "Connections admitted into the registry.",
		}, []string{"transport"}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "frames_received_total",
			Help:      "Frames decoded from clients.",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "frames_sent_total",
			Help:      "Frames written to clients.",
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "send_failures_total",
			Help:      "Targeted or broadcast writes that failed.",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "protocol_errors_total",
			Help:      "Frames rejected for an invalid length header.",
		}),
		admissionWaits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "admission_waits_total",
			Help:      "Accept loop back-offs caused by the connection cap.",
		}),
	}
}

// ConnectionOpened counts a registered session on the given transport.
func (m *Metrics) ConnectionOpened(transport string) {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.acceptedTotal.WithLabelValues(transport).Inc()
}

// ConnectionClosed counts a session leaving the registry.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// FrameReceived counts one inbound frame.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

// FrameSent counts one outbound frame.
func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

// SendFailed counts a failed targeted send or broadcast delivery.
func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// ProtocolError counts an invalid length header.
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

// AdmissionWait counts a back-off at the connection cap.
func (m *Metrics) AdmissionWait() {
	if m == nil {
		return
	}
	m.admissionWaits.Inc()
}
