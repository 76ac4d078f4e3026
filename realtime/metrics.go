package realtime

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "server7x"

// Metrics are the realtime counters exported at /metrics.
type Metrics struct {
	connections       *prometheus.GaugeVec
	handshakeFailures *prometheus.CounterVec
	broadcasts        *prometheus.CounterVec
	droppedFrames     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections per topic.",
		}, []string{"topic"}),
		handshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "handshake_failures_total",
			Help:      "Connections closed before subscribing, by reason.",
		}, []string{"topic", "reason"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "broadcasts_total",
			Help:      "Snapshots pushed to a broadcast group.",
		}, []string{"topic"}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "dropped_frames_total",
			Help:      "Frames not delivered because the member was closed or too slow.",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.connections, m.handshakeFailures, m.broadcasts, m.droppedFrames)
	return m
}

func (m *Metrics) connectionOpened(topic string) {
	m.connections.WithLabelValues(topic).Inc()
}

func (m *Metrics) connectionClosed(topic string) {
	m.connections.WithLabelValues(topic).Dec()
}

func (m *Metrics) handshakeFailed(topic, reason string) {
	m.handshakeFailures.WithLabelValues(topic, reason).Inc()
}

func (m *Metrics) broadcast(topic string) {
	m.broadcasts.WithLabelValues(topic).Inc()
}

func (m *Metrics) dropped(topic string) {
	m.droppedFrames.WithLabelValues(topic).Inc()
}
