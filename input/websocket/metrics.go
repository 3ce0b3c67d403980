package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gesturegate/metric"
)

// Metrics holds Prometheus metrics for the WebSocket source
type Metrics struct {
	messagesReceived  prometheus.Counter
	decodeErrors      prometheus.Counter
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	reconnects        prometheus.Counter
	rejected          *prometheus.CounterVec
}

// newMetrics creates and registers source metrics. A nil registry yields nil metrics.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "websocket_input",
			Name:      "messages_received_total",
			Help:      "Total WebSocket messages received",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "websocket_input",
			Name:      "decode_errors_total",
			Help:      "Samples dropped because they did not decode",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "websocket_input",
			Name:      "connections_total",
			Help:      "Total WebSocket connections established",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gesturegate",
			Subsystem: "websocket_input",
			Name:      "connections_active",
			Help:      "Currently open WebSocket connections",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "websocket_input",
			Name:      "reconnects_total",
			Help:      "Client mode reconnections after a lost connection",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "websocket_input",
			Name:      "rejected_total",
			Help:      "Connection attempts rejected by reason",
		}, []string{"reason"}),
	}

	if err := registry.RegisterCounter("websocket_input", "messages_received", m.messagesReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket_input", "decode_errors", m.decodeErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket_input", "connections_total", m.connectionsTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("websocket_input", "connections_active", m.connectionsActive); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket_input", "reconnects", m.reconnects); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("websocket_input", "rejected", m.rejected); err != nil {
		return nil, err
	}

	return m, nil
}
