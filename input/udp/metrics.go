package udp

import (
	"fmt"

	"github.com/c360/gesturegate/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the UDP sample source
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	decodeErrors    prometheus.Counter
	samplesDropped  prometheus.Counter
	socketErrors    prometheus.Counter
	lastActivity    prometheus.Gauge
	samplesByChan   *prometheus.CounterVec
}

// newMetrics creates and registers source metrics. A nil registry yields nil metrics.
func newMetrics(registry *metric.MetricsRegistry, port int) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "udp",
			Name:      "packets_received_total",
			Help:      "Total UDP datagrams received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "udp",
			Name:      "bytes_received_total",
			Help:      "Total bytes received from UDP",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "udp",
			Name:      "decode_errors_total",
			Help:      "Datagrams dropped because they did not decode to a sample",
		}),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "udp",
			Name:      "samples_dropped_total",
			Help:      "Samples evicted from the full sample queue",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "udp",
			Name:      "socket_errors_total",
			Help:      "Socket read errors encountered",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gesturegate",
			Subsystem: "udp",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last decoded sample",
		}),
		samplesByChan: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "udp",
			Name:      "samples_total",
			Help:      "Decoded samples by channel",
		}, []string{"channel"}),
	}

	serviceName := fmt.Sprintf("udp_%d", port)
	counters := []struct {
		name string
		c    prometheus.Counter
	}{
		{"packets_received", m.packetsReceived},
		{"bytes_received", m.bytesReceived},
		{"decode_errors", m.decodeErrors},
		{"samples_dropped", m.samplesDropped},
		{"socket_errors", m.socketErrors},
	}
	for _, c := range counters {
		if err := registry.RegisterCounter(serviceName, c.name, c.c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(serviceName, "last_activity", m.lastActivity); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(serviceName, "samples", m.samplesByChan); err != nil {
		return nil, err
	}

	return m, nil
}
