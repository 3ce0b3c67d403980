package buffer

import (
	"github.com/c360/gesturegate/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// bufferMetrics holds Prometheus metrics for a single named queue.
type bufferMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	peeks       prometheus.Counter
	overflows   prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gesturegate",
			Subsystem:   "queue",
			Name:        name,
			ConstLabels: prometheus.Labels{"queue": prefix},
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "gesturegate",
			Subsystem:   "queue",
			Name:        name,
			ConstLabels: prometheus.Labels{"queue": prefix},
			Help:        help,
		})
	}

	m := &bufferMetrics{
		writes:      counter("writes_total", "Total number of queue writes"),
		reads:       counter("reads_total", "Total number of queue reads"),
		peeks:       counter("peeks_total", "Total number of queue peeks"),
		overflows:   counter("overflows_total", "Total number of writes into a full queue"),
		drops:       counter("drops_total", "Total number of items dropped by the overflow policy"),
		size:        gauge("size", "Current number of queued items"),
		utilization: gauge("utilization", "Queue utilization (0.0 to 1.0)"),
	}

	counters := map[string]prometheus.Counter{
		"queue_writes":    m.writes,
		"queue_reads":     m.reads,
		"queue_peeks":     m.peeks,
		"queue_overflows": m.overflows,
		"queue_drops":     m.drops,
	}
	for name, c := range counters {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "queue_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordPeek()     { m.peeks.Inc() }
func (m *bufferMetrics) recordOverflow() { m.overflows.Inc() }
func (m *bufferMetrics) recordDrop()     { m.drops.Inc() }

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
