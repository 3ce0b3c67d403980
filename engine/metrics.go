package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gesturegate/metric"
)

// engineMetrics holds Prometheus metrics for pipeline sessions.
type engineMetrics struct {
	sessions        prometheus.Counter
	shutdowns       *prometheus.CounterVec // By reason (clean, fatal)
	sessionDuration prometheus.Histogram
	running         prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "engine",
			Name:      "sessions_total",
			Help:      "Total number of pipeline sessions started",
		}),

		shutdowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "engine",
			Name:      "shutdowns_total",
			Help:      "Pipeline shutdowns by reason",
		}, []string{"reason"}),

		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gesturegate",
			Subsystem: "engine",
			Name:      "session_duration_seconds",
			Help:      "Pipeline session duration in seconds",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 14400},
		}),

		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gesturegate",
			Subsystem: "engine",
			Name:      "running",
			Help:      "1 while a pipeline session is running",
		}),
	}

	if err := registry.RegisterCounter("engine", "sessions_total", m.sessions); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "shutdowns_total", m.shutdowns); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "session_duration_seconds", m.sessionDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "running", m.running); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *engineMetrics) recordStart() {
	if m == nil {
		return
	}
	m.sessions.Inc()
	m.running.Set(1)
}

func (m *engineMetrics) recordStop(err error, seconds float64) {
	if m == nil {
		return
	}
	reason := "clean"
	if err != nil {
		reason = "fatal"
	}
	m.shutdowns.WithLabelValues(reason).Inc()
	m.sessionDuration.Observe(seconds)
	m.running.Set(0)
}
