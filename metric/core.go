package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gesturegate/errors"
)

// Component status values reported through ComponentStatus
const (
	StatusStopped  = 0
	StatusStarting = 1
	StatusRunning  = 2
	StatusStopping = 3
	StatusFailed   = 4
)

// Metrics contains pipeline-wide metrics shared by every component
type Metrics struct {
	ComponentStatus *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	SessionStarted  prometheus.Gauge
}

// NewMetrics creates the pipeline-wide metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gesturegate",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gesturegate",
				Subsystem: "pipeline",
				Name:      "errors_total",
				Help:      "Errors observed by component and class",
			},
			[]string{"component", "class"},
		),
		SessionStarted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gesturegate",
			Subsystem: "pipeline",
			Name:      "session_start_timestamp_seconds",
			Help:      "Unix time the current pipeline session started",
		}),
	}
}

// RecordComponentStatus sets the status gauge for a component
func (m *Metrics) RecordComponentStatus(component string, status int) {
	if m == nil {
		return
	}
	m.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordError counts an error under its classification
func (m *Metrics) RecordError(component string, err error) {
	if m == nil || err == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errors.Classify(err).String()).Inc()
}

// RecordSessionStart marks the start time of a pipeline session
func (m *Metrics) RecordSessionStart(at time.Time) {
	if m == nil {
		return
	}
	m.SessionStarted.Set(float64(at.Unix()))
}
