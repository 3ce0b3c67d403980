package predict

import (
	"github.com/c360/gesturegate/metric"
	"github.com/prometheus/client_golang/prometheus"
)

type loopMetrics struct {
	predictions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	dropped     prometheus.Counter
	latency     prometheus.Histogram
	confidence  prometheus.Histogram
}

func newLoopMetrics(registry *metric.MetricsRegistry) (*loopMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &loopMetrics{
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "predict",
			Name:      "predictions_total",
			Help:      "Predictions produced by label",
		}, []string{"label"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "predict",
			Name:      "errors_total",
			Help:      "Skipped windows by failing stage",
		}, []string{"stage"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "predict",
			Name:      "predictions_dropped_total",
			Help:      "Predictions evicted from the full prediction queue",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gesturegate",
			Subsystem: "predict",
			Name:      "inference_duration_seconds",
			Help:      "Time to extract features and classify one window",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gesturegate",
			Subsystem: "predict",
			Name:      "confidence",
			Help:      "Distribution of prediction confidence",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}

	const component = "prediction_loop"
	if err := registry.RegisterCounterVec(component, "predictions", m.predictions); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(component, "errors", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "dropped", m.dropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(component, "latency", m.latency); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(component, "confidence", m.confidence); err != nil {
		return nil, err
	}
	return m, nil
}
