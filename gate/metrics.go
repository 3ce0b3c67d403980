package gate

import (
	"github.com/c360/gesturegate/metric"
	"github.com/prometheus/client_golang/prometheus"
)

type gateMetrics struct {
	observed *prometheus.CounterVec
	commands *prometheus.CounterVec
	absorbed *prometheus.CounterVec
	held     prometheus.Gauge
	reloads  prometheus.Counter
}

func newGateMetrics(registry *metric.MetricsRegistry) (*gateMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &gateMetrics{
		observed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "gate",
			Name:      "predictions_observed_total",
			Help:      "Predictions seen by the gate, split by threshold outcome",
		}, []string{"outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "gate",
			Name:      "commands_total",
			Help:      "Commands emitted to sinks",
		}, []string{"action", "phase"}),
		absorbed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "gate",
			Name:      "cooldown_absorbed_total",
			Help:      "Confident predictions absorbed by a label cooldown",
		}, []string{"label"}),
		held: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gesturegate",
			Subsystem: "gate",
			Name:      "action_held",
			Help:      "1 while a continuous action is held",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate",
			Subsystem: "gate",
			Name:      "policy_reloads_total",
			Help:      "Policies applied at runtime",
		}),
	}

	const component = "action_gate"
	if err := registry.RegisterCounterVec(component, "observed", m.observed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(component, "commands", m.commands); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(component, "absorbed", m.absorbed); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(component, "held", m.held); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "reloads", m.reloads); err != nil {
		return nil, err
	}
	return m, nil
}
