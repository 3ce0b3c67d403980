// Package metric provides the Prometheus registry and HTTP server shared by gesturegate components.
//
// Components receive a *MetricsRegistry through their Deps struct and register their own
// collectors. A nil registry means metrics are disabled for that component:
//
//	func newMetrics(registry *metric.MetricsRegistry) *Metrics {
//	    if registry == nil {
//	        return nil
//	    }
//	    ...
//	}
//
// Registration is keyed by component and metric name; registering the same pair twice
// returns an invalid-class error instead of panicking.
//
// Server exposes /metrics (OpenMetrics enabled) and /health, which renders the pipeline
// health.Status as JSON and answers 503 when the pipeline is unhealthy.
package metric
