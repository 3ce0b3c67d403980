package buffer

import (
	"github.com/c360/gesturegate/metric"
)

// Option configures a buffer
type Option[T any] func(*settings[T])

type settings[T any] struct {
	policy OverflowPolicy
	onDrop DropCallback[T]

	// registry and metricName mirror Statistics into Prometheus when both are set
	registry   *metric.MetricsRegistry
	metricName string
}

// WithOverflowPolicy picks what Write does on a full buffer. The default is DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(s *settings[T]) { s.policy = policy }
}

// WithMetrics exports the buffer counters under name ("samples", "predictions").
// A nil registry or empty name is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(s *settings[T]) {
		if registry == nil || name == "" {
			return
		}
		s.registry = registry
		s.metricName = name
	}
}

// WithDropCallback is called once per evicted item, after the lock is released
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(s *settings[T]) { s.onDrop = callback }
}

func applyOptions[T any](options ...Option[T]) *settings[T] {
	s := &settings[T]{policy: DropOldest}
	for _, opt := range options {
		if opt != nil {
			opt(s)
		}
	}
	return s
}
