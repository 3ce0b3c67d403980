package feature

import (
	"fmt"
	"math"
	"slices"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/sensor"
	"github.com/c360/gesturegate/window"
)

// StatVersion identifies the statistical layout ordering
const StatVersion = "stat-v1"

// Statistical is the default deterministic extractor: per-axis time and frequency
// statistics, magnitude statistics for 3-axis channels, and optionally world-frame
// acceleration statistics.
type Statistical struct {
	channels   []sensor.Channel
	worldFrame bool
	layout     Layout
}

// Option configures the statistical extractor
type Option func(*Statistical)

// WithWorldFrame adds statistics of acceleration rotated into the world frame by the
// nearest orientation sample. Requires both acceleration and orientation channels.
func WithWorldFrame(enabled bool) Option {
	return func(s *Statistical) {
		s.worldFrame = enabled
	}
}

// NewStatistical builds an extractor over channels, in the given order
func NewStatistical(channels []sensor.Channel, opts ...Option) (*Statistical, error) {
	if len(channels) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "feature", "NewStatistical", "channel list")
	}

	s := &Statistical{channels: slices.Clone(channels)}
	for _, opt := range opts {
		opt(s)
	}

	if s.worldFrame && (!slices.Contains(channels, sensor.Acceleration) || !slices.Contains(channels, sensor.Orientation)) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: world frame needs acceleration and orientation", errors.ErrInvalidConfig),
			"feature", "NewStatistical", "world frame check")
	}

	s.layout = Layout{Version: StatVersion, Names: s.names()}
	return s, nil
}

func (s *Statistical) names() []string {
	var names []string
	for _, ch := range s.channels {
		for _, axis := range ch.Axes() {
			for _, stat := range axisStats {
				names = append(names, fmt.Sprintf("%s_%s_%s", ch, axis, stat))
			}
		}
		if ch.Arity() == 3 {
			for _, stat := range magnitudeStats {
				names = append(names, fmt.Sprintf("%s_magnitude_%s", ch, stat))
			}
		}
	}
	if s.worldFrame {
		for _, axis := range []string{"x", "y", "z"} {
			for _, stat := range axisStats {
				names = append(names, fmt.Sprintf("acceleration_world_%s_%s", axis, stat))
			}
		}
	}
	return names
}

// Layout returns the ordering table of the produced vectors
func (s *Statistical) Layout() Layout {
	return s.layout
}

// Extract computes the feature vector of w
func (s *Statistical) Extract(w window.Window) ([]float64, error) {
	vec := make([]float64, 0, s.layout.Len())

	for _, ch := range s.channels {
		samples, ok := w.Channels[ch]
		if !ok {
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: window has no %s channel", errors.ErrInvalidData, ch),
				"feature", "Extract", "channel lookup")
		}

		series := make([]float64, len(samples))
		for axis := range ch.Arity() {
			for i, smp := range samples {
				series[i] = smp.Value(axis)
			}
			vec = describe(vec, series)
		}

		if ch.Arity() == 3 {
			for i, smp := range samples {
				series[i] = math.Sqrt(smp.Value(0)*smp.Value(0) + smp.Value(1)*smp.Value(1) + smp.Value(2)*smp.Value(2))
			}
			mean, std := meanStd(series)
			vec = append(vec, mean, std, slices.Max(series))
		}
	}

	if s.worldFrame {
		world := worldFrame(w.Channels[sensor.Acceleration], w.Channels[sensor.Orientation])
		series := make([]float64, len(world))
		for axis := range 3 {
			for i, v := range world {
				series[i] = v[axis]
			}
			vec = describe(vec, series)
		}
	}

	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: feature %s is not finite", errors.ErrInvalidData, s.layout.Names[i]),
				"feature", "Extract", "finite check")
		}
	}

	return vec, nil
}
