package window

import (
	"fmt"
	"math"
	"time"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/sensor"
)

// Config describes the window shape. All fields are deployment parameters.
type Config struct {
	Duration   time.Duration    `json:"duration"`
	SampleRate float64          `json:"sample_rate"`
	Channels   []sensor.Channel `json:"channels"`
}

// DefaultConfig is a 1s window at 50Hz over all three wrist channels
func DefaultConfig() Config {
	return Config{
		Duration:   time.Second,
		SampleRate: 50,
		Channels:   []sensor.Channel{sensor.Acceleration, sensor.AngularVelocity, sensor.Orientation},
	}
}

// Capacity is the per-channel ring size: ceil(duration × sample rate), at least 1.
func (c Config) Capacity() int {
	return max(1, int(math.Ceil(c.Duration.Seconds()*c.SampleRate)))
}

// Validate checks the window shape
func (c Config) Validate() error {
	if c.Duration <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: window duration must be positive", errors.ErrInvalidConfig),
			"window", "Validate", "duration check")
	}
	if c.SampleRate <= 0 || math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) {
		return errors.WrapInvalid(fmt.Errorf("%w: sample rate must be positive", errors.ErrInvalidConfig),
			"window", "Validate", "sample rate check")
	}
	if len(c.Channels) == 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: at least one channel is required", errors.ErrMissingConfig),
			"window", "Validate", "channel check")
	}
	seen := make(map[sensor.Channel]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch == sensor.ChannelUnknown {
			return errors.WrapInvalid(errors.ErrUnknownChannel, "window", "Validate", "channel check")
		}
		if seen[ch] {
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate channel %s", errors.ErrInvalidConfig, ch),
				"window", "Validate", "channel check")
		}
		seen[ch] = true
	}
	return nil
}
