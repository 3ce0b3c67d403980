package predict

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/feature"
	"github.com/c360/gesturegate/window"
)

// FeatureExtractor turns a window into a fixed-length vector described by Layout
type FeatureExtractor interface {
	Layout() feature.Layout
	Extract(w window.Window) ([]float64, error)
}

// Classifier maps a feature vector to a label and a confidence in [0,1]
type Classifier interface {
	Layout() feature.Layout
	Classify(ctx context.Context, vec []float64) (string, float64, error)
}

// Prediction is one classified window. It is consumed once by the gate.
type Prediction struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	ProducedAt time.Time `json:"produced_at"`
	WindowEnd  int64     `json:"window_end"`
	// Missing counts zero-filled channels in the classified window
	Missing int `json:"missing,omitempty"`
}

// Config holds the loop settings
type Config struct {
	// IdleInterval bounds how long the loop waits for new samples before re-checking
	IdleInterval time.Duration `json:"idle_interval"`
	// MaxRate caps predictions per second; 0 disables the cap
	MaxRate    float64       `json:"max_rate"`
	QueueSize  int           `json:"queue_size"`
	StaleAfter time.Duration `json:"stale_after"`
}

// DefaultConfig returns the loop defaults
func DefaultConfig() Config {
	return Config{
		IdleInterval: 50 * time.Millisecond,
		QueueSize:    16,
		StaleAfter:   2 * time.Second,
	}
}

// Validate checks the loop settings
func (c Config) Validate() error {
	if c.IdleInterval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: idle_interval must be positive", errors.ErrInvalidConfig),
			"prediction-loop", "Validate", "idle interval check")
	}
	if c.MaxRate < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: max_rate cannot be negative", errors.ErrInvalidConfig),
			"prediction-loop", "Validate", "max rate check")
	}
	if c.QueueSize <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: queue_size must be positive", errors.ErrInvalidConfig),
			"prediction-loop", "Validate", "queue check")
	}
	return nil
}
