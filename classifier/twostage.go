package classifier

import (
	"context"
	"fmt"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/feature"
)

// TwoStage first asks a binary gate model whether the window is Positive (for example
// walking). If the gate's probability reaches Threshold the result is (Positive, p);
// otherwise the rest model classifies the window.
type TwoStage struct {
	gate      Model
	rest      Model
	positive  string
	threshold float64
}

// NewTwoStage pairs a gate and a rest model. Both must share one feature layout.
func NewTwoStage(gate, rest Model, positive string, threshold float64) (*TwoStage, error) {
	if gate == nil || rest == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "classifier", "NewTwoStage", "model check")
	}
	if err := gate.Layout().Check(rest.Layout()); err != nil {
		return nil, errors.WrapInvalid(err, "classifier", "NewTwoStage", "stage layouts")
	}
	if positive == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: positive label required", errors.ErrMissingConfig),
			"classifier", "NewTwoStage", "label check")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	return &TwoStage{gate: gate, rest: rest, positive: positive, threshold: threshold}, nil
}

// Layout is the shared layout of both stages
func (t *TwoStage) Layout() feature.Layout {
	return t.gate.Layout()
}

// Classify runs the gate, then the rest model when the gate does not fire
func (t *TwoStage) Classify(ctx context.Context, vec []float64) (string, float64, error) {
	label, conf, err := t.gate.Classify(ctx, vec)
	if err != nil {
		return "", 0, err
	}
	if label == t.positive && conf >= t.threshold {
		return label, conf, nil
	}
	return t.rest.Classify(ctx, vec)
}
