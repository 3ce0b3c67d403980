package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/feature"
)

// Scaler standardizes features: (x - Mean) / Scale
type Scaler struct {
	Mean  []float64 `json:"mean" yaml:"mean"`
	Scale []float64 `json:"scale" yaml:"scale"`
}

// LinearSpec is the serialized form of a Linear model
type LinearSpec struct {
	Layout  feature.Layout `json:"layout" yaml:"layout"`
	Labels  []string       `json:"labels" yaml:"labels"`
	Scaler  *Scaler        `json:"scaler,omitempty" yaml:"scaler,omitempty"`
	Weights [][]float64    `json:"weights" yaml:"weights"`
	Bias    []float64      `json:"bias" yaml:"bias"`
}

// Linear is a standard-scaled multinomial logistic model. With two labels and a single
// weight row it is a binary logistic model whose row scores the second label.
type Linear struct {
	spec LinearSpec
}

// NewLinear validates spec and builds the model
func NewLinear(spec LinearSpec) (*Linear, error) {
	n := spec.Layout.Len()
	fail := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"classifier", "NewLinear", "model validation")
	}

	if n == 0 {
		return nil, fail("layout has no features")
	}
	if len(spec.Labels) < 2 {
		return nil, fail("need at least two labels, got %d", len(spec.Labels))
	}

	rows := len(spec.Labels)
	if len(spec.Labels) == 2 && len(spec.Weights) == 1 {
		rows = 1
	}
	if len(spec.Weights) != rows {
		return nil, fail("%d weight rows for %d labels", len(spec.Weights), len(spec.Labels))
	}
	if len(spec.Bias) != rows {
		return nil, fail("%d biases for %d weight rows", len(spec.Bias), rows)
	}
	for i, row := range spec.Weights {
		if len(row) != n {
			return nil, fail("weight row %d has %d entries, layout has %d", i, len(row), n)
		}
	}
	if spec.Scaler != nil {
		if len(spec.Scaler.Mean) != n || len(spec.Scaler.Scale) != n {
			return nil, fail("scaler size does not match layout")
		}
	}

	return &Linear{spec: spec}, nil
}

// Layout is the feature layout the model was trained on
func (m *Linear) Layout() feature.Layout {
	return m.spec.Layout
}

// Labels returns the class labels in score order
func (m *Linear) Labels() []string {
	return m.spec.Labels
}

// Probabilities returns one probability per label
func (m *Linear) Probabilities(vec []float64) ([]float64, error) {
	if len(vec) != m.spec.Layout.Len() {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: vector has %d features, model expects %d", errors.ErrInference, len(vec), m.spec.Layout.Len()),
			"classifier", "Probabilities", "input check")
	}

	x := vec
	if sc := m.spec.Scaler; sc != nil {
		x = make([]float64, len(vec))
		for i, v := range vec {
			scale := sc.Scale[i]
			if scale == 0 {
				scale = 1
			}
			x[i] = (v - sc.Mean[i]) / scale
		}
	}

	scores := make([]float64, len(m.spec.Weights))
	for r, row := range m.spec.Weights {
		s := m.spec.Bias[r]
		for i, w := range row {
			s += w * x[i]
		}
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: score for row %d is not finite", errors.ErrInference, r),
				"classifier", "Probabilities", "score check")
		}
		scores[r] = s
	}

	if len(scores) == 1 {
		p := 1 / (1 + math.Exp(-scores[0]))
		return []float64{1 - p, p}, nil
	}
	return softmax(scores), nil
}

// Classify returns the most probable label and its probability
func (m *Linear) Classify(ctx context.Context, vec []float64) (string, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	probs, err := m.Probabilities(vec)
	if err != nil {
		return "", 0, err
	}

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return m.spec.Labels[best], probs[best], nil
}

func softmax(scores []float64) []float64 {
	peak := scores[0]
	for _, s := range scores[1:] {
		peak = max(peak, s)
	}

	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(s - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
