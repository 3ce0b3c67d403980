package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/feature"
)

// Model is what the prediction loop needs from a classifier
type Model interface {
	Layout() feature.Layout
	Classify(ctx context.Context, vec []float64) (string, float64, error)
}

// Model kinds understood by Load
const (
	KindLinear   = "linear"
	KindTwoStage = "two_stage"
)

// File is the on-disk model document
type File struct {
	Kind string `json:"kind" yaml:"kind"`

	// linear
	LinearSpec `yaml:",inline"`

	// two_stage
	Gate      *LinearSpec `json:"gate,omitempty" yaml:"gate,omitempty"`
	Rest      *LinearSpec `json:"rest,omitempty" yaml:"rest,omitempty"`
	Positive  string      `json:"positive,omitempty" yaml:"positive,omitempty"`
	Threshold float64     `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// Load reads a JSON or YAML model file; the format follows the extension
func Load(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrConfigNotFound, path),
				"classifier", "Load", "read model")
		}
		return nil, errors.WrapFatal(err, "classifier", "Load", "read model")
	}

	ext := strings.ToLower(filepath.Ext(path))
	return Parse(data, ext == ".yaml" || ext == ".yml")
}

// Parse decodes a model document and builds the model named by its kind
func Parse(data []byte, isYAML bool) (Model, error) {
	var doc File
	if isYAML {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
				"classifier", "Parse", "yaml decode")
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
				"classifier", "Parse", "json decode")
		}
	}

	switch doc.Kind {
	case KindLinear, "":
		return NewLinear(doc.LinearSpec)
	case KindTwoStage:
		if doc.Gate == nil || doc.Rest == nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: two_stage needs gate and rest", errors.ErrMissingConfig),
				"classifier", "Parse", "two_stage check")
		}
		gate, err := NewLinear(*doc.Gate)
		if err != nil {
			return nil, err
		}
		rest, err := NewLinear(*doc.Rest)
		if err != nil {
			return nil, err
		}
		return NewTwoStage(gate, rest, doc.Positive, doc.Threshold)
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown model kind %q", errors.ErrInvalidConfig, doc.Kind),
			"classifier", "Parse", "kind lookup")
	}
}
