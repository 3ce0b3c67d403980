package feature

import (
	"fmt"

	"github.com/c360/gesturegate/errors"
)

// Layout is the versioned ordering table of a feature vector. An extractor and a
// classifier can only be paired when their layouts are identical.
type Layout struct {
	Version string   `json:"version" yaml:"version"`
	Names   []string `json:"names" yaml:"names"`
}

// Len is the vector length
func (l Layout) Len() int {
	return len(l.Names)
}

// Index returns the position of name, or -1
func (l Layout) Index(name string) int {
	for i, n := range l.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Check verifies that other describes the same vector in version, length and names.
// A mismatch is fatal: the pipeline must not start with an incompatible model.
func (l Layout) Check(other Layout) error {
	if l.Version != other.Version {
		return errors.WrapFatal(
			fmt.Errorf("%w: version %q != %q", errors.ErrLayoutMismatch, l.Version, other.Version),
			"feature", "Check", "layout version")
	}
	if len(l.Names) != len(other.Names) {
		return errors.WrapFatal(
			fmt.Errorf("%w: length %d != %d", errors.ErrLayoutMismatch, len(l.Names), len(other.Names)),
			"feature", "Check", "layout length")
	}
	for i := range l.Names {
		if l.Names[i] != other.Names[i] {
			return errors.WrapFatal(
				fmt.Errorf("%w: feature %d is %q, expected %q", errors.ErrLayoutMismatch, i, other.Names[i], l.Names[i]),
				"feature", "Check", "layout names")
		}
	}
	return nil
}
