package gate

import (
	"fmt"
	"time"

	"github.com/c360/gesturegate/errors"
)

// Kind says how a committed label turns into commands
type Kind string

const (
	// KindContinuous holds an action (Begin) until another label commits or the hold times out (End)
	KindContinuous Kind = "continuous"
	// KindDiscrete emits a single Pulse per commit
	KindDiscrete Kind = "discrete"
	// KindIgnore is gated like any label but emits nothing except releasing a held action
	KindIgnore Kind = "ignore"
)

// ResetPolicy decides what a below-threshold prediction does to the current streak
type ResetPolicy string

const (
	// ResetKeep ignores low-confidence predictions; the streak survives them
	ResetKeep ResetPolicy = "keep"
	// ResetClear clears the streak on any low-confidence prediction
	ResetClear ResetPolicy = "reset"
)

// LabelAction maps a gesture label to an action
type LabelAction struct {
	Action string `json:"action" yaml:"action"`
	Key    string `json:"key,omitempty" yaml:"key,omitempty"`
	Kind   Kind   `json:"kind" yaml:"kind"`
	// Cooldown overrides Policy.DefaultCooldown when set
	Cooldown       *time.Duration `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
	InterruptsHold bool           `json:"interrupts_hold,omitempty" yaml:"interrupts_hold,omitempty"`
}

// Policy is the complete gating configuration. It can be replaced at runtime.
type Policy struct {
	Threshold           float64                `json:"confidence_threshold"`
	RequiredConsecutive int                    `json:"required_consecutive"`
	DefaultCooldown     time.Duration          `json:"default_cooldown"`
	HoldTimeout         time.Duration          `json:"hold_timeout"`
	Reset               ResetPolicy            `json:"reset_policy"`
	Labels              map[string]LabelAction `json:"labels"`
}

func cooldown(d time.Duration) *time.Duration { return &d }

// DefaultPolicy is the wrist-controller mapping for a side-scrolling game
func DefaultPolicy() Policy {
	return Policy{
		Threshold:           0.7,
		RequiredConsecutive: 3,
		DefaultCooldown:     300 * time.Millisecond,
		HoldTimeout:         800 * time.Millisecond,
		Reset:               ResetKeep,
		Labels: map[string]LabelAction{
			"punch":      {Action: "attack", Key: "j", Kind: KindDiscrete, Cooldown: cooldown(300 * time.Millisecond), InterruptsHold: true},
			"jump":       {Action: "jump", Key: "space", Kind: KindDiscrete, Cooldown: cooldown(500 * time.Millisecond), InterruptsHold: true},
			"turn_left":  {Action: "turn", Key: "left", Kind: KindDiscrete, Cooldown: cooldown(800 * time.Millisecond), InterruptsHold: true},
			"turn_right": {Action: "turn", Key: "right", Kind: KindDiscrete, Cooldown: cooldown(800 * time.Millisecond), InterruptsHold: true},
			"walk":       {Action: "walk", Key: "right", Kind: KindContinuous, Cooldown: cooldown(0)},
			"idle":       {Kind: KindIgnore},
			"noise":      {Kind: KindIgnore},
		},
	}
}

// Validate checks thresholds, durations and the label table
func (p Policy) Validate() error {
	fail := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"gate", "Validate", "policy check")
	}

	if p.Threshold < 0 || p.Threshold > 1 {
		return fail("confidence_threshold %.3f outside [0,1]", p.Threshold)
	}
	if p.RequiredConsecutive < 1 {
		return fail("required_consecutive must be at least 1")
	}
	if p.DefaultCooldown < 0 {
		return fail("default_cooldown cannot be negative")
	}
	if p.HoldTimeout <= 0 {
		return fail("hold_timeout must be positive")
	}
	switch p.Reset {
	case ResetKeep, ResetClear, "":
	default:
		return fail("unknown reset_policy %q", p.Reset)
	}

	for label, a := range p.Labels {
		switch a.Kind {
		case KindContinuous, KindDiscrete:
			if a.Action == "" {
				return fail("label %q needs an action", label)
			}
		case KindIgnore:
		default:
			return fail("label %q has unknown kind %q", label, a.Kind)
		}
		if a.Cooldown != nil && *a.Cooldown < 0 {
			return fail("label %q has a negative cooldown", label)
		}
	}
	return nil
}

// actionFor resolves a label; unmapped labels behave as ignore labels
func (p Policy) actionFor(label string) LabelAction {
	if a, ok := p.Labels[label]; ok {
		return a
	}
	return LabelAction{Kind: KindIgnore}
}

// cooldownFor is the label's own cooldown, falling back to DefaultCooldown
func (p Policy) cooldownFor(label string) time.Duration {
	if a, ok := p.Labels[label]; ok && a.Cooldown != nil {
		return *a.Cooldown
	}
	return p.DefaultCooldown
}
