package gate

import (
	"time"

	"github.com/c360/gesturegate/predict"
)

// held is the continuous action currently pressed
type held struct {
	label      string
	action     LabelAction
	confidence float64
	// confirmedAt is the last above-threshold prediction of the held label
	confirmedAt time.Time
}

// State is a read-only view of the gate for health and tests
type State struct {
	StreakLabel string `json:"streak_label,omitempty"`
	Streak      int    `json:"streak"`
	HeldLabel   string `json:"held_label,omitempty"`
}

// Gate turns predictions into commands. It is not safe for concurrent use: it is owned by
// the goroutine running Loop, and tests drive it directly.
type Gate struct {
	policy Policy
	now    func() time.Time

	streakLabel   string
	streak        int
	lastCommitted map[string]time.Time
	hold          *held
}

// Option configures a Gate
type Option func(*Gate)

// WithClock replaces the wall clock used for cooldowns and hold timeouts
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// New builds a gate for a validated policy
func New(policy Policy, opts ...Option) (*Gate, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{
		policy:        policy,
		now:           time.Now,
		lastCommitted: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Policy returns the active policy
func (g *Gate) Policy() Policy { return g.policy }

// State returns the current streak and held action
func (g *Gate) State() State {
	s := State{StreakLabel: g.streakLabel, Streak: g.streak}
	if g.hold != nil {
		s.HeldLabel = g.hold.label
	}
	return s
}

// outcome classifies what a prediction did to the gate
type outcome string

const (
	outcomeBelow     outcome = "below_threshold"
	outcomeCounted   outcome = "counted"
	outcomeAbsorbed  outcome = "absorbed"
	outcomeCommitted outcome = "committed"
)

// Observe feeds one prediction through the gate and returns the commands it commits
func (g *Gate) Observe(p predict.Prediction) []Command {
	cmds, _ := g.observe(p)
	return cmds
}

func (g *Gate) observe(p predict.Prediction) ([]Command, outcome) {
	now := g.now()

	// NaN fails this comparison and lands here
	if !(p.Confidence >= g.policy.Threshold) {
		if g.policy.Reset == ResetClear {
			g.clearStreak()
		}
		return nil, outcomeBelow
	}

	if g.hold != nil && g.hold.label == p.Label {
		g.hold.confirmedAt = now
		g.hold.confidence = p.Confidence
	}

	if g.inCooldown(p.Label, now) {
		// absorbed; it still breaks any other label's streak
		g.streakLabel = p.Label
		g.streak = 0
		return nil, outcomeAbsorbed
	}

	if p.Label == g.streakLabel {
		g.streak++
	} else {
		g.streakLabel = p.Label
		g.streak = 1
	}
	if g.streak < g.policy.RequiredConsecutive {
		return nil, outcomeCounted
	}

	g.clearStreak()
	g.lastCommitted[p.Label] = now
	return g.commit(p.Label, p.Confidence, now), outcomeCommitted
}

func (g *Gate) commit(label string, confidence float64, now time.Time) []Command {
	action := g.policy.actionFor(label)

	var cmds []Command
	switch action.Kind {
	case KindContinuous:
		if g.hold != nil && g.hold.label == label {
			return nil
		}
		cmds = g.release(now, cmds)
		g.hold = &held{label: label, action: action, confidence: confidence, confirmedAt: now}
		cmds = append(cmds, Command{
			Action:     action.Action,
			Phase:      PhaseBegin,
			Label:      label,
			Key:        action.Key,
			Confidence: confidence,
			IssuedAt:   now,
		})
	case KindDiscrete:
		if action.InterruptsHold {
			cmds = g.release(now, cmds)
		}
		cmds = append(cmds, Command{
			Action:     action.Action,
			Phase:      PhasePulse,
			Label:      label,
			Key:        action.Key,
			Confidence: confidence,
			IssuedAt:   now,
		})
	default:
		cmds = g.release(now, cmds)
	}
	return cmds
}

// Tick releases a held action that has not been confirmed within the hold timeout
func (g *Gate) Tick() []Command {
	if g.hold == nil {
		return nil
	}
	now := g.now()
	if now.Sub(g.hold.confirmedAt) < g.policy.HoldTimeout {
		return nil
	}
	return g.release(now, nil)
}

// Release ends any held action
func (g *Gate) Release() []Command {
	return g.release(g.now(), nil)
}

// SetPolicy swaps the policy. The held action is released first and all streaks and
// cooldowns start over.
func (g *Gate) SetPolicy(policy Policy) ([]Command, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	cmds := g.release(g.now(), nil)
	g.policy = policy
	g.clearStreak()
	g.lastCommitted = make(map[string]time.Time)
	return cmds, nil
}

func (g *Gate) release(now time.Time, cmds []Command) []Command {
	if g.hold == nil {
		return cmds
	}
	h := g.hold
	g.hold = nil
	return append(cmds, Command{
		Action:     h.action.Action,
		Phase:      PhaseEnd,
		Label:      h.label,
		Key:        h.action.Key,
		Confidence: h.confidence,
		IssuedAt:   now,
	})
}

func (g *Gate) inCooldown(label string, now time.Time) bool {
	last, ok := g.lastCommitted[label]
	if !ok {
		return false
	}
	return now.Sub(last) < g.policy.cooldownFor(label)
}

func (g *Gate) clearStreak() {
	g.streakLabel = ""
	g.streak = 0
}
