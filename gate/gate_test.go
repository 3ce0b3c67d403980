package gate

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	gerrors "github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/predict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func pred(label string, confidence float64) predict.Prediction {
	return predict.Prediction{Label: label, Confidence: confidence}
}

func newTestGate(t *testing.T, policy Policy, clock *fakeClock) *Gate {
	t.Helper()
	g, err := New(policy, WithClock(clock.Now))
	require.NoError(t, err)
	return g
}

// feed sends predictions 20ms apart and returns every command with the index that produced it
func feed(g *Gate, clock *fakeClock, preds ...predict.Prediction) ([]Command, []int) {
	var cmds []Command
	var at []int
	for i, p := range preds {
		clock.Advance(20 * time.Millisecond)
		for _, c := range g.Observe(p) {
			cmds = append(cmds, c)
			at = append(at, i)
		}
	}
	return cmds, at
}

func repeat(label string, confidence float64, n int) []predict.Prediction {
	out := make([]predict.Prediction, n)
	for i := range out {
		out[i] = pred(label, confidence)
	}
	return out
}

func TestPolicy_Validate(t *testing.T) {
	negative := -time.Second

	tests := []struct {
		name    string
		mutate  func(p *Policy)
		wantErr bool
	}{
		{"default", func(*Policy) {}, false},
		{"empty reset policy means keep", func(p *Policy) { p.Reset = "" }, false},
		{"threshold above one", func(p *Policy) { p.Threshold = 1.5 }, true},
		{"negative threshold", func(p *Policy) { p.Threshold = -0.1 }, true},
		{"zero required", func(p *Policy) { p.RequiredConsecutive = 0 }, true},
		{"negative default cooldown", func(p *Policy) { p.DefaultCooldown = -time.Millisecond }, true},
		{"zero hold timeout", func(p *Policy) { p.HoldTimeout = 0 }, true},
		{"unknown reset policy", func(p *Policy) { p.Reset = "sometimes" }, true},
		{"unknown kind", func(p *Policy) { p.Labels["wave"] = LabelAction{Action: "wave", Kind: "burst"} }, true},
		{"discrete without action", func(p *Policy) { p.Labels["wave"] = LabelAction{Kind: KindDiscrete} }, true},
		{"negative label cooldown", func(p *Policy) {
			p.Labels["wave"] = LabelAction{Action: "wave", Kind: KindDiscrete, Cooldown: &negative}
		}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := DefaultPolicy()
			test.mutate(&p)
			err := p.Validate()
			if test.wantErr {
				require.Error(t, err)
				assert.True(t, gerrors.IsInvalid(err))
				assert.ErrorIs(t, err, gerrors.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicy_Cooldowns(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 500*time.Millisecond, p.cooldownFor("jump"))
	assert.Equal(t, 300*time.Millisecond, p.cooldownFor("punch"))
	assert.Equal(t, 800*time.Millisecond, p.cooldownFor("turn_left"))
	assert.Equal(t, time.Duration(0), p.cooldownFor("walk"))
	assert.Equal(t, p.DefaultCooldown, p.cooldownFor("idle"))
	assert.Equal(t, p.DefaultCooldown, p.cooldownFor("unmapped"))
	assert.Equal(t, KindIgnore, p.actionFor("unmapped").Kind)
}

func TestGate_IdleJumpIdle(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, DefaultPolicy(), clock)

	var preds []predict.Prediction
	preds = append(preds, repeat("idle", 0.95, 5)...)
	preds = append(preds, repeat("jump", 0.9, 5)...)
	preds = append(preds, repeat("idle", 0.95, 5)...)

	cmds, at := feed(g, clock, preds...)
	require.Len(t, cmds, 1)
	assert.Equal(t, "jump", cmds[0].Action)
	assert.Equal(t, PhasePulse, cmds[0].Phase)
	assert.Equal(t, "space", cmds[0].Key)
	assert.Equal(t, 0.9, cmds[0].Confidence)
	// third jump prediction
	assert.Equal(t, 7, at[0])
}

func TestGate_IdleJumpIdleWithShortCooldown(t *testing.T) {
	clock := newFakeClock()
	policy := DefaultPolicy()
	policy.RequiredConsecutive = 3
	policy.Threshold = 0.7
	jump := policy.Labels["jump"]
	jump.Cooldown = cooldown(300 * time.Millisecond)
	policy.Labels["jump"] = jump
	g := newTestGate(t, policy, clock)

	var preds []predict.Prediction
	preds = append(preds, repeat("idle", 0.95, 5)...)
	preds = append(preds, repeat("jump", 0.9, 5)...)
	preds = append(preds, repeat("idle", 0.95, 5)...)

	cmds, at := feed(g, clock, preds...)
	require.Len(t, cmds, 1)
	assert.Equal(t, "jump", cmds[0].Action)
	assert.Equal(t, PhasePulse, cmds[0].Phase)
	assert.Equal(t, 7, at[0])
	committedAt := cmds[0].IssuedAt

	// still inside the 300ms cooldown
	cmds, _ = feed(g, clock, repeat("jump", 0.9, 5)...)
	assert.Empty(t, cmds)
	assert.Less(t, clock.Now().Sub(committedAt), 300*time.Millisecond)

	// back to idle until the cooldown has passed, then a new streak commits again
	cmds, _ = feed(g, clock, repeat("idle", 0.95, 5)...)
	assert.Empty(t, cmds)
	require.GreaterOrEqual(t, clock.Now().Sub(committedAt), 300*time.Millisecond)

	cmds, at = feed(g, clock, repeat("jump", 0.9, 3)...)
	require.Len(t, cmds, 1)
	assert.Equal(t, "jump", cmds[0].Action)
	assert.Equal(t, 2, at[0])
}

func TestGate_NaNConfidenceIsBelowThreshold(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, DefaultPolicy(), clock)

	cmds, _ := feed(g, clock, repeat("jump", math.NaN(), 5)...)
	assert.Empty(t, cmds)
	assert.Equal(t, State{}, g.State())

	// NaN does not count toward a real streak either
	cmds, _ = feed(g, clock, pred("jump", 0.9), pred("jump", math.NaN()), pred("jump", 0.9))
	assert.Empty(t, cmds)
	assert.Equal(t, 2, g.State().Streak)
}

func TestGate_LowConfidenceInterleave(t *testing.T) {
	preds := []predict.Prediction{
		pred("jump", 0.9), pred("jump", 0.9), pred("jump", 0.3), pred("jump", 0.9),
	}

	t.Run("keep tolerates low confidence", func(t *testing.T) {
		clock := newFakeClock()
		g := newTestGate(t, DefaultPolicy(), clock)

		cmds, at := feed(g, clock, preds...)
		require.Len(t, cmds, 1)
		assert.Equal(t, 3, at[0])
	})

	t.Run("reset clears the streak", func(t *testing.T) {
		clock := newFakeClock()
		policy := DefaultPolicy()
		policy.Reset = ResetClear
		g := newTestGate(t, policy, clock)

		cmds, _ := feed(g, clock, preds...)
		assert.Empty(t, cmds)
		assert.Equal(t, 1, g.State().Streak)

		cmds, _ = feed(g, clock, repeat("jump", 0.9, 2)...)
		require.Len(t, cmds, 1)
	})
}

func TestGate_DifferingLabelResetsStreak(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, DefaultPolicy(), clock)

	cmds, _ := feed(g, clock, pred("jump", 0.9), pred("jump", 0.9), pred("punch", 0.9), pred("jump", 0.9), pred("jump", 0.9))
	assert.Empty(t, cmds)
	assert.Equal(t, State{StreakLabel: "jump", Streak: 2}, g.State())

	cmds, _ = feed(g, clock, pred("jump", 0.9))
	require.Len(t, cmds, 1)
	assert.Equal(t, "jump", cmds[0].Label)
	assert.Equal(t, State{}, g.State())
}

func TestGate_CooldownSuppression(t *testing.T) {
	clock := newFakeClock()
	policy := DefaultPolicy()
	policy.RequiredConsecutive = 3
	g := newTestGate(t, policy, clock)

	cmds, _ := feed(g, clock, repeat("jump", 0.9, 10)...)
	assert.Len(t, cmds, 1)

	// a fresh streak is needed once the cooldown has elapsed
	clock.Advance(500 * time.Millisecond)
	cmds, _ = feed(g, clock, repeat("jump", 0.9, 2)...)
	assert.Empty(t, cmds)
	cmds, _ = feed(g, clock, pred("jump", 0.9))
	assert.Len(t, cmds, 1)
}

func TestGate_ContinuousBeginEnd(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, DefaultPolicy(), clock)

	cmds, _ := feed(g, clock, repeat("walk", 0.8, 3)...)
	require.Len(t, cmds, 1)
	assert.Equal(t, PhaseBegin, cmds[0].Phase)
	assert.Equal(t, "walk", cmds[0].Action)
	assert.Equal(t, "walk", g.State().HeldLabel)

	// recommitting a held label is silent
	cmds, _ = feed(g, clock, repeat("walk", 0.8, 6)...)
	assert.Empty(t, cmds)

	// punch interrupts the hold
	cmds, _ = feed(g, clock, repeat("punch", 0.9, 3)...)
	require.Len(t, cmds, 2)
	assert.Equal(t, PhaseEnd, cmds[0].Phase)
	assert.Equal(t, "walk", cmds[0].Action)
	assert.Equal(t, PhasePulse, cmds[1].Phase)
	assert.Equal(t, "attack", cmds[1].Action)
	assert.Equal(t, "j", cmds[1].Key)
	assert.Empty(t, g.State().HeldLabel)
}

func TestGate_DiscreteWithoutInterrupt(t *testing.T) {
	clock := newFakeClock()
	policy := DefaultPolicy()
	turn := policy.Labels["turn_left"]
	turn.InterruptsHold = false
	policy.Labels["turn_left"] = turn
	g := newTestGate(t, policy, clock)

	feed(g, clock, repeat("walk", 0.8, 3)...)
	cmds, _ := feed(g, clock, repeat("turn_left", 0.9, 3)...)
	require.Len(t, cmds, 1)
	assert.Equal(t, PhasePulse, cmds[0].Phase)
	assert.Equal(t, "walk", g.State().HeldLabel)
}

func TestGate_HoldTimeout(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, DefaultPolicy(), clock)

	cmds, _ := feed(g, clock, repeat("walk", 0.8, 3)...)
	require.Len(t, cmds, 1)

	clock.Advance(500 * time.Millisecond)
	assert.Empty(t, g.Tick())

	// an above-threshold walk confirms the hold
	feed(g, clock, pred("walk", 0.8))
	clock.Advance(700 * time.Millisecond)
	assert.Empty(t, g.Tick())

	// low-confidence walks do not
	feed(g, clock, pred("walk", 0.2))
	clock.Advance(200 * time.Millisecond)
	cmds = g.Tick()
	require.Len(t, cmds, 1)
	assert.Equal(t, PhaseEnd, cmds[0].Phase)
	assert.Equal(t, "walk", cmds[0].Label)
	assert.Empty(t, g.Tick())
}

func TestGate_IgnoreLabelsReleaseHold(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, DefaultPolicy(), clock)

	// nothing held, nothing emitted
	cmds, _ := feed(g, clock, repeat("noise", 0.9, 3)...)
	assert.Empty(t, cmds)

	feed(g, clock, repeat("walk", 0.8, 3)...)
	cmds, _ = feed(g, clock, repeat("idle", 0.9, 3)...)
	require.Len(t, cmds, 1)
	assert.Equal(t, PhaseEnd, cmds[0].Phase)

	feed(g, clock, repeat("walk", 0.8, 3)...)
	cmds, _ = feed(g, clock, repeat("wave", 0.9, 3)...)
	require.Len(t, cmds, 1)
	assert.Equal(t, PhaseEnd, cmds[0].Phase)
}

func TestGate_SetPolicy(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, DefaultPolicy(), clock)

	cmds, _ := feed(g, clock, repeat("jump", 0.9, 3)...)
	require.Len(t, cmds, 1)
	feed(g, clock, repeat("walk", 0.8, 3)...)
	feed(g, clock, pred("punch", 0.9))

	bad := DefaultPolicy()
	bad.Threshold = 2
	_, err := g.SetPolicy(bad)
	require.Error(t, err)
	assert.Equal(t, "walk", g.State().HeldLabel)

	next := DefaultPolicy()
	next.RequiredConsecutive = 2
	cmds, err = g.SetPolicy(next)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, PhaseEnd, cmds[0].Phase)
	assert.Equal(t, State{}, g.State())
	assert.Equal(t, 2, g.Policy().RequiredConsecutive)

	// cooldowns start over
	cmds, _ = feed(g, clock, repeat("jump", 0.9, 2)...)
	require.Len(t, cmds, 1)
	assert.Equal(t, PhasePulse, cmds[0].Phase)
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.RequiredConsecutive = 0
	_, err := New(p)
	assert.True(t, gerrors.IsInvalid(err))
}

func TestCommand_JSON(t *testing.T) {
	cmd := Command{Action: "jump", Phase: PhasePulse, Label: "jump", Key: "space", Confidence: 0.9,
		IssuedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"pulse"`)

	var back Command
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, cmd, back)

	_, err = Phase(0).MarshalText()
	assert.Error(t, err)
	assert.Error(t, back.Phase.UnmarshalText([]byte("hold")))
}
