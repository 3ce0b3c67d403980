package gate

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/health"
	"github.com/c360/gesturegate/metric"
	"github.com/c360/gesturegate/pkg/buffer"
	"github.com/c360/gesturegate/predict"
)

// minTick bounds the hold-timeout ticker
const minTick = 10 * time.Millisecond

// PredictionObserver sees every prediction the gate consumes. It must not block.
type PredictionObserver interface {
	ObservePrediction(p predict.Prediction)
}

// LoopDeps holds runtime dependencies for the gate loop
type LoopDeps struct {
	Gate        *Gate
	Predictions buffer.Buffer[predict.Prediction]
	Sink        Sink
	// Observer is optional
	Observer PredictionObserver
	// PolicyUpdates delivers validated policies for hot reload; nil disables reload
	PolicyUpdates   <-chan Policy
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Stats is a snapshot of the loop counters
type Stats struct {
	Observed    int64     `json:"observed"`
	Commands    int64     `json:"commands"`
	Reloads     int64     `json:"reloads"`
	LastCommand time.Time `json:"last_command"`
}

// Loop runs a Gate on its own goroutine and forwards commands to the sink
type Loop struct {
	gate     *Gate
	preds    buffer.Buffer[predict.Prediction]
	sink     Sink
	observer PredictionObserver
	updates  <-chan Policy
	logger   *slog.Logger
	metrics  *gateMetrics

	started atomic.Bool
	running atomic.Bool

	stateMu sync.RWMutex
	state   State

	observed    atomic.Int64
	commands    atomic.Int64
	reloads     atomic.Int64
	lastCommand atomic.Int64
}

// NewLoop builds the gate loop
func NewLoop(deps LoopDeps) (*Loop, error) {
	if deps.Gate == nil || deps.Predictions == nil || deps.Sink == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "action-gate", "NewLoop", "dependency check")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newGateMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "action-gate", "NewLoop", "metrics registration")
	}

	return &Loop{
		gate:     deps.Gate,
		preds:    deps.Predictions,
		sink:     deps.Sink,
		observer: deps.Observer,
		updates:  deps.PolicyUpdates,
		logger:   logger.With("component", "action-gate"),
		metrics:  metrics,
	}, nil
}

func tickInterval(p Policy) time.Duration {
	return max(p.HoldTimeout/4, minTick)
}

// Run gates predictions until ctx is done or the prediction queue is closed and drained.
// A held action is released on return. A loop runs once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "action-gate", "Run", "start")
	}
	l.running.Store(true)
	defer l.running.Store(false)

	policy := l.gate.Policy()
	ticker := time.NewTicker(tickInterval(policy))
	defer ticker.Stop()

	l.logger.Info("Action gate started",
		"threshold", policy.Threshold,
		"required_consecutive", policy.RequiredConsecutive,
		"reset_policy", policy.Reset,
		"labels", len(policy.Labels))

	defer func() {
		l.emit(l.gate.Release())
		l.publishState()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		p, err := l.next(ctx, tickInterval(l.gate.Policy()))
		switch {
		case err == nil:
			l.observe(p)
		case stderrors.Is(err, errors.ErrAlreadyStopped):
			l.logger.Info("Prediction queue closed, action gate stopping")
			return nil
		}

		select {
		case <-ticker.C:
			if cmds := l.gate.Tick(); len(cmds) > 0 {
				l.logger.Debug("Held action timed out", "label", cmds[0].Label)
				l.emit(cmds)
				l.publishState()
			}

		case policy, ok := <-l.updates:
			if !ok {
				l.updates = nil
				continue
			}
			l.reload(policy, ticker)

		default:
		}
	}
}

// next takes the oldest queued prediction, waiting at most wait. Predictions stay in the
// drop-oldest queue until the gate is ready for them.
func (l *Loop) next(ctx context.Context, wait time.Duration) (predict.Prediction, error) {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return l.preds.ReadWait(waitCtx)
}

func (l *Loop) observe(p predict.Prediction) {
	l.observed.Add(1)
	if l.observer != nil {
		l.observer.ObservePrediction(p)
	}

	cmds, out := l.gate.observe(p)
	if l.metrics != nil {
		l.metrics.observed.WithLabelValues(string(out)).Inc()
		if out == outcomeAbsorbed {
			l.metrics.absorbed.WithLabelValues(p.Label).Inc()
		}
	}
	if out == outcomeCommitted {
		l.logger.Debug("Label committed", "label", p.Label, "confidence", p.Confidence, "commands", len(cmds))
	}
	l.emit(cmds)
	l.publishState()
}

func (l *Loop) reload(policy Policy, ticker *time.Ticker) {
	cmds, err := l.gate.SetPolicy(policy)
	if err != nil {
		l.logger.Warn("Policy update rejected", "error", err)
		return
	}
	l.emit(cmds)
	ticker.Reset(tickInterval(policy))
	l.reloads.Add(1)
	if l.metrics != nil {
		l.metrics.reloads.Inc()
	}
	l.publishState()
	l.logger.Info("Policy reloaded",
		"threshold", policy.Threshold,
		"required_consecutive", policy.RequiredConsecutive,
		"reset_policy", policy.Reset)
}

func (l *Loop) emit(cmds []Command) {
	for _, cmd := range cmds {
		l.sink.Emit(cmd)
		l.commands.Add(1)
		l.lastCommand.Store(cmd.IssuedAt.UnixNano())
		if l.metrics != nil {
			l.metrics.commands.WithLabelValues(cmd.Action, cmd.Phase.String()).Inc()
		}
		l.logger.Info("Command", "action", cmd.Action, "phase", cmd.Phase, "label", cmd.Label,
			"confidence", cmd.Confidence)
	}
}

func (l *Loop) publishState() {
	s := l.gate.State()
	l.stateMu.Lock()
	l.state = s
	l.stateMu.Unlock()
	if l.metrics != nil {
		if s.HeldLabel != "" {
			l.metrics.held.Set(1)
		} else {
			l.metrics.held.Set(0)
		}
	}
}

// State returns the gate state as of the last processed event
func (l *Loop) State() State {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

// Stats returns the loop counters
func (l *Loop) Stats() Stats {
	var last time.Time
	if ns := l.lastCommand.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Observed:    l.observed.Load(),
		Commands:    l.commands.Load(),
		Reloads:     l.reloads.Load(),
		LastCommand: last,
	}
}

// Health reports whether the gate is consuming predictions
func (l *Loop) Health() health.Status {
	stats := l.Stats()
	status := health.NewHealthy("action-gate", "gating")
	switch {
	case !l.started.Load():
		status = health.NewDegraded("action-gate", errors.ErrNotStarted.Error())
	case !l.running.Load():
		status = health.NewDegraded("action-gate", errors.ErrAlreadyStopped.Error())
	default:
		if held := l.State().HeldLabel; held != "" {
			status.Message = "holding " + held
		}
	}
	return status.WithMetrics(&health.Metrics{
		MessagesProcessed: stats.Observed,
		LastActivity:      stats.LastCommand,
	})
}
