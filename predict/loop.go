// Package predict runs the continuous prediction loop: it drains samples into the window
// assembler, classifies the freshest window whenever new data has arrived, and queues
// the resulting predictions for the gate.
package predict

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/health"
	"github.com/c360/gesturegate/metric"
	"github.com/c360/gesturegate/pkg/buffer"
	"github.com/c360/gesturegate/sensor"
	"github.com/c360/gesturegate/window"
)

// drainBatch bounds how many queued samples are ingested per read
const drainBatch = 256

// LoopDeps holds runtime dependencies for the prediction loop
type LoopDeps struct {
	Config          Config
	Window          window.Config
	Samples         buffer.Buffer[sensor.Sample]
	Extractor       FeatureExtractor
	Classifier      Classifier
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	// Now overrides the wall clock used to stamp predictions
	Now func() time.Time
}

// Stats is a snapshot of the loop counters
type Stats struct {
	Predictions    int64     `json:"predictions"`
	Errors         int64     `json:"errors"`
	Dropped        int64     `json:"dropped"`
	LastPrediction time.Time `json:"last_prediction"`
	Window         window.Stats
}

// Loop owns the window assembler and the outbound prediction queue
type Loop struct {
	cfg        Config
	samples    buffer.Buffer[sensor.Sample]
	assembler  *window.Assembler
	extractor  FeatureExtractor
	classifier Classifier
	out        buffer.Buffer[Prediction]
	limiter    *rate.Limiter
	errLog     *rate.Sometimes
	logger     *slog.Logger
	metrics    *loopMetrics
	core       *metric.Metrics
	now        func() time.Time

	lastGeneration uint64
	running        atomic.Bool

	predictions    atomic.Int64
	errorCount     atomic.Int64
	dropped        atomic.Int64
	lastPrediction atomic.Int64
}

// NewLoop validates the collaborators and builds the loop. A feature layout mismatch
// between extractor and classifier is fatal.
func NewLoop(deps LoopDeps) (*Loop, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Samples == nil || deps.Extractor == nil || deps.Classifier == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "prediction-loop", "NewLoop", "dependency check")
	}
	if err := deps.Extractor.Layout().Check(deps.Classifier.Layout()); err != nil {
		return nil, errors.WrapFatal(err, "prediction-loop", "NewLoop", "layout contract")
	}

	assembler, err := window.NewAssembler(deps.Window)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newLoopMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "prediction-loop", "NewLoop", "metrics registration")
	}

	l := &Loop{
		cfg:        deps.Config,
		samples:    deps.Samples,
		assembler:  assembler,
		extractor:  deps.Extractor,
		classifier: deps.Classifier,
		errLog:     &rate.Sometimes{First: 3, Interval: 5 * time.Second},
		logger:     logger.With("component", "prediction-loop"),
		metrics:    metrics,
		now:        deps.Now,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if deps.MetricsRegistry != nil {
		l.core = deps.MetricsRegistry.CoreMetrics()
	}
	if deps.Config.MaxRate > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(deps.Config.MaxRate), 1)
	}

	queueOpts := []buffer.Option[Prediction]{
		buffer.WithOverflowPolicy[Prediction](buffer.DropOldest),
		buffer.WithDropCallback(func(Prediction) {
			l.dropped.Add(1)
			if l.metrics != nil {
				l.metrics.dropped.Inc()
			}
		}),
	}
	if deps.MetricsRegistry != nil {
		queueOpts = append(queueOpts, buffer.WithMetrics[Prediction](deps.MetricsRegistry, "predictions"))
	}
	l.out, err = buffer.NewCircularBuffer(deps.Config.QueueSize, queueOpts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "prediction-loop", "NewLoop", "prediction queue")
	}

	return l, nil
}

// Predictions is the queue the gate consumes
func (l *Loop) Predictions() buffer.Buffer[Prediction] {
	return l.out
}

// Assembler exposes the window assembler for health and inspection
func (l *Loop) Assembler() *window.Assembler {
	return l.assembler
}

// Run predicts until ctx is done or the sample queue is closed and drained.
// It closes the prediction queue on return.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "prediction-loop", "Run", "start")
	}
	defer l.out.Close()

	l.logger.Info("Prediction loop started",
		"window", l.assembler.Config().Duration,
		"features", l.extractor.Layout().Len(),
		"max_rate", l.cfg.MaxRate)

	for {
		if ctx.Err() != nil {
			return nil
		}

		l.drain()

		if !l.assembler.IsReady() || l.assembler.Generation() == l.lastGeneration {
			if !l.waitForSamples(ctx) {
				return nil
			}
			continue
		}

		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		l.step(ctx)
	}
}

// drain moves every queued sample into the assembler without blocking
func (l *Loop) drain() {
	for {
		batch := l.samples.ReadBatch(drainBatch)
		for _, s := range batch {
			l.assembler.Ingest(s)
		}
		if len(batch) < drainBatch {
			return
		}
	}
}

// waitForSamples blocks for at most IdleInterval. It returns false once the sample
// queue is closed and empty.
func (l *Loop) waitForSamples(ctx context.Context) bool {
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.IdleInterval)
	defer cancel()

	s, err := l.samples.ReadWait(waitCtx)
	switch {
	case err == nil:
		l.assembler.Ingest(s)
		return true
	case stderrors.Is(err, errors.ErrAlreadyStopped):
		l.logger.Info("Sample queue closed, prediction loop stopping")
		return false
	default:
		return true
	}
}

// step classifies the current window and queues the prediction. Failures skip the window.
func (l *Loop) step(ctx context.Context) {
	w := l.assembler.Snapshot()
	l.lastGeneration = w.Generation

	start := time.Now()
	label, confidence, stage, err := l.infer(ctx, w)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.recordError(stage, err)
		return
	}

	if l.metrics != nil {
		l.metrics.latency.Observe(time.Since(start).Seconds())
		l.metrics.predictions.WithLabelValues(label).Inc()
		l.metrics.confidence.Observe(confidence)
	}

	produced := l.now()
	pred := Prediction{
		Label:      label,
		Confidence: min(max(confidence, 0), 1),
		ProducedAt: produced,
		WindowEnd:  w.End,
		Missing:    len(w.Missing),
	}
	if err := l.out.Write(pred); err != nil {
		return
	}
	l.predictions.Add(1)
	l.lastPrediction.Store(produced.UnixNano())
}

// infer runs the collaborators, converting a panic into an error
func (l *Loop) infer(ctx context.Context, w window.Window) (label string, confidence float64, stage string, err error) {
	stage = "extract"
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapTransient(fmt.Errorf("%w: panic: %v", errors.ErrInference, r),
				"prediction-loop", "infer", stage)
			stage = "panic"
		}
	}()

	vec, err := l.extractor.Extract(w)
	if err != nil {
		return "", 0, stage, errors.WrapTransient(err, "prediction-loop", "infer", "feature extraction")
	}

	stage = "classify"
	label, confidence, err = l.classifier.Classify(ctx, vec)
	if err != nil {
		return "", 0, stage, errors.WrapTransient(err, "prediction-loop", "infer", "classification")
	}
	if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		return "", 0, stage, errors.WrapTransient(
			fmt.Errorf("%w: non-finite confidence for %q", errors.ErrInference, label),
			"prediction-loop", "infer", "confidence check")
	}
	return label, confidence, stage, nil
}

func (l *Loop) recordError(stage string, err error) {
	l.errorCount.Add(1)
	if l.metrics != nil {
		l.metrics.errors.WithLabelValues(stage).Inc()
	}
	if l.core != nil {
		l.core.RecordError("prediction-loop", err)
	}
	l.errLog.Do(func() {
		l.logger.Warn("Window skipped", "stage", stage, "error", err, "errors_total", l.errorCount.Load())
	})
}

// Stats returns the loop counters
func (l *Loop) Stats() Stats {
	var last time.Time
	if ns := l.lastPrediction.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Predictions:    l.predictions.Load(),
		Errors:         l.errorCount.Load(),
		Dropped:        l.dropped.Load(),
		LastPrediction: last,
		Window:         l.assembler.Stats(),
	}
}

// Health reports the assembler readiness and the prediction flow
func (l *Loop) Health(now time.Time) health.Status {
	if !l.assembler.IsReady() {
		return health.NewDegraded("prediction-loop", errors.ErrNotReady.Error())
	}
	stats := l.Stats()
	status := health.FromActivity("prediction-loop", stats.LastPrediction, l.cfg.StaleAfter, now)
	return status.WithMetrics(&health.Metrics{
		ErrorCount:        stats.Errors,
		MessagesProcessed: stats.Predictions,
		LastActivity:      stats.LastPrediction,
	})
}
