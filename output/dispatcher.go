package output

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/gate"
	"github.com/c360/gesturegate/health"
	"github.com/c360/gesturegate/metric"
	"github.com/c360/gesturegate/pkg/worker"
)

// DefaultQueueSize is the per-sink backlog
const DefaultQueueSize = 64

// DispatcherDeps holds runtime dependencies for the dispatcher
type DispatcherDeps struct {
	// Session is stamped on every envelope
	Session         string
	Sinks           []Sink
	QueueSize       int
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// SinkStats is a snapshot of one sink's delivery counters
type SinkStats struct {
	Name        string    `json:"name"`
	Published   int64     `json:"published"`
	Failed      int64     `json:"failed"`
	Dropped     int64     `json:"dropped"`
	LastPublish time.Time `json:"last_publish"`
	LastError   string    `json:"last_error,omitempty"`
}

type dispatchMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

type sinkWorker struct {
	sink   Sink
	pool   *worker.Pool[Envelope]
	errLog *rate.Sometimes

	published   atomic.Int64
	failed      atomic.Int64
	dropped     atomic.Int64
	lastPublish atomic.Int64
	// lastFailed is true while the most recent publish failed
	lastFailed atomic.Bool

	mu        sync.Mutex
	lastError string
}

// Dispatcher fans commands out to sinks without blocking the caller
type Dispatcher struct {
	session string
	workers []*sinkWorker
	logger  *slog.Logger
	metrics *dispatchMetrics

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	started     bool
}

// NewDispatcher builds one single-worker pool per sink. Sink names must be unique.
func NewDispatcher(deps DispatcherDeps) (*Dispatcher, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := deps.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	metrics, err := newDispatchMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "dispatcher", "NewDispatcher", "metrics registration")
	}

	d := &Dispatcher{
		session: deps.Session,
		logger:  logger.With("component", "dispatcher"),
		metrics: metrics,
	}

	seen := make(map[string]bool, len(deps.Sinks))
	for _, sink := range deps.Sinks {
		name := sink.Name()
		if seen[name] {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: duplicate sink %q", errors.ErrInvalidConfig, name),
				"dispatcher", "NewDispatcher", "sink registration")
		}
		seen[name] = true

		w := &sinkWorker{
			sink:   sink,
			errLog: &rate.Sometimes{First: 3, Interval: 10 * time.Second},
		}
		w.pool, err = worker.NewPool(1, queueSize, d.publishFunc(w),
			worker.WithName[Envelope]("sink_"+name),
			worker.WithMetricsRegistry[Envelope](deps.MetricsRegistry),
			worker.WithErrorHandler(d.errorFunc(w)),
		)
		if err != nil {
			return nil, errors.WrapFatal(err, "dispatcher", "NewDispatcher", "sink pool")
		}
		d.workers = append(d.workers, w)
	}

	return d, nil
}

func newDispatchMetrics(registry *metric.MetricsRegistry) (*dispatchMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &dispatchMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate", Subsystem: "sink", Name: "published_total",
			Help: "Commands delivered per sink",
		}, []string{"sink"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate", Subsystem: "sink", Name: "failed_total",
			Help: "Commands a sink failed to deliver",
		}, []string{"sink"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate", Subsystem: "sink", Name: "dropped_total",
			Help: "Commands dropped because the sink queue was full",
		}, []string{"sink"}),
	}
	if err := registry.RegisterCounterVec("dispatcher", "published", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("dispatcher", "failed", m.failed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("dispatcher", "dropped", m.dropped); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *Dispatcher) publishFunc(w *sinkWorker) func(context.Context, Envelope) error {
	name := w.sink.Name()
	return func(ctx context.Context, env Envelope) error {
		if err := w.sink.Publish(ctx, env); err != nil {
			return err
		}
		w.published.Add(1)
		w.lastPublish.Store(time.Now().UnixNano())
		w.lastFailed.Store(false)
		if d.metrics != nil {
			d.metrics.published.WithLabelValues(name).Inc()
		}
		return nil
	}
}

func (d *Dispatcher) errorFunc(w *sinkWorker) func(Envelope, error) {
	name := w.sink.Name()
	return func(env Envelope, err error) {
		w.failed.Add(1)
		w.lastFailed.Store(true)
		w.mu.Lock()
		w.lastError = err.Error()
		w.mu.Unlock()
		if d.metrics != nil {
			d.metrics.failed.WithLabelValues(name).Inc()
		}
		w.errLog.Do(func() {
			d.logger.Warn("Sink publish failed",
				"sink", name,
				"action", env.Action,
				"phase", env.Phase.String(),
				"error", err,
				"failed_total", w.failed.Load())
		})
	}
}

// Start launches the sink workers. Queued commands are still delivered after ctx is
// cancelled, until Stop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "dispatcher", "Start", "start")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	for _, w := range d.workers {
		if err := w.pool.Start(runCtx); err != nil {
			cancel()
			return errors.WrapFatal(err, "dispatcher", "Start", "start sink pool")
		}
	}
	d.cancel = cancel
	d.started = true

	names := make([]string, len(d.workers))
	for i, w := range d.workers {
		names[i] = w.sink.Name()
	}
	d.logger.Info("Dispatcher started", "session", d.session, "sinks", names)
	return nil
}

// Emit implements gate.Sink. It never blocks.
func (d *Dispatcher) Emit(cmd gate.Command) {
	env := NewEnvelope(d.session, cmd)
	for _, w := range d.workers {
		if err := w.pool.Submit(env); err != nil {
			w.dropped.Add(1)
			if d.metrics != nil {
				d.metrics.dropped.WithLabelValues(w.sink.Name()).Inc()
			}
			w.errLog.Do(func() {
				d.logger.Warn("Sink queue rejected command", "sink", w.sink.Name(), "error", err)
			})
		}
	}
}

// Stop drains every sink queue within timeout, then closes the sinks
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if !d.started {
		return nil
	}
	d.started = false

	deadline := time.Now().Add(timeout)
	var errs []error
	for _, w := range d.workers {
		if err := w.pool.Stop(max(time.Until(deadline), time.Millisecond)); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", w.sink.Name(), err))
		}
	}
	d.cancel()

	for _, w := range d.workers {
		if err := w.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", w.sink.Name(), err))
		}
	}

	if err := stderrors.Join(errs...); err != nil {
		return errors.WrapTransient(err, "dispatcher", "Stop", "drain sinks")
	}
	return nil
}

// Stats returns per-sink counters in configuration order
func (d *Dispatcher) Stats() []SinkStats {
	stats := make([]SinkStats, len(d.workers))
	for i, w := range d.workers {
		var last time.Time
		if ns := w.lastPublish.Load(); ns != 0 {
			last = time.Unix(0, ns)
		}
		w.mu.Lock()
		lastErr := w.lastError
		w.mu.Unlock()
		stats[i] = SinkStats{
			Name:        w.sink.Name(),
			Published:   w.published.Load(),
			Failed:      w.failed.Load(),
			Dropped:     w.dropped.Load(),
			LastPublish: last,
			LastError:   lastErr,
		}
	}
	return stats
}

// Health is degraded while any sink's most recent publish failed
func (d *Dispatcher) Health() health.Status {
	stats := d.Stats()
	subs := make([]health.Status, 0, len(stats))
	for i, w := range d.workers {
		s := stats[i]
		st := health.NewHealthy("sink-"+s.Name, "delivering")
		if w.lastFailed.Load() {
			st = health.NewDegraded("sink-"+s.Name, s.LastError)
		}
		subs = append(subs, st.WithMetrics(&health.Metrics{
			ErrorCount:        s.Failed,
			MessagesProcessed: s.Published,
			LastActivity:      s.LastPublish,
		}))
	}
	return health.Aggregate("dispatcher", subs)
}
