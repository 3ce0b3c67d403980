package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/gesturegate/classifier"
	"github.com/c360/gesturegate/config"
	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/feature"
	"github.com/c360/gesturegate/gate"
	"github.com/c360/gesturegate/health"
	"github.com/c360/gesturegate/input/udp"
	wsinput "github.com/c360/gesturegate/input/websocket"
	"github.com/c360/gesturegate/metric"
	"github.com/c360/gesturegate/output"
	"github.com/c360/gesturegate/output/file"
	"github.com/c360/gesturegate/output/httppost"
	"github.com/c360/gesturegate/output/mqtt"
	"github.com/c360/gesturegate/output/nats"
	"github.com/c360/gesturegate/output/websocket"
	"github.com/c360/gesturegate/predict"
)

// drainTimeout bounds how long queued commands may take to reach the sinks on shutdown
const drainTimeout = 3 * time.Second

// Deps holds everything the engine needs besides the configuration
type Deps struct {
	Config *config.Config
	// Loader enables hot reload of the gate policy when it has file layers
	Loader *config.Loader
	// Extractor and Classifier replace the configured statistical extractor and model file
	Extractor  predict.FeatureExtractor
	Classifier predict.Classifier
	// Sinks are appended to the configured sinks
	Sinks []output.Sink
	// MetricsRegistry is created when nil
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Stats is a snapshot of every stage
type Stats struct {
	Session   string             `json:"session"`
	Source    udp.Stats          `json:"source"`
	WebSocket *wsinput.Stats     `json:"websocket,omitempty"` // nil when disabled
	Predict   predict.Stats      `json:"predict"`
	Gate      gate.Stats         `json:"gate"`
	Sinks     []output.SinkStats `json:"sinks"`
}

// Engine owns one pipeline session: sample sources, prediction loop, action gate and sinks
type Engine struct {
	cfg        *config.Config
	session    string
	registry   *metric.MetricsRegistry
	source     *udp.Source
	wsSource   *wsinput.Source
	predictor  *predict.Loop
	gateLoop   *gate.Loop
	dispatcher *output.Dispatcher
	monitor    *websocket.Monitor
	server     *metric.Server
	watcher    *config.Watcher
	logger     *slog.Logger
	metrics    *engineMetrics
	core       *metric.Metrics
	running    atomic.Bool
}

// New builds every stage from the configuration. Sinks that need a connection
// (NATS) connect here, bounded by ctx.
func New(ctx context.Context, deps Deps) (*Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "engine", "New", "config check")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.MetricsRegistry
	if registry == nil {
		registry = metric.NewMetricsRegistry()
	}

	metrics, err := newEngineMetrics(registry)
	if err != nil {
		return nil, errors.WrapFatal(err, "engine", "New", "metrics registration")
	}

	e := &Engine{
		cfg:      cfg,
		session:  uuid.NewString(),
		registry: registry,
		logger:   logger.With("component", "engine"),
		metrics:  metrics,
		core:     registry.CoreMetrics(),
	}

	e.source, err = udp.NewSource(udp.SourceDeps{
		Config:          cfg.UDP,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.WebSocketInput.Enabled {
		e.wsSource, err = wsinput.NewSource(wsinput.SourceDeps{
			Config:          cfg.WebSocketInput.Config,
			Samples:         e.source.Samples(),
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
	}

	extractor, model, err := e.collaborators(deps)
	if err != nil {
		return nil, err
	}

	e.predictor, err = predict.NewLoop(predict.LoopDeps{
		Config:          cfg.Predict,
		Window:          cfg.Window,
		Samples:         e.source.Samples(),
		Extractor:       extractor,
		Classifier:      model,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Monitor.Enabled {
		e.monitor, err = websocket.NewMonitor(websocket.Deps{
			Config:          cfg.Monitor.Config,
			Session:         e.session,
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
	}

	sinks, err := e.buildSinks(ctx, logger)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, deps.Sinks...)

	e.dispatcher, err = output.NewDispatcher(output.DispatcherDeps{
		Session:         e.session,
		Sinks:           sinks,
		QueueSize:       cfg.Sinks.QueueSize,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		closeSinks(sinks)
		return nil, err
	}

	g, err := gate.New(cfg.Gate)
	if err != nil {
		closeSinks(sinks)
		return nil, err
	}

	var updates <-chan gate.Policy
	if deps.Loader != nil && len(deps.Loader.Layers()) > 0 {
		e.watcher = config.NewWatcher(deps.Loader, cfg, config.WithWatcherLogger(logger))
		updates = e.watcher.Updates()
	}

	var observer gate.PredictionObserver
	if e.monitor != nil {
		observer = e.monitor
	}

	e.gateLoop, err = gate.NewLoop(gate.LoopDeps{
		Gate:            g,
		Predictions:     e.predictor.Predictions(),
		Sink:            e.dispatcher,
		Observer:        observer,
		PolicyUpdates:   updates,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		closeSinks(sinks)
		return nil, err
	}

	if cfg.Metrics.Enabled {
		e.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, e.Health)
	}

	return e, nil
}

// collaborators returns the injected extractor and classifier, or builds them from config
func (e *Engine) collaborators(deps Deps) (predict.FeatureExtractor, predict.Classifier, error) {
	extractor := deps.Extractor
	if extractor == nil {
		stat, err := feature.NewStatistical(e.cfg.Window.Channels,
			feature.WithWorldFrame(e.cfg.Features.WorldFrame))
		if err != nil {
			return nil, nil, err
		}
		extractor = stat
	}

	model := deps.Classifier
	if model == nil {
		loaded, err := classifier.Load(e.cfg.Model.Path)
		if err != nil {
			return nil, nil, err
		}
		model = loaded
	}

	return extractor, model, nil
}

// buildSinks creates the enabled sinks in a fixed order: log, file, webhook, mqtt, nats, monitor
func (e *Engine) buildSinks(ctx context.Context, logger *slog.Logger) ([]output.Sink, error) {
	sc := e.cfg.Sinks
	var sinks []output.Sink

	fail := func(name string, err error) ([]output.Sink, error) {
		closeSinks(sinks)
		return nil, errors.Wrap(err, "engine", "buildSinks", "create "+name+" sink")
	}

	if sc.Log.Enabled {
		level, err := config.ParseLogLevel(sc.Log.Level)
		if err != nil {
			return fail("log", err)
		}
		sinks = append(sinks, output.NewLogSink(logger, level))
	}
	if sc.File.Enabled {
		s, err := file.NewSink(sc.File.Config, logger)
		if err != nil {
			return fail("file", err)
		}
		sinks = append(sinks, s)
	}
	if sc.Webhook.Enabled {
		s, err := httppost.NewSink(sc.Webhook.Config, logger)
		if err != nil {
			return fail("webhook", err)
		}
		sinks = append(sinks, s)
	}
	if sc.MQTT.Enabled {
		s, err := mqtt.NewSink(sc.MQTT.Config, logger)
		if err != nil {
			return fail("mqtt", err)
		}
		sinks = append(sinks, s)
	}
	if sc.NATS.Enabled {
		s, err := nats.NewSink(ctx, sc.NATS.Config, logger)
		if err != nil {
			return fail("nats", err)
		}
		sinks = append(sinks, s)
	}
	if e.monitor != nil {
		sinks = append(sinks, e.monitor)
	}

	return sinks, nil
}

func closeSinks(sinks []output.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// Session returns the id stamped on every published command
func (e *Engine) Session() string {
	return e.session
}

// MetricsRegistry returns the registry every stage reports to
func (e *Engine) MetricsRegistry() *metric.MetricsRegistry {
	return e.registry
}

// UDPAddr returns the bound UDP address once the source is ready
func (e *Engine) UDPAddr() net.Addr {
	return e.source.Addr()
}

// Ready is closed once the UDP socket is bound
func (e *Engine) Ready() <-chan struct{} {
	return e.source.Ready()
}

// WebSocketInputAddr returns the WebSocket source listener address, or an empty
// string when it is disabled or running as a client
func (e *Engine) WebSocketInputAddr() string {
	if e.wsSource == nil {
		return ""
	}
	return e.wsSource.Addr()
}

// MonitorAddr returns the monitor listener address, or an empty string when disabled
func (e *Engine) MonitorAddr() string {
	if e.monitor == nil {
		return ""
	}
	return e.monitor.Addr()
}

// Run drives the pipeline until ctx is cancelled or a stage fails fatally. The gate
// releases any held action before the sinks are drained, so a held key is never left
// pressed downstream.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "engine", "Run", "start")
	}

	started := time.Now()
	e.metrics.recordStart()
	e.core.RecordSessionStart(started)

	g, gctx := errgroup.WithContext(ctx)

	if err := e.dispatcher.Start(gctx); err != nil {
		return err
	}

	e.logger.Info("Pipeline starting",
		"session", e.session,
		"udp", fmt.Sprintf("%s:%d", e.cfg.UDP.Bind, e.cfg.UDP.Port),
		"channels", e.cfg.Window.Channels,
		"websocket_input", e.wsSource != nil,
		"monitor", e.monitor != nil,
		"metrics", e.server != nil,
		"hot_reload", e.watcher != nil)

	e.stage(gctx, g, "udp-input", e.source.Run)
	if e.wsSource != nil {
		e.stage(gctx, g, "websocket-input", e.wsSource.Run)
	}
	e.stage(gctx, g, "prediction-loop", e.predictor.Run)
	e.stage(gctx, g, "action-gate", func(ctx context.Context) error {
		err := e.gateLoop.Run(ctx)
		if stopErr := e.dispatcher.Stop(drainTimeout); stopErr != nil {
			e.logger.Warn("Sinks did not drain cleanly", "error", stopErr)
		}
		return err
	})
	if e.monitor != nil {
		e.stage(gctx, g, "websocket-monitor", e.monitor.Run)
	}
	if e.server != nil {
		e.stage(gctx, g, "metrics-server", e.server.Start)
	}
	if e.watcher != nil {
		e.stage(gctx, g, "config-watcher", e.watcher.Run)
	}

	err := g.Wait()
	e.metrics.recordStop(err, time.Since(started).Seconds())

	if err != nil {
		e.logger.Error("Pipeline stopped on error", "session", e.session, "error", err)
		return err
	}
	e.logger.Info("Pipeline stopped", "session", e.session, "uptime", time.Since(started).Round(time.Millisecond))
	return nil
}

// stage runs one component in the group and tracks its status
func (e *Engine) stage(ctx context.Context, g *errgroup.Group, name string, run func(context.Context) error) {
	e.core.RecordComponentStatus(name, metric.StatusRunning)
	g.Go(func() error {
		err := run(ctx)
		if err != nil && !stderrors.Is(err, context.Canceled) {
			e.core.RecordComponentStatus(name, metric.StatusFailed)
			e.core.RecordError(name, err)
			return err
		}
		e.core.RecordComponentStatus(name, metric.StatusStopped)
		return nil
	})
}

// Health aggregates the stage statuses
func (e *Engine) Health() health.Status {
	now := time.Now()
	subs := []health.Status{
		e.source.Health(now),
		e.predictor.Health(now),
		e.gateLoop.Health(),
		e.dispatcher.Health(),
	}
	if e.wsSource != nil {
		subs = append(subs, e.wsSource.Health(now))
	}
	if e.monitor != nil {
		subs = append(subs, e.monitor.Health())
	}
	return health.Aggregate("gesturegate", subs)
}

// Stats returns a snapshot of every stage's counters
func (e *Engine) Stats() Stats {
	stats := Stats{
		Session: e.session,
		Source:  e.source.Stats(),
		Predict: e.predictor.Stats(),
		Gate:    e.gateLoop.Stats(),
		Sinks:   e.dispatcher.Stats(),
	}
	if e.wsSource != nil {
		ws := e.wsSource.Stats()
		stats.WebSocket = &ws
	}
	return stats
}
