package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/gate"
)

// DefaultDebounce collapses the burst of events editors produce on save
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the configuration layers when one of them changes on disk and
// delivers the new gate policy. Only the gate policy is hot-reloadable; other
// sections need a restart and are reported as such.
type Watcher struct {
	loader   *Loader
	debounce time.Duration
	logger   *slog.Logger
	updates  chan gate.Policy

	mu      sync.Mutex
	current *Config
	reloads int64
	failed  int64
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a reload
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher watches the loader's layers starting from current
func NewWatcher(loader *Loader, current *Config, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:   loader,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		updates:  make(chan gate.Policy, 1),
		current:  current,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "config-watcher")
	return w
}

// Updates delivers validated policies. Only the newest pending policy is kept.
// The channel is closed when Run returns.
func (w *Watcher) Updates() <-chan gate.Policy {
	return w.updates
}

// Current returns the last successfully loaded configuration
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.updates)

	layers := w.loader.Layers()
	if len(layers) == 0 {
		<-ctx.Done()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapFatal(err, "config-watcher", "Run", "create watcher")
	}
	defer fsw.Close()

	// watch directories: editors replace files by rename
	watched := make(map[string]bool, len(layers))
	dirs := make(map[string]bool)
	for _, layer := range layers {
		abs, err := filepath.Abs(layer)
		if err != nil {
			return errors.WrapInvalid(err, "config-watcher", "Run", "resolve "+layer)
		}
		watched[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			return errors.WrapFatal(err, "config-watcher", "Run", "watch "+dir)
		}
		dirs[dir] = true
	}
	w.logger.Info("Watching configuration", "layers", layers)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(evt.Name)
			if err != nil || !watched[abs] {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "error", err)

		case <-timer.C:
			w.reload()
		}
	}
}

// reload loads all layers; a failed reload keeps the running configuration
func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.mu.Lock()
		w.failed++
		w.mu.Unlock()
		// a half-written file fails to parse; the next write event retries
		w.logger.Warn("Configuration reload rejected, keeping current", "error", err)
		return
	}

	w.mu.Lock()
	previous := w.current
	w.current = cfg
	w.reloads++
	w.mu.Unlock()

	if previous != nil {
		for _, section := range restartSections(previous, cfg) {
			w.logger.Warn("Configuration section changed but needs a restart", "section", section)
		}
		if reflect.DeepEqual(previous.Gate, cfg.Gate) {
			w.logger.Debug("Configuration reloaded, gate policy unchanged")
			return
		}
	}

	// keep only the newest policy pending
	select {
	case <-w.updates:
	default:
	}
	w.updates <- cfg.Gate
	w.logger.Info("Gate policy reloaded",
		"threshold", cfg.Gate.Threshold,
		"required_consecutive", cfg.Gate.RequiredConsecutive,
		"labels", len(cfg.Gate.Labels))
}

// Stats returns the reload counters
func (w *Watcher) Stats() (reloads, failed int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.failed
}

func restartSections(a, b *Config) []string {
	var changed []string
	pairs := []struct {
		name string
		a, b any
	}{
		{"log", a.Log, b.Log},
		{"udp", a.UDP, b.UDP},
		{"window", a.Window, b.Window},
		{"features", a.Features, b.Features},
		{"model", a.Model, b.Model},
		{"predict", a.Predict, b.Predict},
		{"sinks", a.Sinks, b.Sinks},
		{"monitor", a.Monitor, b.Monitor},
		{"metrics", a.Metrics, b.Metrics},
	}
	for _, p := range pairs {
		if !reflect.DeepEqual(p.a, p.b) {
			changed = append(changed, p.name)
		}
	}
	return changed
}
