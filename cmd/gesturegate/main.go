// Package main implements the gesturegate daemon. It receives wrist IMU samples over
// UDP, classifies a sliding window continuously and turns confident, stable
// predictions into action commands for the configured sinks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/gesturegate/config"
	"github.com/c360/gesturegate/engine"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "gesturegate"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	loader := config.NewLoader(cliCfg.ConfigPaths...)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(
		firstNonEmpty(cliCfg.LogLevel, cfg.Log.Level),
		firstNonEmpty(cliCfg.LogFormat, cfg.Log.Format),
	)
	slog.SetDefault(logger)

	slog.Info("Starting gesturegate",
		"version", Version,
		"build_time", BuildTime,
		"config_layers", loader.Layers())
	slog.Debug("Effective configuration", "config", cfg.String())

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	deps := engine.Deps{
		Config: cfg,
		Logger: logger,
	}
	if !cliCfg.NoReload {
		deps.Loader = loader
	}

	eng, err := engine.New(signalCtx, deps)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	return runWithSignalHandling(signalCtx, eng, cliCfg.ShutdownTimeout)
}

// initializeCLI parses and validates flags. A bootstrap logger covers config loading.
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	slog.SetDefault(setupLogger(firstNonEmpty(cliCfg.LogLevel, "info"), firstNonEmpty(cliCfg.LogFormat, "text")))
	return cliCfg, false, nil
}

// runWithSignalHandling runs the engine until a signal arrives or a stage fails, then
// waits at most shutdownTimeout for the held action release and sink drain.
func runWithSignalHandling(ctx context.Context, eng *engine.Engine, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- eng.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("pipeline failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("graceful shutdown timed out after %s", shutdownTimeout)
	}

	slog.Info("gesturegate shutdown complete")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
