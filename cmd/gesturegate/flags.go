package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     layerList
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	NoReload        bool
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// layerList collects repeated -config flags. Later layers override earlier ones.
type layerList []string

func (l *layerList) String() string {
	return strings.Join(*l, ",")
}

func (l *layerList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	if env := getEnv("GESTURE_CONFIG", ""); env != "" {
		_ = cfg.ConfigPaths.Set(env)
	}

	// Define flags with environment variable fallback
	flag.Var(&cfg.ConfigPaths, "config",
		"Configuration layer (JSON or YAML), repeatable or comma separated (env: GESTURE_CONFIG)")
	flag.Var(&cfg.ConfigPaths, "c",
		"Configuration layer (JSON or YAML), repeatable or comma separated (env: GESTURE_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("GESTURE_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides log.level (env: GESTURE_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("GESTURE_LOG_FORMAT", ""),
		"Log format: json, text; overrides log.format (env: GESTURE_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("GESTURE_DEBUG", false),
		"Enable debug logging (env: GESTURE_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("GESTURE_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: GESTURE_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.NoReload, "no-reload",
		getEnvBool("GESTURE_NO_RELOAD", false),
		"Disable hot reload of the gate policy (env: GESTURE_NO_RELOAD)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - wrist gesture to action pipeline

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with a base config and a local override
  %s -c configs/gesturegate.yaml -c configs/local.yaml

  # Run with debug logging on a terminal
  %s --log-level=debug --log-format=text

  # Run with environment variables
  export GESTURE_CONFIG=/etc/gesturegate/config.yaml
  export GESTURE_GATE_THRESHOLD=0.8
  %s

  # Validate configuration only
  %s -c configs/gesturegate.yaml --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
