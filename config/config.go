package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/gate"
	"github.com/c360/gesturegate/input/udp"
	wsinput "github.com/c360/gesturegate/input/websocket"
	"github.com/c360/gesturegate/output/file"
	"github.com/c360/gesturegate/output/httppost"
	"github.com/c360/gesturegate/output/mqtt"
	"github.com/c360/gesturegate/output/nats"
	"github.com/c360/gesturegate/output/websocket"
	"github.com/c360/gesturegate/predict"
	"github.com/c360/gesturegate/window"
)

// Config is the complete gesturegate configuration
type Config struct {
	Version        string               `json:"version"`
	Log            LogConfig            `json:"log"`
	UDP            udp.Config           `json:"udp"`
	WebSocketInput WebSocketInputConfig `json:"websocket_input"`
	Window         window.Config        `json:"window"`
	Features       FeatureConfig        `json:"features"`
	Model          ModelConfig          `json:"model"`
	Predict        predict.Config       `json:"predict"`
	Gate           gate.Policy          `json:"gate"`
	Sinks          SinksConfig          `json:"sinks"`
	Monitor        MonitorConfig        `json:"monitor"`
	Metrics        MetricsConfig        `json:"metrics"`
}

// LogConfig selects the root log handler
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// WebSocketInputConfig configures the optional WebSocket sample source that
// feeds the same queue as UDP
type WebSocketInputConfig struct {
	Enabled bool `json:"enabled"`
	wsinput.Config
}

// FeatureConfig configures the statistical extractor
type FeatureConfig struct {
	// WorldFrame rotates acceleration into the world frame before extraction
	WorldFrame bool `json:"world_frame"`
}

// ModelConfig points at the classifier model file
type ModelConfig struct {
	Path string `json:"path"`
}

// SinksConfig lists the command sinks. The log sink is on by default, every other sink is opt-in.
type SinksConfig struct {
	QueueSize int            `json:"queue_size"`
	Log       LogSinkConfig  `json:"log"`
	File      FileSinkConfig `json:"file"`
	Webhook   WebhookConfig  `json:"webhook"`
	MQTT      MQTTConfig     `json:"mqtt"`
	NATS      NATSConfig     `json:"nats"`
}

// LogSinkConfig configures the slog command sink
type LogSinkConfig struct {
	Enabled bool   `json:"enabled"`
	Level   string `json:"level"`
}

// FileSinkConfig configures the JSONL command recorder
type FileSinkConfig struct {
	Enabled bool `json:"enabled"`
	file.Config
}

// WebhookConfig configures the HTTP POST sink
type WebhookConfig struct {
	Enabled bool `json:"enabled"`
	httppost.Config
}

// MQTTConfig configures the MQTT sink
type MQTTConfig struct {
	Enabled bool `json:"enabled"`
	mqtt.Config
}

// NATSConfig configures the NATS sink
type NATSConfig struct {
	Enabled bool `json:"enabled"`
	nats.Config
}

// MonitorConfig configures the live WebSocket monitor
type MonitorConfig struct {
	Enabled bool `json:"enabled"`
	websocket.Config
}

// MetricsConfig configures the /metrics and /health server
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Default returns the built-in configuration every layer is merged over
func Default() *Config {
	return &Config{
		Version:        "1.0.0",
		Log:            LogConfig{Level: "info", Format: "text"},
		UDP:            udp.DefaultConfig(),
		WebSocketInput: WebSocketInputConfig{Config: wsinput.DefaultConfig()},
		Window:         window.DefaultConfig(),
		Model:          ModelConfig{Path: "models/gesture.yaml"},
		Predict:        predict.DefaultConfig(),
		Gate:           gate.DefaultPolicy(),
		Sinks: SinksConfig{
			QueueSize: 64,
			Log:       LogSinkConfig{Enabled: true, Level: "info"},
			File:      FileSinkConfig{Config: file.DefaultConfig()},
			Webhook:   WebhookConfig{Config: httppost.DefaultConfig()},
			MQTT:      MQTTConfig{Config: mqtt.DefaultConfig()},
			NATS:      NATSConfig{Config: nats.DefaultConfig()},
		},
		Monitor:        MonitorConfig{Config: websocket.DefaultConfig()},
		Metrics:        MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
	}
}

// Validate checks every section. Disabled sinks are not validated.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: log.format %q", errors.ErrInvalidConfig, c.Log.Format),
			"config", "Validate", "log format check")
	}

	checks := []struct {
		section string
		err     error
	}{
		{"udp", c.UDP.Validate()},
		{"window", c.Window.Validate()},
		{"predict", c.Predict.Validate()},
		{"gate", c.Gate.Validate()},
	}
	for _, check := range checks {
		if check.err != nil {
			return fmt.Errorf("%s: %w", check.section, check.err)
		}
	}

	if c.WebSocketInput.Enabled {
		if err := c.WebSocketInput.Config.Validate(); err != nil {
			return fmt.Errorf("websocket_input: %w", err)
		}
		if c.WebSocketInput.Mode == wsinput.ModeServer && c.Monitor.Enabled && c.WebSocketInput.Addr == c.Monitor.Addr {
			return errors.WrapInvalid(fmt.Errorf("%w: websocket_input and monitor share %s", errors.ErrInvalidConfig, c.Monitor.Addr),
				"config", "Validate", "port conflict check")
		}
	}

	if c.Model.Path == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: model.path", errors.ErrMissingConfig),
			"config", "Validate", "model check")
	}

	if err := c.Sinks.validate(); err != nil {
		return err
	}

	if c.Monitor.Enabled {
		if err := c.Monitor.Config.Validate(); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(fmt.Errorf("%w: metrics.port %d", errors.ErrInvalidConfig, c.Metrics.Port),
			"config", "Validate", "metrics port check")
	}
	if c.Metrics.Enabled && c.Monitor.Enabled && strings.HasSuffix(c.Monitor.Addr, fmt.Sprintf(":%d", c.Metrics.Port)) {
		return errors.WrapInvalid(fmt.Errorf("%w: monitor and metrics share port %d", errors.ErrInvalidConfig, c.Metrics.Port),
			"config", "Validate", "port conflict check")
	}

	return nil
}

func (s SinksConfig) validate() error {
	if s.QueueSize < 1 {
		return errors.WrapInvalid(fmt.Errorf("%w: sinks.queue_size %d", errors.ErrInvalidConfig, s.QueueSize),
			"config", "Validate", "sink queue check")
	}
	if s.Log.Enabled {
		if _, err := ParseLogLevel(s.Log.Level); err != nil {
			return fmt.Errorf("sinks.log: %w", err)
		}
	}

	checks := []struct {
		name    string
		enabled bool
		check   func() error
	}{
		{"file", s.File.Enabled, s.File.Config.Validate},
		{"webhook", s.Webhook.Enabled, s.Webhook.Config.Validate},
		{"mqtt", s.MQTT.Enabled, s.MQTT.Config.Validate},
		{"nats", s.NATS.Enabled, s.NATS.Config.Validate},
	}
	for _, c := range checks {
		if !c.enabled {
			continue
		}
		if err := c.check(); err != nil {
			return fmt.Errorf("sinks.%s: %w", c.name, err)
		}
	}
	return nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.WrapInvalid(fmt.Errorf("%w: log level %q", errors.ErrInvalidConfig, level),
			"config", "ParseLogLevel", "level lookup")
	}
}

// Clone returns a deep copy through a JSON round trip
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns the config as indented JSON with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	for _, secret := range []*string{&masked.Sinks.MQTT.Password, &masked.Sinks.NATS.Password, &masked.Sinks.NATS.Token, &masked.WebSocketInput.Token} {
		if *secret != "" {
			*secret = "***"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// durationKeys are the fields that accept Go duration strings ("300ms", "2s")
var durationKeys = map[string]bool{
	"stale_after":      true,
	"duration":         true,
	"idle_interval":    true,
	"default_cooldown": true,
	"hold_timeout":     true,
	"cooldown":         true,
	"flush_interval":   true,
	"timeout":          true,
	"connect_timeout":  true,
	"publish_timeout":  true,
	"flush_timeout":    true,
	"ping_interval":    true,
	"write_timeout":    true,
	"initial_interval": true,
	"max_interval":     true,
}

// parseDurations converts duration strings to nanoseconds, in place, at any depth
func parseDurations(data map[string]any) error {
	for key, val := range data {
		switch v := val.(type) {
		case map[string]any:
			if err := parseDurations(v); err != nil {
				return err
			}
		case string:
			if !durationKeys[key] {
				continue
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return errors.WrapInvalid(fmt.Errorf("%w: %s=%q", errors.ErrParsingFailed, key, v),
					"config", "parseDurations", "duration parse")
			}
			data[key] = d.Nanoseconds()
		}
	}
	return nil
}
