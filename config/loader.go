package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/gesturegate/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "GESTURE"

//go:embed schema.json
var schemaJSON []byte

var configSchema = gojsonschema.NewBytesLoader(schemaJSON)

// Loader loads configuration layers over the defaults. Later layers win.
type Loader struct {
	layers    []string
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader with the GESTURE_ environment prefix
func NewLoader(layers ...string) *Loader {
	return &Loader{
		layers:    layers,
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer (.json, .yaml or .yml)
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// Layers returns the configured layer paths
func (l *Loader) Layers() []string {
	return append([]string(nil), l.layers...)
}

// Load merges defaults, every layer and the environment, then validates the result
// against the embedded schema and Config.Validate.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, raw)
	}

	if err := validateSchema(merged); err != nil {
		return nil, err
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "encode merged config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "config", "Load", "decode merged config")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadRaw reads one layer into a generic map with durations converted
func loadRaw(path string) (map[string]any, error) {
	data, err := readLayer(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := checkDepth(raw, 1); err != nil {
		return nil, err
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func validateSchema(doc map[string]any) error {
	// round trip so yaml's int values reach the validator as JSON numbers
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapInvalid(err, "config", "validateSchema", "encode document")
	}

	result, err := gojsonschema.Validate(configSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapFatal(err, "config", "validateSchema", "schema validation")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(msgs, "; ")),
		"config", "validateSchema", "schema check")
}

// applyEnvOverrides applies PREFIX_* environment variables on top of the merged layers
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return nil
		}
		if err := checkEnvValue(key, val); err != nil {
			return errors.WrapInvalid(err, "config", "applyEnvOverrides", key)
		}
		*dst = val
		return nil
	}
	integer := func(name string, dst *int) error {
		var raw string
		if err := str(name, &raw); err != nil || raw == "" {
			return err
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q", errors.ErrParsingFailed, l.envPrefix, name, raw),
				"config", "applyEnvOverrides", "integer parse")
		}
		*dst = n
		return nil
	}
	float := func(name string, dst *float64) error {
		var raw string
		if err := str(name, &raw); err != nil || raw == "" {
			return err
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q", errors.ErrParsingFailed, l.envPrefix, name, raw),
				"config", "applyEnvOverrides", "float parse")
		}
		*dst = f
		return nil
	}
	enable := func(name string, dst *bool) error {
		var raw string
		if err := str(name, &raw); err != nil || raw == "" {
			return err
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q", errors.ErrParsingFailed, l.envPrefix, name, raw),
				"config", "applyEnvOverrides", "bool parse")
		}
		*dst = b
		return nil
	}

	overrides := []func() error{
		func() error { return str("LOG_LEVEL", &cfg.Log.Level) },
		func() error { return str("LOG_FORMAT", &cfg.Log.Format) },
		func() error { return str("UDP_BIND", &cfg.UDP.Bind) },
		func() error { return integer("UDP_PORT", &cfg.UDP.Port) },
		func() error { return enable("WS_INPUT_ENABLED", &cfg.WebSocketInput.Enabled) },
		func() error { return str("WS_INPUT_TOKEN", &cfg.WebSocketInput.Token) },
		func() error { return str("MODEL_PATH", &cfg.Model.Path) },
		func() error { return float("GATE_THRESHOLD", &cfg.Gate.Threshold) },
		func() error { return integer("GATE_REQUIRED", &cfg.Gate.RequiredConsecutive) },
		func() error { return enable("METRICS_ENABLED", &cfg.Metrics.Enabled) },
		func() error { return integer("METRICS_PORT", &cfg.Metrics.Port) },
		func() error { return enable("MONITOR_ENABLED", &cfg.Monitor.Enabled) },
		func() error { return str("MONITOR_ADDR", &cfg.Monitor.Addr) },
		func() error { return str("WEBHOOK_URL", &cfg.Sinks.Webhook.URL) },
		func() error { return str("MQTT_BROKER", &cfg.Sinks.MQTT.Broker) },
		func() error { return str("MQTT_USERNAME", &cfg.Sinks.MQTT.Username) },
		func() error { return str("MQTT_PASSWORD", &cfg.Sinks.MQTT.Password) },
		func() error { return str("NATS_URL", &cfg.Sinks.NATS.URL) },
		func() error { return str("NATS_TOKEN", &cfg.Sinks.NATS.Token) },
	}
	for _, apply := range overrides {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}
