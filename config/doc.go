// Package config loads the gesturegate configuration.
//
// Configuration is built in layers. The built-in defaults come first, then
// each file passed to the Loader (JSON or YAML, later files win, nested
// objects are merged key by key), then GESTURE_* environment variables:
//
//	loader := config.NewLoader("configs/gesturegate.yaml", "/etc/gesturegate/site.yaml")
//	cfg, err := loader.Load()
//
// Duration fields accept Go duration strings ("300ms", "2s") in any layer.
// The merged document is checked against the embedded JSON schema before it
// is decoded, then each section validates itself. Disabled sinks are not
// validated.
//
// # Environment Overrides
//
//	GESTURE_LOG_LEVEL, GESTURE_LOG_FORMAT
//	GESTURE_UDP_BIND, GESTURE_UDP_PORT
//	GESTURE_WS_INPUT_ENABLED, GESTURE_WS_INPUT_TOKEN
//	GESTURE_MODEL_PATH
//	GESTURE_GATE_THRESHOLD, GESTURE_GATE_REQUIRED
//	GESTURE_METRICS_ENABLED, GESTURE_METRICS_PORT
//	GESTURE_MONITOR_ENABLED, GESTURE_MONITOR_ADDR
//	GESTURE_WEBHOOK_URL
//	GESTURE_MQTT_BROKER, GESTURE_MQTT_USERNAME, GESTURE_MQTT_PASSWORD
//	GESTURE_NATS_URL, GESTURE_NATS_TOKEN
//
// # Hot Reload
//
// Watcher watches the directories holding the layers and reloads after a
// short debounce. Only the gate policy is applied live; it is sent on
// Updates() for the gate loop to pick up. A reload that fails to parse or
// validate is logged and the running configuration is kept. Changes to other
// sections are logged as needing a restart.
//
// # Security
//
// Layer files must be regular .json, .yaml or .yml files under 10MB, JSON
// nesting is limited to 100 levels, and relative paths may not escape the
// working directory.
package config
