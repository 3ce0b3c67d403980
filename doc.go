// Package gesturegate turns a live stream of wrist IMU samples into debounced
// game and automation actions.
//
// A phone or watch streams acceleration, gyroscope and orientation readings as
// JSON datagrams. gesturegate windows them, classifies every window and lets only
// confident, repeated predictions through as commands: a discrete action fires one
// pulse, a continuous action is held down until the gesture stops.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│      Sample sources                 │  UDP datagrams (primary)
//	│  (input/udp, input/websocket)       │  WebSocket frames (optional)
//	└─────────────────────────────────────┘
//	           ↓ bounded sample queue, oldest dropped
//	┌─────────────────────────────────────┐
//	│      Windowing + prediction         │  Per-channel ring buffers,
//	│  (window, feature, classifier,      │  span trimming, feature vector,
//	│   predict)                          │  label + confidence
//	└─────────────────────────────────────┘
//	           ↓ bounded prediction queue, oldest dropped
//	┌─────────────────────────────────────┐
//	│      Action gate                    │  Threshold, consecutive votes,
//	│  (gate)                             │  cooldowns, hold and release
//	└─────────────────────────────────────┘
//	           ↓ commands
//	┌─────────────────────────────────────┐
//	│      Sinks                          │  log, JSONL file, webhook,
//	│  (output/...)                       │  MQTT, NATS, live monitor
//	└─────────────────────────────────────┘
//
// # Packages
//
// Pipeline:
//   - sensor: Sample channels and the datagram decoder
//   - window: Sliding per-channel buffers and on-demand window snapshots
//   - feature: Statistical feature extraction and layout versioning
//   - classifier: Model file loading (linear and two-stage models)
//   - predict: Continuous prediction loop
//   - gate: ActionGate state machine and its run loop
//
// Inputs and outputs:
//   - input/udp: UDP sample source
//   - input/websocket: WebSocket sample source (server or client mode)
//   - output: Command envelope, dispatcher and log sink
//   - output/file, output/httppost, output/mqtt, output/nats: Command sinks
//   - output/websocket: Live monitor of predictions, gate state and commands
//
// Infrastructure:
//   - engine: Session wiring and lifecycle
//   - config: Layered YAML/JSON configuration, schema validation, hot reload
//   - natsclient: NATS connection management
//   - metric: Prometheus registry and the /metrics and /health server
//   - errors: Classified errors (transient, invalid, fatal)
//   - health: Component health status
//   - pkg/buffer, pkg/retry, pkg/worker, pkg/tlsutil: Shared utilities
//
// # Binaries
//
//	# Run the pipeline with layered configuration
//	gesturegate --config configs/base.yaml --config configs/jump-game.yaml
//
//	# Replay a recorded session into a running pipeline at real-time speed
//	gesture-replay -target 127.0.0.1:5005 session.jsonl
//
// Each run of gesturegate is one session. Its id is stamped on every command so
// downstream consumers can tell restarts apart.
package gesturegate
