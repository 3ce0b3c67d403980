// Package engine wires one gesturegate pipeline session together and runs it.
//
// # Architecture
//
//	UDP socket ──────> udp.Source ──┐
//	                                ├─[samples]──> predict.Loop ──[predictions]──> gate.Loop
//	WebSocket ──> websocket.Source ─┘                                                 │
//	                                            websocket.Monitor <── observe ────────┤
//	                                                                                  ▼
//	                                                                       output.Dispatcher
//	                                                       log │ file │ webhook │ mqtt │ nats │ monitor
//
// The WebSocket source is optional and writes into the UDP source's sample queue.
// Both queues are bounded and drop their oldest entry when full. Each sink sits
// behind its own single-worker pool so a slow destination never stalls the gate.
//
// # Lifecycle
//
// New builds every stage from a validated config.Config. Run starts them under one
// errgroup and returns when the context is cancelled or a stage fails fatally (a
// socket error, a port already in use). On the way out the gate releases any held
// action and only then are the sink queues drained and closed.
//
// Each Run is one session; its id is stamped on every published command.
//
// # Hot reload
//
// When Deps.Loader has file layers, a config.Watcher reloads them on change and feeds
// validated gate policies to the gate loop. Other sections need a restart.
//
// # Testing
//
// Deps.Extractor and Deps.Classifier replace the statistical extractor and the model
// file, and Deps.Sinks adds in-process sinks:
//
//	e, err := engine.New(ctx, engine.Deps{
//		Config:     cfg,
//		Classifier: stub,
//		Sinks:      []output.Sink{capture},
//	})
package engine
