// Package websocket provides a WebSocket sample source for sensors that cannot send raw
// UDP. It decodes the same wire format as the UDP source and writes into the same
// bounded sample queue, so the prediction loop cannot tell the transports apart.
//
// # Modes
//
// Server mode listens on Addr and accepts up to MaxConnections sensor apps on Path:
//
//	websocket_input:
//	  enabled: true
//	  mode: server
//	  addr: ":8082"
//	  path: /samples
//	  token: s3cret   # optional bearer token, or ?token= on the URL
//
// Client mode dials a sensor server running on the phone and reconnects with
// exponential backoff:
//
//	websocket_input:
//	  enabled: true
//	  mode: client
//	  url: ws://192.168.1.40:8080/sensors
//	  reconnect:
//	    enabled: true
//	    initial_interval: 1s
//	    max_interval: 30s
//	    multiplier: 2
//
// # Messages
//
// Each text or binary message carries one sample object, or a JSON array of them for
// apps that batch:
//
//	{"channel":"acceleration","timestamp":1700000000000000000,"values":{"x":0.1,"y":0.2,"z":9.8}}
//
// Undecodable samples are counted and dropped. The source never closes the shared
// queue; the UDP source owns it.
//
// # Failure
//
// A listener failure is fatal. In client mode a lost connection is fatal once
// reconnection is disabled or its retries are exhausted.
package websocket
