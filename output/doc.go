// Package output delivers gate commands to external sinks.
//
// The Dispatcher implements gate.Sink. Each configured Sink gets its own single-worker
// pool so it sees commands in issue order, and a slow or failing sink never blocks the
// gate or the other sinks: a full sink queue drops the command and counts it.
//
// Sinks live in sub-packages (file, httppost, mqtt, nats, websocket); the log sink is
// defined here.
package output
