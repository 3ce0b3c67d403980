// Package websocket serves a read-only live monitor of the gesture pipeline.
//
// Clients connect to the configured path and receive JSON MessageEnvelope
// frames:
//
//	{"type":"hello","id":"...","timestamp":1700000000000,"payload":{"session":"...","client":"..."}}
//	{"type":"prediction","id":"...","timestamp":...,"payload":{"label":"jump","confidence":0.91,...}}
//	{"type":"command","id":"...","timestamp":...,"payload":{"id":"...","action":"jump","phase":"pulse",...}}
//
// The Monitor is registered with the dispatcher as a command sink and with the
// gate loop as a prediction observer. Each client owns a bounded queue that drops
// its oldest frame when full, so a slow browser only loses frames of its own.
// Anything clients send is read and discarded.
package websocket
