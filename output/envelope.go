package output

import (
	"context"

	"github.com/google/uuid"

	"github.com/c360/gesturegate/gate"
)

// Envelope is the published form of a command. ID is shared by every sink that
// receives the same command.
type Envelope struct {
	ID      string `json:"id"`
	Session string `json:"session"`
	gate.Command
}

// NewEnvelope stamps a command with a fresh id
func NewEnvelope(session string, cmd gate.Command) Envelope {
	return Envelope{
		ID:      uuid.NewString(),
		Session: session,
		Command: cmd,
	}
}

// Sink publishes envelopes to one destination. Publish is only ever called from a
// single goroutine.
type Sink interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
	Close() error
}
