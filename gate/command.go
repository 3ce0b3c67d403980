package gate

import (
	"fmt"
	"time"
)

// Phase is the key-event shape of a command
type Phase int

const (
	// PhaseBegin presses and holds the key
	PhaseBegin Phase = iota + 1
	// PhaseEnd releases a held key
	PhaseEnd
	// PhasePulse presses and releases the key
	PhasePulse
)

func (p Phase) String() string {
	switch p {
	case PhaseBegin:
		return "begin"
	case PhaseEnd:
		return "end"
	case PhasePulse:
		return "pulse"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name
func (p Phase) MarshalText() ([]byte, error) {
	if p < PhaseBegin || p > PhasePulse {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "begin":
		*p = PhaseBegin
	case "end":
		*p = PhaseEnd
	case "pulse":
		*p = PhasePulse
	default:
		return fmt.Errorf("invalid phase %q", text)
	}
	return nil
}

// Command is one action event for the host application
type Command struct {
	Action     string    `json:"action"`
	Phase      Phase     `json:"phase"`
	Label      string    `json:"label"`
	Key        string    `json:"key,omitempty"`
	Confidence float64   `json:"confidence"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Sink receives commands. Emit must not block the gate.
type Sink interface {
	Emit(cmd Command)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Command)

// Emit calls f(cmd)
func (f SinkFunc) Emit(cmd Command) { f(cmd) }
