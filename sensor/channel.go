package sensor

import (
	"fmt"
	"strings"

	"github.com/c360/gesturegate/errors"
)

// Channel identifies one physical sensor stream on the wrist device.
type Channel int

const (
	// ChannelUnknown is the zero value and never appears in a decoded Sample
	ChannelUnknown Channel = iota
	// Acceleration is linear acceleration in m/s² (gravity removed)
	Acceleration
	// AngularVelocity is gyroscope output in rad/s
	AngularVelocity
	// Orientation is the rotation vector as a unit quaternion (x, y, z, w)
	Orientation
)

// AllChannels lists every channel the decoder understands, in canonical order.
var AllChannels = []Channel{Acceleration, AngularVelocity, Orientation}

var channelAliases = map[string]Channel{
	"acceleration":        Acceleration,
	"linear_acceleration": Acceleration,
	"angular_velocity":    AngularVelocity,
	"gyroscope":           AngularVelocity,
	"orientation":         Orientation,
	"rotation_vector":     Orientation,
}

// ParseChannel resolves a wire or config name, including aliases, to a Channel.
func ParseChannel(name string) (Channel, error) {
	if c, ok := channelAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c, nil
	}
	return ChannelUnknown, errors.WrapInvalid(
		fmt.Errorf("%w: %q", errors.ErrUnknownChannel, name), "sensor", "ParseChannel", "channel lookup")
}

func (c Channel) String() string {
	switch c {
	case Acceleration:
		return "acceleration"
	case AngularVelocity:
		return "angular_velocity"
	case Orientation:
		return "orientation"
	default:
		return "unknown"
	}
}

// Arity is the number of components a sample of this channel carries.
func (c Channel) Arity() int {
	if c == Orientation {
		return 4
	}
	return 3
}

// Axes names the components in order; used for feature names.
func (c Channel) Axes() []string {
	if c == Orientation {
		return []string{"x", "y", "z", "w"}
	}
	return []string{"x", "y", "z"}
}

// MarshalText implements encoding.TextMarshaler so channels read naturally in config and JSON.
func (c Channel) MarshalText() ([]byte, error) {
	if c == ChannelUnknown {
		return nil, errors.WrapInvalid(errors.ErrUnknownChannel, "sensor", "MarshalText", "encode channel")
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Channel) UnmarshalText(text []byte) error {
	parsed, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
