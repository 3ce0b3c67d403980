package sensor

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/c360/gesturegate/errors"
)

// Sample is one decoded reading. It is a value type and is never mutated after decoding.
type Sample struct {
	Channel   Channel
	Timestamp int64 // nanoseconds on the device clock
	values    [4]float64
}

// NewSample builds a sample from a channel and its components. Extra components are
// ignored and missing ones are zero, except w which defaults to 1 for orientation.
func NewSample(channel Channel, timestamp int64, values ...float64) Sample {
	s := Sample{Channel: channel, Timestamp: timestamp}
	if channel == Orientation {
		s.values[3] = 1
	}
	copy(s.values[:channel.Arity()], values)
	return s
}

// Values returns a copy of the sample components (3, or 4 for orientation).
func (s Sample) Values() []float64 {
	out := make([]float64, s.Channel.Arity())
	copy(out, s.values[:])
	return out
}

// Value returns component i, or 0 if i is out of range.
func (s Sample) Value(i int) float64 {
	if i < 0 || i >= s.Channel.Arity() {
		return 0
	}
	return s.values[i]
}

// Time converts the device timestamp to a time.Time.
func (s Sample) Time() time.Time {
	return time.Unix(0, s.Timestamp)
}

// wireMessage is the datagram layout. "sensor" is accepted as an alias of "channel".
type wireMessage struct {
	Channel   string     `json:"channel"`
	Sensor    string     `json:"sensor,omitempty"`
	Timestamp *int64     `json:"timestamp"`
	Values    wireValues `json:"values"`
}

type wireValues struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
	W *float64 `json:"w,omitempty"`
}

// Decode parses one datagram into exactly one Sample. The timestamp is required: samples
// are ordered on the device clock and a receive time would mix clocks. Errors are
// classified invalid.
func Decode(data []byte) (Sample, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Sample{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "sensor", "Decode", "json unmarshal")
	}

	name := msg.Channel
	if name == "" {
		name = msg.Sensor
	}
	channel, err := ParseChannel(name)
	if err != nil {
		return Sample{}, err
	}

	v := msg.Values
	if v.X == nil || v.Y == nil || v.Z == nil {
		return Sample{}, errors.WrapInvalid(
			fmt.Errorf("%w: values must carry x, y and z", errors.ErrInvalidData), "sensor", "Decode", "values check")
	}

	switch {
	case msg.Timestamp == nil:
		return Sample{}, errors.WrapInvalid(
			fmt.Errorf("%w: missing timestamp", errors.ErrInvalidData), "sensor", "Decode", "timestamp check")
	case *msg.Timestamp < 0:
		return Sample{}, errors.WrapInvalid(
			fmt.Errorf("%w: negative timestamp", errors.ErrInvalidData), "sensor", "Decode", "timestamp check")
	}
	ts := *msg.Timestamp

	sample := NewSample(channel, ts, *v.X, *v.Y, *v.Z)
	if channel == Orientation && v.W != nil {
		sample.values[3] = *v.W
	}

	for _, f := range sample.values {
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return Sample{}, errors.WrapInvalid(
				fmt.Errorf("%w: non-finite value", errors.ErrInvalidData), "sensor", "Decode", "values check")
		}
	}

	return sample, nil
}

// Encode renders a Sample in the wire layout. Used by the replay tool and tests.
func Encode(s Sample) ([]byte, error) {
	if s.Channel == ChannelUnknown {
		return nil, errors.WrapInvalid(errors.ErrUnknownChannel, "sensor", "Encode", "channel check")
	}
	x, y, z := s.values[0], s.values[1], s.values[2]
	ts := s.Timestamp
	msg := wireMessage{
		Channel:   s.Channel.String(),
		Timestamp: &ts,
		Values:    wireValues{X: &x, Y: &y, Z: &z},
	}
	if s.Channel == Orientation {
		w := s.values[3]
		msg.Values.W = &w
	}
	return json.Marshal(msg)
}

// Zero returns an all-zero sample used to fill a channel that has no readings.
func Zero(channel Channel, timestamp int64) Sample {
	return Sample{Channel: channel, Timestamp: timestamp}
}
