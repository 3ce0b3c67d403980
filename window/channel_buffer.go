package window

import (
	"time"

	"github.com/c360/gesturegate/pkg/buffer"
	"github.com/c360/gesturegate/sensor"
)

// ChannelBuffer is a bounded, time-ordered ring for one channel. When full, the oldest
// sample is evicted. Samples older than the newest buffered one are rejected, unless the
// step back exceeds resetAfter: that is a restarted device clock, and the ring starts over.
// It is not safe for concurrent use; the Assembler serializes access.
type ChannelBuffer struct {
	channel     sensor.Channel
	ring        buffer.Buffer[sensor.Sample]
	resetAfter  int64
	newest      int64
	seen        bool
	outOfOrder  int64
	clockResets int64
}

// NewChannelBuffer creates a ring holding at most capacity samples. A backward step
// larger than resetAfter clears the ring; zero disables resets.
func NewChannelBuffer(channel sensor.Channel, capacity int, resetAfter time.Duration) (*ChannelBuffer, error) {
	ring, err := buffer.NewCircularBuffer[sensor.Sample](capacity,
		buffer.WithOverflowPolicy[sensor.Sample](buffer.DropOldest))
	if err != nil {
		return nil, err
	}
	return &ChannelBuffer{channel: channel, ring: ring, resetAfter: int64(resetAfter)}, nil
}

// Append adds s and reports whether it was accepted. Equal timestamps are accepted.
func (b *ChannelBuffer) Append(s sensor.Sample) bool {
	if b.seen && s.Timestamp < b.newest {
		if b.resetAfter <= 0 || b.newest-s.Timestamp <= b.resetAfter {
			b.outOfOrder++
			return false
		}
		b.ring.Clear()
		b.clockResets++
	}
	if err := b.ring.Write(s); err != nil {
		return false
	}
	b.newest = s.Timestamp
	b.seen = true
	return true
}

// Samples copies the buffered samples oldest first
func (b *ChannelBuffer) Samples() []sensor.Sample {
	return b.ring.Snapshot()
}

// Newest returns the newest timestamp and whether any sample has been seen
func (b *ChannelBuffer) Newest() (int64, bool) {
	return b.newest, b.seen
}

func (b *ChannelBuffer) Channel() sensor.Channel { return b.channel }
func (b *ChannelBuffer) Len() int                { return b.ring.Size() }
func (b *ChannelBuffer) Capacity() int           { return b.ring.Capacity() }
func (b *ChannelBuffer) OutOfOrder() int64       { return b.outOfOrder }
func (b *ChannelBuffer) ClockResets() int64      { return b.clockResets }
