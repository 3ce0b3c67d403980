package window

import (
	"time"

	"github.com/c360/gesturegate/sensor"
)

// Window is a merged, time-aligned view across the configured channels.
// It owns its slices; callers may keep it after the assembler moves on.
type Window struct {
	// End is the newest device timestamp seen across channels (ns)
	End      int64
	Duration time.Duration
	// Channels holds, per configured channel, the samples in [End-Duration, End] oldest first.
	// A missing channel holds a single zero sample stamped End.
	Channels map[sensor.Channel][]sensor.Sample
	Missing  []sensor.Channel
	// Generation is the assembler's ingest counter at snapshot time
	Generation uint64
}

// Start returns the inclusive lower bound of the window (ns)
func (w Window) Start() int64 {
	return w.End - w.Duration.Nanoseconds()
}

// Samples returns the samples for one channel
func (w Window) Samples(ch sensor.Channel) []sensor.Sample {
	return w.Channels[ch]
}

// IsMissing reports whether ch was zero-filled
func (w Window) IsMissing(ch sensor.Channel) bool {
	for _, m := range w.Missing {
		if m == ch {
			return true
		}
	}
	return false
}

// EndTime converts End to a time.Time
func (w Window) EndTime() time.Time {
	return time.Unix(0, w.End)
}
