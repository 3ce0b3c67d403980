package window

import (
	"sync"

	"github.com/c360/gesturegate/sensor"
)

// Stats is a snapshot of the assembler counters
type Stats struct {
	Ingested    int64 `json:"ingested"`
	Ignored     int64 `json:"ignored"`
	OutOfOrder  int64 `json:"out_of_order"`
	ClockResets int64 `json:"clock_resets"`
}

// Assembler keeps one ChannelBuffer per configured channel and produces synchronized
// windows on demand. Windows overlap: each Snapshot reads the live rings.
type Assembler struct {
	cfg Config

	mu         sync.Mutex
	buffers    map[sensor.Channel]*ChannelBuffer
	generation uint64
	ingested   int64
	ignored    int64
}

// NewAssembler validates cfg and allocates one ring per channel
func NewAssembler(cfg Config) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Assembler{
		cfg:     cfg,
		buffers: make(map[sensor.Channel]*ChannelBuffer, len(cfg.Channels)),
	}
	for _, ch := range cfg.Channels {
		b, err := NewChannelBuffer(ch, cfg.Capacity(), cfg.Duration)
		if err != nil {
			return nil, err
		}
		a.buffers[ch] = b
	}
	return a, nil
}

// Config returns the window shape
func (a *Assembler) Config() Config {
	return a.cfg
}

// Ingest appends s to its channel's ring. Unconfigured channels and out-of-order samples
// are counted and ignored; the return value reports acceptance. A clock reset on one
// channel restarts its ring, and the window end follows it once every channel has reset.
func (a *Assembler) Ingest(s sensor.Sample) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buffers[s.Channel]
	if !ok {
		a.ignored++
		return false
	}
	if !b.Append(s) {
		return false
	}
	a.ingested++
	a.generation++
	return true
}

// IsReady is true once every configured channel has received at least one sample
func (a *Assembler) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range a.buffers {
		if _, seen := b.Newest(); !seen {
			return false
		}
	}
	return true
}

// Generation increases by one for every accepted sample
func (a *Assembler) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// Snapshot copies all rings in one critical section and trims them to the window span.
// It never fails: channels without samples are zero-filled and listed in Missing.
func (a *Assembler) Snapshot() Window {
	raw := make(map[sensor.Channel][]sensor.Sample, len(a.cfg.Channels))

	a.mu.Lock()
	var end int64
	for ch, b := range a.buffers {
		raw[ch] = b.Samples()
		if newest, seen := b.Newest(); seen && newest > end {
			end = newest
		}
	}
	generation := a.generation
	a.mu.Unlock()

	w := Window{
		End:        end,
		Duration:   a.cfg.Duration,
		Channels:   make(map[sensor.Channel][]sensor.Sample, len(raw)),
		Generation: generation,
	}
	start := w.Start()

	for _, ch := range a.cfg.Channels {
		samples := raw[ch]
		first := len(samples)
		for i, s := range samples {
			if s.Timestamp >= start {
				first = i
				break
			}
		}
		kept := samples[first:]
		if len(kept) == 0 {
			w.Channels[ch] = []sensor.Sample{sensor.Zero(ch, end)}
			w.Missing = append(w.Missing, ch)
			continue
		}
		w.Channels[ch] = kept
	}

	return w
}

// Stats returns the assembler counters
func (a *Assembler) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{Ingested: a.ingested, Ignored: a.ignored}
	for _, b := range a.buffers {
		stats.OutOfOrder += b.OutOfOrder()
		stats.ClockResets += b.ClockResets()
	}
	return stats
}
