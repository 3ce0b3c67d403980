package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// maxGap caps the pause between two records so a capture with a long break replays
// without stalling.
const maxGap = 2 * time.Second

// record is one captured datagram
type record struct {
	payload   []byte
	timestamp int64 // ns, 0 when the datagram carried none
}

// capture is an ordered list of datagrams
type capture struct {
	records []record
	Skipped int
}

func (c capture) Len() int { return len(c.records) }

// Span is the recorded time between the first and the last timestamped record
func (c capture) Span() time.Duration {
	var first, last int64
	for _, r := range c.records {
		if r.timestamp == 0 {
			continue
		}
		if first == 0 {
			first = r.timestamp
		}
		last = r.timestamp
	}
	return time.Duration(last - first)
}

// readCapture parses one JSON object per line. Blank lines and lines starting with
// '#' are ignored; malformed lines are counted and skipped.
func readCapture(r io.Reader) (capture, error) {
	var c capture
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		var head struct {
			Timestamp *int64 `json:"timestamp"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			c.Skipped++
			continue
		}

		rec := record{payload: append([]byte(nil), line...)}
		if head.Timestamp != nil && *head.Timestamp > 0 {
			rec.timestamp = *head.Timestamp
		}
		c.records = append(c.records, rec)
	}
	if err := scanner.Err(); err != nil {
		return capture{}, fmt.Errorf("read capture: %w", err)
	}
	return c, nil
}

// replayer writes records to a connected socket, pausing for the recorded gaps
// divided by speed. A speed of 0 sends back to back.
type replayer struct {
	conn    io.Writer
	speed   float64
	restamp bool
	onSent  func()
	now     func() time.Time
}

// Replay sends one pass over the capture and returns the number of datagrams sent
func (r *replayer) Replay(ctx context.Context, c capture) (int, error) {
	now := r.now
	if now == nil {
		now = time.Now
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var prev int64
	sent := 0
	for _, rec := range c.records {
		if gap := r.gap(prev, rec.timestamp); gap > 0 {
			timer.Reset(gap)
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if rec.timestamp != 0 {
			prev = rec.timestamp
		}

		payload := rec.payload
		if r.restamp {
			var err error
			if payload, err = restamp(payload, now().UnixNano()); err != nil {
				return sent, err
			}
		}

		if _, err := r.conn.Write(payload); err != nil {
			return sent, fmt.Errorf("send datagram %d: %w", sent+1, err)
		}
		sent++
		if r.onSent != nil {
			r.onSent()
		}
	}
	return sent, nil
}

// gap is the scaled pause before a record, bounded by maxGap
func (r *replayer) gap(prev, ts int64) time.Duration {
	if r.speed == 0 || prev == 0 || ts <= prev {
		return 0
	}
	d := time.Duration(float64(ts-prev) / r.speed)
	return min(d, maxGap)
}

// restamp replaces the timestamp field of a datagram
func restamp(payload []byte, ts int64) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("restamp: %w", err)
	}
	fields["timestamp"] = json.RawMessage(strconv.FormatInt(ts, 10))
	return json.Marshal(fields)
}
