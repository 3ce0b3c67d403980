// Package buffer provides generic, thread-safe bounded buffers with overflow policies.
//
// The pipeline uses CircularBuffer in two roles: as the drop-oldest queues between
// stages (consumers block in ReadWait) and as the ring behind each sensor channel
// (readers copy it with Snapshot without consuming it).
package buffer

import (
	"context"
)

// Buffer represents a generic bounded buffer.
type Buffer[T any] interface {
	// Write adds an item. When full, the overflow policy decides which item is lost.
	Write(item T) error

	// Read retrieves and removes the oldest item.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items, oldest first.
	ReadBatch(max int) []T

	// ReadWait blocks until an item is available, ctx is done, or the buffer is closed.
	ReadWait(ctx context.Context) (T, error)

	// Peek retrieves the oldest item without removing it.
	Peek() (T, bool)

	// Snapshot copies the buffered items, oldest first, without removing them.
	Snapshot() []T

	// Size returns the current number of items.
	Size() int

	// Capacity returns the maximum number of items.
	Capacity() int

	// IsFull returns true if the buffer is at capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer holds no items.
	IsEmpty() bool

	// Clear removes all items.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close releases waiting readers. Writes after Close fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item lost to the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer with the given capacity and options.
// Statistics are always collected; Prometheus metrics are enabled with WithMetrics.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	cb, err := newCircularBuffer(capacity, opts)
	if err != nil {
		return nil, err
	}
	return cb, nil
}
