package buffer

import (
	"context"
	"sync"

	"github.com/c360/gesturegate/errors"
)

// circularBuffer is a thread-safe ring with a configurable overflow policy.
type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *settings[T]

	// ready holds at most one wake-up token for ReadWait callers
	ready    chan struct{}
	closedCh chan struct{}
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *settings[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.registry != nil && opts.metricName != "" {
		var err error
		metrics, err = newBufferMetrics(opts.registry, opts.metricName)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
		ready:    make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}, nil
}

// Write adds an item according to the overflow policy. It never blocks.
func (cb *circularBuffer[T]) Write(item T) error {
	dropped, hasDrop, err := cb.write(item)
	if hasDrop && cb.opts.onDrop != nil {
		cb.opts.onDrop(dropped)
	}
	return err
}

// write performs the locked part of Write and reports the item lost to overflow, if any.
func (cb *circularBuffer[T]) write(item T) (dropped T, hasDrop bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return dropped, false, errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		cb.stats.Overflow()
		cb.stats.Drop()
		if cb.metrics != nil {
			cb.metrics.recordOverflow()
			cb.metrics.recordDrop()
		}

		if cb.opts.policy == DropNewest {
			return item, true, nil
		}

		dropped = cb.pop()
		hasDrop = true
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size, cb.capacity)
	}

	select {
	case cb.ready <- struct{}{}:
	default:
	}

	return dropped, hasDrop, nil
}

// Read retrieves and removes the oldest item.
func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	item := cb.pop()
	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(cb.size, cb.capacity)
	}

	return item, true
}

// pop removes the item at tail. Caller holds the lock and has checked size.
func (cb *circularBuffer[T]) pop() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item
}

// ReadBatch retrieves and removes up to max items.
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	count := min(max, cb.size)
	result := make([]T, count)
	for i := range count {
		result[i] = cb.pop()
		cb.stats.Read()
	}

	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.updateSize(cb.size, cb.capacity)
	}

	return result
}

// ReadWait blocks until an item is available. The lock is never held while waiting.
func (cb *circularBuffer[T]) ReadWait(ctx context.Context) (T, error) {
	var zero T
	for {
		if item, ok := cb.Read(); ok {
			return item, nil
		}

		cb.mu.RLock()
		closed := cb.closed
		cb.mu.RUnlock()
		if closed {
			return zero, errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "ReadWait", "buffer closed")
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-cb.closedCh:
		case <-cb.ready:
		}
	}
}

// Peek retrieves the oldest item without removing it.
func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	cb.stats.Peek()
	if cb.metrics != nil {
		cb.metrics.recordPeek()
	}

	return cb.items[cb.tail], true
}

// Snapshot copies the items oldest first without consuming them.
func (cb *circularBuffer[T]) Snapshot() []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	out := make([]T, cb.size)
	for i := range cb.size {
		out[i] = cb.items[(cb.tail+i)%cb.capacity]
	}
	return out
}

// Size returns the current number of items.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity returns the maximum number of items. Immutable, no lock needed.
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

// IsFull returns true if the buffer is at capacity.
func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == cb.capacity
}

// IsEmpty returns true if the buffer holds no items.
func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

// Clear removes all items, reporting each to the drop callback.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	var dropped []T
	if cb.opts.onDrop != nil && cb.size > 0 {
		dropped = make([]T, cb.size)
		for i := range cb.size {
			dropped[i] = cb.items[(cb.tail+i)%cb.capacity]
		}
	}

	clear(cb.items)
	cb.head = 0
	cb.tail = 0
	cb.size = 0

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, cb.capacity)
	}
	cb.mu.Unlock()

	for _, item := range dropped {
		cb.opts.onDrop(item)
	}
}

// Stats returns buffer statistics.
func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close marks the buffer closed and wakes all ReadWait callers.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}

	cb.closed = true
	close(cb.closedCh)
	return nil
}
