// Package buffer provides thread-safe circular buffers with configurable overflow policies,
// built-in statistics tracking, and optional Prometheus metrics integration.
//
// # Overview
//
// Buffers never block writers. When a buffer is full the overflow policy decides which
// item is lost:
//
//   - DropOldest: remove the oldest item to make room (default)
//   - DropNewest: discard the incoming item
//
// Readers either poll with Read/ReadBatch or block with ReadWait, which returns as soon
// as an item arrives, the context is done, or the buffer is closed. Snapshot copies the
// current contents without consuming them.
//
// # Usage
//
//	samples, err := buffer.NewCircularBuffer[sensor.Sample](512,
//		buffer.WithMetrics[sensor.Sample](registry, "samples"),
//		buffer.WithDropCallback(func(s sensor.Sample) { dropped.Add(1) }),
//	)
//	if err != nil {
//		return err
//	}
//
//	for {
//		s, err := samples.ReadWait(ctx)
//		if err != nil {
//			return err
//		}
//		handle(s)
//	}
//
// # Statistics
//
// Every buffer keeps lock-free counters (writes, reads, peeks, overflows, drops) and a
// size high-water mark. WithMetrics mirrors them into the shared metric registry under
// the gesturegate_queue_* family, labelled with the queue name.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Drop callbacks run after the internal lock is
// released, so a callback may call back into the buffer.
package buffer
