// Package worker provides a generic bounded worker pool.
//
// Submit never blocks the caller. Work that does not fit in the queue is rejected with
// ErrQueueFull and counted as dropped, which is how the gate hands commands to slow
// sinks without ever waiting on them. A pool with a single worker preserves submission
// order.
//
//	pool, err := worker.NewPool(1, 64, sink.Publish,
//		worker.WithName[gate.Command]("mqtt"),
//		worker.WithMetricsRegistry[gate.Command](registry),
//		worker.WithErrorHandler(func(cmd gate.Command, err error) {
//			logger.Warn("Sink publish failed", "action", cmd.Action, "error", err)
//		}),
//	)
//	if err != nil {
//		return err
//	}
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(2 * time.Second)
//
// Processor panics are recovered and reported to the error handler wrapped with
// ErrProcessorPanic.
package worker
