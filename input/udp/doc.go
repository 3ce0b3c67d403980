// Package udp provides the SampleSource that feeds the gesture pipeline.
//
// Source listens on a UDP host:port and decodes each datagram into exactly one
// sensor.Sample. Decoded samples are written to a bounded queue with drop-oldest
// overflow, so a slow consumer costs the oldest readings rather than stalling the
// receive loop.
//
// # Error handling
//
//   - Malformed payloads and unknown channels are counted as decode errors and dropped.
//   - Socket failures end Run with a fatal classified error.
//   - Context cancellation ends Run with nil.
//
// The read loop uses a 100ms read deadline so cancellation is observed promptly. The
// socket bind is retried with retry.Quick before giving up.
//
// # Usage
//
//	src, err := udp.NewSource(udp.SourceDeps{
//		Config:          udp.DefaultConfig(),
//		MetricsRegistry: registry,
//		Logger:          logger,
//	})
//	if err != nil {
//		return err
//	}
//	g.Go(func() error { return src.Run(ctx) })
//	samples := src.Samples()
package udp
