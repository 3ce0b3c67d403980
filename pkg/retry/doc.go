// Package retry provides exponential backoff retry for transient failures.
//
// It is used where the pipeline touches the outside world: binding the UDP socket,
// connecting to MQTT and NATS brokers, and delivering commands to webhook sinks.
//
// # Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (sink deliveries)
//   - Quick(): 10 attempts, 50ms-1s delay (startup binds and connects)
//   - Persistent(): 30 attempts, 200ms-10s delay (critical resources)
//
// # Non-retryable errors
//
// Do stops immediately when fn returns an error wrapped with NonRetryable, or one
// classified as fatal or invalid by the errors package:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//		conn, err := net.ListenUDP("udp", addr)
//		if err != nil {
//			return err
//		}
//		s.conn = conn
//		return nil
//	})
//
// OnRetry can be set to log each failed attempt together with the upcoming delay.
package retry
