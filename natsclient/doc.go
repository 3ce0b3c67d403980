// Package natsclient wraps the nats.go connection used by the NATS command sink
// with a circuit breaker and an explicit connection status.
//
// After a configurable number of consecutive failed connects (default 5) the
// circuit opens and Connect fails fast with ErrCircuitOpen. The circuit moves
// to half-open after the current backoff, which doubles on every trip up to
// the configured maximum. A successful connect or a reconnect resets it.
//
// Usage:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("gesturegate"),
//	    natsclient.WithAuth(natsclient.Auth{Token: token}),
//	    natsclient.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Publish(ctx, "gesturegate.actions.jump", payload)
//
// Close unsubscribes everything and drains the connection, bounded by the
// context deadline (two seconds when it has none). WithStatusHook reports every
// status change, which the sink uses to count disconnects.
//
// TestClient starts a throwaway NATS server with testcontainers for
// integration tests.
package natsclient
