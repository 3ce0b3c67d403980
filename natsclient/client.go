package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/gesturegate/errors"
)

// ConnectionStatus is the client's view of its connection
type ConnectionStatus int32

// Connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

var statusNames = [...]string{"disconnected", "connecting", "connected", "reconnecting", "circuit_open"}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// defaultCloseTimeout bounds Drain when Close gets a context without a deadline
const defaultCloseTimeout = 2 * time.Second

// breaker opens after threshold consecutive connect failures and doubles its
// backoff each time it opens again, up to maxBackoff
type breaker struct {
	threshold  int32
	maxBackoff time.Duration

	failures atomic.Int32 // since the last successful connect
	streak   atomic.Int32 // since the breaker last opened
	backoff  atomic.Int64 // time.Duration
}

// fail records a failure and reports whether the breaker should open, with the backoff to wait
func (b *breaker) fail() (bool, time.Duration) {
	b.failures.Add(1)
	if b.streak.Add(1) < b.threshold {
		return false, 0
	}
	b.streak.Store(0)
	wait := time.Duration(b.backoff.Load())
	b.backoff.Store(int64(min(wait*2, b.maxBackoff)))
	return true, wait
}

func (b *breaker) reset() {
	b.failures.Store(0)
	b.streak.Store(0)
	b.backoff.Store(int64(time.Second))
}

// Client owns one NATS connection for publishing commands. Connect is guarded by a
// circuit breaker. Once connected, the nats library reconnects on its own.
type Client struct {
	url    string
	logger *slog.Logger
	status atomic.Int32

	name           string
	auth           Auth
	tlsConfig      *tls.Config
	connectTimeout time.Duration
	maxReconnects  int
	reconnectWait  time.Duration
	onStatus       func(ConnectionStatus)

	breaker breaker

	mu     sync.RWMutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed atomic.Bool
}

// NewClient creates a disconnected client
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natsclient", "NewClient", "url check")
	}

	c := &Client{
		url:            url,
		logger:         slog.Default(),
		connectTimeout: 5 * time.Second,
		maxReconnects:  -1,
		reconnectWait:  2 * time.Second,
		breaker:        breaker{threshold: 5, maxBackoff: time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "natsclient", "url", url)
	c.breaker.reset()
	return c, nil
}

func (c *Client) URL() string { return c.url }

func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsHealthy reports whether the connection is up
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures counts connect failures since the last success
func (c *Client) Failures() int32 {
	return c.breaker.failures.Load()
}

// Backoff is how long the breaker stays open the next time it opens
func (c *Client) Backoff() time.Duration {
	return time.Duration(c.breaker.backoff.Load())
}

func (c *Client) setStatus(s ConnectionStatus) {
	if ConnectionStatus(c.status.Swap(int32(s))) != s && c.onStatus != nil {
		c.onStatus(s)
	}
}

func (c *Client) transition(from, to ConnectionStatus) bool {
	if !c.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if c.onStatus != nil {
		c.onStatus(to)
	}
	return true
}

// connectFailed feeds the breaker and leaves the client disconnected or open
func (c *Client) connectFailed() {
	open, wait := c.breaker.fail()
	if !open {
		c.setStatus(StatusDisconnected)
		return
	}
	c.setStatus(StatusCircuitOpen)
	c.logger.Warn("Circuit breaker opened", "failures", c.Failures(), "backoff", wait)
	time.AfterFunc(wait, c.halfOpen)
}

// halfOpen lets the next Connect through
func (c *Client) halfOpen() {
	if c.transition(StatusCircuitOpen, StatusDisconnected) {
		c.logger.Debug("Circuit breaker half-open")
	}
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Timeout(c.connectTimeout),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.closed.Load() {
				return
			}
			c.setStatus(StatusReconnecting)
			c.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			c.breaker.reset()
			c.setStatus(StatusConnected)
			c.logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.setStatus(StatusDisconnected)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Error("NATS async error", "error", err)
		}),
	}

	switch {
	case c.auth.Token != "":
		opts = append(opts, nats.Token(c.auth.Token))
	case c.auth.Username != "":
		opts = append(opts, nats.UserInfo(c.auth.Username, c.auth.Password))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	return opts
}

// Connect dials the server. It fails fast while the circuit is open and gives up
// when ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "natsclient", "Connect", "client closed")
	}
	if c.Status() == StatusCircuitOpen {
		return errors.WrapTransient(ErrCircuitOpen, "natsclient", "Connect", "circuit check")
	}

	c.setStatus(StatusConnecting)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			c.connectFailed()
			return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrNoConnection, r.err),
				"natsclient", "Connect", "dial")
		}
		c.mu.Lock()
		c.conn = r.conn
		c.mu.Unlock()
	case <-ctx.Done():
		c.connectFailed()
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "natsclient", "Connect", "dial cancelled")
	}

	c.breaker.reset()
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS")
	return nil
}

// Close unsubscribes and drains the connection within ctx (or two seconds).
// Credentials are forgotten; a closed client cannot reconnect.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "natsclient", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultCloseTimeout)
			defer cancel()
		}

		drained := make(chan error, 1)
		conn := c.conn
		go func() { drained <- conn.Drain() }()

		select {
		case err := <-drained:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "natsclient", "Close", "drain"))
			}
		case <-ctx.Done():
			errs = append(errs, errors.WrapTransient(ctx.Err(), "natsclient", "Close", "drain"))
		}
		conn.Close()
		c.conn = nil
	}

	c.auth = Auth{}
	c.setStatus(StatusDisconnected)
	return stderrors.Join(errs...)
}

// live returns the connection if it is up
func (c *Client) live() (*nats.Conn, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// RTT measures a round trip to the server
func (c *Client) RTT() (time.Duration, error) {
	conn, err := c.live()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

// Publish sends data on subject without waiting for the server
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	return conn.Publish(subject, data)
}

// Flush waits until the server has processed everything published so far
func (c *Client) Flush(ctx context.Context) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	return conn.FlushWithContext(ctx)
}

// Subscribe delivers every message on subject to handler until Close
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, string, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Subject, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Subscribe", "subscribe "+subject)
	}
	c.subs = append(c.subs, sub)
	return nil
}
