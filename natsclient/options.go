package natsclient

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// ClientOption configures a Client
type ClientOption func(*Client)

// Auth holds the credentials presented on connect. Token wins when both are set.
type Auth struct {
	Username string
	Password string
	Token    string
}

// WithLogger sets the logger; nil keeps slog.Default
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithName sets the connection name shown in server monitoring
func WithName(name string) ClientOption {
	return func(c *Client) { c.name = name }
}

// WithConnectTimeout bounds a single dial
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithAuth sets user/password or token authentication
func WithAuth(auth Auth) ClientOption {
	return func(c *Client) { c.auth = auth }
}

// WithTLSConfig secures the connection; nil leaves it plain
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) { c.tlsConfig = cfg }
}

// WithReconnect sets how often the library reconnects after a drop (-1 forever) and the wait between tries
func WithReconnect(maxAttempts int, wait time.Duration) ClientOption {
	return func(c *Client) {
		c.maxReconnects = maxAttempts
		if wait > 0 {
			c.reconnectWait = wait
		}
	}
}

// WithBreaker sets how many failed connects open the circuit and the longest backoff
func WithBreaker(threshold int32, maxBackoff time.Duration) ClientOption {
	return func(c *Client) {
		if threshold > 0 {
			c.breaker.threshold = threshold
		}
		if maxBackoff >= time.Second {
			c.breaker.maxBackoff = maxBackoff
		}
	}
}

// WithStatusHook is called on every status change, on the goroutine that caused it
func WithStatusHook(fn func(ConnectionStatus)) ClientOption {
	return func(c *Client) { c.onStatus = fn }
}
