package websocket

import (
	"fmt"
	"net/url"
	"time"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/pkg/tlsutil"
)

// Mode defines the operation mode for the WebSocket source
type Mode string

const (
	// ModeServer listens for incoming WebSocket connections
	ModeServer Mode = "server"
	// ModeClient connects to a remote WebSocket sensor server
	ModeClient Mode = "client"
)

// Config holds configuration for the WebSocket source
type Config struct {
	Mode Mode `json:"mode"`

	// Server mode
	Addr           string `json:"addr"`
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`

	// Client mode
	URL       string          `json:"url"`
	Reconnect ReconnectConfig `json:"reconnect"`

	// Token, when set, is required as a bearer token (server) or sent as one (client)
	Token string `json:"token,omitempty"`

	StaleAfter time.Duration        `json:"stale_after"`
	TLS        tlsutil.ServerConfig `json:"tls"`
	ClientTLS  tlsutil.ClientConfig `json:"client_tls"`
}

// ReconnectConfig holds reconnection settings for client mode
type ReconnectConfig struct {
	Enabled         bool          `json:"enabled"`
	MaxRetries      int           `json:"max_retries"` // 0 = unlimited
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	Multiplier      float64       `json:"multiplier"`
}

// DefaultConfig returns a server on :8082/samples
func DefaultConfig() Config {
	return Config{
		Mode:           ModeServer,
		Addr:           ":8082",
		Path:           "/samples",
		MaxConnections: 4,
		Reconnect: ReconnectConfig{
			Enabled:         true,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
		},
		StaleAfter: 2 * time.Second,
	}
}

// Validate checks the settings for the selected mode
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"websocket-input", "Validate", "config check")
	}

	switch c.Mode {
	case ModeServer:
		if c.Addr == "" {
			return fail("addr is required in server mode")
		}
		if c.Path == "" || c.Path[0] != '/' {
			return fail("path %q must start with /", c.Path)
		}
		if c.MaxConnections < 1 {
			return fail("max_connections must be positive")
		}
	case ModeClient:
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fail("url %q must be a ws:// or wss:// URL", c.URL)
		}
		r := c.Reconnect
		if r.Enabled {
			if r.MaxRetries < 0 || r.InitialInterval <= 0 || r.MaxInterval < r.InitialInterval || r.Multiplier < 1 {
				return fail("invalid reconnect settings")
			}
		}
	default:
		return fail("unknown mode %q", c.Mode)
	}

	if c.StaleAfter < 0 {
		return fail("stale_after must not be negative")
	}
	return nil
}
