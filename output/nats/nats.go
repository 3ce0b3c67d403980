// Package nats publishes gate commands to NATS, one subject per action:
// <subject_prefix>.<action>. Payloads are JSON command envelopes.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/natsclient"
	"github.com/c360/gesturegate/output"
	"github.com/c360/gesturegate/pkg/tlsutil"
)

// Config holds configuration for the NATS sink
type Config struct {
	URL            string               `json:"url"`
	SubjectPrefix  string               `json:"subject_prefix"`
	ClientName     string               `json:"client_name"`
	Username       string               `json:"username,omitempty"`
	Password       string               `json:"password,omitempty"`
	Token          string               `json:"token,omitempty"`
	ConnectTimeout time.Duration        `json:"connect_timeout"`
	FlushTimeout   time.Duration        `json:"flush_timeout"`
	TLS            tlsutil.ClientConfig `json:"tls,omitempty"`
}

// DefaultConfig returns default configuration for the NATS sink
func DefaultConfig() Config {
	return Config{
		URL:            "nats://localhost:4222",
		SubjectPrefix:  "gesturegate.actions",
		ClientName:     "gesturegate",
		ConnectTimeout: 5 * time.Second,
		FlushTimeout:   time.Second,
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "nats-sink", "Validate", "url is required")
	}
	if c.SubjectPrefix == "" || strings.ContainsAny(c.SubjectPrefix, "*> \t") ||
		strings.HasPrefix(c.SubjectPrefix, ".") || strings.HasSuffix(c.SubjectPrefix, ".") {
		return errors.WrapInvalid(fmt.Errorf("%w: subject_prefix %q", errors.ErrInvalidConfig, c.SubjectPrefix),
			"nats-sink", "Validate", "subject prefix check")
	}
	if c.ConnectTimeout < 0 || c.FlushTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "nats-sink", "Validate", "timeouts cannot be negative")
	}
	return nil
}

// Stats holds the NATS sink counters
type Stats struct {
	Status      string `json:"status"`
	Published   int64  `json:"published"`
	Errors      int64  `json:"errors"`
	Disconnects int64  `json:"disconnects"`
}

// Sink publishes envelopes to NATS
type Sink struct {
	cfg    Config
	client *natsclient.Client
	logger *slog.Logger

	published atomic.Int64
	errors    atomic.Int64

	// fed by the client's status hook; nil for injected clients
	disconnects *atomic.Int64
}

// NewSink connects to the server. The underlying client reconnects on its own
// after the first successful connect.
func NewSink(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.FlushTimeout == 0 {
		cfg.FlushTimeout = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, errors.WrapFatal(err, "nats-sink", "NewSink", "load TLS config")
	}

	var disconnects atomic.Int64
	client, err := natsclient.NewClient(cfg.URL,
		natsclient.WithLogger(logger),
		natsclient.WithName(cfg.ClientName),
		natsclient.WithConnectTimeout(cfg.ConnectTimeout),
		natsclient.WithTLSConfig(tlsConfig),
		natsclient.WithAuth(natsclient.Auth{Username: cfg.Username, Password: cfg.Password, Token: cfg.Token}),
		natsclient.WithStatusHook(func(s natsclient.ConnectionStatus) {
			if s == natsclient.StatusReconnecting {
				disconnects.Add(1)
			}
		}))
	if err != nil {
		return nil, err
	}
	sink, err := NewSinkWithClient(ctx, cfg, client, logger)
	if err != nil {
		return nil, err
	}
	sink.disconnects = &disconnects
	return sink, nil
}

// NewSinkWithClient publishes through an existing client, connecting it if needed
func NewSinkWithClient(ctx context.Context, cfg Config, client *natsclient.Client, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FlushTimeout == 0 {
		cfg.FlushTimeout = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	if !client.IsHealthy() {
		connectCtx, cancel := context.WithTimeout(ctx, max(cfg.ConnectTimeout, time.Second))
		defer cancel()
		if err := client.Connect(connectCtx); err != nil {
			return nil, err
		}
	}

	return &Sink{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "nats-sink"),
	}, nil
}

// Name implements output.Sink
func (s *Sink) Name() string { return "nats" }

// Subject is the subject a command for action is published on
func (s *Sink) Subject(action string) string {
	return s.cfg.SubjectPrefix + "." + action
}

// Publish sends the envelope and flushes so a failure is reported against this command
func (s *Sink) Publish(ctx context.Context, env output.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		s.errors.Add(1)
		return errors.WrapInvalid(err, "nats-sink", "Publish", "marshal envelope")
	}

	if err := s.client.Publish(ctx, s.Subject(env.Action), payload); err != nil {
		s.errors.Add(1)
		return errors.WrapTransient(err, "nats-sink", "Publish", "publish")
	}

	flushCtx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
	defer cancel()
	if err := s.client.Flush(flushCtx); err != nil {
		s.errors.Add(1)
		return errors.WrapTransient(err, "nats-sink", "Publish", "flush")
	}

	s.published.Add(1)
	return nil
}

// Close drains the connection
func (s *Sink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.client.Close(ctx)
}

// Stats returns the NATS sink counters
func (s *Sink) Stats() Stats {
	stats := Stats{
		Status:    s.client.Status().String(),
		Published: s.published.Load(),
		Errors:    s.errors.Load(),
	}
	if s.disconnects != nil {
		stats.Disconnects = s.disconnects.Load()
	}
	return stats
}
