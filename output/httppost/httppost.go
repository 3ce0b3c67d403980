package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/output"
	"github.com/c360/gesturegate/pkg/retry"
	"github.com/c360/gesturegate/pkg/tlsutil"
)

// Config holds configuration for the webhook sink
type Config struct {
	URL         string               `json:"url"`
	Headers     map[string]string    `json:"headers,omitempty"`
	Timeout     time.Duration        `json:"timeout"`
	RetryCount  int                  `json:"retry_count"`
	ContentType string               `json:"content_type"`
	TLS         tlsutil.ClientConfig `json:"tls,omitempty"`
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "httppost-sink", "Validate", "url is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "httppost-sink", "Validate", "invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(fmt.Errorf("%w: scheme %q", errors.ErrInvalidConfig, u.Scheme),
			"httppost-sink", "Validate", "url scheme")
	}

	if c.Timeout < 0 || c.Timeout > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "httppost-sink", "Validate",
			"timeout must be between 0 and 5m")
	}

	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "httppost-sink", "Validate",
			"retry_count must be between 0 and 10")
	}

	return nil
}

// DefaultConfig returns default configuration for the webhook sink
func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:8080/gesture",
		Headers:     make(map[string]string),
		Timeout:     2 * time.Second,
		RetryCount:  2,
		ContentType: "application/json",
	}
}

// Stats holds the webhook counters
type Stats struct {
	Sent    int64 `json:"sent"`
	Retried int64 `json:"retried"`
	Errors  int64 `json:"errors"`
}

// Sink POSTs each command envelope to a webhook
type Sink struct {
	url         string
	headers     map[string]string
	contentType string
	retry       retry.Config
	httpClient  *http.Client
	logger      *slog.Logger

	sent    atomic.Int64
	retried atomic.Int64
	errors  atomic.Int64
}

// NewSink builds the webhook sink
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	httpClient := &http.Client{Timeout: timeout}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, errors.WrapFatal(err, "httppost-sink", "NewSink", "load TLS config")
	}
	if tlsConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	s := &Sink{
		url:         cfg.URL,
		headers:     cfg.Headers,
		contentType: contentType,
		httpClient:  httpClient,
		logger:      logger.With("component", "httppost-sink"),
	}
	s.retry = retry.Config{
		MaxAttempts:  cfg.RetryCount + 1,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.retried.Add(1)
			s.logger.Debug("Retrying webhook", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	return s, nil
}

// Name implements output.Sink
func (s *Sink) Name() string { return "httppost" }

// Publish POSTs the envelope, retrying server errors and transport failures
func (s *Sink) Publish(ctx context.Context, env output.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		s.errors.Add(1)
		return errors.WrapInvalid(err, "httppost-sink", "Publish", "marshal envelope")
	}

	if err := retry.Do(ctx, s.retry, func() error { return s.sendHTTPPost(ctx, data) }); err != nil {
		s.errors.Add(1)
		return errors.WrapTransient(err, "httppost-sink", "Publish", "webhook post")
	}
	s.sent.Add(1)
	return nil
}

// sendHTTPPost sends a single HTTP POST request
func (s *Sink) sendHTTPPost(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return retry.NonRetryable(err)
	}

	req.Header.Set("Content-Type", s.contentType)
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// drain so the connection is reused
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	default:
		return retry.NonRetryable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}
}

// Close implements output.Sink
func (s *Sink) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// Stats returns the webhook counters
func (s *Sink) Stats() Stats {
	return Stats{
		Sent:    s.sent.Load(),
		Retried: s.retried.Load(),
		Errors:  s.errors.Load(),
	}
}
