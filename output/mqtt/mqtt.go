// Package mqtt publishes gate commands to an MQTT broker, one topic per action:
// <topic_prefix>/<action>. Payloads are JSON command envelopes.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/output"
	"github.com/c360/gesturegate/pkg/tlsutil"
)

// Config holds configuration for the MQTT sink
type Config struct {
	Broker         string               `json:"broker"`
	ClientID       string               `json:"client_id"`
	TopicPrefix    string               `json:"topic_prefix"`
	QoS            byte                 `json:"qos"`
	Retained       bool                 `json:"retained"`
	Username       string               `json:"username,omitempty"`
	Password       string               `json:"password,omitempty"`
	ConnectTimeout time.Duration        `json:"connect_timeout"`
	PublishTimeout time.Duration        `json:"publish_timeout"`
	TLS            tlsutil.ClientConfig `json:"tls,omitempty"`
}

// DefaultConfig returns default configuration for the MQTT sink
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		ClientID:       "gesturegate",
		TopicPrefix:    "gesturegate/actions",
		QoS:            1,
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "mqtt-sink", "Validate", "broker is required")
	}
	if c.TopicPrefix == "" || strings.ContainsAny(c.TopicPrefix, "+#") {
		return errors.WrapInvalid(fmt.Errorf("%w: topic_prefix %q", errors.ErrInvalidConfig, c.TopicPrefix),
			"mqtt-sink", "Validate", "topic prefix check")
	}
	if c.QoS > 2 {
		return errors.WrapInvalid(fmt.Errorf("%w: qos %d", errors.ErrInvalidConfig, c.QoS),
			"mqtt-sink", "Validate", "qos check")
	}
	if c.ConnectTimeout < 0 || c.PublishTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "mqtt-sink", "Validate", "timeouts cannot be negative")
	}
	return nil
}

// Stats holds the MQTT sink counters
type Stats struct {
	Connected bool  `json:"connected"`
	Published int64 `json:"published"`
	Errors    int64 `json:"errors"`
}

// Sink publishes envelopes to MQTT
type Sink struct {
	cfg    Config
	client paho.Client
	logger *slog.Logger

	connected atomic.Bool
	published atomic.Int64
	errors    atomic.Int64
}

// NewSink connects to the broker. If the broker is not reachable within
// ConnectTimeout the sink keeps retrying in the background and publishes fail until
// it connects.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{cfg: cfg, logger: logger.With("component", "mqtt-sink")}

	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, errors.WrapFatal(err, "mqtt-sink", "NewSink", "load TLS config")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	opts.OnConnect = func(paho.Client) {
		s.connected.Store(true)
		s.logger.Info("MQTT connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.connected.Store(false)
		s.logger.Warn("MQTT connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	s.client = paho.NewClient(opts)

	s.logger.Info("Connecting to MQTT broker", "broker", cfg.Broker)
	token := s.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		s.logger.Warn("MQTT broker not reachable yet, retrying in background",
			"broker", cfg.Broker, "timeout", cfg.ConnectTimeout)
		return s, nil
	}
	if err := token.Error(); err != nil {
		s.client.Disconnect(0)
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrNoConnection, err),
			"mqtt-sink", "NewSink", "broker connect")
	}
	s.connected.Store(true)
	return s, nil
}

// Name implements output.Sink
func (s *Sink) Name() string { return "mqtt" }

// Topic is the topic a command for action is published on
func (s *Sink) Topic(action string) string {
	return s.cfg.TopicPrefix + "/" + action
}

// Publish sends the envelope and waits for the broker acknowledgement
func (s *Sink) Publish(_ context.Context, env output.Envelope) error {
	if !s.connected.Load() {
		s.errors.Add(1)
		return errors.WrapTransient(errors.ErrNoConnection, "mqtt-sink", "Publish", "connection check")
	}

	payload, err := json.Marshal(env)
	if err != nil {
		s.errors.Add(1)
		return errors.WrapInvalid(err, "mqtt-sink", "Publish", "marshal envelope")
	}

	token := s.client.Publish(s.Topic(env.Action), s.cfg.QoS, s.cfg.Retained, payload)
	if !token.WaitTimeout(s.cfg.PublishTimeout) {
		s.errors.Add(1)
		return errors.WrapTransient(errors.ErrConnectionTimeout, "mqtt-sink", "Publish", "publish ack")
	}
	if err := token.Error(); err != nil {
		s.errors.Add(1)
		return errors.WrapTransient(err, "mqtt-sink", "Publish", "publish")
	}

	s.published.Add(1)
	return nil
}

// Close disconnects with a short grace period
func (s *Sink) Close() error {
	s.client.Disconnect(250)
	s.connected.Store(false)
	return nil
}

// Stats returns the MQTT sink counters
func (s *Sink) Stats() Stats {
	return Stats{
		Connected: s.connected.Load(),
		Published: s.published.Load(),
		Errors:    s.errors.Load(),
	}
}
