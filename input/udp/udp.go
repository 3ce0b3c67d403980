// Package udp provides the SampleSource: a UDP listener that decodes one sensor sample
// per datagram onto a bounded drop-oldest queue.
package udp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/health"
	"github.com/c360/gesturegate/metric"
	"github.com/c360/gesturegate/pkg/buffer"
	"github.com/c360/gesturegate/pkg/retry"
	"github.com/c360/gesturegate/sensor"
)

const (
	// readDeadline bounds each blocking read so cancellation is observed promptly
	readDeadline = 100 * time.Millisecond

	socketBufferSize = 2 * 1024 * 1024
	maxDatagramSize  = 65536
)

// Config holds the listener settings
type Config struct {
	Bind       string        `json:"listen_ip"`
	Port       int           `json:"listen_port"`
	QueueSize  int           `json:"queue_size"`
	StaleAfter time.Duration `json:"stale_after"`
}

// DefaultConfig returns the defaults used by the wrist app
func DefaultConfig() Config {
	return Config{
		Bind:       "0.0.0.0",
		Port:       5005,
		QueueSize:  512,
		StaleAfter: 2 * time.Second,
	}
}

// Validate checks the listener settings. Port 0 asks the OS for a free port.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: port %d out of range", errors.ErrInvalidConfig, c.Port),
			"udp-input", "Validate", "port validation")
	}
	if c.Bind != "" && net.ParseIP(c.Bind) == nil && c.Bind != "localhost" {
		return errors.WrapInvalid(fmt.Errorf("%w: bind address %q", errors.ErrInvalidConfig, c.Bind),
			"udp-input", "Validate", "bind validation")
	}
	if c.QueueSize <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: queue_size must be positive", errors.ErrInvalidConfig),
			"udp-input", "Validate", "queue validation")
	}
	return nil
}

// Stats is a snapshot of the source counters
type Stats struct {
	PacketsReceived int64     `json:"packets_received"`
	BytesReceived   int64     `json:"bytes_received"`
	DecodeErrors    int64     `json:"decode_errors"`
	SamplesDropped  int64     `json:"samples_dropped"`
	SocketErrors    int64     `json:"socket_errors"`
	LastActivity    time.Time `json:"last_activity"`
}

// SourceDeps holds runtime dependencies for the sample source
type SourceDeps struct {
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Source receives datagrams and forwards decoded samples
type Source struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	queue   buffer.Buffer[sensor.Sample]

	retryConfig retry.Config

	mu      sync.RWMutex
	conn    *net.UDPConn
	ready   chan struct{}
	running atomic.Bool

	packetsReceived atomic.Int64
	bytesReceived   atomic.Int64
	decodeErrors    atomic.Int64
	samplesDropped  atomic.Int64
	socketErrors    atomic.Int64
	lastActivity    atomic.Int64 // unix nanos of the last decoded sample, 0 if none
}

// NewSource creates a source and its outbound sample queue
func NewSource(deps SourceDeps) (*Source, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "udp-input", "port", cfg.Port)

	metrics, err := newMetrics(deps.MetricsRegistry, cfg.Port)
	if err != nil {
		return nil, errors.WrapFatal(err, "udp-input", "NewSource", "metrics registration")
	}

	s := &Source{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		retryConfig: retry.Quick(),
		ready:       make(chan struct{}),
	}

	queueOpts := []buffer.Option[sensor.Sample]{
		buffer.WithOverflowPolicy[sensor.Sample](buffer.DropOldest),
		buffer.WithDropCallback(func(sensor.Sample) {
			s.samplesDropped.Add(1)
			if s.metrics != nil {
				s.metrics.samplesDropped.Inc()
			}
		}),
	}
	if deps.MetricsRegistry != nil {
		queueOpts = append(queueOpts, buffer.WithMetrics[sensor.Sample](deps.MetricsRegistry, "samples"))
	}

	queue, err := buffer.NewCircularBuffer(cfg.QueueSize, queueOpts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "udp-input", "NewSource", "sample queue")
	}
	s.queue = queue

	return s, nil
}

// Samples is the queue the prediction loop drains
func (s *Source) Samples() buffer.Buffer[sensor.Sample] {
	return s.queue
}

// Ready is closed once the socket is bound
func (s *Source) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before Ready
func (s *Source) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Run binds the socket and receives until ctx is done. It returns nil on cancellation
// and a fatal error if the socket fails. The sample queue is closed on return.
func (s *Source) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "udp-input", "Run", "start")
	}
	defer s.queue.Close()

	bindCfg := s.retryConfig
	bindCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("UDP bind failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, bindCfg, s.bindSocket); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.WrapFatal(err, "udp-input", "Run", "socket binding")
	}
	defer s.closeSocket()

	close(s.ready)
	s.logger.Info("UDP sample source listening", "addr", s.Addr().String())

	return s.readLoop(ctx)
}

func (s *Source) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.cfg.Bind, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("failed to resolve UDP address %s:%d: %w", s.cfg.Bind, s.cfg.Port, err))
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", s.cfg.Port, err)
	}

	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		// some systems cap the buffer size
		s.logger.Warn("Could not set UDP buffer size", "buffer_size", socketBufferSize, "error", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *Source) closeSocket() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Source) readLoop(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}

			s.socketErrors.Add(1)
			if s.metrics != nil {
				s.metrics.socketErrors.Inc()
			}
			s.logger.Error("UDP socket read failed", "error", err)
			return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrSocketClosed, err), "udp-input", "readLoop", "socket read")
		}

		s.handleDatagram(buf[:n], time.Now())
	}
}

// handleDatagram decodes one datagram and queues the sample. Bad payloads are counted and dropped.
func (s *Source) handleDatagram(data []byte, receivedAt time.Time) {
	s.packetsReceived.Add(1)
	s.bytesReceived.Add(int64(len(data)))
	if s.metrics != nil {
		s.metrics.packetsReceived.Inc()
		s.metrics.bytesReceived.Add(float64(len(data)))
	}

	sample, err := sensor.Decode(data)
	if err != nil {
		s.decodeErrors.Add(1)
		if s.metrics != nil {
			s.metrics.decodeErrors.Inc()
		}
		s.logger.Debug("Dropped undecodable datagram", "bytes", len(data), "error", err)
		return
	}

	if err := s.queue.Write(sample); err != nil {
		// only fails once the queue is closed during shutdown
		return
	}

	s.lastActivity.Store(receivedAt.UnixNano())
	if s.metrics != nil {
		s.metrics.lastActivity.Set(float64(receivedAt.Unix()))
		s.metrics.samplesByChan.WithLabelValues(sample.Channel.String()).Inc()
	}
}

// Stats returns a snapshot of the counters
func (s *Source) Stats() Stats {
	var last time.Time
	if ns := s.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		PacketsReceived: s.packetsReceived.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		DecodeErrors:    s.decodeErrors.Load(),
		SamplesDropped:  s.samplesDropped.Load(),
		SocketErrors:    s.socketErrors.Load(),
		LastActivity:    last,
	}
}

// Health reports receiving when a sample arrived within StaleAfter
func (s *Source) Health(now time.Time) health.Status {
	stats := s.Stats()
	status := health.FromActivity("udp-input", stats.LastActivity, s.cfg.StaleAfter, now)
	if stats.SocketErrors > 0 {
		status = health.NewUnhealthy("udp-input", "socket failed")
	}
	return status.WithMetrics(&health.Metrics{
		ErrorCount:        stats.DecodeErrors + stats.SocketErrors,
		MessagesProcessed: stats.PacketsReceived,
		LastActivity:      stats.LastActivity,
	})
}
