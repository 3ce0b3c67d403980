package websocket

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/health"
	"github.com/c360/gesturegate/metric"
	"github.com/c360/gesturegate/pkg/buffer"
	"github.com/c360/gesturegate/pkg/retry"
	"github.com/c360/gesturegate/pkg/tlsutil"
	"github.com/c360/gesturegate/sensor"
)

const maxMessageSize = 64 * 1024

// SourceDeps holds runtime dependencies for the WebSocket source
type SourceDeps struct {
	Config Config
	// Samples is the shared sample queue. The source writes to it and never closes it.
	Samples         buffer.Buffer[sensor.Sample]
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Stats is a snapshot of the source counters
type Stats struct {
	MessagesReceived  int64     `json:"messages_received"`
	SamplesReceived   int64     `json:"samples_received"`
	DecodeErrors      int64     `json:"decode_errors"`
	ConnectionsTotal  int64     `json:"connections_total"`
	ConnectionsActive int64     `json:"connections_active"`
	Reconnects        int64     `json:"reconnects"`
	Rejected          int64     `json:"rejected"`
	LastActivity      time.Time `json:"last_activity"`
}

// Source receives sensor samples over WebSocket connections
type Source struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	queue    buffer.Buffer[sensor.Sample]
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	conns    map[*websocket.Conn]struct{}
	ready    chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup

	messagesReceived  atomic.Int64
	samplesReceived   atomic.Int64
	decodeErrors      atomic.Int64
	connectionsTotal  atomic.Int64
	connectionsActive atomic.Int64
	reconnects        atomic.Int64
	rejected          atomic.Int64
	lastActivity      atomic.Int64
}

// NewSource creates a WebSocket source writing to deps.Samples
func NewSource(deps SourceDeps) (*Source, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Samples == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "websocket-input", "NewSource", "sample queue check")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "websocket-input", "NewSource", "metrics registration")
	}

	return &Source{
		cfg:     deps.Config,
		logger:  logger.With("component", "websocket-input", "mode", string(deps.Config.Mode)),
		metrics: metrics,
		queue:   deps.Samples,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// sensor apps connect from phones on the LAN and send no Origin we could check
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
		ready: make(chan struct{}),
	}, nil
}

// Ready is closed once the listener is bound (server) or dialing has begun (client)
func (s *Source) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address in server mode once Ready
func (s *Source) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run receives until ctx is done. It returns nil on cancellation and a fatal error when
// the listener fails or a client-mode connection cannot be re-established.
func (s *Source) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "websocket-input", "Run", "start")
	}
	defer func() {
		s.closeAll()
		s.wg.Wait()
	}()

	if s.cfg.Mode == ModeClient {
		return s.runClient(ctx)
	}
	return s.runServer(ctx)
}

func (s *Source) runServer(ctx context.Context) error {
	tlsConfig, err := tlsutil.LoadServerTLSConfig(s.cfg.TLS)
	if err != nil {
		return errors.WrapFatal(err, "websocket-input", "runServer", "load TLS config")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "websocket-input", "runServer", "listen on "+s.cfg.Addr)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleUpgrade(ctx, w, r)
	})
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		if tlsConfig != nil {
			errCh <- server.ServeTLS(listener, "", "")
			return
		}
		errCh <- server.Serve(listener)
	}()

	close(s.ready)
	s.logger.Info("WebSocket sample source listening",
		"addr", listener.Addr().String(), "path", s.cfg.Path, "tls", tlsConfig != nil)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.WrapFatal(err, "websocket-input", "runServer", "serve")
	}
}

// handleUpgrade authenticates and upgrades one sensor connection (server mode)
func (s *Source) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.reject("unauthorized")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	full := len(s.conns) >= s.cfg.MaxConnections
	s.mu.Unlock()
	if full {
		s.reject("max_connections")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.reject("upgrade_error")
		return
	}

	s.logger.Info("Sensor connected", "remote", r.RemoteAddr)
	s.track(conn)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readConn(ctx, conn)
	}()
}

func (s *Source) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) == 1
}

func (s *Source) reject(reason string) {
	s.rejected.Add(1)
	if s.metrics != nil {
		s.metrics.rejected.WithLabelValues(reason).Inc()
	}
	s.logger.Debug("Sensor connection rejected", "reason", reason)
}

// runClient dials the sensor server and reads until ctx is done, reconnecting with
// backoff when enabled.
func (s *Source) runClient(ctx context.Context) error {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(s.cfg.ClientTLS)
	if err != nil {
		return errors.WrapFatal(err, "websocket-input", "runClient", "load TLS config")
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  tlsConfig,
	}

	close(s.ready)

	for connected := false; ; connected = true {
		conn, err := s.dial(ctx, dialer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
				"websocket-input", "runClient", "dial "+s.cfg.URL)
		}
		if connected {
			s.reconnects.Add(1)
			if s.metrics != nil {
				s.metrics.reconnects.Inc()
			}
		}

		s.logger.Info("Connected to sensor server", "url", s.cfg.URL)
		s.track(conn)
		s.readConn(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}
		if !s.cfg.Reconnect.Enabled {
			return errors.WrapFatal(errors.ErrConnectionLost, "websocket-input", "runClient", "read")
		}
		s.logger.Warn("Sensor server connection lost, reconnecting", "url", s.cfg.URL)
	}
}

// dial connects once, or with exponential backoff when reconnect is enabled
func (s *Source) dial(ctx context.Context, dialer *websocket.Dialer) (*websocket.Conn, error) {
	headers := http.Header{}
	if s.cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	cfg := retry.Config{MaxAttempts: 1}
	if r := s.cfg.Reconnect; r.Enabled {
		cfg = retry.Config{
			MaxAttempts:  r.MaxRetries + 1,
			InitialDelay: r.InitialInterval,
			MaxDelay:     r.MaxInterval,
			Multiplier:   r.Multiplier,
			AddJitter:    true,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				s.logger.Warn("Sensor server dial failed, retrying", "attempt", attempt, "delay", delay, "error", err)
			},
		}
		if r.MaxRetries == 0 {
			cfg.MaxAttempts = math.MaxInt32
		}
	}

	return retry.DoWithResult(ctx, cfg, func() (*websocket.Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, headers)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, retry.NonRetryable(fmt.Errorf("sensor server refused credentials: %s", resp.Status))
			}
			return nil, err
		}
		return conn, nil
	})
}

func (s *Source) track(conn *websocket.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.connectionsTotal.Add(1)
	s.connectionsActive.Add(1)
	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.connectionsActive.Inc()
	}
}

func (s *Source) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if !ok {
		return
	}

	_ = conn.Close()
	s.connectionsActive.Add(-1)
	if s.metrics != nil {
		s.metrics.connectionsActive.Dec()
	}
}

// closeAll closes every tracked connection, unblocking their readers
func (s *Source) closeAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		s.untrack(c)
	}
}

// readConn reads messages until the connection fails or ctx is done
func (s *Source) readConn(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer s.untrack(conn)

	conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Sensor connection closed", "error", err)
			}
			return
		}
		s.handleMessage(data, time.Now())
	}
}

// handleMessage decodes one sample, or a JSON array of samples, and queues them
func (s *Source) handleMessage(data []byte, receivedAt time.Time) {
	s.messagesReceived.Add(1)
	if s.metrics != nil {
		s.metrics.messagesReceived.Inc()
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			s.decodeFailed(err)
			return
		}
		for _, raw := range batch {
			s.queueSample(raw, receivedAt)
		}
		return
	}
	s.queueSample(trimmed, receivedAt)
}

func (s *Source) queueSample(data []byte, receivedAt time.Time) {
	sample, err := sensor.Decode(data)
	if err != nil {
		s.decodeFailed(err)
		return
	}
	if err := s.queue.Write(sample); err != nil {
		if !stderrors.Is(err, errors.ErrAlreadyStopped) {
			s.logger.Debug("Sample queue rejected write", "error", err)
		}
		return
	}
	s.samplesReceived.Add(1)
	s.lastActivity.Store(receivedAt.UnixNano())
}

func (s *Source) decodeFailed(err error) {
	s.decodeErrors.Add(1)
	if s.metrics != nil {
		s.metrics.decodeErrors.Inc()
	}
	s.logger.Debug("Dropped undecodable message", "error", err)
}

// Stats returns a snapshot of the counters
func (s *Source) Stats() Stats {
	var last time.Time
	if ns := s.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		MessagesReceived:  s.messagesReceived.Load(),
		SamplesReceived:   s.samplesReceived.Load(),
		DecodeErrors:      s.decodeErrors.Load(),
		ConnectionsTotal:  s.connectionsTotal.Load(),
		ConnectionsActive: s.connectionsActive.Load(),
		Reconnects:        s.reconnects.Load(),
		Rejected:          s.rejected.Load(),
		LastActivity:      last,
	}
}

// Health reports receiving when a sample arrived within StaleAfter. A client with no
// open connection is degraded.
func (s *Source) Health(now time.Time) health.Status {
	stats := s.Stats()
	status := health.FromActivity("websocket-input", stats.LastActivity, s.cfg.StaleAfter, now)
	if s.cfg.Mode == ModeClient && stats.ConnectionsActive == 0 {
		status = health.NewDegraded("websocket-input", "not connected to "+s.cfg.URL)
	}
	return status.WithMetrics(&health.Metrics{
		ErrorCount:        stats.DecodeErrors,
		MessagesProcessed: stats.SamplesReceived,
		LastActivity:      stats.LastActivity,
	})
}
