package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/health"
	"github.com/c360/gesturegate/metric"
	"github.com/c360/gesturegate/output"
	"github.com/c360/gesturegate/pkg/buffer"
	"github.com/c360/gesturegate/pkg/tlsutil"
	"github.com/c360/gesturegate/predict"
)

// Message types
const (
	TypeHello      = "hello"
	TypePrediction = "prediction"
	TypeCommand    = "command"
)

// Config holds configuration for the live monitor
type Config struct {
	Addr string `json:"addr"`
	Path string `json:"path"`
	// Predictions streams every prediction, not just commands
	Predictions  bool                 `json:"predictions"`
	ClientQueue  int                  `json:"client_queue"`
	PingInterval time.Duration        `json:"ping_interval"`
	WriteTimeout time.Duration        `json:"write_timeout"`
	TLS          tlsutil.ServerConfig `json:"tls,omitempty"`
}

// DefaultConfig returns default configuration for the monitor
func DefaultConfig() Config {
	return Config{
		Addr:         ":8081",
		Path:         "/ws",
		Predictions:  true,
		ClientQueue:  64,
		PingInterval: 30 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket-monitor", "Validate", "addr is required")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(fmt.Errorf("%w: path %q must start with /", errors.ErrInvalidConfig, c.Path),
			"websocket-monitor", "Validate", "path check")
	}
	if c.ClientQueue < 1 {
		return errors.WrapInvalid(fmt.Errorf("%w: client_queue %d", errors.ErrInvalidConfig, c.ClientQueue),
			"websocket-monitor", "Validate", "client queue check")
	}
	if c.PingInterval <= 0 || c.WriteTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket-monitor", "Validate",
			"ping_interval and write_timeout must be positive")
	}
	return nil
}

// MessageEnvelope wraps every message sent to monitor clients
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Deps holds runtime dependencies for the monitor
type Deps struct {
	Config          Config
	Session         string
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Stats holds the monitor counters
type Stats struct {
	Clients int   `json:"clients"`
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
	Errors  int64 `json:"errors"`
}

type client struct {
	id          string
	conn        *websocket.Conn
	queue       buffer.Buffer[frame]
	connectedAt time.Time
	cancel      context.CancelFunc

	// gorilla/websocket allows one concurrent writer
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Monitor broadcasts predictions and commands to WebSocket clients. It is an
// output.Sink for commands and a gate.PredictionObserver for predictions. Neither
// path ever blocks: each client has a bounded queue that drops its oldest message.
type Monitor struct {
	cfg      Config
	session  string
	logger   *slog.Logger
	metrics  *monitorMetrics
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	lifecycleMu sync.Mutex
	server      *http.Server
	listener    net.Listener
	shutdown    chan struct{}
	wg          sync.WaitGroup

	sent    atomic.Int64
	dropped atomic.Int64
	errors  atomic.Int64
}

type monitorMetrics struct {
	clientsConnected prometheus.Gauge
	messagesSent     *prometheus.CounterVec
	messagesDropped  prometheus.Counter
	disconnections   *prometheus.CounterVec
}

func newMonitorMetrics(registry *metric.MetricsRegistry) (*monitorMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &monitorMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gesturegate", Subsystem: "monitor", Name: "clients_connected",
			Help: "Number of currently connected monitor clients",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate", Subsystem: "monitor", Name: "messages_sent_total",
			Help: "Messages written to monitor clients",
		}, []string{"type"}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gesturegate", Subsystem: "monitor", Name: "messages_dropped_total",
			Help: "Messages dropped because a client queue was full",
		}),
		disconnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gesturegate", Subsystem: "monitor", Name: "client_disconnections_total",
			Help: "Client disconnections by reason",
		}, []string{"reason"}),
	}
	if err := registry.RegisterGauge("monitor", "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("monitor", "messages_sent_total", m.messagesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("monitor", "messages_dropped_total", m.messagesDropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("monitor", "client_disconnections_total", m.disconnections); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMonitor creates a monitor. Call Run to serve it, or mount Handler yourself.
func NewMonitor(deps Deps) (*Monitor, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics, err := newMonitorMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "websocket-monitor", "NewMonitor", "metrics registration")
	}

	return &Monitor{
		cfg:     deps.Config,
		session: deps.Session,
		logger:  logger.With("component", "websocket-monitor"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			// read-only feed, any origin may watch
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:  make(map[*client]struct{}),
		shutdown: make(chan struct{}),
	}, nil
}

// Name implements output.Sink
func (m *Monitor) Name() string { return "websocket" }

// Handler returns the HTTP handler serving the monitor endpoint
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(m.cfg.Path, m.handleWebSocket)
	return mux
}

// Run listens on Addr and serves until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	m.lifecycleMu.Lock()
	if m.server != nil {
		m.lifecycleMu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "websocket-monitor", "Run", "start")
	}

	tlsConfig, err := tlsutil.LoadServerTLSConfig(m.cfg.TLS)
	if err != nil {
		m.lifecycleMu.Unlock()
		return errors.WrapFatal(err, "websocket-monitor", "Run", "load TLS config")
	}

	listener, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		m.lifecycleMu.Unlock()
		return errors.WrapFatal(err, "websocket-monitor", "Run", "listen on "+m.cfg.Addr)
	}

	server := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsConfig,
	}
	m.server = server
	m.listener = listener
	m.lifecycleMu.Unlock()

	m.wg.Add(1)
	go m.pingLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if tlsConfig != nil {
			errCh <- server.ServeTLS(listener, "", "")
			return
		}
		errCh <- server.Serve(listener)
	}()

	m.logger.Info("Monitor listening", "addr", listener.Addr().String(), "path", m.cfg.Path, "tls", tlsConfig != nil)

	select {
	case <-ctx.Done():
		return m.Stop(2 * time.Second)
	case err := <-errCh:
		_ = m.Stop(2 * time.Second)
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.WrapFatal(err, "websocket-monitor", "Run", "serve")
	}
}

// Addr returns the bound listener address once Run has started
func (m *Monitor) Addr() string {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Stop shuts the server down and disconnects every client
func (m *Monitor) Stop(timeout time.Duration) error {
	m.lifecycleMu.Lock()
	server := m.server
	select {
	case <-m.shutdown:
	default:
		close(m.shutdown)
	}
	m.lifecycleMu.Unlock()

	var shutdownErr error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			shutdownErr = errors.WrapTransient(err, "websocket-monitor", "Stop", "server shutdown")
		}
	}

	m.closeAllClients("shutdown")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn("Monitor goroutines did not exit in time", "timeout", timeout)
	}

	return shutdownErr
}

// Close implements output.Sink
func (m *Monitor) Close() error {
	return m.Stop(2 * time.Second)
}

// Publish implements output.Sink by broadcasting the command envelope
func (m *Monitor) Publish(_ context.Context, env output.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		m.errors.Add(1)
		return errors.WrapInvalid(err, "websocket-monitor", "Publish", "marshal envelope")
	}
	m.broadcast(TypeCommand, data)
	return nil
}

// ObservePrediction broadcasts a prediction when Predictions is enabled
func (m *Monitor) ObservePrediction(p predict.Prediction) {
	if !m.cfg.Predictions {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		m.errors.Add(1)
		return
	}
	m.broadcast(TypePrediction, data)
}

// Clients returns the number of connected clients
func (m *Monitor) Clients() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Stats returns the monitor counters
func (m *Monitor) Stats() Stats {
	return Stats{
		Clients: m.Clients(),
		Sent:    m.sent.Load(),
		Dropped: m.dropped.Load(),
		Errors:  m.errors.Load(),
	}
}

// Health reports healthy while serving
func (m *Monitor) Health() health.Status {
	stats := m.Stats()
	var st health.Status
	select {
	case <-m.shutdown:
		st = health.NewDegraded("websocket-monitor", "stopped")
	default:
		st = health.NewHealthy("websocket-monitor", fmt.Sprintf("%d clients", stats.Clients))
	}
	return st.WithMetrics(&health.Metrics{
		ErrorCount:        stats.Errors,
		MessagesProcessed: stats.Sent,
	})
}

func (m *Monitor) encode(msgType string, payload []byte) ([]byte, error) {
	return json.Marshal(MessageEnvelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
}

// broadcast queues one encoded message on every client
func (m *Monitor) broadcast(msgType string, payload []byte) {
	m.clientsMu.RLock()
	if len(m.clients) == 0 {
		m.clientsMu.RUnlock()
		return
	}
	snapshot := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		snapshot = append(snapshot, c)
	}
	m.clientsMu.RUnlock()

	data, err := m.encode(msgType, payload)
	if err != nil {
		m.errors.Add(1)
		return
	}

	for _, c := range snapshot {
		if c.closed.Load() {
			continue
		}
		// DropOldest: Write only fails once the client is closed
		_ = c.queue.Write(frame{msgType: msgType, data: data})
	}
}

func (m *Monitor) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-m.shutdown:
		http.Error(w, "monitor stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.errors.Add(1)
		m.logger.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
	}
	c.queue, err = buffer.NewCircularBuffer[frame](m.cfg.ClientQueue,
		buffer.WithOverflowPolicy[frame](buffer.DropOldest),
		buffer.WithDropCallback[frame](func(frame) {
			m.dropped.Add(1)
			if m.metrics != nil {
				m.metrics.messagesDropped.Inc()
			}
		}),
	)
	if err != nil {
		_ = conn.Close()
		m.errors.Add(1)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	m.clientsMu.Lock()
	m.clients[c] = struct{}{}
	count := len(m.clients)
	m.clientsMu.Unlock()
	if m.metrics != nil {
		m.metrics.clientsConnected.Set(float64(count))
	}
	m.logger.Info("Monitor client connected", "client", c.id, "remote", r.RemoteAddr, "clients", count)

	hello, _ := json.Marshal(map[string]string{"session": m.session, "client": c.id})
	if data, err := m.encode(TypeHello, hello); err == nil {
		_ = c.queue.Write(frame{msgType: TypeHello, data: data})
	}

	m.wg.Add(2)
	go m.writeLoop(ctx, c)
	go m.readLoop(c)
}

// readLoop drains client frames so pongs and close frames are processed
func (m *Monitor) readLoop(c *client) {
	defer m.wg.Done()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * m.cfg.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * m.cfg.PingInterval))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			reason := "client_closed"
			if c.closed.Load() {
				reason = "server_closed"
			}
			m.removeClient(c, reason)
			return
		}
	}
}

func (m *Monitor) writeLoop(ctx context.Context, c *client) {
	defer m.wg.Done()

	for {
		item, err := c.queue.ReadWait(ctx)
		if err != nil {
			return
		}
		if err := m.write(c, websocket.TextMessage, item.data); err != nil {
			m.errors.Add(1)
			m.removeClient(c, "write_error")
			return
		}
		m.sent.Add(1)
		if m.metrics != nil {
			m.metrics.messagesSent.WithLabelValues(item.msgType).Inc()
		}
	}
}

func (m *Monitor) write(c *client, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (m *Monitor) pingLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.clientsMu.RLock()
			snapshot := make([]*client, 0, len(m.clients))
			for c := range m.clients {
				snapshot = append(snapshot, c)
			}
			m.clientsMu.RUnlock()

			for _, c := range snapshot {
				if err := m.write(c, websocket.PingMessage, nil); err != nil {
					m.removeClient(c, "ping_failed")
				}
			}
		}
	}
}

func (m *Monitor) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		_ = c.queue.Close()

		m.clientsMu.Lock()
		delete(m.clients, c)
		count := len(m.clients)
		m.clientsMu.Unlock()

		if m.metrics != nil {
			m.metrics.disconnections.WithLabelValues(reason).Inc()
			m.metrics.clientsConnected.Set(float64(count))
		}

		if reason == "shutdown" {
			_ = m.write(c, websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor stopped"))
		}
		_ = c.conn.Close()
		m.logger.Info("Monitor client disconnected", "client", c.id, "reason", reason,
			"connected_for", time.Since(c.connectedAt).Truncate(time.Millisecond))
	})
}

func (m *Monitor) closeAllClients(reason string) {
	m.clientsMu.RLock()
	snapshot := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		snapshot = append(snapshot, c)
	}
	m.clientsMu.RUnlock()

	for _, c := range snapshot {
		m.removeClient(c, reason)
	}
}

// frame is one encoded message waiting in a client queue
type frame struct {
	msgType string
	data    []byte
}
