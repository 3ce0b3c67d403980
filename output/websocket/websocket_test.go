package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/gate"
	"github.com/c360/gesturegate/metric"
	"github.com/c360/gesturegate/output"
	"github.com/c360/gesturegate/predict"
)

func newTestMonitor(t *testing.T, mutate func(*Config)) (*Monitor, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	registry := metric.NewMetricsRegistry()
	m, err := NewMonitor(Deps{Config: cfg, Session: "session-1", MetricsRegistry: registry})
	require.NoError(t, err)

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(func() {
		_ = m.Stop(time.Second)
		srv.Close()
	})
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) MessageEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env MessageEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty addr", func(c *Config) { c.Addr = "" }, true},
		{"relative path", func(c *Config) { c.Path = "ws" }, true},
		{"zero queue", func(c *Config) { c.ClientQueue = 0 }, true},
		{"zero ping", func(c *Config) { c.PingInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMonitor_HelloThenBroadcasts(t *testing.T) {
	m, srv := newTestMonitor(t, nil)
	conn := dial(t, srv, "/ws")

	hello := readEnvelope(t, conn)
	assert.Equal(t, TypeHello, hello.Type)
	assert.NotEmpty(t, hello.ID)
	assert.Contains(t, string(hello.Payload), `"session":"session-1"`)

	require.Eventually(t, func() bool { return m.Clients() == 1 }, time.Second, 5*time.Millisecond)

	m.ObservePrediction(predict.Prediction{Label: "jump", Confidence: 0.91, WindowEnd: 1500})

	env := output.NewEnvelope("session-1", gate.Command{
		Action: "jump", Phase: gate.PhasePulse, Label: "jump", Key: "space", Confidence: 0.91, IssuedAt: time.Now(),
	})
	require.NoError(t, m.Publish(context.Background(), env))

	prediction := readEnvelope(t, conn)
	assert.Equal(t, TypePrediction, prediction.Type)
	var p predict.Prediction
	require.NoError(t, json.Unmarshal(prediction.Payload, &p))
	assert.Equal(t, "jump", p.Label)
	assert.InDelta(t, 0.91, p.Confidence, 1e-9)

	command := readEnvelope(t, conn)
	assert.Equal(t, TypeCommand, command.Type)
	var got output.Envelope
	require.NoError(t, json.Unmarshal(command.Payload, &got))
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, gate.PhasePulse, got.Phase)

	assert.Eventually(t, func() bool { return m.Stats().Sent == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.messagesSent.WithLabelValues(TypeCommand)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.clientsConnected))
}

func TestMonitor_PredictionsDisabled(t *testing.T) {
	m, srv := newTestMonitor(t, func(c *Config) { c.Predictions = false })
	conn := dial(t, srv, "/ws")
	readEnvelope(t, conn)

	m.ObservePrediction(predict.Prediction{Label: "walk", Confidence: 0.8})
	require.NoError(t, m.Publish(context.Background(), output.NewEnvelope("s", gate.Command{
		Action: "walk", Phase: gate.PhaseBegin, Label: "walk", IssuedAt: time.Now(),
	})))

	// the first frame after hello is the command
	assert.Equal(t, TypeCommand, readEnvelope(t, conn).Type)
}

func TestMonitor_NoClientsIsNoop(t *testing.T) {
	m, _ := newTestMonitor(t, nil)

	m.ObservePrediction(predict.Prediction{Label: "idle", Confidence: 0.99})
	require.NoError(t, m.Publish(context.Background(), output.NewEnvelope("s", gate.Command{Action: "jump", Phase: gate.PhasePulse})))

	stats := m.Stats()
	assert.Zero(t, stats.Sent)
	assert.Zero(t, stats.Dropped)
}

func TestMonitor_ClientDisconnect(t *testing.T) {
	m, srv := newTestMonitor(t, nil)
	conn := dial(t, srv, "/ws")
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return m.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return m.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.disconnections.WithLabelValues("client_closed")))
}

func TestMonitor_StopClosesClients(t *testing.T) {
	m, srv := newTestMonitor(t, nil)
	conn := dial(t, srv, "/ws")
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return m.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(time.Second))
	assert.Equal(t, 0, m.Clients())
	assert.False(t, m.Health().Healthy)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestMonitor_Run(t *testing.T) {
	m, err := NewMonitor(Deps{Config: func() Config {
		cfg := DefaultConfig()
		cfg.Addr = "127.0.0.1:0"
		return cfg
	}()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Addr() != "" }, time.Second, 5*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+m.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var hello MessageEnvelope
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, TypeHello, hello.Type)
	assert.True(t, m.Health().Healthy)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
