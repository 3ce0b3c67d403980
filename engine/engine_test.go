package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gesturegate/config"
	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/feature"
	"github.com/c360/gesturegate/gate"
	"github.com/c360/gesturegate/output"
	"github.com/c360/gesturegate/sensor"
	"github.com/c360/gesturegate/window"
)

var peakLayout = feature.Layout{Version: "peak-v1", Names: []string{"newest_accel_z"}}

// newestExtractor exposes the newest acceleration z value
type newestExtractor struct{}

func (newestExtractor) Layout() feature.Layout { return peakLayout }

func (newestExtractor) Extract(w window.Window) ([]float64, error) {
	samples := w.Samples(sensor.Acceleration)
	return []float64{samples[len(samples)-1].Value(2)}, nil
}

// thresholdClassifier calls a window "jump" while the wrist is accelerating upward
type thresholdClassifier struct{}

func (thresholdClassifier) Layout() feature.Layout { return peakLayout }

func (thresholdClassifier) Classify(_ context.Context, vec []float64) (string, float64, error) {
	if vec[0] > 5 {
		return "jump", 0.95, nil
	}
	return "idle", 0.9, nil
}

type captureSink struct {
	mu   sync.Mutex
	envs []output.Envelope
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Publish(_ context.Context, env output.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) Envelopes() []output.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]output.Envelope(nil), c.envs...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.UDP.Bind = "127.0.0.1"
	cfg.UDP.Port = 0
	cfg.Window.Channels = []sensor.Channel{sensor.Acceleration}
	cfg.Sinks.Log.Enabled = false
	cfg.Metrics.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, sinks ...output.Sink) *Engine {
	t.Helper()
	e, err := New(context.Background(), Deps{
		Config:     cfg,
		Extractor:  newestExtractor{},
		Classifier: thresholdClassifier{},
		Sinks:      sinks,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return e
}

func startEngine(t *testing.T, e *Engine) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	select {
	case <-e.Ready():
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("engine did not bind")
	}
	return cancel, errCh
}

func sendAccel(t *testing.T, conn net.Conn, ts int64, z float64) {
	t.Helper()
	payload := fmt.Sprintf(`{"channel":"acceleration","timestamp":%d,"values":{"x":0,"y":0,"z":%g}}`, ts, z)
	_, err := conn.Write([]byte(payload))
	require.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Deps{})
	assert.True(t, errors.IsInvalid(err))

	cfg := testConfig()
	cfg.Gate.Threshold = 2
	_, err = New(context.Background(), Deps{Config: cfg, Extractor: newestExtractor{}, Classifier: thresholdClassifier{}})
	assert.True(t, errors.IsInvalid(err))
}

func TestNew_MissingModelFile(t *testing.T) {
	cfg := testConfig()
	cfg.Model.Path = t.TempDir() + "/absent.yaml"

	_, err := New(context.Background(), Deps{Config: cfg, Extractor: newestExtractor{}})
	require.Error(t, err)
}

func TestNew_LayoutMismatchIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Window.Channels = []sensor.Channel{sensor.Acceleration, sensor.AngularVelocity}
	stat, err := feature.NewStatistical(cfg.Window.Channels)
	require.NoError(t, err)

	_, err = New(context.Background(), Deps{Config: cfg, Extractor: stat, Classifier: thresholdClassifier{}})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestEngine_IdleJumpIdleYieldsOneJump(t *testing.T) {
	capture := &captureSink{}
	e := newTestEngine(t, testConfig(), capture)
	cancel, errCh := startEngine(t, e)

	conn, err := net.Dial("udp", e.UDPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	ts := int64(1_000_000_000)
	step := int64(20 * time.Millisecond)
	send := func(n int, z float64, pause time.Duration) {
		for range n {
			sendAccel(t, conn, ts, z)
			ts += step
			time.Sleep(pause)
		}
	}

	send(40, 1, 2*time.Millisecond)
	send(6, 15, 25*time.Millisecond)
	send(40, 1, 2*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(capture.Envelopes()) >= 1
	}, 3*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	envs := capture.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "jump", envs[0].Action)
	assert.Equal(t, gate.PhasePulse, envs[0].Phase)
	assert.Equal(t, e.Session(), envs[0].Session)
	assert.NotEmpty(t, envs[0].ID)

	stats := e.Stats()
	assert.Equal(t, int64(86), stats.Source.PacketsReceived)
	assert.Equal(t, int64(1), stats.Gate.Commands)
	require.Len(t, stats.Sinks, 1)
	assert.Equal(t, int64(1), stats.Sinks[0].Published)

	reg := e.MetricsRegistry().PrometheusRegistry()
	sessions, err := testutil.GatherAndCount(reg, "gesturegate_engine_sessions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, sessions)
}

func TestEngine_WebSocketInputFeedsSameQueue(t *testing.T) {
	capture := &captureSink{}
	cfg := testConfig()
	cfg.WebSocketInput.Enabled = true
	cfg.WebSocketInput.Addr = "127.0.0.1:0"
	e := newTestEngine(t, cfg, capture)
	cancel, errCh := startEngine(t, e)

	require.Eventually(t, func() bool { return e.WebSocketInputAddr() != "" }, 2*time.Second, 10*time.Millisecond)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+e.WebSocketInputAddr()+"/samples", nil)
	require.NoError(t, err)
	defer conn.Close()

	ts := int64(1_000_000_000)
	send := func(n int, z float64, pause time.Duration) {
		for range n {
			msg := fmt.Sprintf(`{"channel":"acceleration","timestamp":%d,"values":{"x":0,"y":0,"z":%g}}`, ts, z)
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
			ts += int64(20 * time.Millisecond)
			time.Sleep(pause)
		}
	}
	send(40, 1, 2*time.Millisecond)
	send(6, 15, 25*time.Millisecond)
	send(40, 1, 2*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(capture.Envelopes()) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	envs := capture.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "jump", envs[0].Action)

	stats := e.Stats()
	require.NotNil(t, stats.WebSocket)
	assert.Equal(t, int64(86), stats.WebSocket.SamplesReceived)
	assert.Zero(t, stats.Source.PacketsReceived)
}

func TestEngine_ReleasesHeldActionOnShutdown(t *testing.T) {
	capture := &captureSink{}
	cfg := testConfig()
	cfg.Gate.HoldTimeout = time.Minute
	cfg.Gate.Labels["jump"] = gate.LabelAction{Action: "walk", Kind: gate.KindContinuous}
	e := newTestEngine(t, cfg, capture)
	cancel, errCh := startEngine(t, e)

	conn, err := net.Dial("udp", e.UDPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	ts := int64(1_000_000_000)
	for range 6 {
		sendAccel(t, conn, ts, 15)
		ts += int64(20 * time.Millisecond)
		time.Sleep(25 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(capture.Envelopes()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, gate.PhaseBegin, capture.Envelopes()[0].Phase)

	cancel()
	require.NoError(t, <-errCh)

	envs := capture.Envelopes()
	require.Len(t, envs, 2)
	assert.Equal(t, "walk", envs[1].Action)
	assert.Equal(t, gate.PhaseEnd, envs[1].Phase)
}

func TestEngine_RunTwice(t *testing.T) {
	e := newTestEngine(t, testConfig())
	cancel, errCh := startEngine(t, e)
	cancel()
	require.NoError(t, <-errCh)

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestEngine_Health(t *testing.T) {
	e := newTestEngine(t, testConfig())

	status := e.Health()
	assert.Equal(t, "gesturegate", status.Component)
	assert.False(t, status.IsHealthy(), "no samples yet")
	assert.Nil(t, e.Stats().WebSocket)
	assert.Empty(t, e.WebSocketInputAddr())
}
