package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/metric"
	"github.com/c360/gesturegate/pkg/buffer"
	"github.com/c360/gesturegate/sensor"
)

const accelSample = `{"channel":"acceleration","timestamp":1000,"values":{"x":0,"y":0,"z":9.8}}`

func newQueue(t *testing.T) buffer.Buffer[sensor.Sample] {
	t.Helper()
	q, err := buffer.NewCircularBuffer[sensor.Sample](32)
	require.NoError(t, err)
	return q
}

func serverConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	return cfg
}

func runSource(t *testing.T, src *Source) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx) }()

	select {
	case <-src.Ready():
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("source not ready")
	}
	return cancel, errCh
}

func readSample(t *testing.T, q buffer.Buffer[sensor.Sample]) sensor.Sample {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := q.ReadWait(ctx)
	require.NoError(t, err)
	return s
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown mode", func(c *Config) { c.Mode = "relay" }, true},
		{"server without addr", func(c *Config) { c.Addr = "" }, true},
		{"relative path", func(c *Config) { c.Path = "samples" }, true},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"client", func(c *Config) { c.Mode = ModeClient; c.URL = "ws://phone.local:8080/sensors" }, false},
		{"client http url", func(c *Config) { c.Mode = ModeClient; c.URL = "http://phone.local" }, true},
		{"client bad backoff", func(c *Config) {
			c.Mode = ModeClient
			c.URL = "ws://phone.local"
			c.Reconnect.MaxInterval = time.Millisecond
		}, true},
		{"negative stale", func(c *Config) { c.StaleAfter = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewSource_RequiresQueue(t *testing.T) {
	_, err := NewSource(SourceDeps{Config: serverConfig()})
	assert.True(t, errors.IsInvalid(err))
}

func TestSource_ServerReceivesSamples(t *testing.T) {
	q := newQueue(t)
	src, err := NewSource(SourceDeps{Config: serverConfig(), Samples: q, MetricsRegistry: metric.NewMetricsRegistry()})
	require.NoError(t, err)
	cancel, errCh := runSource(t, src)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+src.Addr()+"/samples", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(accelSample)))
	s := readSample(t, q)
	assert.Equal(t, sensor.Acceleration, s.Channel)
	assert.Equal(t, int64(1000), s.Timestamp)

	batch := `[{"channel":"gyroscope","timestamp":2000,"values":{"x":1,"y":2,"z":3}},` +
		`{"channel":"rotation_vector","timestamp":3000,"values":{"x":0,"y":0,"z":0}},` +
		`{"channel":"magnetometer","timestamp":4000,"values":{"x":0,"y":0,"z":0}}]`
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(batch)))
	assert.Equal(t, sensor.AngularVelocity, readSample(t, q).Channel)
	o := readSample(t, q)
	assert.Equal(t, sensor.Orientation, o.Channel)
	assert.Equal(t, 1.0, o.Value(3), "missing w defaults to 1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	require.Eventually(t, func() bool {
		return src.Stats().DecodeErrors == 2
	}, time.Second, 10*time.Millisecond)

	stats := src.Stats()
	assert.Equal(t, int64(3), stats.MessagesReceived)
	assert.Equal(t, int64(3), stats.SamplesReceived)
	assert.Equal(t, int64(1), stats.ConnectionsActive)
	assert.True(t, src.Health(time.Now()).IsHealthy())

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, int64(0), src.Stats().ConnectionsActive)

	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "connection closed on shutdown")
	assert.NoError(t, q.Write(sensor.NewSample(sensor.Acceleration, 5000, 0, 0, 1)), "shared queue stays open")
}

func TestSource_ServerToken(t *testing.T) {
	cfg := serverConfig()
	cfg.Token = "s3cret"
	q := newQueue(t)
	src, err := NewSource(SourceDeps{Config: cfg, Samples: q})
	require.NoError(t, err)
	cancel, errCh := runSource(t, src)
	defer func() {
		cancel()
		<-errCh
	}()

	url := "ws://" + src.Addr() + "/samples"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer s3cret"}})
	require.NoError(t, err)
	conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(url+"?token=s3cret", nil)
	require.NoError(t, err)
	conn.Close()

	assert.Equal(t, int64(1), src.Stats().Rejected)
}

func TestSource_ServerMaxConnections(t *testing.T) {
	cfg := serverConfig()
	cfg.MaxConnections = 1
	src, err := NewSource(SourceDeps{Config: cfg, Samples: newQueue(t)})
	require.NoError(t, err)
	cancel, errCh := runSource(t, src)
	defer func() {
		cancel()
		<-errCh
	}()

	url := "ws://" + src.Addr() + "/samples"
	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()

	require.Eventually(t, func() bool { return src.Stats().ConnectionsActive == 1 }, time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// sensorServer upgrades each connection, sends n samples and closes it
func sensorServer(t *testing.T, n int, accepted *atomic.Int64) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer phone" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		accepted.Add(1)
		for range n {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(accelSample)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func clientConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeClient
	cfg.URL = "ws" + strings.TrimPrefix(url, "http")
	cfg.Token = "phone"
	cfg.Reconnect.InitialInterval = 10 * time.Millisecond
	cfg.Reconnect.MaxInterval = 50 * time.Millisecond
	return cfg
}

func TestSource_ClientReconnects(t *testing.T) {
	var accepted atomic.Int64
	srv := sensorServer(t, 2, &accepted)

	q := newQueue(t)
	src, err := NewSource(SourceDeps{Config: clientConfig(srv.URL), Samples: q})
	require.NoError(t, err)
	cancel, errCh := runSource(t, src)

	require.Eventually(t, func() bool {
		return src.Stats().Reconnects >= 2
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	assert.GreaterOrEqual(t, src.Stats().SamplesReceived, int64(6))
	assert.GreaterOrEqual(t, accepted.Load(), int64(3))
}

func TestSource_ClientWithoutReconnectIsFatal(t *testing.T) {
	var accepted atomic.Int64
	srv := sensorServer(t, 1, &accepted)

	cfg := clientConfig(srv.URL)
	cfg.Reconnect.Enabled = false
	src, err := NewSource(SourceDeps{Config: cfg, Samples: newQueue(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = src.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.Equal(t, int64(1), src.Stats().SamplesReceived)
}

func TestSource_ClientBadCredentialsStopsRetrying(t *testing.T) {
	var accepted atomic.Int64
	srv := sensorServer(t, 1, &accepted)

	cfg := clientConfig(srv.URL)
	cfg.Token = "wrong"
	src, err := NewSource(SourceDeps{Config: cfg, Samples: newQueue(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = src.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "refused credentials")
	assert.Zero(t, accepted.Load())
}
