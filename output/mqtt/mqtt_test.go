package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/gate"
	"github.com/c360/gesturegate/output"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startBroker spins up an in-process broker and returns its tcp:// URL
func startBroker(t *testing.T) string {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{Type: "tcp", ID: "test", Address: addr})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { _ = broker.Close() })

	return "tcp://" + addr
}

func subscribe(t *testing.T, broker, topic string) <-chan paho.Message {
	t.Helper()
	msgs := make(chan paho.Message, 16)

	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("test-subscriber")
	client := paho.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })

	token = client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) { msgs <- m })
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	return msgs
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"no broker", func(c *Config) { c.Broker = "" }, true},
		{"wildcard prefix", func(c *Config) { c.TopicPrefix = "actions/#" }, true},
		{"empty prefix", func(c *Config) { c.TopicPrefix = "" }, true},
		{"qos 3", func(c *Config) { c.QoS = 3 }, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(&cfg)
			err := cfg.Validate()
			if test.wantErr {
				assert.True(t, gerrors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSink_PublishesPerActionTopic(t *testing.T) {
	broker := startBroker(t)
	msgs := subscribe(t, broker, "wrist/actions/#")

	cfg := DefaultConfig()
	cfg.Broker = broker
	cfg.ClientID = "gesturegate-test"
	cfg.TopicPrefix = "wrist/actions"
	sink, err := NewSink(cfg, nil)
	require.NoError(t, err)
	defer sink.Close()

	env := output.NewEnvelope("session-1", gate.Command{
		Action: "jump", Phase: gate.PhasePulse, Label: "jump", Key: "space", Confidence: 0.88,
		IssuedAt: time.Now(),
	})
	require.NoError(t, sink.Publish(context.Background(), env))

	select {
	case m := <-msgs:
		assert.Equal(t, "wrist/actions/jump", m.Topic())
		var got output.Envelope
		require.NoError(t, json.Unmarshal(m.Payload(), &got))
		assert.Equal(t, env.ID, got.ID)
		assert.Equal(t, gate.PhasePulse, got.Phase)
		assert.Equal(t, "space", got.Key)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	stats := sink.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, int64(1), stats.Published)
}

func TestSink_PublishWhileDisconnected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker = fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t))
	cfg.ConnectTimeout = 100 * time.Millisecond

	sink, err := NewSink(cfg, nil)
	require.NoError(t, err)
	defer sink.Close()

	err = sink.Publish(context.Background(), output.NewEnvelope("s", gate.Command{Action: "walk", Phase: gate.PhaseBegin}))
	require.Error(t, err)
	assert.ErrorIs(t, err, gerrors.ErrNoConnection)
	assert.True(t, gerrors.IsTransient(err))
	assert.Equal(t, int64(1), sink.Stats().Errors)
}
