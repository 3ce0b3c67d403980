package httppost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gerrors "github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/gate"
	"github.com/c360/gesturegate/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope() output.Envelope {
	return output.NewEnvelope("session-1", gate.Command{
		Action: "jump", Phase: gate.PhasePulse, Label: "jump", Key: "space", Confidence: 0.93,
		IssuedAt: time.Now(),
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"missing url", func(c *Config) { c.URL = "" }, true},
		{"bad scheme", func(c *Config) { c.URL = "ftp://example.com" }, true},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, true},
		{"too many retries", func(c *Config) { c.RetryCount = 11 }, true},
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

func TestSink_Publish(t *testing.T) {
	var received output.Envelope
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = server.URL
	cfg.Headers = map[string]string{"X-Device": "wrist-1"}
	sink, err := NewSink(cfg, nil)
	require.NoError(t, err)
	defer sink.Close()

	env := testEnvelope()
	require.NoError(t, sink.Publish(context.Background(), env))

	assert.Equal(t, env.ID, received.ID)
	assert.Equal(t, "jump", received.Action)
	assert.Equal(t, gate.PhasePulse, received.Phase)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "wrist-1", headers.Get("X-Device"))
	assert.Equal(t, Stats{Sent: 1}, sink.Stats())
}

func TestSink_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = server.URL
	cfg.RetryCount = 3
	sink, err := NewSink(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Publish(context.Background(), testEnvelope()))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(2), sink.Stats().Retried)
}

func TestSink_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = server.URL
	cfg.RetryCount = 3
	sink, err := NewSink(cfg, nil)
	require.NoError(t, err)

	err = sink.Publish(context.Background(), testEnvelope())
	require.Error(t, err)
	assert.True(t, gerrors.IsTransient(err))
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), sink.Stats().Errors)
}

func TestSink_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = server.URL
	cfg.RetryCount = 10
	sink, err := NewSink(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.Error(t, sink.Publish(ctx, testEnvelope()))
	assert.Less(t, time.Since(start), 2*time.Second)
}
