package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gesturegate/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing url", func(c *Config) { c.URL = "" }, true},
		{"empty prefix", func(c *Config) { c.SubjectPrefix = "" }, true},
		{"wildcard prefix", func(c *Config) { c.SubjectPrefix = "actions.*" }, true},
		{"full wildcard", func(c *Config) { c.SubjectPrefix = "actions.>" }, true},
		{"trailing dot", func(c *Config) { c.SubjectPrefix = "actions." }, true},
		{"negative flush timeout", func(c *Config) { c.FlushTimeout = -time.Second }, true},
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

func TestNewSink_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.ConnectTimeout = 200 * time.Millisecond

	_, err := NewSink(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}
