package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil", nil, ErrorTransient},
		{"socket closed", ErrSocketClosed, ErrorFatal},
		{"layout mismatch", ErrLayoutMismatch, ErrorFatal},
		{"unknown channel", ErrUnknownChannel, ErrorInvalid},
		{"bad json", fmt.Errorf("decode: %w", ErrInvalidData), ErrorInvalid},
		{"inference", ErrInference, ErrorTransient},
		{"deadline", context.DeadlineExceeded, ErrorTransient},
		{"unclassified", errors.New("something odd"), ErrorTransient},
		{"wrapped fatal", WrapFatal(errors.New("boom"), "udp-input", "Run", "read"), ErrorFatal},
		{"wrapped invalid", WrapInvalid(errors.New("bad"), "config", "Validate", "check"), ErrorInvalid},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Classify(test.err))
		})
	}
}

func TestIsHelpers(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsInvalid(nil))

	assert.True(t, IsTransient(fmt.Errorf("read timeout on socket")))
	assert.True(t, IsTransient(ErrQueueFull))
	assert.False(t, IsTransient(ErrUnknownChannel))

	assert.True(t, IsFatal(ErrSocketClosed))
	assert.False(t, IsFatal(ErrInvalidData))

	assert.True(t, IsInvalid(ErrInvalidConfig))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestWrap_Format(t *testing.T) {
	base := errors.New("connection refused")

	err := Wrap(base, "mqtt-sink", "Connect", "broker dial")
	require.Error(t, err)
	assert.Equal(t, "mqtt-sink.Connect: broker dial failed: connection refused", err.Error())
	assert.ErrorIs(t, err, base)

	assert.Nil(t, Wrap(nil, "a", "b", "c"))
	assert.Nil(t, WrapTransient(nil, "a", "b", "c"))
	assert.Nil(t, WrapFatal(nil, "a", "b", "c"))
	assert.Nil(t, WrapInvalid(nil, "a", "b", "c"))
}

func TestClassifiedError_Fields(t *testing.T) {
	err := WrapTransient(ErrInference, "prediction-loop", "step", "classify")

	var ce *ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "prediction-loop", ce.Component)
	assert.Equal(t, "step", ce.Operation)
	assert.ErrorIs(t, err, ErrInference)
	assert.Contains(t, err.Error(), "prediction-loop.step: classify failed")
}
