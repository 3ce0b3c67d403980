package output

import (
	"context"
	"log/slog"
)

// LogSink writes every command to the structured log
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink logs at level; a nil logger uses slog.Default
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "log-sink"), level: level}
}

// Name implements Sink
func (s *LogSink) Name() string { return "log" }

// Publish implements Sink
func (s *LogSink) Publish(ctx context.Context, env Envelope) error {
	s.logger.Log(ctx, s.level, "Action",
		"id", env.ID,
		"action", env.Action,
		"phase", env.Phase.String(),
		"key", env.Key,
		"label", env.Label,
		"confidence", env.Confidence,
		"issued_at", env.IssuedAt)
	return nil
}

// Close implements Sink
func (s *LogSink) Close() error { return nil }
