// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// StreamLogger provides structured logging for relay stream lifecycle events.
type StreamLogger struct {
	component string
	logger    *Logger
}

// NewStreamLogger creates a StreamLogger for the given relay component
// ("pool", "upstream", "session").
func NewStreamLogger(component string) *StreamLogger {
	return &StreamLogger{
		component: component,
		logger:    GlobalLogger,
	}
}

// LogConnect logs a connection-established event for a logical stream key.
func (l *StreamLogger) LogConnect(ctx context.Context, key string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("component", l.component),
		slog.String("stream_key", key),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "stream connected", attrs...)
}

// LogDisconnect logs a connection-teardown event with its reason.
func (l *StreamLogger) LogDisconnect(ctx context.Context, key, reason string) {
	l.logger.InfoContext(ctx, "stream disconnected",
		slog.String("component", l.component),
		slog.String("stream_key", key),
		slog.String("reason", reason),
	)
}

// LogError logs a stream-level error event.
func (l *StreamLogger) LogError(ctx context.Context, key string, err error, eventType string) {
	l.logger.ErrorContext(ctx, "stream error",
		slog.String("component", l.component),
		slog.String("stream_key", key),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}
