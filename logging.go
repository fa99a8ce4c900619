// logging.go: Pluggable logging interface for the plugin runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"sync"
)

// loggerContextKey is a custom type for context keys to avoid collisions
type loggerContextKey string

const loggerKey loggerContextKey = "logger"

// Logger defines the pluggable logging interface for the runtime.
//
// Any logging framework can be adapted to this interface (zap, logrus,
// zerolog, slog). The runtime carries no concrete logging dependency;
// callers supply an implementation, or nil for silent operation.
//
// Args are structured key-value pairs, alternating keys and values.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger carrying persistent context key-value pairs
	With(args ...any) Logger
}

// NoOpLogger discards all log output. It is the default when no logger
// is supplied and is useful in tests that do not assert on log content.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger (no-op, stateless)
func (n *NoOpLogger) With(args ...any) Logger { return n }

// DefaultLogger returns the logger used when none is configured.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}

// TestLogger captures log messages for assertions in tests.
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
}

// TestLogMessage is a single captured log entry.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new capturing logger for tests.
func NewTestLogger() *TestLogger {
	return &TestLogger{Messages: make([]TestLogMessage, 0)}
}

func (t *TestLogger) record(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{Level: level, Message: msg, Args: args})
}

// Debug implements Logger (captures message)
func (t *TestLogger) Debug(msg string, args ...any) { t.record("DEBUG", msg, args) }

// Info implements Logger (captures message)
func (t *TestLogger) Info(msg string, args ...any) { t.record("INFO", msg, args) }

// Warn implements Logger (captures message)
func (t *TestLogger) Warn(msg string, args ...any) { t.record("WARN", msg, args) }

// Error implements Logger (captures message)
func (t *TestLogger) Error(msg string, args ...any) { t.record("ERROR", msg, args) }

// With implements Logger. Context chaining is not tracked; the same
// capturing logger is returned so assertions see all messages.
func (t *TestLogger) With(args ...any) Logger { return t }

// HasMessage reports whether a message with the given level and text was captured.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.Messages {
		if m.Level == level && m.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}

// LoggerFromContext extracts a logger from the context, falling back to
// DefaultLogger when none is present.
func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// ContextWithLogger returns a context carrying the given logger.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
