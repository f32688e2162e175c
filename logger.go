// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with the fields the allocator attaches to its
// events.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger writing to handler. A nil handler logs text to
// stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that writes human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a Logger that writes JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithEngine tags events with the engine that raised them.
func (l *Logger) WithEngine(name string) *Logger {
	return &Logger{Logger: l.Logger.With("engine", name)}
}
