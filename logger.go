package segdex

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with segdex-specific operation helpers so that
// flushes, merges and commits are logged with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses a text handler to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return newLogger(os.Stderr, "json", level)
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return newLogger(os.Stderr, "text", level)
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

func newLogger(w io.Writer, format string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
	}
	return &Logger{Logger: slog.New(slog.NewTextHandler(w, opts))}
}

// ParseLevel parses "debug", "info", "warn" or "error".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.TrimSpace(s)))
	return level, err
}

// WithIndex tags every record with the index location.
func (l *Logger) WithIndex(location string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", location),
	}
}

// LogFlush logs a segment flush.
func (l *Logger) LogFlush(ctx context.Context, duration time.Duration, docs int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"docs", docs,
			"duration", duration,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"docs", docs,
			"bytes", bytes,
			"duration", duration,
		)
	}
}

// LogMerge logs a finished or failed merge.
func (l *Logger) LogMerge(ctx context.Context, duration time.Duration, segments, docs int, err error) {
	if err != nil {
		l.WarnContext(ctx, "merge failed",
			"segments", segments,
			"duration", duration,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "merge completed",
			"segments", segments,
			"docs", docs,
			"duration", duration,
		)
	}
}

// LogCommit logs a commit.
func (l *Logger) LogCommit(ctx context.Context, generation int64, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "commit completed",
			"generation", generation,
			"duration", duration,
		)
	}
}

// LogStall logs time an ingesting goroutine was held back.
func (l *Logger) LogStall(ctx context.Context, reason string, duration time.Duration) {
	l.WarnContext(ctx, "ingestion stalled",
		"reason", reason,
		"duration", duration,
	)
}
