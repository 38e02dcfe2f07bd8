package feedpulse

import (
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with feedpulse-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithFeed adds a feed id field to the logger.
func (l *Logger) WithFeed(feedID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("feed_id", feedID),
	}
}

// WithClient adds a client id field to the logger.
func (l *Logger) WithClient(client string) *Logger {
	return &Logger{
		Logger: l.Logger.With("client", client),
	}
}

// LogIngest logs a durable append.
func (l *Logger) LogIngest(feedID, key string, alreadySeen bool) {
	l.Debug("event appended",
		slog.String("feed_id", feedID),
		slog.String("key", key),
		slog.Bool("already_seen", alreadySeen),
	)
}

// LogReplay logs the outcome of one replay pass.
func (l *Logger) LogReplay(processed, duplicates, failed int, duration time.Duration) {
	l.Debug("replay pass complete",
		slog.Int("processed", processed),
		slog.Int("duplicates", duplicates),
		slog.Int("failed", failed),
		slog.Duration("duration", duration),
	)
}

// LogSearch logs a completed search with its fused result count.
func (l *Logger) LogSearch(query string, results int, duration time.Duration) {
	l.Debug("search complete",
		slog.String("query", query),
		slog.Int("results", results),
		slog.Duration("duration", duration),
	)
}
