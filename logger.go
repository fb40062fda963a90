package pagedb

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/pagedb/btree"
	"github.com/hupe1980/pagedb/pagestore"
)

// Logger wraps slog.Logger with pagedb-specific helpers.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithStore tags every record with the store name.
func (l *Logger) WithStore(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("store", name),
	}
}

// WithKey adds a key field to the logger.
func (l *Logger) WithKey(key any) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", key),
	}
}

// LogOpen logs an opened index.
func (l *Logger) LogOpen(ctx context.Context, s pagestore.Stats) {
	l.InfoContext(ctx, "index ready",
		"seq", s.Seq,
		"items", s.ItemCount,
		"pages", s.PageCount,
		"height", s.Height,
	)
}

// LogFlush logs a flush.
func (l *Logger) LogFlush(ctx context.Context, s pagestore.FlushStats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"pages", s.Pages,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"seq", s.Seq,
			"pages", s.Pages,
			"bytes", s.Bytes,
			"freed", s.Freed,
			"duration", s.Duration,
		)
	}
}

// LogResolveMiss logs a lookup that had to load a page from the store.
func (l *Logger) LogResolveMiss(ctx context.Context, tier pagestore.Tier) {
	l.DebugContext(ctx, "page resolved outside memory", "tier", tier)
}

// LogClear logs a clear operation.
func (l *Logger) LogClear(ctx context.Context, items uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "clear failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index cleared",
			"items", items,
		)
	}
}

// LogDump logs a dump.
func (l *Logger) LogDump(ctx context.Context, name string, s btree.DumpStats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "dump failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "dump saved",
			"name", name,
			"leaves", s.Leaves,
			"inner", s.Inner,
			"items", s.Items,
		)
	}
}

// LogRestore logs a restore.
func (l *Logger) LogRestore(ctx context.Context, name string, s pagestore.RestoreStats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "restore completed",
			"name", name,
			"pages", s.Pages,
			"items", s.Items,
		)
	}
}
