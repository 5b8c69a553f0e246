package aifs

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aifs-project/aifs/model"
)

// Logger wraps slog.Logger with aifs-specific context.
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
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithNamespace adds a namespace field to the logger.
func (l *Logger) WithNamespace(namespace string) *Logger {
	return &Logger{
		Logger: l.Logger.With("namespace", namespace),
	}
}

// WithAsset adds an asset id field to the logger.
func (l *Logger) WithAsset(id model.ID) *Logger {
	return &Logger{
		Logger: l.Logger.With("asset", id.String()),
	}
}

// WithTx adds a transaction id field to the logger.
func (l *Logger) WithTx(id model.TxID) *Logger {
	return &Logger{
		Logger: l.Logger.With("tx", string(id)),
	}
}

// LogPut logs a put operation.
func (l *Logger) LogPut(ctx context.Context, namespace string, kind model.Kind, id model.ID, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "put failed",
			"namespace", namespace,
			"kind", kind.String(),
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "put completed",
			"namespace", namespace,
			"kind", kind.String(),
			"asset", id.String(),
			"size", size,
		)
	}
}

// LogGet logs a get operation.
func (l *Logger) LogGet(ctx context.Context, id model.ID, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "get failed",
			"asset", id.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "get completed",
			"asset", id.String(),
			"size", size,
		)
	}
}

// LogSearch logs a vector search operation.
func (l *Logger) LogSearch(ctx context.Context, namespace string, k, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"namespace", namespace,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"namespace", namespace,
			"k", k,
			"results", found,
		)
	}
}

// LogSnapshot logs a snapshot creation.
func (l *Logger) LogSnapshot(ctx context.Context, namespace string, sid model.SnapshotID, assets int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"namespace", namespace,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot created",
			"namespace", namespace,
			"snapshot", sid.String(),
			"assets", assets,
		)
	}
}

// LogCommit logs a transaction commit.
func (l *Logger) LogCommit(ctx context.Context, id model.TxID, assets int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"tx", string(id),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "commit completed",
			"tx", string(id),
			"assets", assets,
			"duration", duration,
		)
	}
}
