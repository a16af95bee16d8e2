package store

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/tracelog"
)

// slogTraceLogger forwards pgx trace events to slog. Every statement the pool
// runs is logged with its SQL, arguments and duration.
type slogTraceLogger struct {
	logger *slog.Logger
}

func newQueryTracer(logger *slog.Logger) *tracelog.TraceLog {
	return &tracelog.TraceLog{
		Logger:   slogTraceLogger{logger: logger},
		LogLevel: tracelog.LogLevelDebug,
	}
}

func (l slogTraceLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	attrs := make([]slog.Attr, 0, len(data))
	for k, v := range data {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.LogAttrs(ctx, slogLevel(level), msg, attrs...)
}

func slogLevel(level tracelog.LogLevel) slog.Level {
	switch level {
	case tracelog.LogLevelError:
		return slog.LevelError
	case tracelog.LogLevelWarn:
		return slog.LevelWarn
	default:
		// pgx reports every successful statement at info.
		return slog.LevelDebug
	}
}
