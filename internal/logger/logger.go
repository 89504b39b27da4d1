// Package logger wraps log/slog for the llmgate services.
//
// All services log structured JSON to stdout in production; the "pretty"
// format switches to the text handler for local development. A logger can be
// attached to a request context and recovered deeper in the call stack:
//
//	log := logger.New("json", "info")
//	ctx := logger.WithContext(r.Context(), log)
//	// later:
//	logger.FromContext(ctx).Info("request complete", "status", 200)
package logger

import (
	"context"
	"log/slog"
	"os"
)

type contextKey struct{}

// New creates a *slog.Logger with the given format and level.
//
// format: "json" (default) or "pretty".
// level:  "debug", "info" (default), "warn", "error".
func New(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	}

	if format == "pretty" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// WithContext returns a context carrying the given logger.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored by WithContext, or slog.Default()
// if none is present.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
