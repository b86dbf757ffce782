// Package logger provides structured logging setup for anchord.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/anchorhq/anchord/internal/config"
)

// New creates a *slog.Logger from the given Logging config, along with a
// Closer that must be called before the process exits. Output is JSON to
// stdout with a "service" attribute on every record. When cfg.Async is
// set, records are handled on a worker pool via AsyncHandler so a slow
// sink never blocks the caller; Close drains the queue.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	closer := Closer(nopCloser{})
	if cfg.Async {
		async := NewAsyncHandler(handler, 1024, 2)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
