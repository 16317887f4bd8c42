// Package logging builds the process logger from configuration.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/zsiec/livebuf/internal/config"
)

// New creates a logger writing to stderr. Stdout is left free for media
// output.
func New(cfg config.LoggingConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter creates a logger that writes to w.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a configured level name to a slog.Level. Unknown
// names map to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSession tags a logger with a session's identity.
func WithSession(log *slog.Logger, id, stream string) *slog.Logger {
	return log.With(slog.String("session", id), slog.String("stream", stream))
}
