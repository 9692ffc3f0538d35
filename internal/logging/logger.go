package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the service's JSON logger on stdout. Every record carries
// the component name so the realtime API and the location consumer can share
// one log stream.
func NewLogger(component, level string) *slog.Logger {
	return New(os.Stdout, component, level)
}

func New(w io.Writer, component, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	return slog.New(slog.NewJSONHandler(w, opts)).With("component", component)
}

// Discard is for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
