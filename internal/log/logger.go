package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger on stderr.
// stdout carries the parent protocol, so diagnostics never go there.
func Setup(level string) {
	once.Do(func() {
		logger = newLogger(level, "json", os.Stderr)
		slog.SetDefault(logger)
	})
}

// SetupWithWriter replaces the global logger. format is "json" or "text".
func SetupWithWriter(level, format string, w io.Writer) {
	once.Do(func() {})
	logger = newLogger(level, format, w)
	slog.SetDefault(logger)
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level.
// logic: default to INFO. If level is invalid, fallback to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithRun returns a logger with the run_id field set.
func WithRun(id string) *slog.Logger {
	return Get().With(slog.String("run_id", id))
}

// WithProvider returns a logger with the provider field set.
func WithProvider(name string) *slog.Logger {
	return Get().With(slog.String("provider", name))
}
