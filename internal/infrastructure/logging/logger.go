package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/scanlink/internal/infrastructure/config"
)

// Logger wraps slog.Logger with scanlink default fields.
//
// All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the destination named in cfg.Output.
//
// JSON is used unless cfg.Format is "text". Every record carries the
// service name and version.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(output, cfg, version)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "scanlink"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a new Logger with additional default attributes.
//
//	pairLogger := logger.With("component", "pairing")
//	pairLogger.Info("bonded") // Includes component=pairing
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a logger for use before configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
