// Package logging builds the slog loggers used by the rowflow CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/rowflow/internal/config"
)

// NewLogger creates a logger writing to stderr; stdout is reserved for
// command output.
//
// format is "text" or "json".
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	return slog.New(newHandler(format, w, level))
}

// NewFromConfig creates a logger from configuration. When a log file is
// configured, records go to both stderr and the file, and the returned
// closer closes the file.
func NewFromConfig(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level := ParseLevel(string(cfg.Logging.Level))
	format := string(cfg.Logging.Format)
	if cfg.Logging.File == "" {
		return NewLogger(level, format), nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return NewLoggerWithWriter(level, format, io.MultiWriter(os.Stderr, file)), file, nil
}

// NewForTest creates a silent logger for tests.
func NewForTest() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, string(config.LogFormatJSON)) {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
