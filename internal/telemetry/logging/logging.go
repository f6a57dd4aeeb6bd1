package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger tags every record with the subsystem that emitted it.
type Logger struct {
	base *slog.Logger
}

// New builds the internal logger for a given output level. Recognized levels:
// debug, info, warn, error, none. Unknown input falls back to warn so a typo
// in config never silences error reporting.
func New(level string) *Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "info":
		lv = slog.LevelInfo
	case "", "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	case "none":
		return &Logger{base: slog.New(slog.NewTextHandler(io.Discard, nil))}
	default:
		lv = slog.LevelWarn
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	return &Logger{base: slog.New(h)}
}

// Wrap adopts an embedder-supplied slog.Logger.
func Wrap(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{base: base}
}

// Tagged returns a child logger carrying a component tag.
func (l *Logger) Tagged(tag string) *Logger {
	return &Logger{base: l.base.With(slog.String("tag", tag))}
}

func (l *Logger) Debug(msg string, attrs ...any) { l.base.Debug(msg, attrs...) }
func (l *Logger) Info(msg string, attrs ...any)  { l.base.Info(msg, attrs...) }
func (l *Logger) Warn(msg string, attrs ...any)  { l.base.Warn(msg, attrs...) }
func (l *Logger) Error(msg string, attrs ...any) { l.base.Error(msg, attrs...) }
