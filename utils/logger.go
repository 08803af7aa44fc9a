package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// LogConfig selects the logger's level, output format and optional sinks.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text (colored) or json
	Writer io.Writer

	// Fluent is an extra handler records are fanned out to, e.g. NewFluentHandler.
	Fluent slog.Handler
}

// Logger provides leveled, printf-style logging on top of slog.
type Logger struct {
	log *slog.Logger
}

// NewLoggerWithConfig builds a Logger from cfg.
func NewLoggerWithConfig(cfg LogConfig) *Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05",
		})
	}
	if cfg.Fluent != nil {
		handler = fanout{handler, cfg.Fluent}
	}
	return &Logger{log: slog.New(handler)}
}

// NewDiscardLogger returns a Logger that drops everything; used in tests.
func NewDiscardLogger() *Logger {
	return &Logger{log: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// With returns a child logger carrying the given key/value attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{log: l.log.With(args...)}
}

func (l *Logger) Info(format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
