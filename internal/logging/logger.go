// Package logging wraps log/slog with component-scoped loggers, an
// audit helper, and an in-memory mirror of recent lines for the API.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Level aliases slog.Level so callers do not import both packages.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Config controls handler selection and verbosity.
type Config struct {
	Level      Level
	Output     io.Writer
	JSON       bool
	AddSource  bool
	TimeFormat string
}

// Logger is a slog.Logger whose level can be changed at runtime.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds a Logger from cfg. Console output is the default; JSON is
// for running under a log collector. Either way records are mirrored
// into the shared ring buffer.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var inner slog.Handler
	if cfg.JSON {
		inner = slog.NewJSONHandler(out, opts)
	} else {
		inner = NewConsoleHandler(out, opts, tf)
	}

	return &Logger{
		Logger: slog.New(newMirrorHandler(inner, GetAppLogBuffer())),
		level:  level,
	}
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Default returns the process-wide logger.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLog = New(Config{Level: LevelInfo, Output: os.Stderr})
	})
	return defaultLog
}

// WithComponent returns a child of the default logger tagged with a
// component name. The console handler lifts the tag into the line header.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// SetLevel adjusts verbosity for this logger and all loggers derived
// from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// WithComponent tags the logger with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name), level: l.level}
}

// WithFields attaches a fixed set of attributes.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Audit records an administrative action. Audit lines carry a marker
// attribute so they can be filtered out of the stream later.
func (l *Logger) Audit(action, resource string, details map[string]any) {
	args := []any{
		"audit", true,
		"action", action,
		"resource", resource,
	}
	for k, v := range details {
		args = append(args, k, v)
	}
	l.Info("AUDIT", args...)
}
