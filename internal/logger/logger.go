// Package logger provides the structured logging facade used across the
// alert engine. Components depend on the Logger interface and attach typed
// fields instead of formatting messages.
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLevel converts a configuration string into a LogLevel.
// Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is the logging interface passed to every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger that always includes the given fields.
	With(fields ...Field) Logger
	// Module returns a child logger tagged with a module name.
	Module(name string) Logger
}

// SlogLogger implements Logger on top of log/slog.
type SlogLogger struct {
	handler slog.Handler
}

// NewSlogLogger creates a JSON logger writing to w. A nil tz keeps the
// timestamps in the local zone.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) *SlogLogger {
	opts := &slog.HandlerOptions{
		Level:       level.slogLevel(),
		ReplaceAttr: timeZoneReplacer(tz),
	}
	return &SlogLogger{handler: slog.NewJSONHandler(w, opts)}
}

// NewConsoleLogger creates a human readable text logger, used for the CLI.
func NewConsoleLogger(w io.Writer, level LogLevel) *SlogLogger {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}
	return &SlogLogger{handler: slog.NewTextHandler(w, opts)}
}

func timeZoneReplacer(tz *time.Location) func([]string, slog.Attr) slog.Attr {
	if tz == nil {
		return nil
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
			return slog.Time(slog.TimeKey, a.Value.Time().In(tz))
		}
		return a
	}
}

func (l *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.handler.Enabled(ctx, level) {
		return
	}
	record := slog.NewRecord(time.Now(), level, msg, 0)
	for _, f := range fields {
		record.AddAttrs(f.attr())
	}
	_ = l.handler.Handle(ctx, record)
}

func (l *SlogLogger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }
func (l *SlogLogger) Info(msg string, fields ...Field)  { l.log(slog.LevelInfo, msg, fields) }
func (l *SlogLogger) Warn(msg string, fields ...Field)  { l.log(slog.LevelWarn, msg, fields) }
func (l *SlogLogger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

// With returns a child logger carrying the given fields.
func (l *SlogLogger) With(fields ...Field) Logger {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, f.attr())
	}
	return &SlogLogger{handler: l.handler.WithAttrs(attrs)}
}

// Module returns a child logger with a "module" field.
func (l *SlogLogger) Module(name string) Logger {
	return l.With(String("module", name))
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return NewSlogLogger(io.Discard, LogLevelError, nil)
}
