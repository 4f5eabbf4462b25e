// Package logging provides structured logging for taskpilot.
// It wraps log/slog with helpers for the attributes every component
// attaches: project, worker slot and task.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Logger is a slog logger with an optional backing file. It is safe for
// concurrent use.
type Logger struct {
	logger *slog.Logger
	closer *fileCloser
}

type fileCloser struct {
	once sync.Once
	file *os.File
}

func (c *fileCloser) close() error {
	if c == nil || c.file == nil {
		return nil
	}
	var err error
	c.once.Do(func() { err = c.file.Close() })
	return err
}

// ParseLevel converts a level name into a slog.Level. Unknown names map to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger writing human-readable text to w.
func New(w io.Writer, level string) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return &Logger{logger: slog.New(handler)}
}

// NewJSON creates a Logger writing JSON lines to w.
func NewJSON(w io.Writer, level string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return &Logger{logger: slog.New(handler)}
}

// NewFile creates a Logger that writes text to console and JSON to
// {dir}/taskpilot.log. The file always records debug output.
func NewFile(dir string, console io.Writer, level string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "taskpilot.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	handler := fanout{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: ParseLevel(level)}),
		slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	return &Logger{logger: slog.New(handler), closer: &fileCloser{file: f}}, nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return New(io.Discard, "ERROR")
}

// With returns a child Logger carrying the given key-value pairs.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(args...), closer: l.closer}
}

// WithProject tags entries with a project id.
func (l *Logger) WithProject(id string) *Logger {
	return l.With("project", id)
}

// WithSlot tags entries with a scheduler slot.
func (l *Logger) WithSlot(slot int) *Logger {
	return l.With("slot", slot)
}

// WithTask tags entries with a task id.
func (l *Logger) WithTask(id string) *Logger {
	return l.With("task", id)
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// Close closes the backing log file, if any. Child loggers share the file,
// so only the root logger should be closed.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.closer.close()
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
