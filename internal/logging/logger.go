// Package logging provides structured logging for decision runs.
// It wraps log/slog with JSON output and carries run, stage and role
// attributes so a run's log lines can be correlated with its audit trail.
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

const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Logger is safe for concurrent use. Child loggers share the parent's sink.
type Logger struct {
	logger *slog.Logger
	file   *os.File
	mu     *sync.Mutex
	attrs  []slog.Attr
}

// NewLogger writes JSON lines to {dir}/cortexdesk.log, or to stderr when dir
// is empty.
func NewLogger(dir string, level string) (*Logger, error) {
	var writer io.Writer = os.Stderr
	var file *os.File

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		var err error
		file, err = os.OpenFile(filepath.Join(dir, "cortexdesk.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writer = file
	}

	return newWithWriter(writer, file, level), nil
}

// NewWriterLogger logs to an arbitrary writer. Used by the CLI for
// console-friendly text output.
func NewWriterLogger(w io.Writer, level string) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{logger: slog.New(handler), mu: &sync.Mutex{}}
}

func newWithWriter(w io.Writer, file *os.File, level string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{
		logger: slog.New(handler),
		file:   file,
		mu:     &sync.Mutex{},
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun tags entries with the run id and ticker.
func (l *Logger) WithRun(runID, ticker string) *Logger {
	return l.withAttrs(slog.String("run_id", runID), slog.String("ticker", ticker))
}

// WithStage tags entries with the pipeline stage.
func (l *Logger) WithStage(stage string) *Logger {
	return l.withAttrs(slog.String("stage", stage))
}

// WithRole tags entries with the agent role.
func (l *Logger) WithRole(role string) *Logger {
	return l.withAttrs(slog.String("role", role))
}

// With adds arbitrary key-value pairs.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return l.withAttrs(attrs...)
}

func (l *Logger) withAttrs(attrs ...slog.Attr) *Logger {
	if l == nil {
		return nil
	}
	merged := make([]slog.Attr, 0, len(l.attrs)+len(attrs))
	merged = append(merged, l.attrs...)
	merged = append(merged, attrs...)
	return &Logger{logger: l.logger, file: l.file, mu: l.mu, attrs: merged}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	all := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		all = append(all, attr.Key, attr.Value.Any())
	}
	all = append(all, args...)
	l.logger.Log(context.Background(), level, msg, all...)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.file.Close()
	l.file = nil
	return err
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return newWithWriter(io.Discard, nil, LevelError)
}
