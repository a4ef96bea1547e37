package core

import (
	"io"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with zap, slog, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// LoggerOptions configures DefaultLogger.
type LoggerOptions struct {
	Output io.Writer
	Level  string // debug, info, warn, error
	JSON   bool
	Prefix string
}

// DefaultLogger writes leveled, structured lines through charmbracelet/log.
type DefaultLogger struct {
	charm *charmlog.Logger
}

// NewDefaultLogger creates a DefaultLogger writing info and above to stderr.
func NewDefaultLogger() *DefaultLogger {
	return NewLogger(LoggerOptions{})
}

// NewLogger creates a DefaultLogger from opts. Unknown levels fall back to info.
func NewLogger(opts LoggerOptions) *DefaultLogger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	charm := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          opts.Prefix,
	})
	level, err := charmlog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = charmlog.InfoLevel
	}
	charm.SetLevel(level)
	if opts.JSON {
		charm.SetFormatter(charmlog.JSONFormatter)
	}
	return &DefaultLogger{charm: charm}
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, fields ...Field) {
	l.charm.Debug(msg, keyvals(fields)...)
}

// Info logs an info message
func (l *DefaultLogger) Info(msg string, fields ...Field) {
	l.charm.Info(msg, keyvals(fields)...)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, fields ...Field) {
	l.charm.Warn(msg, keyvals(fields)...)
}

// Error logs an error message
func (l *DefaultLogger) Error(msg string, fields ...Field) {
	l.charm.Error(msg, keyvals(fields)...)
}

func keyvals(fields []Field) []any {
	if len(fields) == 0 {
		return nil
	}
	kv := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
