package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// Fields is a map of field names to values.
type Fields map[string]interface{}

// Context keys for propagating logging context
const (
	ComponentKey = "component"
	OperationKey = "operation"
	WriterKey    = "writer"
)

// Entry represents a single log entry.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
}

// Logger defines the core logging interface.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})

	// With adds fields to every record produced by the returned Logger.
	With(fields ...Field) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
	// WithContext copies well-known context values into the Logger.
	WithContext(ctx context.Context) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Formatter defines the interface for formatting log entries.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output defines the interface for log outputs.
type Output interface {
	Write(entry *Entry, formatted []byte) error
	Close() error
}

// LoggerOption is a function that configures a logger.
type LoggerOption func(*BaseLogger)

// BaseLogger implements the Logger interface.
type BaseLogger struct {
	core       *core
	slogLogger *slog.Logger
}

// core is shared between a logger and the children created by With.
type core struct {
	level     Level
	formatter Formatter
	outputs   []Output
}

// NewLogger creates a new logger with the given options.
func NewLogger(options ...LoggerOption) Logger {
	l := &BaseLogger{core: &core{level: InfoLevel, formatter: &JSONFormatter{}}}
	for _, option := range options {
		option(l)
	}
	if len(l.core.outputs) == 0 {
		l.core.outputs = append(l.core.outputs, NewConsoleOutput())
	}
	l.slogLogger = slog.New(newBridgeHandler(l.core))
	return l
}

// NewNopLogger returns a logger that discards everything. Handy in tests.
func NewNopLogger() Logger {
	return NewLogger(WithLevel(FatalLevel+1), WithOutput(&NullOutput{}))
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) { l.core.level = level }
}

// WithFormatter sets the log formatter.
func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) { l.core.formatter = formatter }
}

// WithOutput adds an output to the logger.
func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) { l.core.outputs = append(l.core.outputs, output) }
}

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	if level < l.core.level {
		return
	}
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, attrsFromFieldSlice(fields)...)
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// Fatal logs at error severity and exits the process.
func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	os.Exit(1)
}

func (l *BaseLogger) Debugf(msg string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(msg, args...), nil)
}
func (l *BaseLogger) Infof(msg string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(msg, args...), nil)
}
func (l *BaseLogger) Warnf(msg string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(msg, args...), nil)
}
func (l *BaseLogger) Errorf(msg string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(msg, args...), nil)
}

// With returns a child logger carrying the given fields.
func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &BaseLogger{core: l.core, slogLogger: l.slogLogger.With(attrsToAny(attrsFromFieldSlice(fields))...)}
}

func (l *BaseLogger) WithError(err error) Logger { return l.With(Err(err)) }

func (l *BaseLogger) WithComponent(component string) Logger { return l.With(Component(component)) }

func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	var fields []Field
	for _, k := range []string{ComponentKey, OperationKey, WriterKey} {
		if v := ctx.Value(k); v != nil {
			fields = append(fields, Any(k, v))
		}
	}
	return l.With(fields...)
}

func (l *BaseLogger) SetLevel(level Level) { l.core.level = level }
func (l *BaseLogger) GetLevel() Level      { return l.core.level }
