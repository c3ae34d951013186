package log

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
)

// bridgeHandler is a slog.Handler that routes records through the logger's
// formatter and outputs.
type bridgeHandler struct {
	core  *core
	attrs []slog.Attr
	group string
}

func newBridgeHandler(c *core) *bridgeHandler {
	return &bridgeHandler{core: c}
}

// Enabled gates by the shared core level.
func (h *bridgeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.core.level <= fromSlogLevel(level)
}

// Handle converts the slog record to an Entry and writes it.
func (h *bridgeHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(Fields, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[h.key(a.Key)] = a.Value.Any()
		return true
	})

	caller := ""
	if r.PC != 0 {
		if fn := runtime.FuncForPC(r.PC); fn != nil {
			file, line := fn.FileLine(r.PC)
			caller = file + ":" + strconv.Itoa(line)
		}
	}

	entry := &Entry{
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Fields:    fields,
		Timestamp: r.Time,
		Caller:    caller,
	}
	formatted, err := h.core.formatter.Format(entry)
	if err != nil {
		return err
	}
	for _, out := range h.core.outputs {
		_ = out.Write(entry, formatted)
	}
	return nil
}

func (h *bridgeHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

// WithAttrs returns a copy of the handler with additional base attributes.
func (h *bridgeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	if len(attrs) > 0 {
		nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	}
	return &nh
}

// WithGroup returns a copy of the handler that prefixes keys with name.
func (h *bridgeHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.group = name
	return &nh
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	case FatalLevel:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level <= slog.LevelDebug:
		return DebugLevel
	case level < slog.LevelWarn:
		return InfoLevel
	case level < slog.LevelError:
		return WarnLevel
	case level < slog.LevelError+4:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

func attrsFromFieldSlice(fields []Field) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

// attrsToAny converts []slog.Attr to []any for slog.Logger.With.
func attrsToAny(attrs []slog.Attr) []any {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]any, len(attrs))
	for i := range attrs {
		out[i] = attrs[i]
	}
	return out
}
