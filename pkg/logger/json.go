package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogEntry is the JSON shape of one log line.
type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// jsonHandler writes LogEntry lines. Attributes bound with With are flattened once, when bound.
type jsonHandler struct {
	out       *lockedWriter
	level     slog.Level
	addSource bool
	component string
	fields    map[string]any
	prefix    string
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) writeLine(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.w.Write(append(line, '\n'))
	return err
}

func newJSONHandler(w io.Writer, level slog.Level, addSource bool) *jsonHandler {
	return &jsonHandler{out: &lockedWriter{w: w}, level: level, addSource: addSource}
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *jsonHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := LogEntry{
		Level:     strings.ToLower(record.Level.String()),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Component: h.component,
		Message:   record.Message,
	}

	fields := maps.Clone(h.fields)
	if fields == nil {
		fields = make(map[string]any, record.NumAttrs())
	}
	record.Attrs(func(attr slog.Attr) bool {
		h.collect(fields, &entry.Component, attr)
		return true
	})
	if len(fields) > 0 {
		entry.Fields = fields
	}

	if h.addSource && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		if frame.File != "" {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return h.out.writeLine(line)
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.fields = maps.Clone(h.fields)
	if next.fields == nil {
		next.fields = make(map[string]any, len(attrs))
	}
	for _, attr := range attrs {
		next.collect(next.fields, &next.component, attr)
	}

	return &next
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// collect stores attr under its group-qualified key. A top-level string "component" becomes
// the entry's component instead of a field.
func (h *jsonHandler) collect(fields map[string]any, component *string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	key := h.prefix + attr.Key
	if key == "component" && attr.Value.Kind() == slog.KindString {
		*component = attr.Value.String()
		return
	}

	fields[key] = jsonValue(attr.Value)
}

func jsonValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := make(map[string]any, len(value.Group()))
		for _, item := range value.Group() {
			group[item.Key] = jsonValue(item.Value.Resolve())
		}
		return group
	case slog.KindAny:
		// errors have no exported fields and would marshal to {}.
		if err, ok := value.Any().(error); ok {
			return err.Error()
		}
		return value.Any()
	default:
		return value.Any()
	}
}
