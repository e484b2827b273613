package logger

import (
	"context"
	"log/slog"
	"strings"
)

// secretKeys are attribute names whose values never reach the output in full.
var secretKeys = map[string]bool{
	"access_key": true,
	"api_key":    true,
	"token":      true,
	"bot_token":  true,
	"password":   true,
}

// redactHandler masks secret attributes before they reach the wrapped handler.
type redactHandler struct {
	next slog.Handler
}

func (h redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h redactHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		masked.AddAttrs(redact(attr))
		return true
	})

	return h.next.Handle(ctx, masked)
}

func (h redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		masked[i] = redact(attr)
	}

	return redactHandler{next: h.next.WithAttrs(masked)}
}

func (h redactHandler) WithGroup(name string) slog.Handler {
	return redactHandler{next: h.next.WithGroup(name)}
}

func redact(attr slog.Attr) slog.Attr {
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		masked := make([]slog.Attr, len(group))
		for i, item := range group {
			masked[i] = redact(item)
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(masked...)}
	}

	if secretKeys[strings.ToLower(attr.Key)] {
		return slog.String(attr.Key, mask(attr.Value.String()))
	}

	return attr
}

// mask keeps the last four characters of long secrets so operators can tell keys apart.
func mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}

	return "****" + secret[len(secret)-4:]
}
