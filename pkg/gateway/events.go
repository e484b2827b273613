package gateway

import (
	"context"
	"log/slog"

	"archcritic/pkg/bus"
)

func observeEvents(ctx context.Context, events *bus.EventBus, log *slog.Logger) {
	stream, unsubscribe := events.SubscribeEvents(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"request_id", event.RequestID,
		"channel", event.Channel,
		"chat_id", event.ChatID,
		"session_key", event.SessionKey,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventAnalysisFailed:
		log.Warn("Analysis event", append(attrs, "error", event.Error)...)
	case bus.EventAnalysisReceived, bus.EventAnalysisCompleted, bus.EventKeyBound:
		log.Info("Analysis event", attrs...)
	default:
		log.Debug("Analysis event", attrs...)
	}
}
