package gateway

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"archcritic/pkg/bus"
	"archcritic/pkg/channel"
	"archcritic/pkg/quota"
	"archcritic/pkg/vision"
)

// handleInbound routes one chat message. Failures the user can act on become reply text, so the
// returned error is reserved for problems the adapter should log.
func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	switch inbound.Kind {
	case bus.KindCommand:
		return s.handleCommand(ctx, inbound), nil
	case bus.KindImage:
		return s.handleImage(ctx, inbound), nil
	case bus.KindText:
		return s.handleText(ctx, inbound), nil
	case bus.KindVoice:
		return reply(inbound, replyVoice), nil
	case bus.KindUnsupported:
		return reply(inbound, replyNotImage), nil
	default:
		s.log.Debug("Ignoring message of unknown kind", "kind", inbound.Kind, "session_key", inbound.SessionKey)
		return reply(inbound, ""), nil
	}
}

func (s *Service) handleCommand(ctx context.Context, inbound bus.InboundMessage) bus.OutboundMessage {
	switch strings.ToLower(inbound.Command) {
	case "start":
		return reply(inbound, replyWelcome)
	case "key":
		return s.handleKeyCommand(ctx, inbound)
	default:
		return reply(inbound, replyHelp)
	}
}

func (s *Service) handleKeyCommand(ctx context.Context, inbound bus.InboundMessage) bus.OutboundMessage {
	fields := strings.Fields(inbound.Args)
	if len(fields) == 0 {
		return reply(inbound, replyKeyMissingArg)
	}

	info, err := s.keys.Get(ctx, fields[0])
	if errors.Is(err, quota.ErrKeyNotFound) {
		return reply(inbound, replyKeyInvalid)
	}
	if err != nil {
		return s.storeFailure(inbound, "lookup key", err)
	}

	s.bindKey(ctx, inbound, info)
	if info.Unlimited() {
		return reply(inbound, replyKeyAcceptedUnlimited)
	}

	return reply(inbound, replyKeyAccepted(info.Remaining, s.quotaSize()))
}

// handleText treats any plain text as a key attempt.
func (s *Service) handleText(ctx context.Context, inbound bus.InboundMessage) bus.OutboundMessage {
	candidate := strings.TrimSpace(inbound.Content)
	if candidate == "" {
		return reply(inbound, replyEmptyText)
	}

	info, err := s.keys.Get(ctx, candidate)
	if err != nil && !errors.Is(err, quota.ErrKeyNotFound) {
		return s.storeFailure(inbound, "lookup key", err)
	}
	if err == nil {
		s.bindKey(ctx, inbound, info)
		if info.Unlimited() {
			return reply(inbound, replyTextKeyAcceptedUnlimited)
		}
		return reply(inbound, replyTextKeyAccepted(info.Remaining, s.quotaSize()))
	}

	if _, bound := s.sessions.Key(inbound.SessionKey); bound {
		return reply(inbound, replyTextBound)
	}

	return reply(inbound, replyTextUnbound)
}

func (s *Service) handleImage(ctx context.Context, inbound bus.InboundMessage) bus.OutboundMessage {
	key, ok := s.sessions.Key(inbound.SessionKey)
	if !ok {
		return reply(inbound, replyKeyUnbound)
	}

	info, err := s.keys.Get(ctx, key)
	if errors.Is(err, quota.ErrKeyNotFound) {
		s.sessions.Forget(inbound.SessionKey)
		return reply(inbound, replyKeyRevoked)
	}
	if err != nil {
		return s.storeFailure(inbound, "lookup key", err)
	}
	if info.Exhausted() {
		return reply(inbound, replyExhausted(s.quotaSize()))
	}

	raw, err := inbound.Image.Download(ctx)
	if errors.Is(err, bus.ErrNoImage) || (err == nil && len(raw) == 0) {
		return reply(inbound, replyNotImage)
	}
	if err != nil {
		s.log.Error("Failed to download image", "session_key", inbound.SessionKey, "error", err)
		out := reply(inbound, vision.MessageGeneric)
		out.Error = err.Error()
		return out
	}

	requestID := uuid.NewString()
	s.publish(ctx, inbound, bus.Event{
		Type:      bus.EventAnalysisReceived,
		RequestID: requestID,
		Payload:   map[string]string{"bytes": strconv.Itoa(len(raw))},
	})

	if err := channel.ReportStatus(ctx, replyAnalyzing); err != nil {
		s.log.Warn("Failed to report analysis status", "session_key", inbound.SessionKey, "error", err)
	}

	result, err := s.analyzer.AnalyzeDetailed(ctx, raw)
	if err != nil {
		kind := vision.KindOf(err)
		s.publish(ctx, inbound, bus.Event{
			Type:      bus.EventAnalysisFailed,
			RequestID: requestID,
			Payload:   map[string]string{ErrorKindKey: string(kind)},
			Error:     err.Error(),
		})

		out := reply(inbound, vision.UserMessage(err))
		out.Error = err.Error()
		out.Metadata = map[string]string{RequestIDKey: requestID, ErrorKindKey: string(kind)}
		return out
	}

	// The key is charged only once a reply is ready.
	remaining, err := s.keys.Decrement(ctx, key)
	if err != nil {
		return s.storeFailure(inbound, "decrement key", err)
	}

	metadata := ResultMetadata(result)
	metadata[RequestIDKey] = requestID
	metadata[RemainingKey] = strconv.Itoa(remaining)
	s.publish(ctx, inbound, bus.Event{
		Type:      bus.EventAnalysisCompleted,
		RequestID: requestID,
		Payload: map[string]string{
			ModelKey:     result.Model,
			CachedKey:    metadata[CachedKey],
			RungKey:      metadata[RungKey],
			RemainingKey: metadata[RemainingKey],
		},
	})

	out := reply(inbound, result.Text+remainingSuffix(remaining, s.quotaSize()))
	out.Metadata = metadata
	return out
}

func (s *Service) bindKey(ctx context.Context, inbound bus.InboundMessage, info quota.Key) {
	s.sessions.Bind(inbound.SessionKey, info.Key)
	s.log.Info("Access key bound", "session_key", inbound.SessionKey, "access_key", info.Key, "remaining", info.Remaining)
	s.publish(ctx, inbound, bus.Event{
		Type:    bus.EventKeyBound,
		Payload: map[string]string{RemainingKey: strconv.Itoa(info.Remaining)},
	})
}

func (s *Service) storeFailure(inbound bus.InboundMessage, operation string, err error) bus.OutboundMessage {
	s.log.Error("Quota store request failed", "operation", operation, "session_key", inbound.SessionKey, "error", err)
	out := reply(inbound, vision.MessageGeneric)
	out.Error = err.Error()
	return out
}

func (s *Service) publish(ctx context.Context, inbound bus.InboundMessage, event bus.Event) {
	if s.events == nil {
		return
	}

	event.Channel = inbound.Channel
	event.ChatID = inbound.ChatID
	event.SessionKey = inbound.SessionKey
	s.events.PublishEvent(ctx, event)
}

func (s *Service) quotaSize() int {
	if s.cfg == nil || s.cfg.Quota.DefaultQuota <= 0 {
		return defaultQuotaSize
	}

	return s.cfg.Quota.DefaultQuota
}

func reply(inbound bus.InboundMessage, content string) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
		Content:    content,
	}
}
