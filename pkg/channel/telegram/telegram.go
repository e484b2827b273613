package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"archcritic/pkg/bus"
	"archcritic/pkg/channel"
	"archcritic/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/sync/errgroup"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

// botAPI is the subset of the Bot API the adapter talks to.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filepath string) string
}

// Adapter bridges Telegram updates into bus inbound/outbound messages.
type Adapter struct {
	cfg        config.TelegramConfig
	allowFrom  map[string]struct{}
	httpClient *http.Client
	log        *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	return &Adapter{
		cfg:        cfg,
		allowFrom:  allowFromSet(cfg.AllowFrom),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		log:        log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling. Each update is handled on its own goroutine, at most
// MaxConcurrent at a time; polling pauses while all slots are busy.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "max_concurrent", a.cfg.MaxConcurrent)

	var workers errgroup.Group
	workers.SetLimit(a.cfg.MaxConcurrent)
	defer func() { _ = workers.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			workers.Go(func() error {
				a.handleUpdate(ctx, bot, handler, update)
				return nil
			})
		}
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, api botAPI, handler channel.Handler, update telego.Update) {
	message := update.Message
	if message == nil {
		return
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return
	}

	inbound, ok := a.inboundFromMessage(api, message)
	if !ok {
		a.log.Debug("Ignoring unsupported message", "chat_id", message.Chat.ID)
		return
	}
	inbound.Metadata["update_id"] = strconv.Itoa(update.UpdateID)
	a.log.Info("Received message", "chat_id", inbound.ChatID, "sender_id", senderID, "kind", inbound.Kind, "content", previewText(inbound.Content))

	stopTyping := a.startTypingIndicator(ctx, api, message.Chat.ID)

	reply := &replier{api: api, chatID: message.Chat.ID, replyTo: message.MessageID, log: a.log}
	outbound, err := handler(channel.WithStatusReporter(ctx, reply.status), inbound)
	stopTyping()
	if err != nil {
		a.log.Error("Failed to process inbound message", "error", err)
		outbound = bus.OutboundMessage{Error: err.Error()}
	}

	responseText := strings.TrimSpace(outbound.Content)
	if responseText == "" {
		responseText = strings.TrimSpace(outbound.Error)
	}
	if responseText == "" {
		return
	}
	a.log.Info("Sending message", "chat_id", inbound.ChatID, "session_key", inbound.SessionKey, "content", previewText(responseText))

	reply.final(ctx, responseText)
}

// inboundFromMessage classifies a Telegram message. Photos win over documents, documents over
// voice, and text starting with "/" is a command.
func (a *Adapter) inboundFromMessage(api botAPI, message *telego.Message) (bus.InboundMessage, bool) {
	chatID := strconv.FormatInt(message.Chat.ID, 10)
	inbound := bus.InboundMessage{
		Channel:    channelName,
		SenderID:   strconv.FormatInt(message.From.ID, 10),
		ChatID:     chatID,
		SessionKey: sessionKey(chatID),
		Metadata: map[string]string{
			"message_id": strconv.Itoa(message.MessageID),
		},
	}

	text := strings.TrimSpace(message.Text)
	switch {
	case len(message.Photo) > 0:
		best := largestPhoto(message.Photo)
		inbound.Kind = bus.KindImage
		inbound.Content = strings.TrimSpace(message.Caption)
		inbound.Image = &bus.ImageRef{
			FileID:    best.FileID,
			MediaType: "image/jpeg",
			Size:      int64(best.FileSize),
			Fetch:     a.fileFetcher(api, best.FileID),
		}
	case message.Document != nil:
		inbound.Content = strings.TrimSpace(message.Caption)
		mediaType := strings.ToLower(strings.TrimSpace(message.Document.MimeType))
		if !strings.HasPrefix(mediaType, "image/") {
			inbound.Kind = bus.KindUnsupported
			break
		}
		inbound.Kind = bus.KindImage
		inbound.Image = &bus.ImageRef{
			FileID:    message.Document.FileID,
			FileName:  message.Document.FileName,
			MediaType: mediaType,
			Size:      int64(message.Document.FileSize),
			Fetch:     a.fileFetcher(api, message.Document.FileID),
		}
	case message.Voice != nil || message.Audio != nil:
		inbound.Kind = bus.KindVoice
	case strings.HasPrefix(text, "/"):
		inbound.Kind = bus.KindCommand
		inbound.Content = text
		inbound.Command, inbound.Args = parseCommand(text)
	case text != "":
		inbound.Kind = bus.KindText
		inbound.Content = text
	default:
		return bus.InboundMessage{}, false
	}

	return inbound, true
}

// largestPhoto picks the highest resolution size; Telegram lists sizes smallest first.
func largestPhoto(sizes []telego.PhotoSize) telego.PhotoSize {
	best := sizes[0]
	for _, size := range sizes[1:] {
		if size.Width*size.Height >= best.Width*best.Height {
			best = size
		}
	}

	return best
}

// parseCommand splits "/key@bot abc" into ("key", "abc").
func parseCommand(text string) (string, string) {
	head, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	if before, after, found := strings.Cut(head, "\n"); found {
		head = before
		rest = after + " " + rest
	}

	command := strings.ToLower(strings.TrimPrefix(head, "/"))
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}

	return command, strings.TrimSpace(rest)
}

// replier sends the optional status message and the final reply, editing the former into the
// latter when possible.
type replier struct {
	api     botAPI
	chatID  int64
	replyTo int
	log     *slog.Logger

	mu              sync.Mutex
	statusMessageID int
}

func (r *replier) status(ctx context.Context, text string) error {
	params := tu.Message(tu.ID(r.chatID), text)
	params.ReplyParameters = &telego.ReplyParameters{MessageID: r.replyTo, AllowSendingWithoutReply: true}

	sent, err := r.api.SendMessage(ctx, params)
	if err != nil {
		return fmt.Errorf("send status message: %w", err)
	}

	r.mu.Lock()
	r.statusMessageID = sent.MessageID
	r.mu.Unlock()

	return nil
}

func (r *replier) final(ctx context.Context, text string) {
	r.mu.Lock()
	statusMessageID := r.statusMessageID
	r.mu.Unlock()

	if statusMessageID != 0 {
		_, err := r.api.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    tu.ID(r.chatID),
			MessageID: statusMessageID,
			Text:      text,
		})
		if err == nil {
			return
		}
		r.log.Warn("Failed to edit status message, sending a new one", "chat_id", r.chatID, "error", err)
	}

	if _, err := r.api.SendMessage(ctx, tu.Message(tu.ID(r.chatID), text)); err != nil {
		r.log.Error("Failed to send telegram message", "error", err)
	}
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// sessionKey maps one Telegram chat to one key binding.
func sessionKey(chatID string) string {
	return "telegram:" + strings.TrimSpace(chatID)
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, api botAPI, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := api.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
