package bus

import (
	"context"
	"errors"
)

// MessageKind is how a chat adapter classified an inbound message.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindCommand     MessageKind = "command"
	KindImage       MessageKind = "image"
	KindVoice       MessageKind = "voice"
	KindUnsupported MessageKind = "unsupported"
)

var ErrNoImage = errors.New("message carries no image")

// ImageRef points at an image attached to a chat message. The bytes are downloaded lazily so
// requests that fail the access checks never touch the transport's file API.
type ImageRef struct {
	FileID    string                                    `json:"file_id,omitempty"`
	FileName  string                                    `json:"file_name,omitempty"`
	MediaType string                                    `json:"media_type,omitempty"`
	Size      int64                                     `json:"size,omitempty"`
	Fetch     func(ctx context.Context) ([]byte, error) `json:"-"`
}

// Download fetches the image bytes.
func (r *ImageRef) Download(ctx context.Context) ([]byte, error) {
	if r == nil || r.Fetch == nil {
		return nil, ErrNoImage
	}

	return r.Fetch(ctx)
}

type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key"`
	Kind       MessageKind       `json:"kind"`
	Content    string            `json:"content"`
	Command    string            `json:"command,omitempty"`
	Args       string            `json:"args,omitempty"`
	Image      *ImageRef         `json:"image,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type OutboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key,omitempty"`
	Content    string            `json:"content"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
