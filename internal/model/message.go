package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeImage      MessageType = "image"
	MessageTypeGif        MessageType = "gif"
	MessageTypeFile       MessageType = "file"
	MessageTypeVoice      MessageType = "voice"
	MessageTypeAttachment MessageType = "attachment"
)

type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
)

// DeletedPlaceholder replaces the content of a tombstoned message.
const DeletedPlaceholder = "This message was deleted"

// Attachment describes a file/image/voice payload attached to a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Message is a single chat message. Values are treated as immutable: every
// mutation goes through a With* helper that returns a fresh copy, so state
// transitions stay auditable.
type Message struct {
	ID                string              `json:"id"`
	ConversationID    string              `json:"conversationId"`
	SenderID          string              `json:"senderId"`
	OriginalContent   string              `json:"originalContent"`
	TranslatedContent string              `json:"translatedContent,omitempty"`
	Type              MessageType         `json:"type"`
	Status            MessageStatus       `json:"status,omitempty"`
	Reactions         map[string][]string `json:"reactions,omitempty"`
	ReplyToID         string              `json:"replyToId,omitempty"`
	Attachment        *Attachment         `json:"attachment,omitempty"`
	Deleted           bool                `json:"deleted,omitempty"`
	DeletedBy         string              `json:"deletedBy,omitempty"`
	DeletedAt         *time.Time          `json:"deletedAt,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
}

// NewTempID builds a client-generated correlation id for an optimistic
// message: temp-<epoch_ms>-<random8>.
func NewTempID(now time.Time) string {
	return fmt.Sprintf("temp-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// IsTempID reports whether id is a client-generated temp id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, "temp-")
}

// WithStatus returns a copy with the given delivery status.
func (m Message) WithStatus(s MessageStatus) Message {
	m.Status = s
	return m
}

// WithReactions returns a copy with the reactions map replaced wholesale.
func (m Message) WithReactions(reactions map[string][]string) Message {
	m.Reactions = reactions
	return m
}

// AsDeleted returns a tombstoned copy: placeholder content, attachment and
// reactions cleared. The message keeps its position in the sequence.
func (m Message) AsDeleted(deletedBy string, deletedAt time.Time) Message {
	m.OriginalContent = DeletedPlaceholder
	m.TranslatedContent = ""
	m.Type = MessageTypeText
	m.Attachment = nil
	m.Reactions = nil
	m.Deleted = true
	m.DeletedBy = deletedBy
	at := deletedAt
	m.DeletedAt = &at
	return m
}
