// Package protocol defines the wire format spoken over the WebSocket: a
// closed set of typed inbound domain events and the outbound action frames.
//
// Inbound frames are {"action": "<verb>", ...fields} with payload fields
// flattened; outbound frames are {"action": "<verb>", "data": {...}}.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatcore/internal/model"
)

// Inbound actions.
const (
	ActionMessageReceive  = "message:receive"
	ActionMessageTyping   = "message:typing"
	ActionMessageReaction = "message:reaction"
	ActionMessageDeleted  = "message:deleted"
)

// Event is the closed union of inbound domain events. Implementations are
// exactly: MessageReceived, Typing, Reaction, MessageDeleted, Ignored.
type Event interface {
	isEvent()
}

// MessageReceived carries a server-confirmed message, with the client's
// correlation id echoed back when the message originated here.
type MessageReceived struct {
	Message model.Message
	TempID  string
}

// Typing toggles a user's membership in a conversation's typing set.
type Typing struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

// Reaction replaces a message's reactions map wholesale.
type Reaction struct {
	ConversationID   string
	MessageID        string
	MessageTimestamp int64
	UserID           string
	Emoji            string
	Reactions        map[string][]string
}

// MessageDeleted tombstones a message in place.
type MessageDeleted struct {
	ConversationID string
	MessageID      string
	DeletedBy      string
	DeletedAt      time.Time
}

// Ignored is produced for unknown actions: forward compatibility with server
// additions, never an error.
type Ignored struct {
	Action string
}

func (MessageReceived) isEvent() {}
func (Typing) isEvent()          {}
func (Reaction) isEvent()        {}
func (MessageDeleted) isEvent()  {}
func (Ignored) isEvent()         {}

type envelope struct {
	Action string `json:"action"`
}

type messageReceiveFrame struct {
	Message *model.Message `json:"message"`
	TempID  string         `json:"tempId"`
}

type typingFrame struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       *bool  `json:"isTyping"`
}

type reactionFrame struct {
	ConversationID   string              `json:"conversationId"`
	MessageID        string              `json:"messageId"`
	MessageTimestamp int64               `json:"messageTimestamp"`
	UserID           string              `json:"userId"`
	Emoji            string              `json:"emoji"`
	Reactions        map[string][]string `json:"reactions"`
}

type deletedFrame struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	DeletedBy      string    `json:"deletedBy"`
	DeletedAt      time.Time `json:"deletedAt"`
}

// Decode parses a raw inbound frame into a domain event. Malformed JSON or
// missing required fields for a known action is an error (the caller logs and
// drops the frame); unknown actions decode to Ignored.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Action {
	case ActionMessageReceive:
		var f messageReceiveFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Action, err)
		}
		if f.Message == nil || f.Message.ID == "" || f.Message.ConversationID == "" {
			return nil, fmt.Errorf("decode %s: missing message fields", env.Action)
		}
		return MessageReceived{Message: *f.Message, TempID: f.TempID}, nil

	case ActionMessageTyping:
		var f typingFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Action, err)
		}
		if f.ConversationID == "" || f.UserID == "" || f.IsTyping == nil {
			return nil, fmt.Errorf("decode %s: missing required fields", env.Action)
		}
		return Typing{ConversationID: f.ConversationID, UserID: f.UserID, IsTyping: *f.IsTyping}, nil

	case ActionMessageReaction:
		var f reactionFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Action, err)
		}
		if f.ConversationID == "" || f.MessageID == "" || f.UserID == "" || f.Emoji == "" {
			return nil, fmt.Errorf("decode %s: missing required fields", env.Action)
		}
		if f.Reactions == nil {
			f.Reactions = map[string][]string{}
		}
		return Reaction{
			ConversationID:   f.ConversationID,
			MessageID:        f.MessageID,
			MessageTimestamp: f.MessageTimestamp,
			UserID:           f.UserID,
			Emoji:            f.Emoji,
			Reactions:        f.Reactions,
		}, nil

	case ActionMessageDeleted:
		var f deletedFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Action, err)
		}
		if f.ConversationID == "" || f.MessageID == "" {
			return nil, fmt.Errorf("decode %s: missing required fields", env.Action)
		}
		return MessageDeleted{
			ConversationID: f.ConversationID,
			MessageID:      f.MessageID,
			DeletedBy:      f.DeletedBy,
			DeletedAt:      f.DeletedAt,
		}, nil

	default:
		return Ignored{Action: env.Action}, nil
	}
}
