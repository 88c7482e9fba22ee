package model

import "time"

type ConversationKind string

const (
	ConversationKindDirect ConversationKind = "direct"
	ConversationKindGroup  ConversationKind = "group"
)

// Conversation is owned by the reconciliation engine and mutated only through
// its operations; like Message it carries value semantics.
type Conversation struct {
	ID           string           `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Name         string           `json:"name,omitempty"`
	Picture      string           `json:"picture,omitempty"`
	Participants []string         `json:"participants"`
	LastMessage  *Message         `json:"lastMessage,omitempty"`
	UnreadCount  int              `json:"unreadCount"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// WithLastMessage returns a copy with lastMessage and updatedAt refreshed.
func (c Conversation) WithLastMessage(m Message) Conversation {
	msg := m
	c.LastMessage = &msg
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	return c
}

// WithUnreadCount returns a copy with the unread counter set.
func (c Conversation) WithUnreadCount(n int) Conversation {
	c.UnreadCount = n
	return c
}

// User is a chat participant as returned by the user-search collaborator.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
