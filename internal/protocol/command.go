package protocol

import "github.com/chatcore/internal/model"

// Outbound actions.
const (
	ActionSendMessage       = "message:send"
	ActionTyping            = "message:typing"
	ActionRead              = "message:read"
	ActionJoinConversation  = "conversation:join"
	ActionLeaveConversation = "conversation:leave"
	ActionReaction          = "message:reaction"
)

// Frame is an outbound action frame: {"action": "<verb>", "data": {...}}.
type Frame struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

// Typed data payloads; map[string]any is avoided on the send path.

type SendMessageData struct {
	ConversationID    string            `json:"conversationId"`
	Content           string            `json:"content"`
	Type              model.MessageType `json:"type"`
	TempID            string            `json:"tempId"`
	Attachment        *model.Attachment `json:"attachment,omitempty"`
	ReplyToID         string            `json:"replyToId,omitempty"`
	TranslateDocument bool              `json:"translateDocument,omitempty"`
}

type TypingData struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type ReadData struct {
	ConversationID string `json:"conversationId"`
}

type ConversationData struct {
	ConversationID string `json:"conversationId"`
}

type ReactionData struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
}

// SendMessage builds a message:send frame.
func SendMessage(data SendMessageData) Frame {
	return Frame{Action: ActionSendMessage, Data: data}
}

// SendTyping builds a message:typing frame.
func SendTyping(conversationID string, isTyping bool) Frame {
	return Frame{Action: ActionTyping, Data: TypingData{ConversationID: conversationID, IsTyping: isTyping}}
}

// SendRead builds a message:read frame.
func SendRead(conversationID string) Frame {
	return Frame{Action: ActionRead, Data: ReadData{ConversationID: conversationID}}
}

// JoinConversation builds a conversation:join frame.
func JoinConversation(conversationID string) Frame {
	return Frame{Action: ActionJoinConversation, Data: ConversationData{ConversationID: conversationID}}
}

// LeaveConversation builds a conversation:leave frame.
func LeaveConversation(conversationID string) Frame {
	return Frame{Action: ActionLeaveConversation, Data: ConversationData{ConversationID: conversationID}}
}

// SendReaction builds a message:reaction frame.
func SendReaction(conversationID, messageID, emoji string) Frame {
	return Frame{Action: ActionReaction, Data: ReactionData{ConversationID: conversationID, MessageID: messageID, Emoji: emoji}}
}
