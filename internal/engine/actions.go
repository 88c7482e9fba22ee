package engine

import (
	"context"
	"errors"

	"github.com/chatcore/internal/cache"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/protocol"
	"github.com/chatcore/internal/transport"
)

// SendOptions carries the optional parts of an outbound message.
type SendOptions struct {
	ReplyToID         string
	Attachment        *model.Attachment
	TranslateDocument bool
}

// SendMessage appends an optimistic message (status sending), registers the
// pending send and emits the message:send frame. When the transport is
// disconnected the frame is dropped with a warning and the optimistic entry
// stays in sending status; the caller decides how to surface that.
func (e *Engine) SendMessage(conversationID, content string, msgType model.MessageType, opts SendOptions) model.Message {
	if msgType == "" {
		msgType = model.MessageTypeText
	}

	e.mu.Lock()
	now := e.now()
	tempID := model.NewTempID(now)
	msg := model.Message{
		ID:              tempID,
		ConversationID:  conversationID,
		SenderID:        e.selfID,
		OriginalContent: content,
		Type:            msgType,
		Status:          model.MessageStatusSending,
		ReplyToID:       opts.ReplyToID,
		Attachment:      opts.Attachment,
		CreatedAt:       now,
	}
	if conversationID == e.activeID {
		e.messages = append(e.messages, msg)
	}
	e.pending.Register(tempID, e.selfID, content, now)
	e.mu.Unlock()

	frame := protocol.SendMessage(protocol.SendMessageData{
		ConversationID:    conversationID,
		Content:           content,
		Type:              msgType,
		TempID:            tempID,
		Attachment:        opts.Attachment,
		ReplyToID:         opts.ReplyToID,
		TranslateDocument: opts.TranslateDocument,
	})
	if err := e.transport.Send(frame); err != nil {
		logger.Errorf("engine: send message %s: %v (stays in sending status)", tempID, err)
	}

	e.publish()
	return msg
}

// SetTyping emits a typing indicator for the active conversation.
func (e *Engine) SetTyping(isTyping bool) {
	e.mu.Lock()
	convID := e.activeID
	e.mu.Unlock()
	if convID == "" {
		return
	}
	e.sendBestEffort(protocol.SendTyping(convID, isTyping))
}

// MarkRead resets the active conversation's unread counter and emits the
// read receipt.
func (e *Engine) MarkRead() {
	e.mu.Lock()
	convID := e.activeID
	if convID != "" {
		for i := range e.conversations {
			if e.conversations[i].ID == convID {
				e.conversations[i] = e.conversations[i].WithUnreadCount(0)
				break
			}
		}
	}
	e.mu.Unlock()
	if convID == "" {
		return
	}
	e.sendBestEffort(protocol.SendRead(convID))
	e.publish()
	e.writeConversationsToCache()
}

// React emits a reaction for a message in the active conversation. Local
// state updates when the server echoes the message:reaction event.
func (e *Engine) React(messageID, emoji string) {
	e.mu.Lock()
	convID := e.activeID
	e.mu.Unlock()
	if convID == "" {
		return
	}
	e.sendBestEffort(protocol.SendReaction(convID, messageID, emoji))
}

// SelectConversation switches the active conversation: leave the previous
// one, set the active pointer, then send join. Activation strictly precedes
// the join frame so an inbound message arriving between join and activation
// cannot be dropped by the active-conversation gate. Pagination state resets
// and the first page of history is fetched asynchronously.
func (e *Engine) SelectConversation(ctx context.Context, conversationID string) {
	e.mu.Lock()
	prev := e.activeID
	e.mu.Unlock()

	if prev != "" && prev != conversationID {
		e.sendBestEffort(protocol.LeaveConversation(prev))
	}

	e.mu.Lock()
	e.activeID = conversationID
	e.messages = nil
	e.cursor = ""
	e.hasMore = false
	e.loading = true
	e.generation++
	gen := e.generation
	delete(e.typing, prev)
	for i := range e.conversations {
		if e.conversations[i].ID == conversationID {
			e.conversations[i] = e.conversations[i].WithUnreadCount(0)
			break
		}
	}
	e.mu.Unlock()

	e.sendBestEffort(protocol.JoinConversation(conversationID))
	e.publish()

	go e.loadFirstPage(ctx, conversationID, gen)
}

// ClearActiveConversation leaves the conversation and resets the session's
// per-conversation state in full: visible messages, confirmed ids and
// pending sends.
func (e *Engine) ClearActiveConversation() {
	e.mu.Lock()
	prev := e.activeID
	e.mu.Unlock()
	if prev != "" {
		e.sendBestEffort(protocol.LeaveConversation(prev))
	}

	e.mu.Lock()
	e.activeID = ""
	e.messages = nil
	e.cursor = ""
	e.hasMore = false
	e.loading = false
	e.generation++
	e.confirmed.Clear()
	delete(e.typing, prev)
	e.mu.Unlock()

	e.pending.Clear()
	e.publish()
}

// LoadMore fetches the next (older) history page and prepends it. It only
// proceeds when more pages exist, no load is in flight and a cursor is
// present; a concurrent call is simply ignored.
func (e *Engine) LoadMore(ctx context.Context) {
	e.mu.Lock()
	if !e.hasMore || e.loading || e.cursor == "" {
		e.mu.Unlock()
		return
	}
	e.loading = true
	convID := e.activeID
	cursor := e.cursor
	gen := e.generation
	e.mu.Unlock()

	go func() {
		page, err := e.api.GetMessages(ctx, convID, e.pageSize, cursor)

		e.mu.Lock()
		e.loading = false
		if err != nil {
			e.mu.Unlock()
			logger.Errorf("engine: load more %s: %v", convID, err)
			return
		}
		if e.generation != gen || e.activeID != convID {
			e.mu.Unlock()
			logger.Debugf("engine: stale page for %s discarded", convID)
			return
		}
		e.messages = append(page.Messages, e.messages...)
		e.cursor = page.NextCursor
		e.hasMore = page.HasMore
		e.mu.Unlock()

		e.publish()
		e.asyncCacheWrite("insert page", func(ctx context.Context, s cache.Store) error {
			return s.InsertAndCleanup(ctx, convID, page.Messages, e.cacheMax)
		})
	}()
}

// LoadConversations fetches the conversation list from the REST collaborator
// and replaces the local one.
func (e *Engine) LoadConversations(ctx context.Context) error {
	convs, err := e.api.GetConversations(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.conversations = convs
	e.sortConversationsLocked()
	e.mu.Unlock()
	e.publish()
	e.writeConversationsToCache()
	return nil
}

// loadFirstPage serves the cached sequence immediately (offline-first), then
// replaces it with the fetched page. Every completion re-checks that the
// active conversation and generation are unchanged before applying, so a
// stale load can never overwrite a newer selection's state.
func (e *Engine) loadFirstPage(ctx context.Context, conversationID string, gen uint64) {
	if e.store != nil {
		cached, err := e.store.GetByConversationID(ctx, conversationID)
		if err != nil {
			logger.Errorf("engine: cache read %s: %v", conversationID, err)
		} else if len(cached) > 0 {
			e.mu.Lock()
			if e.generation == gen && e.activeID == conversationID && len(e.messages) == 0 {
				e.messages = cached
			}
			e.mu.Unlock()
			e.publish()
		}
	}

	page, err := e.api.GetMessages(ctx, conversationID, e.pageSize, "")

	e.mu.Lock()
	if e.generation != gen || e.activeID != conversationID {
		e.mu.Unlock()
		logger.Debugf("engine: stale first page for %s discarded", conversationID)
		return
	}
	e.loading = false
	if err != nil {
		e.mu.Unlock()
		logger.Errorf("engine: load messages %s: %v", conversationID, err)
		return
	}
	// Messages that arrived while the fetch was in flight (optimistic sends,
	// live socket events) stay appended after the fetched history.
	inPage := make(map[string]struct{}, len(page.Messages))
	for _, m := range page.Messages {
		inPage[m.ID] = struct{}{}
	}
	var live []model.Message
	for _, m := range e.messages {
		if _, ok := inPage[m.ID]; !ok {
			live = append(live, m)
		}
	}
	e.messages = append(page.Messages, live...)
	e.cursor = page.NextCursor
	e.hasMore = page.HasMore
	e.mu.Unlock()

	e.publish()
	e.asyncCacheWrite("insert page", func(ctx context.Context, s cache.Store) error {
		return s.InsertAndCleanup(ctx, conversationID, page.Messages, e.cacheMax)
	})
}

func (e *Engine) sendBestEffort(frame protocol.Frame) {
	if err := e.transport.Send(frame); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			logger.Errorf("engine: drop %s: not connected", frame.Action)
			return
		}
		logger.Errorf("engine: send %s: %v", frame.Action, err)
	}
}
