package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chatcore/internal/cache"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/protocol"
)

// HandleEvent applies one inbound domain event. The whole application is a
// single critical section, so interleaved calls from Run and the action
// methods cannot observe partial state.
func (e *Engine) HandleEvent(ev protocol.Event) {
	defer logger.DeferLogDuration("Engine.HandleEvent", time.Now())()

	switch ev := ev.(type) {
	case protocol.MessageReceived:
		e.applyMessageReceived(ev)
	case protocol.Typing:
		e.applyTyping(ev)
	case protocol.Reaction:
		e.applyReaction(ev)
	case protocol.MessageDeleted:
		e.applyMessageDeleted(ev)
	case protocol.Ignored:
		logger.Debugf("engine: ignored action %q", ev.Action)
		return
	}
	e.publish()
}

// applyMessageReceived reconciles a server-confirmed message with the visible
// sequence and any pending optimistic send.
func (e *Engine) applyMessageReceived(ev protocol.MessageReceived) {
	msg := ev.Message
	now := e.now()

	e.mu.Lock()

	// Bulk-evict the confirmed set before processing once the bound was
	// exceeded by a previous event.
	e.confirmed.EnsureBound()

	// Idempotent re-delivery: already reconciled, drop.
	if e.confirmed.Has(msg.ID) {
		e.mu.Unlock()
		return
	}

	tempID := ev.TempID
	if tempID == "" {
		// No correlation id: try the time-boxed fallback match against
		// pending sends.
		tempID = e.pending.FindFallbackMatch(msg, now)
	}

	if tempID != "" {
		if i := e.indexOfMessageLocked(tempID); i >= 0 {
			// Confirmation: the optimistic entry transitions from temp id to
			// server id exactly once, in place.
			e.messages[i] = msg
		} else if msg.ConversationID == e.activeID && e.indexOfMessageLocked(msg.ID) < 0 {
			// Temp entry missing (race or already replaced): append instead.
			e.messages = append(e.messages, msg)
		}
		e.confirmed.Add(msg.ID)
		e.pending.Remove(tempID)
	} else if msg.ConversationID == e.activeID && e.indexOfMessageLocked(msg.ID) < 0 {
		// A message from another participant in the active conversation.
		e.messages = append(e.messages, msg)
		e.confirmed.Add(msg.ID)
	}

	// Independent of the outcome above: refresh the conversation entry and
	// re-sort by recency, even when the conversation is not the active one.
	e.touchConversationLocked(msg)

	e.mu.Unlock()

	e.asyncCacheWrite("insert message", func(ctx context.Context, s cache.Store) error {
		return s.InsertAndCleanup(ctx, msg.ConversationID, []model.Message{msg}, e.cacheMax)
	})
	e.writeConversationsToCache()
}

func (e *Engine) touchConversationLocked(msg model.Message) {
	for i := range e.conversations {
		if e.conversations[i].ID != msg.ConversationID {
			continue
		}
		conv := e.conversations[i].WithLastMessage(msg)
		if msg.ConversationID != e.activeID && msg.SenderID != e.selfID {
			conv = conv.WithUnreadCount(conv.UnreadCount + 1)
		}
		e.conversations[i] = conv
		e.sortConversationsLocked()
		return
	}
	logger.Debugf("engine: message for unknown conversation %s", msg.ConversationID)
}

// applyTyping toggles membership in the per-conversation typing set. Entries
// never expire: typing is advisory and a missed stop event only leaves a
// stale indicator.
func (e *Engine) applyTyping(ev protocol.Typing) {
	e.mu.Lock()
	defer e.mu.Unlock()
	users := e.typing[ev.ConversationID]
	if ev.IsTyping {
		if users == nil {
			users = make(map[string]struct{})
			e.typing[ev.ConversationID] = users
		}
		users[ev.UserID] = struct{}{}
		return
	}
	if users != nil {
		delete(users, ev.UserID)
		if len(users) == 0 {
			delete(e.typing, ev.ConversationID)
		}
	}
}

// applyReaction replaces the target message's reactions map wholesale with
// the event's map.
func (e *Engine) applyReaction(ev protocol.Reaction) {
	e.mu.Lock()
	if i := e.indexOfMessageLocked(ev.MessageID); i >= 0 {
		e.messages[i] = e.messages[i].WithReactions(ev.Reactions)
	}
	e.mu.Unlock()

	raw, err := json.Marshal(ev.Reactions)
	if err != nil {
		logger.Errorf("engine: encode reactions: %v", err)
		return
	}
	e.asyncCacheWrite("update reactions", func(ctx context.Context, s cache.Store) error {
		return s.UpdateReactions(ctx, ev.MessageID, string(raw))
	})
}

// applyMessageDeleted tombstones the message in place; positions in the
// sequence stay stable for the UI.
func (e *Engine) applyMessageDeleted(ev protocol.MessageDeleted) {
	e.mu.Lock()
	if i := e.indexOfMessageLocked(ev.MessageID); i >= 0 {
		e.messages[i] = e.messages[i].AsDeleted(ev.DeletedBy, ev.DeletedAt)
	}
	e.mu.Unlock()

	e.asyncCacheWrite("mark deleted", func(ctx context.Context, s cache.Store) error {
		return s.MarkAsDeleted(ctx, ev.MessageID)
	})
}

func (e *Engine) writeConversationsToCache() {
	e.mu.Lock()
	convs := make([]model.Conversation, len(e.conversations))
	copy(convs, e.conversations)
	e.mu.Unlock()
	e.asyncCacheWrite("replace conversations", func(ctx context.Context, s cache.Store) error {
		return s.ReplaceAll(ctx, convs)
	})
}
