package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/protocol"
)

func TestDuplicateDeliveryIsDropped(t *testing.T) {
	e, _, _ := newTestEngine(t)
	selectAndWait(t, e, "c1")

	ev := protocol.MessageReceived{Message: serverMsg("m1", "c1", "u2", "hi", time.Now())}
	e.HandleEvent(ev)
	e.HandleEvent(ev)

	require.Len(t, e.Snapshot().Messages, 1)
}

func TestConfirmationReplacesOptimisticEntryInPlace(t *testing.T) {
	e, _, _ := newTestEngine(t)
	selectAndWait(t, e, "c1")

	e.HandleEvent(protocol.MessageReceived{Message: serverMsg("m1", "c1", "u2", "earlier", time.Now())})
	sent := e.SendMessage("c1", "hello", model.MessageTypeText, SendOptions{})
	require.True(t, model.IsTempID(sent.ID))
	require.Equal(t, 1, e.pending.Len())

	confirmed := serverMsg("m2", "c1", "me", "hello", time.Now())
	e.HandleEvent(protocol.MessageReceived{Message: confirmed, TempID: sent.ID})

	msgs := e.Snapshot().Messages
	require.Len(t, msgs, 2)
	// The optimistic entry swapped id in place, keeping its position.
	require.Equal(t, "m2", msgs[1].ID)
	require.Equal(t, model.MessageStatusSent, msgs[1].Status)
	require.Equal(t, 0, e.pending.Len())

	// Re-delivery of the confirmed id is a no-op.
	e.HandleEvent(protocol.MessageReceived{Message: confirmed, TempID: sent.ID})
	require.Len(t, e.Snapshot().Messages, 2)
}

func TestFallbackMatchConfirmsWithoutCorrelationID(t *testing.T) {
	e, _, _ := newTestEngine(t)
	selectAndWait(t, e, "c1")

	sent := e.SendMessage("c1", "hello", model.MessageTypeText, SendOptions{})

	// Echo without tempId: matched by sender and content inside the window.
	e.HandleEvent(protocol.MessageReceived{Message: serverMsg("m1", "c1", "me", "hello", time.Now())})

	msgs := e.Snapshot().Messages
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)
	require.NotEqual(t, sent.ID, msgs[0].ID)
	require.Equal(t, 0, e.pending.Len())
}

func TestConfirmationWithMissingTempEntryAppends(t *testing.T) {
	e, _, _ := newTestEngine(t)
	selectAndWait(t, e, "c1")

	sent := e.SendMessage("c2", "hello", model.MessageTypeText, SendOptions{})
	require.Empty(t, e.Snapshot().Messages)

	// Confirmation for the inactive conversation: nothing visible changes but
	// the pending send is settled.
	e.HandleEvent(protocol.MessageReceived{Message: serverMsg("m1", "c2", "me", "hello", time.Now()), TempID: sent.ID})
	require.Empty(t, e.Snapshot().Messages)
	require.Equal(t, 0, e.pending.Len())

	// A confirmation whose temp entry is gone from the visible sequence still
	// lands in the active conversation.
	sent2 := e.SendMessage("c1", "again", model.MessageTypeText, SendOptions{})
	e.mu.Lock()
	e.messages = nil
	e.mu.Unlock()
	e.HandleEvent(protocol.MessageReceived{Message: serverMsg("m2", "c1", "me", "again", time.Now()), TempID: sent2.ID})

	msgs := e.Snapshot().Messages
	require.Len(t, msgs, 1)
	require.Equal(t, "m2", msgs[0].ID)
}

func TestInactiveConversationMessageGatedButListed(t *testing.T) {
	e, _, api := newTestEngine(t)
	now := time.Now()
	seedConversations(t, e, api,
		model.Conversation{ID: "c1", Kind: model.ConversationKindDirect, UpdatedAt: now},
		model.Conversation{ID: "c2", Kind: model.ConversationKindDirect, UpdatedAt: now.Add(-time.Hour)},
	)
	selectAndWait(t, e, "c1")

	e.HandleEvent(protocol.MessageReceived{Message: serverMsg("m1", "c2", "u2", "psst", now.Add(time.Minute))})

	snap := e.Snapshot()
	require.Empty(t, snap.Messages, "message for an inactive conversation must not become visible")

	// The conversation entry still refreshed and moved to the top.
	require.Equal(t, "c2", snap.Conversations[0].ID)
	require.Equal(t, 1, snap.Conversations[0].UnreadCount)
	require.Equal(t, "m1", snap.Conversations[0].LastMessage.ID)
}

func TestOwnMessageDoesNotIncrementUnread(t *testing.T) {
	e, _, api := newTestEngine(t)
	now := time.Now()
	seedConversations(t, e, api,
		model.Conversation{ID: "c1", Kind: model.ConversationKindDirect, UpdatedAt: now},
		model.Conversation{ID: "c2", Kind: model.ConversationKindDirect, UpdatedAt: now.Add(-time.Hour)},
	)
	selectAndWait(t, e, "c1")

	// Own message echoed for another device's conversation.
	e.HandleEvent(protocol.MessageReceived{Message: serverMsg("m1", "c2", "me", "from my phone", now.Add(time.Minute))})

	snap := e.Snapshot()
	require.Equal(t, "c2", snap.Conversations[0].ID)
	require.Equal(t, 0, snap.Conversations[0].UnreadCount)
}

func TestConfirmedSetClearsAtBound(t *testing.T) {
	tr := &fakeTransport{}
	api := &fakeAPI{}
	e := New(Options{SelfID: "me", Transport: tr, API: api, ConfirmedIDCap: 500})
	t.Cleanup(e.Close)
	selectAndWait(t, e, "c1")

	now := time.Now()
	for i := 1; i <= 501; i++ {
		id := fmt.Sprintf("m%d", i)
		e.HandleEvent(protocol.MessageReceived{Message: serverMsg(id, "c1", "u2", id, now)})
	}
	require.Equal(t, 501, e.confirmed.Len())

	// The next event clears the overflowed set before reconciling, so only
	// its own id remains afterwards.
	e.HandleEvent(protocol.MessageReceived{Message: serverMsg("m502", "c1", "u2", "m502", now)})
	require.Equal(t, 1, e.confirmed.Len())
	require.True(t, e.confirmed.Has("m502"))

	// Idempotence still holds for visible messages via the sequence itself.
	e.HandleEvent(protocol.MessageReceived{Message: serverMsg("m1", "c1", "u2", "m1", now)})
	require.Len(t, e.Snapshot().Messages, 502)
}

func TestDeletedMessageTombstonedInPlace(t *testing.T) {
	e, _, _ := newTestEngine(t)
	selectAndWait(t, e, "c1")

	now := time.Now()
	for i, id := range []string{"m1", "m2", "m3"} {
		msg := serverMsg(id, "c1", "u2", "msg "+id, now.Add(time.Duration(i)*time.Second))
		msg.Reactions = map[string][]string{"👍": {"u3"}}
		e.HandleEvent(protocol.MessageReceived{Message: msg})
	}

	deletedAt := now.Add(time.Minute)
	e.HandleEvent(protocol.MessageDeleted{ConversationID: "c1", MessageID: "m2", DeletedBy: "u2", DeletedAt: deletedAt})

	msgs := e.Snapshot().Messages
	require.Len(t, msgs, 3)
	require.Equal(t, "m2", msgs[1].ID, "tombstone keeps its position")
	require.True(t, msgs[1].Deleted)
	require.Equal(t, model.DeletedPlaceholder, msgs[1].OriginalContent)
	require.Nil(t, msgs[1].Reactions)
	require.Equal(t, "u2", msgs[1].DeletedBy)
	require.False(t, msgs[0].Deleted)
	require.False(t, msgs[2].Deleted)
}

func TestReactionReplacesMapWholesale(t *testing.T) {
	e, _, _ := newTestEngine(t)
	selectAndWait(t, e, "c1")

	msg := serverMsg("m1", "c1", "u2", "hi", time.Now())
	msg.Reactions = map[string][]string{"👍": {"u2"}, "🔥": {"u3"}}
	e.HandleEvent(protocol.MessageReceived{Message: msg})

	e.HandleEvent(protocol.Reaction{
		ConversationID: "c1",
		MessageID:      "m1",
		UserID:         "u3",
		Emoji:          "👍",
		Reactions:      map[string][]string{"👍": {"u2", "u3"}},
	})

	got := e.Snapshot().Messages[0].Reactions
	require.Equal(t, map[string][]string{"👍": {"u2", "u3"}}, got)
	require.NotContains(t, got, "🔥", "stale keys are dropped with the old map")
}

func TestTypingToggle(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.HandleEvent(protocol.Typing{ConversationID: "c1", UserID: "u2", IsTyping: true})
	e.HandleEvent(protocol.Typing{ConversationID: "c1", UserID: "u3", IsTyping: true})
	require.Equal(t, []string{"u2", "u3"}, e.Snapshot().Typing["c1"])

	// Duplicate start events are idempotent.
	e.HandleEvent(protocol.Typing{ConversationID: "c1", UserID: "u2", IsTyping: true})
	require.Equal(t, []string{"u2", "u3"}, e.Snapshot().Typing["c1"])

	e.HandleEvent(protocol.Typing{ConversationID: "c1", UserID: "u2", IsTyping: false})
	require.Equal(t, []string{"u3"}, e.Snapshot().Typing["c1"])

	e.HandleEvent(protocol.Typing{ConversationID: "c1", UserID: "u3", IsTyping: false})
	require.NotContains(t, e.Snapshot().Typing, "c1")
}
