// Package memory is the in-process cache implementation, used in tests and
// when no Redis is configured.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/chatcore/internal/model"
)

type Client struct {
	mu            sync.RWMutex
	messages      map[string][]model.Message // conversation id -> oldest first
	msgIndex      map[string]string          // message id -> conversation id
	conversations []model.Conversation
}

func New() *Client {
	return &Client{
		messages: make(map[string][]model.Message),
		msgIndex: make(map[string]string),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) GetByConversationID(ctx context.Context, conversationID string) ([]model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.messages[conversationID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (c *Client) InsertAndCleanup(ctx context.Context, conversationID string, messages []model.Message, maxMessages int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := mergeByID(c.messages[conversationID], messages)
	if maxMessages > 0 && len(merged) > maxMessages {
		for _, m := range merged[:len(merged)-maxMessages] {
			delete(c.msgIndex, m.ID)
		}
		merged = merged[len(merged)-maxMessages:]
	}
	c.messages[conversationID] = merged
	for _, m := range merged {
		c.msgIndex[m.ID] = conversationID
	}
	return nil
}

func (c *Client) KeepLatestMessages(ctx context.Context, conversationID string, max int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.messages[conversationID]
	if max <= 0 || len(msgs) <= max {
		return nil
	}
	for _, m := range msgs[:len(msgs)-max] {
		delete(c.msgIndex, m.ID)
	}
	c.messages[conversationID] = msgs[len(msgs)-max:]
	return nil
}

func (c *Client) ReplaceAll(ctx context.Context, conversations []model.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = make([]model.Conversation, len(conversations))
	copy(c.conversations, conversations)
	return nil
}

// Conversations returns the cached conversation list. Not part of the Store
// contract; used by tests to observe ReplaceAll.
func (c *Client) Conversations() []model.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Conversation, len(c.conversations))
	copy(out, c.conversations)
	return out
}

func (c *Client) MarkAsDeleted(ctx context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	convID, ok := c.msgIndex[messageID]
	if !ok {
		return nil
	}
	msgs := c.messages[convID]
	for i, m := range msgs {
		if m.ID == messageID {
			msgs[i] = m.AsDeleted(m.DeletedBy, time.Now().UTC())
			break
		}
	}
	return nil
}

func (c *Client) UpdateReactions(ctx context.Context, messageID string, reactionsJSON string) error {
	var reactions map[string][]string
	if err := json.Unmarshal([]byte(reactionsJSON), &reactions); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	convID, ok := c.msgIndex[messageID]
	if !ok {
		return nil
	}
	msgs := c.messages[convID]
	for i, m := range msgs {
		if m.ID == messageID {
			msgs[i] = m.WithReactions(reactions)
			break
		}
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages[conversationID] {
		delete(c.msgIndex, m.ID)
	}
	delete(c.messages, conversationID)
	return nil
}

func (c *Client) DeleteAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make(map[string][]model.Message)
	c.msgIndex = make(map[string]string)
	c.conversations = nil
	return nil
}

// mergeByID replaces existing entries by id, appends the rest and re-sorts by
// createdAt ascending.
func mergeByID(existing, incoming []model.Message) []model.Message {
	byID := make(map[string]int, len(existing))
	merged := make([]model.Message, len(existing))
	copy(merged, existing)
	for i, m := range merged {
		byID[m.ID] = i
	}
	for _, m := range incoming {
		if i, ok := byID[m.ID]; ok {
			merged[i] = m
			continue
		}
		byID[m.ID] = len(merged)
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}
