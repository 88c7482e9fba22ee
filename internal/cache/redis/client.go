// Package redis implements the cache contract on Redis. Message sequences are
// stored as one JSON array per conversation under messages:{conversationId},
// the conversation list under a single conversations key, and a per-message
// index under msgconv:{messageId} for the by-id operations.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/chatcore/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	messagesKeyPrefix = "messages:"
	msgIndexKeyPrefix = "msgconv:"
	conversationsKey  = "conversations"
)

type Client struct {
	cli *redis.Client
	ttl time.Duration // 0 means keys do not expire
}

// New connects and pings; ttl bounds the lifetime of cached keys.
func New(ctx context.Context, url string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) GetByConversationID(ctx context.Context, conversationID string) ([]model.Message, error) {
	raw, err := c.cli.Get(ctx, messagesKeyPrefix+conversationID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get messages: %w", err)
	}
	var msgs []model.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("redis decode messages: %w", err)
	}
	return msgs, nil
}

func (c *Client) InsertAndCleanup(ctx context.Context, conversationID string, messages []model.Message, maxMessages int) error {
	existing, err := c.GetByConversationID(ctx, conversationID)
	if err != nil {
		return err
	}
	merged := mergeByID(existing, messages)
	if maxMessages > 0 && len(merged) > maxMessages {
		for _, m := range merged[:len(merged)-maxMessages] {
			c.cli.Del(ctx, msgIndexKeyPrefix+m.ID)
		}
		merged = merged[len(merged)-maxMessages:]
	}
	if err := c.setJSON(ctx, messagesKeyPrefix+conversationID, merged); err != nil {
		return err
	}
	for _, m := range merged {
		if err := c.cli.Set(ctx, msgIndexKeyPrefix+m.ID, conversationID, c.ttl).Err(); err != nil {
			return fmt.Errorf("redis set index: %w", err)
		}
	}
	return nil
}

func (c *Client) KeepLatestMessages(ctx context.Context, conversationID string, max int) error {
	msgs, err := c.GetByConversationID(ctx, conversationID)
	if err != nil {
		return err
	}
	if max <= 0 || len(msgs) <= max {
		return nil
	}
	for _, m := range msgs[:len(msgs)-max] {
		c.cli.Del(ctx, msgIndexKeyPrefix+m.ID)
	}
	return c.setJSON(ctx, messagesKeyPrefix+conversationID, msgs[len(msgs)-max:])
}

func (c *Client) ReplaceAll(ctx context.Context, conversations []model.Conversation) error {
	return c.setJSON(ctx, conversationsKey, conversations)
}

func (c *Client) MarkAsDeleted(ctx context.Context, messageID string) error {
	return c.updateMessage(ctx, messageID, func(m model.Message) model.Message {
		return m.AsDeleted(m.DeletedBy, time.Now().UTC())
	})
}

func (c *Client) UpdateReactions(ctx context.Context, messageID string, reactionsJSON string) error {
	var reactions map[string][]string
	if err := json.Unmarshal([]byte(reactionsJSON), &reactions); err != nil {
		return fmt.Errorf("redis decode reactions: %w", err)
	}
	return c.updateMessage(ctx, messageID, func(m model.Message) model.Message {
		return m.WithReactions(reactions)
	})
}

func (c *Client) Delete(ctx context.Context, conversationID string) error {
	msgs, err := c.GetByConversationID(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		c.cli.Del(ctx, msgIndexKeyPrefix+m.ID)
	}
	return c.cli.Del(ctx, messagesKeyPrefix+conversationID).Err()
}

func (c *Client) DeleteAll(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}

func (c *Client) updateMessage(ctx context.Context, messageID string, apply func(model.Message) model.Message) error {
	convID, err := c.cli.Get(ctx, msgIndexKeyPrefix+messageID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get index: %w", err)
	}
	msgs, err := c.GetByConversationID(ctx, convID)
	if err != nil {
		return err
	}
	for i, m := range msgs {
		if m.ID == messageID {
			msgs[i] = apply(m)
			break
		}
	}
	return c.setJSON(ctx, messagesKeyPrefix+convID, msgs)
}

func (c *Client) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}
	if err := c.cli.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

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
