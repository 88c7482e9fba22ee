// Package cache defines the bounded local store used for offline-first
// loading of conversations and messages. The cache is best-effort and never a
// source of truth: every call failure is logged by the caller and reconciliation
// continues on in-memory state.
package cache

import (
	"context"

	"github.com/chatcore/internal/model"
)

// Store is the collaborator contract consumed by the client core.
// Implementations: redis.Client, memory.Client (also the test double).
type Store interface {
	// GetByConversationID returns the cached message sequence for a
	// conversation, oldest first.
	GetByConversationID(ctx context.Context, conversationID string) ([]model.Message, error)

	// InsertAndCleanup merges messages into the conversation's cached
	// sequence (by id) and trims it to the newest maxMessages entries.
	InsertAndCleanup(ctx context.Context, conversationID string, messages []model.Message, maxMessages int) error

	// KeepLatestMessages trims the conversation's cached sequence to the
	// newest max entries.
	KeepLatestMessages(ctx context.Context, conversationID string, max int) error

	// ReplaceAll replaces the cached conversation list wholesale.
	ReplaceAll(ctx context.Context, conversations []model.Conversation) error

	// MarkAsDeleted tombstones a cached message by id.
	MarkAsDeleted(ctx context.Context, messageID string) error

	// UpdateReactions replaces a cached message's reactions with the given
	// JSON-encoded emoji -> user-id map.
	UpdateReactions(ctx context.Context, messageID string, reactionsJSON string) error

	// Delete removes a conversation's cached messages.
	Delete(ctx context.Context, conversationID string) error

	// DeleteAll wipes the cache (logout).
	DeleteAll(ctx context.Context) error

	Close() error
}
