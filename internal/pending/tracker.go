// Package pending tracks optimistic sends awaiting server confirmation, keyed
// by the client-generated temp id, with a time-boxed fallback-match heuristic
// for inbound messages that arrive without a correlation id.
package pending

import (
	"sync"
	"time"

	"github.com/chatcore/internal/model"
)

// DefaultTTL is the fallback-match window for a pending send.
const DefaultTTL = 30 * time.Second

type entry struct {
	tempID    string
	senderID  string
	content   string
	createdAt time.Time
}

// Tracker holds at most one entry per correlation id; multiple entries may
// coexist for different in-flight sends. Every lookup sweeps expired entries
// as a side effect, bounding memory without a timer.
type Tracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
}

// NewTracker creates a tracker with the given window; ttl <= 0 uses DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{ttl: ttl, entries: make(map[string]entry)}
}

// Register records a pending send. An existing entry for the same temp id is
// overwritten.
func (t *Tracker) Register(tempID, senderID, content string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
	t.entries[tempID] = entry{tempID: tempID, senderID: senderID, content: content, createdAt: now}
}

// Remove drops the entry for tempID, if any.
func (t *Tracker) Remove(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, tempID)
}

// FindFallbackMatch returns the temp id of a live entry matching the inbound
// message by sender and original content within the window, or "".
//
// Content equality is a heuristic: two genuinely different messages with
// identical content from the same sender inside the window would mismatch.
// True duplicates are rare within 30s, so the first live match wins.
func (t *Tracker) FindFallbackMatch(msg model.Message, now time.Time) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
	for _, e := range t.entries {
		if e.senderID == msg.SenderID && e.content == msg.OriginalContent {
			return e.tempID
		}
	}
	return ""
}

// SweepExpired removes entries older than the window.
func (t *Tracker) SweepExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
}

// Clear drops every entry (session reset).
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]entry)
}

// Len returns the number of live entries without sweeping.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker) sweepLocked(now time.Time) {
	for id, e := range t.entries {
		if now.Sub(e.createdAt) >= t.ttl {
			delete(t.entries, id)
		}
	}
}
