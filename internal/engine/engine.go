// Package engine owns the authoritative per-conversation message sequence. It
// merges inbound socket events with pending optimistic sends, de-duplicates
// deliveries and decides what becomes visible. All state lives behind a single
// mutex; every operation executes atomically as one unit, and events are
// applied in the exact order the transport delivers them.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatcore/internal/cache"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/pending"
	"github.com/chatcore/internal/protocol"
	"github.com/chatcore/internal/rest"
	"github.com/chatcore/internal/transport"
)

const (
	defaultPageSize    = 50
	defaultCacheMaxMsg = 200
	snapshotBufSize    = 16
)

// Transport is the outbound side of the socket as the engine sees it.
// *transport.Session implements it.
type Transport interface {
	Send(protocol.Frame) error
}

// API is the REST collaborator surface the engine consumes.
// *rest.Client implements it.
type API interface {
	GetConversations(ctx context.Context) ([]model.Conversation, error)
	GetMessages(ctx context.Context, conversationID string, limit int, cursor string) (rest.MessagesPage, error)
}

// Options configures a new Engine. The engine is an explicitly constructed
// component: created at session start, closed at logout.
type Options struct {
	SelfID    string
	Transport Transport
	API       API
	Store     cache.Store // optional; nil disables the cache writer

	PendingTTL       time.Duration
	ConfirmedIDCap   int
	PageSize         int
	CacheMaxMessages int

	Now func() time.Time // test hook; defaults to time.Now
}

// Snapshot is the published view of engine state. Reads never block the
// writer: each snapshot is a copy.
type Snapshot struct {
	Connected     bool
	Conversations []model.Conversation
	ActiveID      string
	Messages      []model.Message
	Typing        map[string][]string
	HasMore       bool
}

// Engine is the reconciliation core.
type Engine struct {
	selfID    string
	transport Transport
	api       API
	store     cache.Store
	pageSize  int
	cacheMax  int
	now       func() time.Time

	mu            sync.Mutex
	connected     bool
	conversations []model.Conversation
	messages      []model.Message // visible sequence of the active conversation
	typing        map[string]map[string]struct{}
	activeID      string
	cursor        string
	hasMore       bool
	loading       bool
	generation    uint64 // bumped on select/clear; guards stale async results
	subs          []chan Snapshot

	pending   *pending.Tracker
	confirmed *confirmedSet

	// cacheCtx bounds the async best-effort cache writes.
	cacheCtx    context.Context
	cacheCancel context.CancelFunc
	cacheWG     sync.WaitGroup
}

// New constructs the engine. Transport and API are required; Store is
// advisory and may be nil.
func New(opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.CacheMaxMessages <= 0 {
		opts.CacheMaxMessages = defaultCacheMaxMsg
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		selfID:      opts.SelfID,
		transport:   opts.Transport,
		api:         opts.API,
		store:       opts.Store,
		pageSize:    opts.PageSize,
		cacheMax:    opts.CacheMaxMessages,
		now:         now,
		typing:      make(map[string]map[string]struct{}),
		pending:     pending.NewTracker(opts.PendingTTL),
		confirmed:   newConfirmedSet(opts.ConfirmedIDCap),
		cacheCtx:    ctx,
		cacheCancel: cancel,
	}
}

// Run consumes the transport's event stream until ctx is cancelled or the
// stream closes. Decode errors are logged and the frame dropped; the loop
// never stops on a bad frame.
func (e *Engine) Run(ctx context.Context, events <-chan transport.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case transport.EventConnected:
				e.mu.Lock()
				e.connected = true
				e.mu.Unlock()
				e.publish()
			case transport.EventDisconnected:
				e.mu.Lock()
				e.connected = false
				e.mu.Unlock()
				e.publish()
			case transport.EventFrameReceived:
				domainEv, err := protocol.Decode(ev.Frame)
				if err != nil {
					logger.Errorf("engine: drop frame: %v", err)
					continue
				}
				e.HandleEvent(domainEv)
			}
		}
	}
}

// Close stops the cache writer and waits for in-flight writes.
func (e *Engine) Close() {
	e.cacheCancel()
	e.cacheWG.Wait()
}

// Subscribe registers a snapshot consumer. Slow consumers miss intermediate
// snapshots but always receive a later, complete one.
func (e *Engine) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, snapshotBufSize)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}

// Snapshot returns the current state as a copy.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	convs := make([]model.Conversation, len(e.conversations))
	copy(convs, e.conversations)
	msgs := make([]model.Message, len(e.messages))
	copy(msgs, e.messages)
	typing := make(map[string][]string, len(e.typing))
	for convID, users := range e.typing {
		ids := make([]string, 0, len(users))
		for id := range users {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		typing[convID] = ids
	}
	return Snapshot{
		Connected:     e.connected,
		Conversations: convs,
		ActiveID:      e.activeID,
		Messages:      msgs,
		Typing:        typing,
		HasMore:       e.hasMore,
	}
}

func (e *Engine) publish() {
	e.mu.Lock()
	snap := e.snapshotLocked()
	subs := e.subs
	e.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			logger.Debugf("engine: slow subscriber, snapshot skipped")
		}
	}
}

// asyncCacheWrite runs a best-effort store operation off the reconciliation
// path. Failures are logged and never propagated.
func (e *Engine) asyncCacheWrite(op string, fn func(ctx context.Context, s cache.Store) error) {
	if e.store == nil {
		return
	}
	e.cacheWG.Add(1)
	go func() {
		defer e.cacheWG.Done()
		if err := fn(e.cacheCtx, e.store); err != nil {
			logger.Errorf("engine: cache %s: %v", op, err)
		}
	}()
}

func (e *Engine) indexOfMessageLocked(id string) int {
	for i := range e.messages {
		if e.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) sortConversationsLocked() {
	sort.SliceStable(e.conversations, func(i, j int) bool {
		return e.conversations[i].UpdatedAt.After(e.conversations[j].UpdatedAt)
	})
}
