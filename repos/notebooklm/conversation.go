package notebooklm

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

// ConversationCache stores prior turns per conversation id.
// Safe for concurrent use; appends to one id are serialized.
type ConversationCache struct {
	mu    sync.Mutex
	items *cache.Cache

	// one slot per conversation that has a query in flight
	lockMu sync.Mutex
	locks  map[string]*conversationLock
}

type conversationLock struct {
	slot chan struct{}
	refs int
}

// NewConversationCache creates a cache. ttl <= 0 keeps conversations until cleared.
func NewConversationCache(ttl time.Duration) *ConversationCache {
	expiration, cleanup := cache.NoExpiration, time.Duration(0)
	if ttl > 0 {
		expiration, cleanup = ttl, ttl
	}
	return &ConversationCache{
		items: cache.New(expiration, cleanup),
		locks: make(map[string]*conversationLock),
	}
}

// Acquire blocks until no other caller holds conversationID, so that a
// query reads the history and appends its turn without interleaving.
// The returned func releases the conversation.
func (c *ConversationCache) Acquire(ctx context.Context, conversationID string) (func(), error) {
	c.lockMu.Lock()
	l, ok := c.locks[conversationID]
	if !ok {
		l = &conversationLock{slot: make(chan struct{}, 1)}
		c.locks[conversationID] = l
	}
	l.refs++
	c.lockMu.Unlock()

	select {
	case l.slot <- struct{}{}:
		return func() {
			<-l.slot
			c.releaseRef(conversationID, l)
		}, nil
	case <-ctx.Done():
		c.releaseRef(conversationID, l)
		return nil, ctx.Err()
	}
}

func (c *ConversationCache) releaseRef(conversationID string, l *conversationLock) {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, conversationID)
	}
}

func (c *ConversationCache) turns(conversationID string) []vo.ConversationTurn {
	if v, ok := c.items.Get(conversationID); ok {
		return v.([]vo.ConversationTurn)
	}
	return nil
}

// Append records a turn and returns it with its turn number
func (c *ConversationCache) Append(conversationID, query, answer string) vo.ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.turns(conversationID)
	turn := vo.ConversationTurn{Query: query, Answer: answer, TurnNumber: len(prev) + 1}

	next := make([]vo.ConversationTurn, len(prev), len(prev)+1)
	copy(next, prev)
	next = append(next, turn)
	c.items.SetDefault(conversationID, next)
	return turn
}

// History returns a copy of the turns of one conversation, oldest first
func (c *ConversationCache) History(conversationID string) []vo.ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.turns(conversationID)
	if len(prev) == 0 {
		return nil
	}
	out := make([]vo.ConversationTurn, len(prev))
	copy(out, prev)
	return out
}

// Len returns the number of turns cached for a conversation
func (c *ConversationCache) Len(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns(conversationID))
}

// BuildHistory renders the replay array for a follow-up query:
// [answer, null, 2], [query, null, 1] per turn, oldest first. Nil when empty.
func (c *ConversationCache) BuildHistory(conversationID string) []any {
	turns := c.History(conversationID)
	if len(turns) == 0 {
		return nil
	}

	history := make([]any, 0, 2*len(turns))
	for _, t := range turns {
		history = append(history,
			[]any{t.Answer, nil, vo.HistoryRoleAssistant},
			[]any{t.Query, nil, vo.HistoryRoleUser},
		)
	}
	return history
}

// Clear drops one conversation and reports whether it existed
func (c *ConversationCache) Clear(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items.Get(conversationID); !ok {
		return false
	}
	c.items.Delete(conversationID)
	return true
}
