// Package window keeps the per-conversation message buffers.
//
// Each conversation key (channel + thread) owns one bounded tail buffer:
// appends go to the tail in arrival order, the head is dropped once the
// bound is exceeded. A window has no fixed end; "closing" a conversation
// is implicit via no further arrivals, at which point the idle sweep
// eventually reclaims the key.
package window

import (
	"sync"
	"time"

	"beepbot/internal/chat"
)

const defaultLimit = 20

// Store owns all window contents. Appends for distinct keys proceed
// concurrently; operations on the same key are linearized by the
// per-buffer lock.
type Store struct {
	mu    sync.RWMutex
	limit int
	wins  map[chat.ConversationKey]*buffer

	now func() time.Time // test hook
}

type buffer struct {
	mu       sync.Mutex
	msgs     []chat.Message
	lastSeen time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Store{
		limit: limit,
		wins:  map[chat.ConversationKey]*buffer{},
		now:   time.Now,
	}
}

// Limit returns the configured per-key bound.
func (s *Store) Limit() int { return s.limit }

func (s *Store) bufferFor(key chat.ConversationKey) *buffer {
	s.mu.RLock()
	b := s.wins[key]
	s.mu.RUnlock()
	if b != nil {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b = s.wins[key]; b == nil {
		b = &buffer{}
		s.wins[key] = b
	}
	return b
}

// Append adds the message to the tail of the window for its key,
// creating the window if absent, and drops from the head past the bound.
func (s *Store) Append(key chat.ConversationKey, m chat.Message) {
	b := s.bufferFor(key)

	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	if n := len(b.msgs) - s.limit; n > 0 {
		// Copy down instead of reslicing so dropped heads don't pin the
		// backing array.
		copy(b.msgs, b.msgs[n:])
		b.msgs = b.msgs[:s.limit]
	}
	b.lastSeen = s.now()
	b.mu.Unlock()
}

// Snapshot returns a copy of the window in arrival order. Later appends
// never mutate a returned snapshot.
func (s *Store) Snapshot(key chat.ConversationKey) []chat.Message {
	s.mu.RLock()
	b := s.wins[key]
	s.mu.RUnlock()
	if b == nil {
		return nil
	}

	b.mu.Lock()
	out := append([]chat.Message(nil), b.msgs...)
	b.mu.Unlock()
	return out
}

// Size returns the current window length for key (0 if absent).
func (s *Store) Size(key chat.ConversationKey) int {
	s.mu.RLock()
	b := s.wins[key]
	s.mu.RUnlock()
	if b == nil {
		return 0
	}

	b.mu.Lock()
	n := len(b.msgs)
	b.mu.Unlock()
	return n
}

// Keys returns the number of live conversation keys.
func (s *Store) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wins)
}

// EvictIdle removes windows with no appends for longer than ttl and
// returns how many were dropped. ttl <= 0 disables eviction.
func (s *Store) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, b := range s.wins {
		b.mu.Lock()
		idle := b.lastSeen.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(s.wins, key)
			evicted++
		}
	}
	return evicted
}
