// Package session keeps per-session conversation history. Each session is a
// bounded window of turns, oldest evicted first, and handles one in-flight
// query at a time so append ordering stays deterministic.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/acessolabs/lai-engine/engine/domain"
)

// DefaultMaxTurns bounds the history window per session.
const DefaultMaxTurns = 10

// Session is one conversation's state.
type Session struct {
	inflight chan struct{} // capacity 1, serializes queries

	mu       sync.Mutex
	turns    []domain.ConversationTurn
	maxTurns int
	lastSeen time.Time
}

// Acquire blocks until the session is free for a new query or the context
// ends. Callers must Release when the query finishes.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.inflight <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the session for the next query.
func (s *Session) Release() {
	select {
	case <-s.inflight:
	default:
	}
}

// Append records a turn, evicting the oldest when the window is full.
func (s *Session) Append(role domain.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, domain.ConversationTurn{Role: role, Content: content})
	if len(s.turns) > s.maxTurns {
		s.turns = s.turns[len(s.turns)-s.maxTurns:]
	}
}

// History returns a copy of the current window, oldest first.
func (s *Session) History() []domain.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConversationTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) seen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Store owns all live sessions.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	maxTurns int
	now      func() time.Time // for testing
}

// NewStore creates a session store. maxTurns <= 0 takes DefaultMaxTurns.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		sessions: make(map[string]*Session),
		maxTurns: maxTurns,
		now:      time.Now,
	}
}

// Get returns the session for id, creating it on first use.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		s = &Session{
			inflight: make(chan struct{}, 1),
			maxTurns: st.maxTurns,
		}
		st.sessions[id] = s
	}
	s.touch(st.now())
	return s
}

// Reset drops a session's history.
func (st *Store) Reset(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Sweep evicts sessions idle longer than maxIdle and reports how many were
// removed. Intended to run on a ticker from the process boundary.
func (st *Store) Sweep(maxIdle time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	cutoff := st.now().Add(-maxIdle)
	n := 0
	for id, s := range st.sessions {
		if s.seen().Before(cutoff) {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
