package callstate

import (
	"errors"
	"sync"
	"time"
)

// ErrUnknownCall is returned by [Store.End] for a call id with no live
// session.
var ErrUnknownCall = errors.New("callstate: unknown call id")

// Store owns all live sessions. Lookup and creation are safe for concurrent
// use; mutating a returned *Session still requires per-call serialization by
// the caller.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the live session for callID, creating one in state
// Normal if none exists. Creation is idempotent: telephony delivery gives no
// ordering guarantee, so an update arriving before any explicit call-start
// event simply starts the session. created reports whether this call made
// the session.
func (st *Store) GetOrCreate(callID string, now time.Time) (s *Session, created bool) {
	st.mu.RLock()
	s, ok := st.sessions[callID]
	st.mu.RUnlock()
	if ok {
		return s, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[callID]; ok {
		return s, false
	}
	s = newSession(callID, now)
	st.sessions[callID] = s
	return s, true
}

// Get returns the live session for callID, or nil.
func (st *Store) Get(callID string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[callID]
}

// End removes the session for callID and returns its post-call summary.
func (st *Store) End(callID string, now time.Time) (Summary, error) {
	st.mu.Lock()
	s, ok := st.sessions[callID]
	delete(st.sessions, callID)
	st.mu.Unlock()

	if !ok {
		return Summary{}, ErrUnknownCall
	}
	return s.summarize(now), nil
}

// Active returns the number of live sessions.
func (st *Store) Active() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
