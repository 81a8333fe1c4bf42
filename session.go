package tutorgate

import (
	"sync"
	"time"
)

// Sessions is the in-process short-term conversation memory. Each session
// keeps at most maxTurns turns; the oldest are dropped first. Sessions are
// independent: appends to one never wait on another.
type Sessions struct {
	maxTurns int
	entries  sync.Map // session id -> *sessionEntry
	now      func() time.Time
}

type sessionEntry struct {
	mu       sync.Mutex
	turns    []Turn
	lastUsed time.Time
	deleted  bool
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithSessionsClock overrides the clock used to stamp turns and idle times.
func WithSessionsClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) { s.now = now }
}

// NewSessions creates a session store keeping at most maxTurns turns per
// session. A non-positive maxTurns uses DefaultMaxTurns.
func NewSessions(maxTurns int, opts ...SessionsOption) *Sessions {
	if maxTurns < 1 {
		maxTurns = DefaultMaxTurns
	}
	s := &Sessions{maxTurns: maxTurns, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a snapshot of the session. An unknown session is empty.
func (s *Sessions) Get(sessionID string) SessionState {
	state := SessionState{ID: sessionID}

	v, ok := s.entries.Load(sessionID)
	if !ok {
		return state
	}
	e := v.(*sessionEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return state
	}
	state.Turns = append([]Turn(nil), e.turns...)
	return state
}

// Append adds turns to the session as one unit, so a student message and the
// reply to it are never interleaved with another request's turns.
func (s *Sessions) Append(sessionID string, turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	now := s.now()

	for {
		v, _ := s.entries.LoadOrStore(sessionID, &sessionEntry{})
		e := v.(*sessionEntry)

		e.mu.Lock()
		if e.deleted {
			// Lost a race with Delete; the next LoadOrStore creates a fresh entry.
			e.mu.Unlock()
			continue
		}
		for _, t := range turns {
			if t.At.IsZero() {
				t.At = now
			}
			e.turns = append(e.turns, t)
		}
		if over := len(e.turns) - s.maxTurns; over > 0 {
			e.turns = append(e.turns[:0:0], e.turns[over:]...)
		}
		e.lastUsed = now
		e.mu.Unlock()
		return
	}
}

// Delete drops the session.
func (s *Sessions) Delete(sessionID string) {
	v, ok := s.entries.LoadAndDelete(sessionID)
	if !ok {
		return
	}
	e := v.(*sessionEntry)
	e.mu.Lock()
	e.deleted = true
	e.turns = nil
	e.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// IdleSince returns the ids of sessions not appended to since cutoff.
// Eviction is left to the caller.
func (s *Sessions) IdleSince(cutoff time.Time) []string {
	var ids []string
	s.entries.Range(func(k, v any) bool {
		e := v.(*sessionEntry)
		e.mu.Lock()
		idle := !e.deleted && e.lastUsed.Before(cutoff)
		e.mu.Unlock()
		if idle {
			ids = append(ids, k.(string))
		}
		return true
	})
	return ids
}
