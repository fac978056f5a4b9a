// Package session holds per-user conversational state: the bounded turn
// history used as LLM context, the currently active handler, and the
// last-activity timestamp used by staleness sweeps.
//
// The store re-architects the original shared per-user dictionaries as a
// keyed store with per-user mutual exclusion: turns for one user never
// overlap while turns for distinct users proceed in parallel. Callers
// hold the per-user lock for the whole turn, including external
// capability calls — that is deliberate, it is what keeps one user's
// turns from interleaving without blocking anyone else. Mutual exclusion
// is all this store promises; arrival ORDER across a user's turns is the
// transport dispatcher's job, since a mutex hands itself to waiters in
// no particular order.
package session

import (
	"sync"
	"time"
)

// MaxHistory is the number of turns kept per user. Older turns are dropped;
// insertion order is preserved because the history is fed to the LLM as
// conversational context.
const MaxHistory = 4

// Message is a single turn in a user's history.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Session is the mutable per-user state. It must only be accessed between
// Acquire and the corresponding release.
type Session struct {
	UserID        string
	ChatID        string
	ActiveHandler string
	History       []Message
	// PendingWorkflow marks that a confirmation workflow was opened for
	// this user. The workflow manager holds the instance itself; a set
	// marker with no instance means the workflow expired in between.
	PendingWorkflow bool
	LastSeen        time.Time
}

// Append adds a turn to the history, trimming to MaxHistory.
func (s *Session) Append(role, content string) {
	s.History = append(s.History, Message{Role: role, Content: content})
	if len(s.History) > MaxHistory {
		s.History = s.History[len(s.History)-MaxHistory:]
	}
}

// ResetHandler puts the session back on the store's default handler.
func (s *Session) ResetHandler(handler string) {
	s.ActiveHandler = handler
}

type entry struct {
	mu sync.Mutex
	s  *Session
}

// Store is a concurrency-safe keyed session store. Sessions are created on
// first acquire and retained for the process lifetime.
type Store struct {
	mu             sync.Mutex
	defaultHandler string
	entries        map[string]*entry
	now            func() time.Time
}

// NewStore creates a Store whose fresh sessions start on defaultHandler.
func NewStore(defaultHandler string) *Store {
	return &Store{
		defaultHandler: defaultHandler,
		entries:        make(map[string]*entry),
		now:            time.Now,
	}
}

// Acquire returns the session for userID with its per-user lock held, and
// a release function the caller must invoke when the turn is done. Two
// concurrent Acquire calls for the same user are mutually exclusive;
// calls for distinct users never contend beyond the brief map lookup.
func (st *Store) Acquire(userID string) (*Session, func()) {
	st.mu.Lock()
	e, ok := st.entries[userID]
	if !ok {
		e = &entry{s: &Session{
			UserID:        userID,
			ActiveHandler: st.defaultHandler,
		}}
		st.entries[userID] = e
	}
	st.mu.Unlock()

	e.mu.Lock()
	e.s.LastSeen = st.now()
	return e.s, e.mu.Unlock
}

// Snapshot returns a copy of the session for userID, or nil when the user
// has never been seen. Intended for inspection (health endpoints, tests);
// it briefly takes the per-user lock.
func (st *Store) Snapshot(userID string) *Session {
	st.mu.Lock()
	e, ok := st.entries[userID]
	st.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.s
	cp.History = make([]Message, len(e.s.History))
	copy(cp.History, e.s.History)
	return &cp
}

// Len returns the number of known sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}
