// Package session holds per-call dialog state between webhook turns.
package session

import (
	"context"
	"sync"
	"time"
)

// Session is the dialog state for one phone call. It accumulates
// registration answers until the caller confirms, tracks retry counts for
// the current question, and remembers the last processed event so a
// replayed webhook returns the same response instead of advancing twice.
type Session struct {
	CallID      string    `json:"call_id"`
	PhoneNumber string    `json:"phone_number"`
	State       string    `json:"state"`
	Language    string    `json:"language"`
	Tier        string    `json:"tier"`

	// Resolved identity. AccountID and ChildID are zero for new callers
	// until the profile is confirmed and persisted.
	Known     bool   `json:"known"`
	AccountID int64  `json:"account_id"`
	ChildID   string `json:"child_id"`

	// Pending registration answers, persisted only on confirmation.
	ChildName string   `json:"child_name"`
	ChildAge  int      `json:"child_age"`
	Interests []string `json:"interests"`

	// Turn and retry bookkeeping. Turns counts processed events for the
	// whole call; Retries counts re-prompts for the current question.
	Turns    int  `json:"turns"`
	Retries  int  `json:"retries"`
	Degraded bool `json:"degraded"` // age collection fell back to digits-only

	// The story being offered or played. Remaining is the quota balance at
	// offer time; negative means unlimited.
	StoryID    string `json:"story_id"`
	StoryTitle string `json:"story_title"`
	StoryBody  string `json:"story_body"`
	Remaining  int    `json:"remaining"`

	// Replay detection: key of the last processed event and the serialized
	// response it produced.
	LastEventKey string `json:"last_event_key"`
	LastResponse []byte `json:"last_response"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists sessions keyed by call ID. Get returns (nil, nil) for an
// unknown or expired call ID. Lock serializes event processing per call ID;
// events for different call IDs proceed in parallel.
type Store interface {
	Get(ctx context.Context, callID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, callID string) error
	Lock(ctx context.Context, callID string) (unlock func(), err error)
	Close() error
}

// MemoryStore is the single-instance Store: a map guarded by a mutex with a
// background janitor expiring idle sessions.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*callLock
	ttl      time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

type callLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryStore creates a memory store expiring sessions idle longer than
// ttl. The janitor runs until Close.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*callLock),
		ttl:      ttl,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.expire()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) expire() {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

// Get returns the session for a call ID, or nil. Expired sessions are
// treated as missing even before the janitor removes them.
func (s *MemoryStore) Get(ctx context.Context, callID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callID]
	if !ok {
		return nil, nil
	}
	if sess.UpdatedAt.Before(s.now().Add(-s.ttl)) {
		delete(s.sessions, callID)
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// Put stores the session and refreshes its idle timestamp.
func (s *MemoryStore) Put(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = s.now()
	cp := *sess
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.CallID] = &cp
	return nil
}

// Delete removes the session for a call ID.
func (s *MemoryStore) Delete(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callID)
	return nil
}

// ActiveSessions returns the number of live, unexpired sessions.
func (s *MemoryStore) ActiveSessions() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if !sess.UpdatedAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// Lock blocks until the caller holds the per-call lock, then returns the
// unlock function. Lock entries are reference-counted so the map does not
// grow with dead call IDs.
func (s *MemoryStore) Lock(ctx context.Context, callID string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[callID]
	if !ok {
		l = &callLock{}
		s.locks[callID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, callID)
		}
		s.mu.Unlock()
	}, nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}
