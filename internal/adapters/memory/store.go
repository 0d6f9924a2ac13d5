// Package memory provides an in-process SessionStore. It is the default
// for single-binary deployments and the workhorse of the test suite.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// Store keeps sessions in a mutex-guarded map. All values are cloned on the
// way in and out, so callers can never alias the stored session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*dialog.Session
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*dialog.Session),
	}
}

// Save stores a copy of the session keyed by identity.
func (s *Store) Save(ctx context.Context, sess *dialog.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Identity.Key()] = sess.Clone()
	return nil
}

// Load returns a copy of the identity's session, or ErrSessionNotFound.
func (s *Store) Load(ctx context.Context, identity dialog.Identity) (*dialog.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[identity.Key()]
	if !ok {
		return nil, dialog.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Delete removes the identity's session. Deleting a missing session is a no-op.
func (s *Store) Delete(ctx context.Context, identity dialog.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, identity.Key())
	return nil
}

// SweepExpired deletes every session not updated within maxAge, regardless
// of state, and returns the number removed.
func (s *Store) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
