// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/fpz2018/gli/internal/triage"
)

// Store holds triage sessions in memory. Suitable for dev/testing and single
// instance deployments.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*triage.Session // session ID -> session
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*triage.Session),
	}
}

// Get retrieves a session by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return sess.Clone(), true, nil
}

// Create stores a copy of a new session, replacing any with the same ID.
func (s *Store) Create(_ context.Context, sess *triage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Update applies fn to a copy of the session under the store lock and keeps
// the result only if fn succeeds.
func (s *Store) Update(_ context.Context, id string, fn triage.UpdateFunc) (*triage.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[id]
	if !ok {
		return nil, triage.ErrSessionNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.sessions[id] = next
	return next.Clone(), nil
}

// Delete removes a session. Deleting an unknown ID is not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteExpired removes sessions last updated before the cutoff.
func (s *Store) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
