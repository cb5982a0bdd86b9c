package triage

import (
	"context"
	"time"
)

// UpdateFunc mutates a session inside Store.Update. Returning an error aborts
// the update and leaves the stored session untouched.
type UpdateFunc func(s *Session) error

// Store is the persistence interface for triage sessions. Implementations must
// return copies and must run UpdateFunc exclusively per session.
type Store interface {
	Get(ctx context.Context, id string) (*Session, bool, error)
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, id string, fn UpdateFunc) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
