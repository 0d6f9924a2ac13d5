package ports

import (
	"context"
	"time"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// SessionStore is the durable persistence contract for dialog sessions,
// keyed by identity. Save and Load must be atomic with respect to a single
// identity: a concurrent reader never observes a partially written session.
type SessionStore interface {
	// Save persists the session, overwriting any previous state for the identity.
	Save(ctx context.Context, session *dialog.Session) error

	// Load retrieves the session for the identity.
	// Returns dialog.ErrSessionNotFound if none exists.
	Load(ctx context.Context, identity dialog.Identity) (*dialog.Session, error)

	// Delete removes the session for the identity. Deleting a missing
	// session is not an error.
	Delete(ctx context.Context, identity dialog.Identity) error

	// SweepExpired removes sessions whose UpdatedAt is older than maxAge,
	// regardless of state, and returns the number removed. This is a blunt
	// TTL: waiting sessions are not exempt.
	SweepExpired(ctx context.Context, maxAge time.Duration) (int, error)
}
