package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates per-identity access across multiple bot
// replicas sharing one session store. Single-instance deployments do not
// need one; the session manager's in-process locks suffice.
type DistributedLocker interface {
	// Lock blocks until the lock for key is acquired, the context is
	// canceled, or the implementation gives up. The returned UnlockFunc
	// MUST be called to release the lock; the TTL is the safety net for
	// crashed holders.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
