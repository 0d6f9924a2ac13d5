package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/ilvi89/stupid-tg-bot/pkg/ports"
)

// unlockScript deletes the lock only when the caller still owns it, so an
// expired-and-reacquired lock is never released by the previous holder.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Locker implements ports.DistributedLocker using Redis SET NX PX.
type Locker struct {
	client  *backend.Client
	prefix  string
	backoff time.Duration
}

// NewLocker creates a Redis locker. Keys are namespaced under prefix.
func NewLocker(client *backend.Client, prefix string) *Locker {
	return &Locker{
		client:  client,
		prefix:  prefix,
		backoff: 100 * time.Millisecond,
	}
}

// Lock polls SETNX until the lock is acquired or the context ends. The lock
// value is a fresh UUID checked on unlock.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.backoff)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		if acquired {
			return func(ctx context.Context) error {
				return l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
