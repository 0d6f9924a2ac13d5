package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ilvi89/stupid-tg-bot/internal/logging"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
	"github.com/ilvi89/stupid-tg-bot/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes all session access per identity and fronts the durable
// store with a fast in-memory cache. It uses reference counting to garbage
// collect unused locks, so the lock map stays proportional to the number of
// identities with in-flight operations, not to the number of sessions.
type Manager struct {
	store ports.SessionStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	cacheMu sync.RWMutex
	cache   map[string]*dialog.Session

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking for multi-replica deployments.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides the distributed lock TTL (default 30s).
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a session manager over the given durable store.
func NewManager(store ports.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		cache:   make(map[string]*dialog.Session),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu and call release(key) after unlocking.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry at zero.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// WithLock executes fn while holding the identity's lock. All interpreter
// operations for one identity funnel through here, which is what guarantees
// that start/advance/cancel for the same conversation never interleave.
func (m *Manager) WithLock(ctx context.Context, identity dialog.Identity, fn func(ctx context.Context) error) error {
	key := identity.Key()
	entry := m.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(key)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, key, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"identity", key,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Active returns the identity's non-terminal session, consulting the cache
// first and falling back to the durable store. Terminal sessions found in
// the store are not resurrected into the cache.
//
// Callers must hold the identity's lock (directly or via WithLock).
func (m *Manager) Active(ctx context.Context, identity dialog.Identity) (*dialog.Session, error) {
	key := identity.Key()

	m.cacheMu.RLock()
	cached, ok := m.cache[key]
	m.cacheMu.RUnlock()
	if ok && !cached.State.Terminal() {
		return cached.Clone(), nil
	}

	sess, err := m.store.Load(ctx, identity)
	if err != nil {
		if errors.Is(err, dialog.ErrSessionNotFound) {
			return nil, dialog.ErrNoActiveSession
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess.State.Terminal() {
		return nil, dialog.ErrNoActiveSession
	}

	m.cacheMu.Lock()
	m.cache[key] = sess.Clone()
	m.cacheMu.Unlock()
	return sess, nil
}

// Put persists the session durably and only then updates the cache, so a
// failed write never leaves the cache ahead of the store.
func (m *Manager) Put(ctx context.Context, sess *dialog.Session) error {
	if err := m.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	m.cacheMu.Lock()
	m.cache[sess.Identity.Key()] = sess.Clone()
	m.cacheMu.Unlock()
	return nil
}

// Delete removes the session from the durable store and evicts the cache.
func (m *Manager) Delete(ctx context.Context, identity dialog.Identity) error {
	if err := m.store.Delete(ctx, identity); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	m.Evict(identity)
	return nil
}

// Evict drops the cached session without touching durable storage.
func (m *Manager) Evict(identity dialog.Identity) {
	m.cacheMu.Lock()
	delete(m.cache, identity.Key())
	m.cacheMu.Unlock()
}

// SweepExpired removes sessions older than maxAge from the durable store and
// drops matching cache entries. It takes no per-identity locks: the sweep is
// a blunt TTL intended to run from a periodic job, and an in-flight advance
// for a swept identity will simply re-persist its session.
func (m *Manager) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := m.store.SweepExpired(ctx, maxAge)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	m.cacheMu.Lock()
	for key, sess := range m.cache {
		if sess.UpdatedAt.Before(cutoff) {
			delete(m.cache, key)
		}
	}
	m.cacheMu.Unlock()

	if n > 0 {
		m.logger.Info("swept expired sessions", "count", n, "max_age", maxAge)
	}
	return n, nil
}

// Store returns the underlying durable store.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}
