// Package auth grants time-boxed manager access. A successful password
// check opens an authorization window for the identity; privileged chains
// gate on it through the interpreter's permission checker.
package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sync"
	"time"

	"github.com/ilvi89/stupid-tg-bot/internal/logging"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// PermissionManager is the permission name privileged chains require.
const PermissionManager = "manager"

// Manager tracks authorized identities. Safe for concurrent use.
type Manager struct {
	password string
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	granted map[string]time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the auth manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates an auth manager. An empty password locks privileged access
// entirely; every check fails.
func New(password string, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		password: password,
		ttl:      ttl,
		logger:   logging.NewNop(),
		now:      time.Now,
		granted:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate checks the password and, on success, opens (or refreshes)
// the identity's authorization window.
func (m *Manager) Authenticate(identity dialog.Identity, password string) bool {
	if m.password == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) != 1 {
		m.logger.Warn("manager authentication failed", "identity", identity.Key())
		return false
	}

	m.mu.Lock()
	m.granted[identity.Key()] = m.now().Add(m.ttl)
	m.mu.Unlock()
	m.logger.Info("manager access granted", "identity", identity.Key(), "ttl", m.ttl)
	return true
}

// IsAuthorized reports whether the identity's window is still open. Expired
// grants are removed on the way.
func (m *Manager) IsAuthorized(identity dialog.Identity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.granted[identity.Key()]
	if !ok {
		return false
	}
	if m.now().After(expiry) {
		delete(m.granted, identity.Key())
		return false
	}
	return true
}

// Revoke closes the identity's authorization window immediately.
func (m *Manager) Revoke(identity dialog.Identity) {
	m.mu.Lock()
	delete(m.granted, identity.Key())
	m.mu.Unlock()
	m.logger.Info("manager access revoked", "identity", identity.Key())
}

// IsPermitted implements ports.PermissionChecker. Only the manager
// permission is known; anything else is refused.
func (m *Manager) IsPermitted(ctx context.Context, identity dialog.Identity, required []string) bool {
	for _, perm := range required {
		if perm != PermissionManager {
			return false
		}
		if !m.IsAuthorized(identity) {
			return false
		}
	}
	return true
}

// CheckPasswordAction returns an action that authenticates with the value
// collected under field and records the outcome under "authorized", for
// conditional branching in the auth chain.
func (m *Manager) CheckPasswordAction(field string) dialog.ActionFunc {
	return func(ctx context.Context, identity dialog.Identity, data map[string]any) (map[string]any, error) {
		password, _ := data[field].(string)
		if m.Authenticate(identity, password) {
			return map[string]any{"authorized": "true"}, nil
		}
		return map[string]any{"authorized": "false"}, nil
	}
}
