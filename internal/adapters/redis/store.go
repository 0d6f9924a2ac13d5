// Package redis implements the SessionStore and DistributedLocker over
// Redis, for deployments that run more than one process. Sessions live as
// JSON values; a ZSET scored by last-update time indexes them so the sweep
// is one range query instead of a keyspace scan.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// Store implements ports.SessionStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithTTL sets a hard Redis expiration on session values, as a backstop
// behind the application-level sweep. Zero means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a Redis store over an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "dialog:session:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(identity dialog.Identity) string {
	return s.prefix + identity.Key()
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save writes the session and refreshes its index score in one pipeline.
func (s *Store) Save(ctx context.Context, sess *dialog.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(sess.Identity), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(sess.UpdatedAt.Unix()),
		Member: sess.Identity.Key(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}
	return nil
}

// Load retrieves the identity's session.
func (s *Store) Load(ctx context.Context, identity dialog.Identity) (*dialog.Session, error) {
	val, err := s.client.Get(ctx, s.key(identity)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, dialog.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session from redis: %w", err)
	}

	var sess dialog.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes the session and its index entry.
func (s *Store) Delete(ctx context.Context, identity dialog.Identity) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(identity))
	pipe.ZRem(ctx, s.indexKey(), identity.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}
	return nil
}

// SweepExpired removes every session whose last update is older than maxAge.
// The index gives the stale members directly; values and index entries are
// then dropped in one pipeline.
func (s *Store) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := fmt.Sprintf("%d", time.Now().Add(-maxAge).Unix())

	stale, err := s.client.ZRangeByScore(ctx, s.indexKey(), &backend.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	for _, member := range stale {
		pipe.Del(ctx, s.prefix+member)
	}
	pipe.ZRemRangeByScore(ctx, s.indexKey(), "-inf", cutoff)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	return len(stale), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
