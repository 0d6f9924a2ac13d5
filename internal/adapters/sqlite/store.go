// Package sqlite implements a SessionStore over a local SQLite database,
// the default durable backend for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

//go:embed migrations.sql
var migrations string

// Store implements ports.SessionStore over SQLite.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and applies the
// schema. The parent directory is created when missing.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path not set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing database handle; migrations are still applied.
func NewFromDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(migrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle so other stores can share the database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Save upserts the session row.
func (s *Store) Save(ctx context.Context, sess *dialog.Session) error {
	data, err := json.Marshal(sess.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}
	errorLog, err := json.Marshal(sess.ErrorLog)
	if err != nil {
		return fmt.Errorf("failed to marshal error log: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dialog_sessions
			(user_id, chat_id, chain_id, current_step_id, data, state, created_at, updated_at, retry_count, error_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET
			chain_id        = excluded.chain_id,
			current_step_id = excluded.current_step_id,
			data            = excluded.data,
			state           = excluded.state,
			created_at      = excluded.created_at,
			updated_at      = excluded.updated_at,
			retry_count     = excluded.retry_count,
			error_log       = excluded.error_log`,
		sess.Identity.UserID, sess.Identity.ChatID, sess.ChainID, sess.CurrentStepID,
		string(data), string(sess.State), sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(),
		sess.RetryCount, string(errorLog),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session for %s: %w", sess.Identity, err)
	}
	return nil
}

// Load reads the identity's session row.
func (s *Store) Load(ctx context.Context, identity dialog.Identity) (*dialog.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chain_id, current_step_id, data, state, created_at, updated_at, retry_count, error_log
		FROM dialog_sessions
		WHERE user_id = ? AND chat_id = ?`,
		identity.UserID, identity.ChatID,
	)

	var (
		sess                 dialog.Session
		data, state, errLog  string
		createdAt, updatedAt int64
	)
	err := row.Scan(&sess.ChainID, &sess.CurrentStepID, &data, &state,
		&createdAt, &updatedAt, &sess.RetryCount, &errLog)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dialog.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session for %s: %w", identity, err)
	}

	sess.Identity = identity
	sess.State = dialog.SessionState(state)
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if err := json.Unmarshal([]byte(data), &sess.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data for %s: %w", identity, err)
	}
	if err := json.Unmarshal([]byte(errLog), &sess.ErrorLog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal error log for %s: %w", identity, err)
	}
	return &sess, nil
}

// Delete removes the identity's session row. Missing rows are fine.
func (s *Store) Delete(ctx context.Context, identity dialog.Identity) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dialog_sessions WHERE user_id = ? AND chat_id = ?`,
		identity.UserID, identity.ChatID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session for %s: %w", identity, err)
	}
	return nil
}

// SweepExpired deletes every session not updated within maxAge.
func (s *Store) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dialog_sessions WHERE updated_at < ?`,
		time.Now().Add(-maxAge).Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept sessions: %w", err)
	}
	return int(n), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
