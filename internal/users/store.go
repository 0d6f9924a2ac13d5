// Package users persists registered users and fans broadcast messages out
// to them.
package users

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	_ "embed"

	"github.com/google/uuid"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

//go:embed migrations.sql
var migrations string

// ErrUserNotFound is returned when an identity has no user record.
var ErrUserNotFound = errors.New("user not found")

// User is one registered user.
type User struct {
	ID       string
	Identity dialog.Identity
	Name     string
	Age      int
	Role     string
	// Subscribed users receive broadcasts. New registrations start subscribed.
	Subscribed bool
	CreatedAt  time.Time
}

// Store persists users. It shares a database handle with the session store.
type Store struct {
	db *sql.DB
}

// NewStore wraps the handle and applies the users schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(migrations); err != nil {
		return nil, fmt.Errorf("failed to run users migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Upsert saves the user, keying on identity. A missing ID gets a fresh UUID;
// re-registering an identity keeps its existing ID.
func (s *Store) Upsert(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	// Re-registration refreshes profile fields but never flips an explicit
	// unsubscribe back on.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, user_id, chat_id, name, age, role, subscribed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET
			name = excluded.name,
			age  = excluded.age,
			role = excluded.role`,
		u.ID, u.Identity.UserID, u.Identity.ChatID, u.Name, u.Age, u.Role, u.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.Identity, err)
	}
	return nil
}

// SetSubscribed flips the identity's broadcast subscription.
func (s *Store) SetSubscribed(ctx context.Context, identity dialog.Identity, subscribed bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET subscribed = ? WHERE user_id = ? AND chat_id = ?`,
		subscribed, identity.UserID, identity.ChatID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription for %s: %w", identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check subscription update for %s: %w", identity, err)
	}
	if n == 0 {
		return fmt.Errorf("no record for %s: %w", identity, ErrUserNotFound)
	}
	return nil
}

// ByIdentity loads the user registered under the identity.
func (s *Store) ByIdentity(ctx context.Context, identity dialog.Identity) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, age, role, subscribed, created_at FROM users
		WHERE user_id = ? AND chat_id = ?`,
		identity.UserID, identity.ChatID,
	)
	var (
		u         User
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.Name, &u.Age, &u.Role, &u.Subscribed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", identity, err)
	}
	u.Identity = identity
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// All returns every registered user ordered by registration time.
func (s *Store) All(ctx context.Context) ([]User, error) {
	return s.query(ctx, `
		SELECT id, user_id, chat_id, name, age, role, subscribed, created_at
		FROM users ORDER BY created_at, id`)
}

// Subscribers returns the users who currently receive broadcasts.
func (s *Store) Subscribers(ctx context.Context) ([]User, error) {
	return s.query(ctx, `
		SELECT id, user_id, chat_id, name, age, role, subscribed, created_at
		FROM users WHERE subscribed = 1 ORDER BY created_at, id`)
}

func (s *Store) query(ctx context.Context, q string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u         User
			createdAt int64
		)
		if err := rows.Scan(&u.ID, &u.Identity.UserID, &u.Identity.ChatID,
			&u.Name, &u.Age, &u.Role, &u.Subscribed, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return out, nil
}

// Count returns the number of registered users.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// ExportCSV writes all users as CSV with a header row.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	all, err := s.All(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "user_id", "chat_id", "name", "age", "role", "subscribed", "created_at"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, u := range all {
		record := []string{
			u.ID,
			strconv.FormatInt(u.Identity.UserID, 10),
			strconv.FormatInt(u.Identity.ChatID, 10),
			u.Name,
			strconv.Itoa(u.Age),
			u.Role,
			strconv.FormatBool(u.Subscribed),
			u.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
