// Package file implements a filesystem SessionStore. Sessions live as one
// JSON file per identity; writes go through a temp file plus rename so a
// crash mid-write never leaves a torn session behind.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// Store persists sessions under a base directory.
type Store struct {
	BasePath string
}

// New creates a Store rooted at basePath. An empty basePath defaults to
// ".dialogs/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".dialogs", "sessions")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(identity dialog.Identity) string {
	return filepath.Join(s.BasePath, fmt.Sprintf("%d_%d.json", identity.UserID, identity.ChatID))
}

// Save writes the session atomically: temp file, fsync, rename.
func (s *Store) Save(ctx context.Context, sess *dialog.Session) error {
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// The temp file lives in the same directory so the rename stays on one
	// filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(sess.Identity)); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}

// Load reads the identity's session file.
func (s *Store) Load(ctx context.Context, identity dialog.Identity) (*dialog.Session, error) {
	data, err := os.ReadFile(s.path(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dialog.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess dialog.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes the identity's session file. Missing files are fine.
func (s *Store) Delete(ctx context.Context, identity dialog.Identity) error {
	if err := os.Remove(s.path(identity)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// SweepExpired removes every session file whose recorded update time is
// older than maxAge and returns the number removed. Files that fail to
// parse are skipped, not deleted.
func (s *Store) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list session files: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.BasePath, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var sess dialog.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if sess.UpdatedAt.Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
