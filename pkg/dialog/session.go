package dialog

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle state of a dialog session.
type SessionState string

const (
	StateStarted      SessionState = "started"
	StateInProgress   SessionState = "in_progress"
	StateWaitingInput SessionState = "waiting_input"
	StateCompleted    SessionState = "completed"
	StateCancelled    SessionState = "cancelled"
	StateError        SessionState = "error"
	// StatePaused is reserved for future suspension support. No transition
	// currently produces it, but the slot is kept for forward compatibility.
	StatePaused SessionState = "paused"
)

// Terminal reports whether the state ends the session for conflict purposes.
// Error sessions are not terminal: they stay recoverable until cancelled,
// restarted, or swept.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Identity addresses one conversation: a user within a chat.
type Identity struct {
	UserID int64 `json:"user_id"`
	ChatID int64 `json:"chat_id"`
}

// Key returns the canonical storage key for the identity.
func (i Identity) Key() string {
	return fmt.Sprintf("%d:%d", i.UserID, i.ChatID)
}

func (i Identity) String() string { return i.Key() }

// ErrorEntry is one recorded failure in a session's error log.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Session is the mutable, persisted execution state of one identity running
// one chain. It is mutated exclusively by the interpreter, under the session
// manager's per-identity lock.
type Session struct {
	Identity      Identity       `json:"identity"`
	ChainID       string         `json:"chain_id"`
	CurrentStepID string         `json:"current_step_id"`
	Data          map[string]any `json:"data"`
	State         SessionState   `json:"state"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	RetryCount    int            `json:"retry_count"`
	ErrorLog      []ErrorEntry   `json:"error_log,omitempty"`
}

// NewSession creates a fresh session positioned at the chain's start step.
func NewSession(identity Identity, chainID, startStepID string, initial map[string]any) *Session {
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	now := time.Now().UTC()
	return &Session{
		Identity:      identity,
		ChainID:       chainID,
		CurrentStepID: startStepID,
		Data:          data,
		State:         StateStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy safe to mutate without touching the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	next := *s
	next.Data = make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		next.Data[k] = v
	}
	next.ErrorLog = append([]ErrorEntry(nil), s.ErrorLog...)
	return &next
}

// Touch bumps the update timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// RecordError appends a timestamped entry to the error log.
func (s *Session) RecordError(msg string) {
	s.ErrorLog = append(s.ErrorLog, ErrorEntry{At: time.Now().UTC(), Message: msg})
}
