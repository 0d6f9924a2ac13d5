package dialog

import (
	"errors"
	"fmt"
)

// ErrUnknownChain is returned when a chain id is not registered.
var ErrUnknownChain = errors.New("unknown chain")

// ErrNoActiveSession is returned when an identity has no non-terminal session.
var ErrNoActiveSession = errors.New("no active session")

// ErrSessionNotFound is returned by stores when an identity has no persisted session.
var ErrSessionNotFound = errors.New("session not found")

// ErrStepNotFound is recorded when a session points at a step id that no
// longer exists in its chain. The interpreter treats it as an error-state
// transition, not a crash.
var ErrStepNotFound = errors.New("step not found")

// ErrPermissionDenied is returned when starting a chain whose permissions the
// identity does not hold.
var ErrPermissionDenied = errors.New("permission denied")

// StructuralError reports a malformed chain graph at build time. A chain that
// fails structural validation must never be registered or executed.
type StructuralError struct {
	ChainID string
	StepID  string
	Reason  string
}

func (e *StructuralError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("chain %q: %s", e.ChainID, e.Reason)
	}
	return fmt.Sprintf("chain %q step %q: %s", e.ChainID, e.StepID, e.Reason)
}

// ConflictError is returned when a chain is started for an identity that
// already has a non-terminal session. The caller must surface a resolution
// choice instead of silently clobbering the active dialog.
type ConflictError struct {
	Identity       Identity
	ActiveChainID  string
	ActiveStepID   string
	RequestedChain string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("identity %s already has an active session in chain %q (step %q); refusing to start %q",
		e.Identity, e.ActiveChainID, e.ActiveStepID, e.RequestedChain)
}
