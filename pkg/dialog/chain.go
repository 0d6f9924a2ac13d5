package dialog

import "time"

// Chain is an immutable declarative definition of a multi-step conversational
// flow. Chains are built once at process start by the builder, which enforces
// referential integrity, and are never mutated afterwards.
type Chain struct {
	ID          string
	Name        string
	Description string

	// Steps in declaration order. Non-empty after a successful build.
	Steps []Step

	// StartStepID is the entry step. Guaranteed to be present in Steps.
	StartStepID string

	// Permissions required to start this chain. Empty means anyone.
	Permissions []string

	// Timeout is advisory metadata for the session sweeper: how long the
	// chain should be allowed to sit waiting for input. The interpreter
	// itself runs no timers.
	Timeout time.Duration
}

// Step returns the step with the given id, or nil if it does not exist.
func (c *Chain) Step(id string) *Step {
	for i := range c.Steps {
		if c.Steps[i].ID == id {
			return &c.Steps[i]
		}
	}
	return nil
}
