package dialog

import (
	"context"

	"github.com/ilvi89/stupid-tg-bot/pkg/condition"
)

// StepKind defines the control flow behavior of a step.
type StepKind string

const (
	// StepMessage delivers content and continues immediately (soft step).
	StepMessage StepKind = "message"
	// StepQuestion delivers content and halts waiting for free-form input (hard step).
	StepQuestion StepKind = "question"
	// StepChoice delivers content and halts waiting for one of a fixed set of options.
	StepChoice StepKind = "choice"
	// StepAction executes a side effect and continues immediately (silent step).
	StepAction StepKind = "action"
	// StepFinal delivers content and completes the chain.
	StepFinal StepKind = "final"
)

// DefaultMaxRetries bounds validation retries when a rule does not set its own limit.
const DefaultMaxRetries = 3

// DefaultRetryPrompt is re-rendered when input validation fails and retries remain.
const DefaultRetryPrompt = "Please try again."

// ActionFunc is the side effect attached to an action step. It receives a
// snapshot of the session's collected data and returns new key-value pairs to
// merge back. Errors (and panics, which the interpreter converts to errors)
// move the session into the error state instead of propagating.
type ActionFunc func(ctx context.Context, identity Identity, data map[string]any) (map[string]any, error)

// ValidationRule checks one unit of raw input on a question or choice step.
type ValidationRule struct {
	Name         string
	Predicate    func(value string) bool
	ErrorMessage string
	// MaxRetries is the number of failed attempts after which the session
	// escalates to the error state. Always >= 1 once the chain is built.
	MaxRetries int
}

// Branch is one conditional transition. Branches are evaluated in declaration
// order and the first condition that holds wins.
type Branch struct {
	// When is the raw condition expression (see package condition for the grammar).
	When string
	// Cond is the expression parsed at build time. Nil only before Build.
	Cond condition.Expr
	// Target is the id of the step to transition to.
	Target string
}

// Step is one node in a chain's graph.
type Step struct {
	ID   string
	Kind StepKind

	// Content is the renderable text of the step. Placeholders of the form
	// {field} are interpolated from collected data at render time.
	Content string

	// Choices are the accepted options for a choice step.
	Choices []string

	// Validators run in declaration order against question/choice input.
	Validators []ValidationRule

	// RetryPrompt is re-rendered after a recoverable validation failure.
	RetryPrompt string

	// DefaultNext is the fallback transition target. Empty means the chain is
	// exhausted after this step (unless a branch matches).
	DefaultNext string

	// Branches are the conditional transitions, first declared match wins.
	Branches []Branch

	// Action is the side effect of an action step.
	Action ActionFunc

	// Sensitive marks input that transports should mask (e.g. passwords).
	Sensitive bool
}

// WaitsForInput reports whether the step suspends the dialog until external
// input arrives.
func (s *Step) WaitsForInput() bool {
	return s.Kind == StepQuestion || s.Kind == StepChoice
}
