package dialog

// InputKind tells the transport what kind of input affordance to present.
type InputKind string

const (
	// InputNone means no input is expected (informational messages only).
	InputNone InputKind = "none"
	// InputText expects free-form text.
	InputText InputKind = "text"
	// InputChoice expects one of the prompt's choices.
	InputChoice InputKind = "choice"
)

// RecoveryChoice is one of the three recovery actions offered whenever a
// session lands in the error state. The three-way menu is a contract.
type RecoveryChoice string

const (
	RecoveryContinue RecoveryChoice = "continue"
	RecoveryRestart  RecoveryChoice = "restart"
	RecoveryCancel   RecoveryChoice = "cancel"
)

// RecoveryChoices lists the recovery menu options in presentation order.
func RecoveryChoices() []string {
	return []string{string(RecoveryContinue), string(RecoveryRestart), string(RecoveryCancel)}
}

// Prompt is what the transport should deliver to the user: the messages
// accumulated while the interpreter chained through soft steps, plus the
// input affordance of the step it suspended on.
type Prompt struct {
	Identity Identity  `json:"identity"`
	ChainID  string    `json:"chain_id"`
	StepID   string    `json:"step_id"`
	Messages []string  `json:"messages"`
	Input    InputKind `json:"input"`
	Choices  []string  `json:"choices,omitempty"`
	// Sensitive marks input the transport should mask.
	Sensitive bool `json:"sensitive,omitempty"`
	// Recovery marks the error-state recovery menu.
	Recovery bool `json:"recovery,omitempty"`
}

// Completion signals that a chain ran to its end. Data is the session's
// collected data at the moment of completion; the durable session itself has
// already been deleted.
type Completion struct {
	Identity Identity       `json:"identity"`
	ChainID  string         `json:"chain_id"`
	Data     map[string]any `json:"data"`
}

// Turn is the outcome of one interpreter call. Exactly one of Prompt and
// Completion is always set, except that a final step with content yields both
// (the farewell messages plus the completion signal).
type Turn struct {
	Prompt     *Prompt     `json:"prompt,omitempty"`
	Completion *Completion `json:"completion,omitempty"`
}

// Completed reports whether this turn finished the chain.
func (t *Turn) Completed() bool { return t != nil && t.Completion != nil }
