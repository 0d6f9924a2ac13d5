// Package builder provides the fluent construction API for dialog chains.
// Build compiles the accumulated steps into an immutable dialog.Chain and
// eagerly verifies referential integrity: a chain that fails validation is
// never registered or executed.
package builder

import (
	"fmt"
	"time"

	"github.com/ilvi89/stupid-tg-bot/pkg/condition"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// Builder accumulates a chain definition.
type Builder struct {
	chain dialog.Chain
}

// New creates a builder for the chain with the given id and display name.
func New(id, name string) *Builder {
	return &Builder{chain: dialog.Chain{ID: id, Name: name, Timeout: time.Hour}}
}

// Describe sets the chain description.
func (b *Builder) Describe(description string) *Builder {
	b.chain.Description = description
	return b
}

// StartWith sets the entry step id.
func (b *Builder) StartWith(stepID string) *Builder {
	b.chain.StartStepID = stepID
	return b
}

// Message adds a soft step that delivers content and continues to next.
func (b *Builder) Message(id, content, next string) *Builder {
	b.chain.Steps = append(b.chain.Steps, dialog.Step{
		ID:          id,
		Kind:        dialog.StepMessage,
		Content:     content,
		DefaultNext: next,
	})
	return b
}

// Question adds a hard step that waits for free-form input validated by the
// given rules in declaration order.
func (b *Builder) Question(id, content, next string, rules ...dialog.ValidationRule) *Builder {
	b.chain.Steps = append(b.chain.Steps, dialog.Step{
		ID:          id,
		Kind:        dialog.StepQuestion,
		Content:     content,
		Validators:  rules,
		RetryPrompt: dialog.DefaultRetryPrompt,
		DefaultNext: next,
	})
	return b
}

// Choice adds a hard step that waits for one of the listed options.
func (b *Builder) Choice(id, content string, choices []string, next string) *Builder {
	b.chain.Steps = append(b.chain.Steps, dialog.Step{
		ID:          id,
		Kind:        dialog.StepChoice,
		Content:     content,
		Choices:     choices,
		RetryPrompt: dialog.DefaultRetryPrompt,
		DefaultNext: next,
	})
	return b
}

// Action adds a silent step that runs a side effect and continues to next.
func (b *Builder) Action(id string, fn dialog.ActionFunc, next string) *Builder {
	b.chain.Steps = append(b.chain.Steps, dialog.Step{
		ID:          id,
		Kind:        dialog.StepAction,
		Action:      fn,
		DefaultNext: next,
	})
	return b
}

// Final adds a terminal step that delivers content and completes the chain.
func (b *Builder) Final(id, content string) *Builder {
	b.chain.Steps = append(b.chain.Steps, dialog.Step{
		ID:      id,
		Kind:    dialog.StepFinal,
		Content: content,
	})
	return b
}

// Branch appends a conditional transition to the named step. Branches are
// evaluated in the order they were added; the first true condition wins.
func (b *Builder) Branch(stepID, when, target string) *Builder {
	for i := range b.chain.Steps {
		if b.chain.Steps[i].ID == stepID {
			b.chain.Steps[i].Branches = append(b.chain.Steps[i].Branches, dialog.Branch{
				When:   when,
				Target: target,
			})
			return b
		}
	}
	// Record the branch against a phantom step so Build can report it.
	b.chain.Steps = append(b.chain.Steps, dialog.Step{
		ID:       stepID,
		Kind:     "", // invalid on purpose; Build rejects it
		Branches: []dialog.Branch{{When: when, Target: target}},
	})
	return b
}

// RetryPrompt overrides the retry message of the named step.
func (b *Builder) RetryPrompt(stepID, prompt string) *Builder {
	for i := range b.chain.Steps {
		if b.chain.Steps[i].ID == stepID {
			b.chain.Steps[i].RetryPrompt = prompt
		}
	}
	return b
}

// Sensitive marks the named step's input for masking by transports.
func (b *Builder) Sensitive(stepID string) *Builder {
	for i := range b.chain.Steps {
		if b.chain.Steps[i].ID == stepID {
			b.chain.Steps[i].Sensitive = true
		}
	}
	return b
}

// Timeout sets the advisory chain timeout consumed by the session sweeper.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.chain.Timeout = d
	return b
}

// Permissions sets the permissions required to start the chain.
func (b *Builder) Permissions(perms ...string) *Builder {
	b.chain.Permissions = perms
	return b
}

// Build validates the accumulated definition and returns the immutable chain.
// All transition targets (default and conditional) must reference existing
// steps, the start step must be set and present, step ids must be unique,
// and every conditional expression must parse. Validation runs here, at
// build time, never at run time.
func (b *Builder) Build() (*dialog.Chain, error) {
	chain := b.chain

	if len(chain.Steps) == 0 {
		return nil, &dialog.StructuralError{ChainID: chain.ID, Reason: "chain has no steps"}
	}
	if chain.StartStepID == "" {
		return nil, &dialog.StructuralError{ChainID: chain.ID, Reason: "start step is not set"}
	}

	ids := make(map[string]struct{}, len(chain.Steps))
	for _, step := range chain.Steps {
		if step.ID == "" {
			return nil, &dialog.StructuralError{ChainID: chain.ID, Reason: "step with empty id"}
		}
		if _, dup := ids[step.ID]; dup {
			return nil, &dialog.StructuralError{ChainID: chain.ID, StepID: step.ID, Reason: "duplicate step id"}
		}
		ids[step.ID] = struct{}{}
	}

	if _, ok := ids[chain.StartStepID]; !ok {
		return nil, &dialog.StructuralError{
			ChainID: chain.ID,
			Reason:  fmt.Sprintf("start step %q is not a member of the chain", chain.StartStepID),
		}
	}

	for i := range chain.Steps {
		step := &chain.Steps[i]
		switch step.Kind {
		case dialog.StepMessage, dialog.StepQuestion, dialog.StepChoice, dialog.StepAction, dialog.StepFinal:
		default:
			return nil, &dialog.StructuralError{ChainID: chain.ID, StepID: step.ID, Reason: "unknown step kind (branch added to a step that was never defined?)"}
		}

		if step.Kind == dialog.StepFinal && (step.DefaultNext != "" || len(step.Branches) > 0) {
			return nil, &dialog.StructuralError{ChainID: chain.ID, StepID: step.ID, Reason: "final step must not have transitions"}
		}
		if step.Kind == dialog.StepAction && step.Action == nil {
			return nil, &dialog.StructuralError{ChainID: chain.ID, StepID: step.ID, Reason: "action step has no action"}
		}
		if step.Kind == dialog.StepChoice && len(step.Choices) == 0 {
			return nil, &dialog.StructuralError{ChainID: chain.ID, StepID: step.ID, Reason: "choice step has no choices"}
		}

		if step.DefaultNext != "" {
			if _, ok := ids[step.DefaultNext]; !ok {
				return nil, &dialog.StructuralError{
					ChainID: chain.ID,
					StepID:  step.ID,
					Reason:  fmt.Sprintf("transition targets nonexistent step %q", step.DefaultNext),
				}
			}
		}

		for j := range step.Branches {
			br := &step.Branches[j]
			if _, ok := ids[br.Target]; !ok {
				return nil, &dialog.StructuralError{
					ChainID: chain.ID,
					StepID:  step.ID,
					Reason:  fmt.Sprintf("conditional transition %q targets nonexistent step %q", br.When, br.Target),
				}
			}
			expr, err := condition.Parse(br.When)
			if err != nil {
				return nil, &dialog.StructuralError{
					ChainID: chain.ID,
					StepID:  step.ID,
					Reason:  fmt.Sprintf("invalid condition: %v", err),
				}
			}
			br.Cond = expr
		}

		for j := range step.Validators {
			if step.Validators[j].MaxRetries < 1 {
				step.Validators[j].MaxRetries = dialog.DefaultMaxRetries
			}
		}
	}

	return &chain, nil
}

// MustBuild is Build for chains defined statically at startup; it panics on
// structural errors.
func (b *Builder) MustBuild() *dialog.Chain {
	chain, err := b.Build()
	if err != nil {
		panic(err)
	}
	return chain
}
