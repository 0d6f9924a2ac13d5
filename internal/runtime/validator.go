package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// invalidInput describes the first validation rule the input broke.
type invalidInput struct {
	message    string
	maxRetries int
}

// validateInput checks raw input against the suspended step. For choice
// steps, membership in the option set is an implicit first rule. Returns nil
// when the input is acceptable.
func validateInput(step *dialog.Step, input string) *invalidInput {
	if step.Kind == dialog.StepChoice {
		if !containsChoice(step.Choices, input) {
			return &invalidInput{
				message:    fmt.Sprintf("Please choose one of: %s.", strings.Join(step.Choices, ", ")),
				maxRetries: dialog.DefaultMaxRetries,
			}
		}
	}
	for _, rule := range step.Validators {
		if !rule.Predicate(input) {
			msg := rule.ErrorMessage
			if msg == "" {
				msg = dialog.DefaultRetryPrompt
			}
			return &invalidInput{message: msg, maxRetries: rule.MaxRetries}
		}
	}
	return nil
}

func containsChoice(choices []string, input string) bool {
	for _, c := range choices {
		if c == input {
			return true
		}
	}
	return false
}

// handleInvalidInput applies the retry bound: below it the step is
// re-asked with the rule's error message, at the bound the session escalates
// to the error state.
func (e *Engine) handleInvalidInput(ctx context.Context, chain *dialog.Chain, sess *dialog.Session, step *dialog.Step, verdict *invalidInput) (*dialog.Turn, error) {
	sess.RetryCount++
	if e.observer != nil {
		e.observer.ValidationFailed(chain.ID, step.ID)
	}

	if sess.RetryCount >= verdict.maxRetries {
		reason := fmt.Sprintf("validation retries exhausted at step %q: %s", step.ID, verdict.message)
		return e.failSession(ctx, sess, reason)
	}

	sess.Touch()
	if err := e.sessions.Put(ctx, sess); err != nil {
		return nil, err
	}

	retry := step.RetryPrompt
	if retry == "" {
		retry = dialog.DefaultRetryPrompt
	}
	prompt := promptFor(chain, step, sess, []string{verdict.message, e.render(retry, sess.Data)})
	return &dialog.Turn{Prompt: prompt}, nil
}
