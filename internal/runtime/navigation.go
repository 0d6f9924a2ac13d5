package runtime

import (
	"context"
	"fmt"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// maxHops bounds one interpreter turn. Soft steps chain without input, so a
// cyclic graph whose actions never change the branching data would otherwise
// spin forever.
const maxHops = 1000

// run executes the session from its current step until the dialog suspends
// on input, completes, or fails. Accumulated soft-step messages ride along
// into the eventual prompt.
func (e *Engine) run(ctx context.Context, chain *dialog.Chain, sess *dialog.Session, messages []string) (*dialog.Turn, error) {
	for hops := 0; ; hops++ {
		if hops > maxHops {
			return e.failSession(ctx, sess, fmt.Sprintf("step limit exceeded at %q", sess.CurrentStepID))
		}
		if sess.CurrentStepID == "" {
			return e.complete(ctx, chain, sess, messages)
		}

		step := chain.Step(sess.CurrentStepID)
		if step == nil {
			return e.failSession(ctx, sess, fmt.Sprintf("%s: %q", dialog.ErrStepNotFound, sess.CurrentStepID))
		}

		switch step.Kind {
		case dialog.StepMessage:
			messages = append(messages, e.render(step.Content, sess.Data))
			sess.State = dialog.StateInProgress
			sess.CurrentStepID = nextStepID(step, sess.Data)

		case dialog.StepAction:
			result, err := e.invokeAction(ctx, step, sess)
			if err != nil {
				e.logger.Error("action failed",
					"identity", sess.Identity.Key(),
					"chain", chain.ID,
					"step", step.ID,
					"err", err,
				)
				return e.failSessionWith(ctx, sess, err.Error(), messages)
			}
			for k, v := range result {
				sess.Data[k] = v
			}
			sess.State = dialog.StateInProgress
			sess.CurrentStepID = nextStepID(step, sess.Data)

		case dialog.StepQuestion, dialog.StepChoice:
			messages = append(messages, e.render(step.Content, sess.Data))
			sess.State = dialog.StateWaitingInput
			sess.Touch()
			if err := e.sessions.Put(ctx, sess); err != nil {
				return nil, err
			}
			return &dialog.Turn{Prompt: promptFor(chain, step, sess, messages)}, nil

		case dialog.StepFinal:
			if step.Content != "" {
				messages = append(messages, e.render(step.Content, sess.Data))
			}
			return e.complete(ctx, chain, sess, messages)

		default:
			return e.failSession(ctx, sess, fmt.Sprintf("step %q has unknown kind %q", step.ID, step.Kind))
		}

		if e.observer != nil {
			e.observer.StepAdvanced(chain.ID, step.ID)
		}
	}
}

// invokeAction runs the step's side effect, converting panics to errors so a
// misbehaving action degrades into a recoverable session instead of killing
// the process.
func (e *Engine) invokeAction(ctx context.Context, step *dialog.Step, sess *dialog.Session) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %q panicked: %v", step.ID, r)
		}
	}()
	snapshot := make(map[string]any, len(sess.Data))
	for k, v := range sess.Data {
		snapshot[k] = v
	}
	return step.Action(ctx, sess.Identity, snapshot)
}

// nextStepID resolves the outgoing transition: branches in declaration
// order, first condition that holds wins, else the default. Empty means the
// chain is exhausted.
func nextStepID(step *dialog.Step, data map[string]any) string {
	for _, br := range step.Branches {
		if br.Cond != nil && br.Cond.Eval(data) {
			return br.Target
		}
	}
	return step.DefaultNext
}

// complete finishes the chain: the durable session is deleted before anyone
// is notified, so a completed dialog can never conflict with the next start.
func (e *Engine) complete(ctx context.Context, chain *dialog.Chain, sess *dialog.Session, messages []string) (*dialog.Turn, error) {
	sess.State = dialog.StateCompleted
	if err := e.sessions.Delete(ctx, sess.Identity); err != nil {
		return nil, err
	}
	e.logger.Info("dialog completed", "identity", sess.Identity.Key(), "chain", chain.ID)
	if e.observer != nil {
		e.observer.ChainCompleted(chain.ID)
	}

	completion := &dialog.Completion{
		Identity: sess.Identity,
		ChainID:  chain.ID,
		Data:     sess.Data,
	}
	turn := &dialog.Turn{Completion: completion}
	if len(messages) > 0 {
		turn.Prompt = &dialog.Prompt{
			Identity: sess.Identity,
			ChainID:  chain.ID,
			StepID:   sess.CurrentStepID,
			Messages: messages,
			Input:    dialog.InputNone,
		}
	}

	for _, h := range e.onComplete {
		next, err := h(ctx, inlineRunner{e}, completion)
		if err != nil {
			return nil, err
		}
		if next != nil {
			return mergeTurns(turn, next), nil
		}
	}
	return turn, nil
}

// mergeTurns prepends the completion turn's farewell messages to the turn a
// completion handler produced (composition hand-off keeps both the finished
// chain's goodbye and the next chain's greeting in one delivery).
func mergeTurns(done, next *dialog.Turn) *dialog.Turn {
	if done.Prompt == nil || next.Prompt == nil {
		if next.Prompt == nil {
			next.Prompt = done.Prompt
		}
		return next
	}
	merged := *next.Prompt
	merged.Messages = append(append([]string(nil), done.Prompt.Messages...), next.Prompt.Messages...)
	next.Prompt = &merged
	return next
}

// failSession moves the session to the error state and returns the recovery
// menu. The session stays durable so the user can resolve it later.
func (e *Engine) failSession(ctx context.Context, sess *dialog.Session, reason string) (*dialog.Turn, error) {
	return e.failSessionWith(ctx, sess, reason, nil)
}

func (e *Engine) failSessionWith(ctx context.Context, sess *dialog.Session, reason string, messages []string) (*dialog.Turn, error) {
	sess.State = dialog.StateError
	sess.RecordError(reason)
	sess.Touch()
	if err := e.sessions.Put(ctx, sess); err != nil {
		return nil, err
	}
	if e.observer != nil {
		e.observer.SessionErrored(sess.ChainID)
	}
	prompt := e.recoveryTurn(sess, "").Prompt
	prompt.Messages = append(messages, prompt.Messages...)
	return &dialog.Turn{Prompt: prompt}, nil
}

// recoveryTurn renders the three-way recovery menu for an errored session.
func (e *Engine) recoveryTurn(sess *dialog.Session, extra string) *dialog.Turn {
	messages := []string{"Something went wrong with the current dialog."}
	if extra != "" {
		messages = append(messages, extra)
	}
	messages = append(messages, "You can continue from where you left off, restart from the beginning, or cancel.")
	return &dialog.Turn{
		Prompt: &dialog.Prompt{
			Identity: sess.Identity,
			ChainID:  sess.ChainID,
			StepID:   sess.CurrentStepID,
			Messages: messages,
			Input:    dialog.InputChoice,
			Choices:  dialog.RecoveryChoices(),
			Recovery: true,
		},
	}
}

// promptFor builds the suspended-step prompt.
func promptFor(chain *dialog.Chain, step *dialog.Step, sess *dialog.Session, messages []string) *dialog.Prompt {
	p := &dialog.Prompt{
		Identity:  sess.Identity,
		ChainID:   chain.ID,
		StepID:    step.ID,
		Messages:  messages,
		Input:     dialog.InputText,
		Sensitive: step.Sensitive,
	}
	if step.Kind == dialog.StepChoice {
		p.Input = dialog.InputChoice
		p.Choices = append([]string(nil), step.Choices...)
	}
	return p
}
