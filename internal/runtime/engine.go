package runtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ilvi89/stupid-tg-bot/internal/logging"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
	"github.com/ilvi89/stupid-tg-bot/pkg/ports"
	"github.com/ilvi89/stupid-tg-bot/pkg/session"
)

// ChainResolver supplies executable chains by id. The registry implements it
// over its enabled scenarios; tests implement it over a literal map.
type ChainResolver interface {
	ChainByID(id string) (*dialog.Chain, bool)
}

// Observer receives interpreter lifecycle events. Implementations must be
// cheap and must not block; the metrics collector is the primary consumer.
type Observer interface {
	SessionStarted(chainID string)
	StepAdvanced(chainID, stepID string)
	ValidationFailed(chainID, stepID string)
	SessionErrored(chainID string)
	SessionCancelled(chainID string)
	ChainCompleted(chainID string)
}

// Runner starts chains while the identity's lock is already held. It is
// handed to completion handlers so they can chain into a follow-up dialog
// without re-entering (and deadlocking on) the session manager.
type Runner interface {
	Start(ctx context.Context, identity dialog.Identity, chainID string, initial map[string]any) (*dialog.Turn, error)
}

// CompletionHandler is invoked after a chain runs to its end, once the
// durable session is already gone. Handlers run synchronously under the
// identity's lock, so composition hand-off sees a consistent world.
type CompletionHandler func(ctx context.Context, run Runner, completion *dialog.Completion) (*dialog.Turn, error)

// Engine is the dialog interpreter. It owns every session state transition;
// chains, transports and stores never mutate sessions directly.
type Engine struct {
	chains     ChainResolver
	sessions   *session.Manager
	perms      ports.PermissionChecker
	observer   Observer
	onComplete []CompletionHandler
	render     Interpolator
	logger     *slog.Logger
}

// Interpolator resolves placeholders in step content against collected data.
type Interpolator func(content string, data map[string]any) string

// Option configures the Engine.
type Option func(*Engine)

// WithLogger configures a logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithPermissionChecker gates chain starts on chain permissions. Without a
// checker, chains with permission requirements are refused outright.
func WithPermissionChecker(checker ports.PermissionChecker) Option {
	return func(e *Engine) {
		e.perms = checker
	}
}

// WithInterpolator replaces the default {field} content interpolation.
func WithInterpolator(fn Interpolator) Option {
	return func(e *Engine) {
		e.render = fn
	}
}

// WithObserver attaches a lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(e *Engine) {
		e.observer = obs
	}
}

// OnCompletion registers a handler called when any chain completes. The
// first handler returning a non-nil turn overrides the engine's own
// completion turn; this is how compositions chain into their next member.
func OnCompletion(h CompletionHandler) Option {
	return func(e *Engine) {
		e.onComplete = append(e.onComplete, h)
	}
}

// New creates an interpreter over the given chain resolver and session manager.
func New(chains ChainResolver, sessions *session.Manager, opts ...Option) *Engine {
	e := &Engine{
		chains:   chains,
		sessions: sessions,
		render:   interpolate,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sessions exposes the session manager for transports and sweepers.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Start begins a chain for an identity. If the identity already has a
// non-terminal session (including an errored one), Start refuses with a
// ConflictError describing the active dialog; the caller must resolve the
// conflict explicitly, it is never clobbered.
func (e *Engine) Start(ctx context.Context, identity dialog.Identity, chainID string, initial map[string]any) (*dialog.Turn, error) {
	var turn *dialog.Turn
	err := e.sessions.WithLock(ctx, identity, func(ctx context.Context) error {
		var err error
		turn, err = e.startLocked(ctx, identity, chainID, initial)
		return err
	})
	return turn, err
}

func (e *Engine) startLocked(ctx context.Context, identity dialog.Identity, chainID string, initial map[string]any) (*dialog.Turn, error) {
	chain, ok := e.chains.ChainByID(chainID)
	if !ok {
		return nil, dialog.ErrUnknownChain
	}
	if len(chain.Permissions) > 0 {
		if e.perms == nil || !e.perms.IsPermitted(ctx, identity, chain.Permissions) {
			return nil, dialog.ErrPermissionDenied
		}
	}

	active, err := e.sessions.Active(ctx, identity)
	if err == nil {
		return nil, &dialog.ConflictError{
			Identity:       identity,
			ActiveChainID:  active.ChainID,
			ActiveStepID:   active.CurrentStepID,
			RequestedChain: chainID,
		}
	}
	if !errors.Is(err, dialog.ErrNoActiveSession) {
		// A store failure is not proof that no session exists. Creating a
		// fresh session here would clobber whatever the store still holds.
		return nil, err
	}

	sess := dialog.NewSession(identity, chainID, chain.StartStepID, initial)
	e.logger.Info("dialog started", "identity", identity.Key(), "chain", chainID)
	if e.observer != nil {
		e.observer.SessionStarted(chainID)
	}
	return e.run(ctx, chain, sess, nil)
}

// Advance feeds one unit of user input to the identity's waiting session.
// If the session is in the error state, the input is interpreted as a
// recovery menu selection.
func (e *Engine) Advance(ctx context.Context, identity dialog.Identity, input string) (*dialog.Turn, error) {
	var turn *dialog.Turn
	err := e.sessions.WithLock(ctx, identity, func(ctx context.Context) error {
		var err error
		turn, err = e.advanceLocked(ctx, identity, input)
		return err
	})
	return turn, err
}

func (e *Engine) advanceLocked(ctx context.Context, identity dialog.Identity, input string) (*dialog.Turn, error) {
	sess, err := e.sessions.Active(ctx, identity)
	if err != nil {
		return nil, err
	}

	if sess.State == dialog.StateError {
		choice, ok := parseRecoveryChoice(input)
		if !ok {
			return e.recoveryTurn(sess, "Please pick one of the options."), nil
		}
		return e.recoverLocked(ctx, sess, choice)
	}

	chain, ok := e.chains.ChainByID(sess.ChainID)
	if !ok {
		return e.failSession(ctx, sess, dialog.ErrUnknownChain.Error())
	}
	step := chain.Step(sess.CurrentStepID)
	if step == nil {
		return e.failSession(ctx, sess, dialog.ErrStepNotFound.Error())
	}

	if !step.WaitsForInput() {
		// The session suspended on a soft step, which only happens after a
		// crash between persist and run. Ignore the input and resume.
		return e.run(ctx, chain, sess, nil)
	}

	if verdict := validateInput(step, input); verdict != nil {
		return e.handleInvalidInput(ctx, chain, sess, step, verdict)
	}

	sess.Data[dialog.FieldName(step.ID)] = input
	sess.RetryCount = 0
	sess.CurrentStepID = nextStepID(step, sess.Data)
	if e.observer != nil {
		e.observer.StepAdvanced(chain.ID, step.ID)
	}
	return e.run(ctx, chain, sess, nil)
}

// Resume re-delivers the identity's current prompt without consuming input.
// Transports use it when a user reconnects mid-dialog.
func (e *Engine) Resume(ctx context.Context, identity dialog.Identity) (*dialog.Turn, error) {
	var turn *dialog.Turn
	err := e.sessions.WithLock(ctx, identity, func(ctx context.Context) error {
		sess, err := e.sessions.Active(ctx, identity)
		if err != nil {
			return err
		}
		if sess.State == dialog.StateError {
			turn = e.recoveryTurn(sess, "")
			return nil
		}
		chain, ok := e.chains.ChainByID(sess.ChainID)
		if !ok {
			turn, err = e.failSession(ctx, sess, dialog.ErrUnknownChain.Error())
			return err
		}
		turn, err = e.run(ctx, chain, sess, nil)
		return err
	})
	return turn, err
}

// Cancel aborts the identity's dialog, whatever state it is in. Cancelling
// when nothing is active is a no-op that still reports success.
func (e *Engine) Cancel(ctx context.Context, identity dialog.Identity) (*dialog.Turn, error) {
	var turn *dialog.Turn
	err := e.sessions.WithLock(ctx, identity, func(ctx context.Context) error {
		sess, err := e.sessions.Active(ctx, identity)
		if err != nil {
			if errors.Is(err, dialog.ErrNoActiveSession) {
				turn = ackTurn(identity, "", "Nothing to cancel.")
				return nil
			}
			return err
		}
		turn, err = e.cancelLocked(ctx, sess)
		return err
	})
	return turn, err
}

func (e *Engine) cancelLocked(ctx context.Context, sess *dialog.Session) (*dialog.Turn, error) {
	sess.State = dialog.StateCancelled
	if err := e.sessions.Delete(ctx, sess.Identity); err != nil {
		return nil, err
	}
	e.logger.Info("dialog cancelled", "identity", sess.Identity.Key(), "chain", sess.ChainID)
	if e.observer != nil {
		e.observer.SessionCancelled(sess.ChainID)
	}
	return ackTurn(sess.Identity, sess.ChainID, "Dialog cancelled."), nil
}

// Restart abandons the identity's active session and starts its chain over
// with empty collected data.
func (e *Engine) Restart(ctx context.Context, identity dialog.Identity) (*dialog.Turn, error) {
	var turn *dialog.Turn
	err := e.sessions.WithLock(ctx, identity, func(ctx context.Context) error {
		sess, err := e.sessions.Active(ctx, identity)
		if err != nil {
			return err
		}
		turn, err = e.restartLocked(ctx, sess)
		return err
	})
	return turn, err
}

func (e *Engine) restartLocked(ctx context.Context, sess *dialog.Session) (*dialog.Turn, error) {
	chain, ok := e.chains.ChainByID(sess.ChainID)
	if !ok {
		return e.failSession(ctx, sess, dialog.ErrUnknownChain.Error())
	}
	fresh := dialog.NewSession(sess.Identity, sess.ChainID, chain.StartStepID, nil)
	e.logger.Info("dialog restarted", "identity", sess.Identity.Key(), "chain", sess.ChainID)
	return e.run(ctx, chain, fresh, nil)
}

// Recover applies one of the three recovery actions to an errored session.
func (e *Engine) Recover(ctx context.Context, identity dialog.Identity, choice dialog.RecoveryChoice) (*dialog.Turn, error) {
	var turn *dialog.Turn
	err := e.sessions.WithLock(ctx, identity, func(ctx context.Context) error {
		sess, err := e.sessions.Active(ctx, identity)
		if err != nil {
			return err
		}
		turn, err = e.recoverLocked(ctx, sess, choice)
		return err
	})
	return turn, err
}

func (e *Engine) recoverLocked(ctx context.Context, sess *dialog.Session, choice dialog.RecoveryChoice) (*dialog.Turn, error) {
	switch choice {
	case dialog.RecoveryContinue:
		chain, ok := e.chains.ChainByID(sess.ChainID)
		if !ok {
			return e.failSession(ctx, sess, dialog.ErrUnknownChain.Error())
		}
		sess.RetryCount = 0
		e.logger.Info("dialog recovery: continue", "identity", sess.Identity.Key(), "chain", sess.ChainID)
		return e.run(ctx, chain, sess, nil)
	case dialog.RecoveryRestart:
		e.logger.Info("dialog recovery: restart", "identity", sess.Identity.Key(), "chain", sess.ChainID)
		return e.restartLocked(ctx, sess)
	case dialog.RecoveryCancel:
		return e.cancelLocked(ctx, sess)
	default:
		return e.recoveryTurn(sess, "Please pick one of the options."), nil
	}
}

// inlineRunner adapts the engine's lock-free start for completion handlers.
type inlineRunner struct{ e *Engine }

func (r inlineRunner) Start(ctx context.Context, identity dialog.Identity, chainID string, initial map[string]any) (*dialog.Turn, error) {
	return r.e.startLocked(ctx, identity, chainID, initial)
}

func parseRecoveryChoice(input string) (dialog.RecoveryChoice, bool) {
	switch dialog.RecoveryChoice(input) {
	case dialog.RecoveryContinue, dialog.RecoveryRestart, dialog.RecoveryCancel:
		return dialog.RecoveryChoice(input), true
	}
	return "", false
}

func ackTurn(identity dialog.Identity, chainID, message string) *dialog.Turn {
	return &dialog.Turn{
		Prompt: &dialog.Prompt{
			Identity: identity,
			ChainID:  chainID,
			Messages: []string{message},
			Input:    dialog.InputNone,
		},
	}
}
