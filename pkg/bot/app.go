// Package bot wires the registry, interpreter and orchestrator into a single
// input dispatcher. Transports hand it raw user input; it decides whether
// that input is a trigger, a cancel request, or an answer for the waiting
// session, and always comes back with something deliverable.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ilvi89/stupid-tg-bot/internal/logging"
	"github.com/ilvi89/stupid-tg-bot/internal/runtime"
	"github.com/ilvi89/stupid-tg-bot/pkg/compose"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
	"github.com/ilvi89/stupid-tg-bot/pkg/registry"
)

// DefaultCancelTrigger aborts the active dialog from anywhere.
const DefaultCancelTrigger = "/cancel"

// App is the application facade over the dialog machinery.
type App struct {
	engine       *runtime.Engine
	registry     *registry.Registry
	orchestrator *compose.Orchestrator
	logger       *slog.Logger

	cancelTrigger string
	compTriggers  map[string]string
}

// Option configures the App.
type Option func(*App)

// WithLogger configures a logger for the app.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// WithOrchestrator enables composition dispatch.
func WithOrchestrator(orch *compose.Orchestrator) Option {
	return func(a *App) {
		a.orchestrator = orch
	}
}

// WithCompositionTrigger maps a user-facing trigger to a composition id.
func WithCompositionTrigger(trigger, compositionID string) Option {
	return func(a *App) {
		a.compTriggers[trigger] = compositionID
	}
}

// WithCancelTrigger overrides the cancel trigger.
func WithCancelTrigger(trigger string) Option {
	return func(a *App) {
		a.cancelTrigger = trigger
	}
}

// New creates the app facade. Composition triggers are checked against the
// registry's chain triggers and the cancel trigger at wiring time; a
// collision is a configuration error, never a silent shadow.
func New(engine *runtime.Engine, reg *registry.Registry, opts ...Option) (*App, error) {
	a := &App{
		engine:        engine,
		registry:      reg,
		logger:        logging.NewNop(),
		cancelTrigger: DefaultCancelTrigger,
		compTriggers:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	for trigger, compID := range a.compTriggers {
		if trigger == a.cancelTrigger {
			return nil, fmt.Errorf("composition %q trigger %q collides with the cancel trigger", compID, trigger)
		}
		if chain, ok := a.registry.ByTrigger(trigger); ok {
			return nil, fmt.Errorf("composition %q trigger %q collides with chain %q", compID, trigger, chain.ID)
		}
	}
	return a, nil
}

// Engine exposes the underlying interpreter.
func (a *App) Engine() *runtime.Engine { return a.engine }

// Registry exposes the scenario catalog.
func (a *App) Registry() *registry.Registry { return a.registry }

// Handle routes one unit of user input. Dispatch order: cancel trigger,
// composition trigger, chain trigger, then answer for the waiting session.
// Unroutable input yields a help prompt instead of an error.
func (a *App) Handle(ctx context.Context, identity dialog.Identity, input string) (*dialog.Turn, error) {
	input = strings.TrimSpace(input)

	if input == a.cancelTrigger {
		return a.Cancel(ctx, identity)
	}

	if compID, ok := a.compTriggers[input]; ok && a.orchestrator != nil {
		turn, err := a.orchestrator.Start(ctx, identity, compID, nil)
		return a.resolveStart(identity, input, turn, err)
	}

	if chain, ok := a.registry.ByTrigger(input); ok {
		turn, err := a.engine.Start(ctx, identity, chain.ID, nil)
		return a.resolveStart(identity, input, turn, err)
	}

	turn, err := a.engine.Advance(ctx, identity, input)
	if errors.Is(err, dialog.ErrNoActiveSession) {
		return a.helpTurn(identity), nil
	}
	return turn, err
}

// resolveStart converts the start conflict into a deliverable prompt; any
// other error propagates.
func (a *App) resolveStart(identity dialog.Identity, trigger string, turn *dialog.Turn, err error) (*dialog.Turn, error) {
	var conflict *dialog.ConflictError
	if errors.As(err, &conflict) {
		a.logger.Info("start refused, dialog already active",
			"identity", identity.Key(),
			"active", conflict.ActiveChainID,
			"requested", conflict.RequestedChain,
		)
		return &dialog.Turn{Prompt: &dialog.Prompt{
			Identity: identity,
			ChainID:  conflict.ActiveChainID,
			StepID:   conflict.ActiveStepID,
			Messages: []string{
				fmt.Sprintf("You are in the middle of %q.", conflict.ActiveChainID),
				fmt.Sprintf("Finish it first, or send %s to abort it.", a.cancelTrigger),
			},
			Input: dialog.InputNone,
		}}, nil
	}
	if errors.Is(err, dialog.ErrPermissionDenied) {
		return &dialog.Turn{Prompt: &dialog.Prompt{
			Identity: identity,
			Messages: []string{fmt.Sprintf("%s is not available to you.", trigger)},
			Input:    dialog.InputNone,
		}}, nil
	}
	return turn, err
}

// Cancel aborts the active dialog and forgets composition progress.
func (a *App) Cancel(ctx context.Context, identity dialog.Identity) (*dialog.Turn, error) {
	turn, err := a.engine.Cancel(ctx, identity)
	if err != nil {
		return nil, err
	}
	if a.orchestrator != nil {
		a.orchestrator.Abandon(identity)
	}
	return turn, nil
}

// Resume re-delivers the current prompt for a reconnecting identity.
func (a *App) Resume(ctx context.Context, identity dialog.Identity) (*dialog.Turn, error) {
	return a.engine.Resume(ctx, identity)
}

// helpTurn lists the available triggers for input that routed nowhere.
func (a *App) helpTurn(identity dialog.Identity) *dialog.Turn {
	triggers := a.availableTriggers()
	messages := []string{"I did not understand that."}
	if len(triggers) > 0 {
		messages = append(messages, "Available commands: "+strings.Join(triggers, ", ")+".")
	}
	return &dialog.Turn{Prompt: &dialog.Prompt{
		Identity: identity,
		Messages: messages,
		Input:    dialog.InputNone,
	}}
}

func (a *App) availableTriggers() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range a.registry.List() {
		if !s.Enabled || s.Audience == registry.AudienceSystem {
			continue
		}
		for _, trigger := range s.Triggers {
			if _, dup := seen[trigger]; !dup {
				seen[trigger] = struct{}{}
				out = append(out, trigger)
			}
		}
	}
	for trigger := range a.compTriggers {
		if _, dup := seen[trigger]; !dup {
			seen[trigger] = struct{}{}
			out = append(out, trigger)
		}
	}
	out = append(out, a.cancelTrigger)
	sort.Strings(out)
	return out
}
