package compose

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ilvi89/stupid-tg-bot/internal/logging"
	"github.com/ilvi89/stupid-tg-bot/internal/runtime"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// ErrUnknownComposition is returned when a composition id is not registered.
var ErrUnknownComposition = fmt.Errorf("unknown composition")

// Starter begins a chain for an identity. The interpreter satisfies it.
type Starter interface {
	Start(ctx context.Context, identity dialog.Identity, chainID string, initial map[string]any) (*dialog.Turn, error)
}

// progress records where one identity stands inside a composition.
type progress struct {
	compositionID string
	memberIndex   int
}

// Orchestrator drives compositions over the interpreter. Its OnChainCompleted
// method must be registered as an engine completion handler; hand-off then
// happens inside the same locked turn that completed the previous member.
//
// Progress is held in memory only. A process restart forgets composition
// position, while the member chain's own session survives in the store: the
// user finishes the current member as a standalone chain.
type Orchestrator struct {
	compositions map[string]*Composition
	starter      Starter
	logger       *slog.Logger

	mu       sync.Mutex
	inFlight map[string]progress
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger configures a logger for the orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates an orchestrator over the given compositions.
func NewOrchestrator(compositions []*Composition, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		compositions: make(map[string]*Composition, len(compositions)),
		inFlight:     make(map[string]progress),
		logger:       logging.NewNop(),
	}
	for _, c := range compositions {
		o.compositions[c.ID] = c
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Bind attaches the interpreter used to start member chains. It must be
// called once, after the engine is constructed with OnChainCompleted wired
// in as a completion handler.
func (o *Orchestrator) Bind(starter Starter) {
	o.starter = starter
}

// Composition returns a registered composition by id.
func (o *Orchestrator) Composition(id string) (*Composition, bool) {
	c, ok := o.compositions[id]
	return c, ok
}

// List returns the registered composition ids.
func (o *Orchestrator) List() []*Composition {
	out := make([]*Composition, 0, len(o.compositions))
	for _, c := range o.compositions {
		out = append(out, c)
	}
	return out
}

// Start begins a composition: it records progress at the first member and
// starts that member's chain. A refused or failed start puts back whatever
// progress the identity had before, so a conflict with an in-flight
// composition does not forget its position.
func (o *Orchestrator) Start(ctx context.Context, identity dialog.Identity, compositionID string, initial map[string]any) (*dialog.Turn, error) {
	comp, ok := o.compositions[compositionID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownComposition, compositionID)
	}

	// Progress must be visible before starter.Start: a first member that
	// completes without waiting for input hands off inside that call.
	prev, had := o.swap(identity, progress{compositionID: comp.ID, memberIndex: 0})
	turn, err := o.starter.Start(ctx, identity, comp.Members[0], initial)
	if err != nil {
		if had {
			o.track(identity, prev)
		} else {
			o.Abandon(identity)
		}
		return nil, err
	}
	o.logger.Info("composition started",
		"identity", identity.Key(),
		"composition", comp.ID,
		"member", comp.Members[0],
	)
	return turn, nil
}

// Abandon forgets the identity's composition progress. Callers invoke it
// when a dialog is cancelled so a later standalone chain completion cannot
// be mistaken for a member hand-off.
func (o *Orchestrator) Abandon(identity dialog.Identity) {
	o.mu.Lock()
	delete(o.inFlight, identity.Key())
	o.mu.Unlock()
}

// Active reports the composition the identity is currently progressing
// through, if any.
func (o *Orchestrator) Active(identity dialog.Identity) (compositionID string, member string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.inFlight[identity.Key()]
	if !ok {
		return "", "", false
	}
	comp := o.compositions[p.compositionID]
	return p.compositionID, comp.Members[p.memberIndex], true
}

func (o *Orchestrator) track(identity dialog.Identity, p progress) {
	o.mu.Lock()
	o.inFlight[identity.Key()] = p
	o.mu.Unlock()
}

// swap installs p and returns the progress it displaced, if any.
func (o *Orchestrator) swap(identity dialog.Identity, p progress) (progress, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	prev, ok := o.inFlight[identity.Key()]
	o.inFlight[identity.Key()] = p
	return prev, ok
}

// OnChainCompleted is the engine completion handler. When the completed
// chain is the identity's current composition member it resolves the next
// member (routing rules first, fallthrough order otherwise) and starts it,
// seeding the next member with the completed member's collected data. A nil
// turn means the completion was not part of a composition and the engine's
// own completion turn stands.
func (o *Orchestrator) OnChainCompleted(ctx context.Context, run runtime.Runner, completion *dialog.Completion) (*dialog.Turn, error) {
	key := completion.Identity.Key()

	o.mu.Lock()
	p, ok := o.inFlight[key]
	if !ok {
		o.mu.Unlock()
		return nil, nil
	}
	comp := o.compositions[p.compositionID]
	if comp.Members[p.memberIndex] != completion.ChainID {
		// The tracked member was cancelled or swept and the identity went on
		// to run something else. The composition is over.
		delete(o.inFlight, key)
		o.mu.Unlock()
		return nil, nil
	}

	nextIndex := o.resolveNext(comp, p.memberIndex, completion.Data)
	if nextIndex < 0 {
		delete(o.inFlight, key)
		o.mu.Unlock()
		o.logger.Info("composition completed",
			"identity", key,
			"composition", comp.ID,
		)
		return nil, nil
	}
	o.inFlight[key] = progress{compositionID: comp.ID, memberIndex: nextIndex}
	o.mu.Unlock()

	next := comp.Members[nextIndex]
	o.logger.Info("composition hand-off",
		"identity", key,
		"composition", comp.ID,
		"from", completion.ChainID,
		"to", next,
	)
	turn, err := run.Start(ctx, completion.Identity, next, completion.Data)
	if err != nil {
		o.Abandon(completion.Identity)
		return nil, err
	}
	return turn, nil
}

// resolveNext applies the completed member's routing rules in declaration
// order, then falls through to the next member. -1 means the composition is
// finished.
func (o *Orchestrator) resolveNext(comp *Composition, index int, data map[string]any) int {
	for _, rule := range comp.Rules[comp.Members[index]] {
		if rule.Cond != nil && rule.Cond.Eval(data) {
			return comp.memberIndex(rule.Next)
		}
	}
	if index+1 < len(comp.Members) {
		return index + 1
	}
	return -1
}
