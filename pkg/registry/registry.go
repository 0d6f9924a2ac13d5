// Package registry is the catalog of executable scenarios. It maps chain ids
// and user-facing triggers to built chains, carries discovery metadata, and
// refuses ambiguous registrations outright: a trigger collision at startup
// is a configuration bug, not something to resolve at dispatch time.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ilvi89/stupid-tg-bot/internal/logging"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// Audience describes who a scenario is meant for.
type Audience string

const (
	// AudienceUser scenarios are open to everyone.
	AudienceUser Audience = "user"
	// AudiencePrivileged scenarios require elevated permissions.
	AudiencePrivileged Audience = "privileged"
	// AudienceSystem scenarios are started by the application, never by a trigger.
	AudienceSystem Audience = "system"
)

// Category groups scenarios for discovery and stats.
type Category string

const (
	CategoryOnboarding Category = "onboarding"
	CategoryAuth       Category = "auth"
	CategoryBroadcast  Category = "broadcast"
	CategoryProfile    Category = "profile"
	CategorySupport    Category = "support"
	CategoryGeneral    Category = "general"
)

// Scenario is one registered chain plus its discovery metadata.
type Scenario struct {
	Chain    *dialog.Chain
	Triggers []string
	Audience Audience
	Category Category
	Version  string
	Tags     []string
	Enabled  bool

	// Priority orders scenarios in operator-facing listings; higher first.
	Priority int

	// Dependencies are chain ids this scenario hands off to or starts.
	// They are not resolved at registration time (registration order would
	// then matter); ValidateDependencies reports the ones still missing.
	Dependencies []string
}

// TriggerConflictError reports two scenarios claiming the same trigger.
type TriggerConflictError struct {
	Trigger       string
	ExistingChain string
	NewChain      string
}

func (e *TriggerConflictError) Error() string {
	return fmt.Sprintf("trigger %q already registered by chain %q; refusing to register %q",
		e.Trigger, e.ExistingChain, e.NewChain)
}

// DuplicateChainError reports a chain id registered twice.
type DuplicateChainError struct {
	ChainID string
}

func (e *DuplicateChainError) Error() string {
	return fmt.Sprintf("chain %q is already registered", e.ChainID)
}

// Stats is an aggregate snapshot of the registry contents.
type Stats struct {
	Total               int                 `json:"total"`
	Enabled             int                 `json:"enabled"`
	Triggers            int                 `json:"triggers"`
	Collisions          int                 `json:"collisions"`
	ByCategory          map[Category]int    `json:"by_category"`
	ByAudience          map[Audience]int    `json:"by_audience"`
	MissingDependencies map[string][]string `json:"missing_dependencies,omitempty"`
}

// Registry holds scenarios. All methods are safe for concurrent use;
// registration normally happens once at startup but Enable/Disable may be
// called at runtime.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*Scenario
	byTrigger  map[string]string
	collisions int
	logger     *slog.Logger
}

// Option configures the Registry.
type Option func(*Registry)

// WithLogger configures a logger for the registry.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byID:      make(map[string]*Scenario),
		byTrigger: make(map[string]string),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a scenario. It fails fast on a duplicate chain id or on any
// trigger already claimed by another scenario; on failure nothing is
// registered, not even the scenario's unconflicted triggers.
func (r *Registry) Register(s Scenario) error {
	if s.Chain == nil {
		return fmt.Errorf("scenario has no chain")
	}
	if s.Audience == "" {
		s.Audience = AudienceUser
	}
	if s.Category == "" {
		s.Category = CategoryGeneral
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[s.Chain.ID]; exists {
		return &DuplicateChainError{ChainID: s.Chain.ID}
	}
	for _, trigger := range s.Triggers {
		if owner, exists := r.byTrigger[trigger]; exists {
			r.collisions++
			r.logger.Warn("trigger collision",
				"trigger", trigger,
				"existing", owner,
				"rejected", s.Chain.ID,
			)
			return &TriggerConflictError{
				Trigger:       trigger,
				ExistingChain: owner,
				NewChain:      s.Chain.ID,
			}
		}
	}

	stored := s
	stored.Enabled = true
	r.byID[s.Chain.ID] = &stored
	for _, trigger := range s.Triggers {
		r.byTrigger[trigger] = s.Chain.ID
	}

	r.logger.Info("scenario registered",
		"chain", s.Chain.ID,
		"triggers", s.Triggers,
		"audience", stored.Audience,
		"category", stored.Category,
	)
	return nil
}

// MustRegister is Register for static startup wiring; it panics on conflicts.
func (r *Registry) MustRegister(s Scenario) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// ChainByID returns the chain if it is registered and enabled. It satisfies
// the interpreter's chain resolver.
func (r *Registry) ChainByID(id string) (*dialog.Chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok || !s.Enabled {
		return nil, false
	}
	return s.Chain, true
}

// ByTrigger resolves a user-facing trigger to its enabled chain.
func (r *Registry) ByTrigger(trigger string) (*dialog.Chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byTrigger[trigger]
	if !ok {
		return nil, false
	}
	s, ok := r.byID[id]
	if !ok || !s.Enabled {
		return nil, false
	}
	return s.Chain, true
}

// Scenario returns the metadata for a chain id, enabled or not.
func (r *Registry) Scenario(id string) (Scenario, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return Scenario{}, false
	}
	return *s, true
}

// List returns all scenarios, highest priority first, ties by chain id.
func (r *Registry) List() []Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scenario, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Chain.ID < out[j].Chain.ID
	})
	return out
}

// ByCategory returns the scenarios in a category, sorted by chain id.
func (r *Registry) ByCategory(c Category) []Scenario {
	var out []Scenario
	for _, s := range r.List() {
		if s.Category == c {
			out = append(out, s)
		}
	}
	return out
}

// ByAudience returns the scenarios for an audience, sorted by chain id.
func (r *Registry) ByAudience(a Audience) []Scenario {
	var out []Scenario
	for _, s := range r.List() {
		if s.Audience == a {
			out = append(out, s)
		}
	}
	return out
}

// Enable re-enables a disabled scenario.
func (r *Registry) Enable(id string) error {
	return r.setEnabled(id, true)
}

// Disable hides a scenario from resolution without unregistering it.
// Sessions already running the chain keep executing.
func (r *Registry) Disable(id string) error {
	return r.setEnabled(id, false)
}

func (r *Registry) setEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", dialog.ErrUnknownChain, id)
	}
	s.Enabled = enabled
	r.logger.Info("scenario toggled", "chain", id, "enabled", enabled)
	return nil
}

// ValidateDependencies reports, per chain id, the declared dependencies that
// are not registered. An empty map means every dependency resolves.
func (r *Registry) ValidateDependencies() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.missingDependencies()
}

func (r *Registry) missingDependencies() map[string][]string {
	missing := make(map[string][]string)
	for id, s := range r.byID {
		for _, dep := range s.Dependencies {
			if _, ok := r.byID[dep]; !ok {
				missing[id] = append(missing[id], dep)
			}
		}
	}
	for _, deps := range missing {
		sort.Strings(deps)
	}
	return missing
}

// Stats aggregates counts over the registered scenarios.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{
		Total:      len(r.byID),
		Triggers:   len(r.byTrigger),
		Collisions: r.collisions,
		ByCategory: make(map[Category]int),
		ByAudience: make(map[Audience]int),
	}
	for _, s := range r.byID {
		if s.Enabled {
			stats.Enabled++
		}
		stats.ByCategory[s.Category]++
		stats.ByAudience[s.Audience]++
	}
	if missing := r.missingDependencies(); len(missing) > 0 {
		stats.MissingDependencies = missing
	}
	return stats
}
