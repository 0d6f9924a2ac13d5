// Package compose links independent chains into multi-stage flows. A
// composition names an ordered list of member chains; when one member
// completes, routing rules evaluated against its collected data pick the
// next member, falling through to declaration order when no rule matches.
package compose

import (
	"fmt"

	"github.com/ilvi89/stupid-tg-bot/pkg/condition"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// ChainLookup resolves member chain ids. The registry satisfies it.
type ChainLookup interface {
	ChainByID(id string) (*dialog.Chain, bool)
}

// MissingMemberError reports a composition member that is not registered.
type MissingMemberError struct {
	CompositionID string
	ChainID       string
}

func (e *MissingMemberError) Error() string {
	return fmt.Sprintf("composition %q member %q is not registered", e.CompositionID, e.ChainID)
}

// Rule is one conditional hand-off: when the condition holds over the
// completed member's data, the composition jumps to the named member.
type Rule struct {
	When string
	Cond condition.Expr
	Next string
}

// Composition is an immutable multi-chain flow definition.
type Composition struct {
	ID          string
	Name        string
	Description string

	// Members are the chain ids in fallthrough order.
	Members []string

	// Rules maps a member chain id to its hand-off rules, evaluated in
	// declaration order when that member completes.
	Rules map[string][]Rule
}

func (c *Composition) memberIndex(chainID string) int {
	for i, id := range c.Members {
		if id == chainID {
			return i
		}
	}
	return -1
}

// Builder accumulates a composition definition.
type Builder struct {
	comp Composition
}

// New creates a builder for the composition with the given id and name.
func New(id, name string) *Builder {
	return &Builder{comp: Composition{
		ID:    id,
		Name:  name,
		Rules: make(map[string][]Rule),
	}}
}

// Describe sets the composition description.
func (b *Builder) Describe(description string) *Builder {
	b.comp.Description = description
	return b
}

// Then appends a member chain.
func (b *Builder) Then(chainID string) *Builder {
	b.comp.Members = append(b.comp.Members, chainID)
	return b
}

// Route adds a conditional hand-off from one member to another, evaluated
// against the completing member's collected data. Rules added first win.
func (b *Builder) Route(from, when, to string) *Builder {
	b.comp.Rules[from] = append(b.comp.Rules[from], Rule{When: when, Next: to})
	return b
}

// Build validates the composition against the chain lookup: every member
// must resolve, members must be unique, every route endpoint must be a
// member, and every route condition must parse.
func (b *Builder) Build(chains ChainLookup) (*Composition, error) {
	comp := b.comp

	if comp.ID == "" {
		return nil, fmt.Errorf("composition has no id")
	}
	if len(comp.Members) == 0 {
		return nil, fmt.Errorf("composition %q has no members", comp.ID)
	}

	seen := make(map[string]struct{}, len(comp.Members))
	for _, id := range comp.Members {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("composition %q lists member %q twice", comp.ID, id)
		}
		seen[id] = struct{}{}
		if _, ok := chains.ChainByID(id); !ok {
			return nil, &MissingMemberError{CompositionID: comp.ID, ChainID: id}
		}
	}

	for from, rules := range comp.Rules {
		if _, ok := seen[from]; !ok {
			return nil, fmt.Errorf("composition %q routes from non-member %q", comp.ID, from)
		}
		for i := range rules {
			rule := &rules[i]
			if _, ok := seen[rule.Next]; !ok {
				return nil, fmt.Errorf("composition %q routes to non-member %q", comp.ID, rule.Next)
			}
			expr, err := condition.Parse(rule.When)
			if err != nil {
				return nil, fmt.Errorf("composition %q rule %q: %w", comp.ID, rule.When, err)
			}
			rule.Cond = expr
		}
	}

	return &comp, nil
}

// MustBuild is Build for compositions defined statically at startup.
func (b *Builder) MustBuild(chains ChainLookup) *Composition {
	comp, err := b.Build(chains)
	if err != nil {
		panic(err)
	}
	return comp
}
