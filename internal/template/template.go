// Package template defines the canonical episode recipes and the compiler
// that binds them to a context. A template is a directed step graph; the
// compiler allocates the episode identity, refuses contexts that violate the
// template's constraints, and pre-fills each step's envelope.
package template

import (
	"fmt"

	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Step is one node of the template graph. A step with no EmitKind is a
// transition marker (entry or exit) that produces no packet.
type Step struct {
	StepID     string
	OwnerLayer vocabulary.LayerID
	State      vocabulary.FSMState
	EmitKind   vocabulary.PacketKind
	NextSteps  []string
	// Branches selects the successor by the episode's last decision outcome.
	// When empty or unmatched, NextSteps[0] applies.
	Branches map[vocabulary.DecisionOutcome]string
	// Bindings parameterize the emitted payload (decision_outcome,
	// tool_safety, epistemic_status, ...).
	Bindings map[string]string
}

// Constraints are the preconditions a compile context must satisfy.
type Constraints struct {
	MinTier      vocabulary.QualityTier
	ToolsStates  []vocabulary.ToolsState
	WriteAllowed bool
}

// allowsTools reports whether state is one of the acceptable tools states.
func (c Constraints) allowsTools(state vocabulary.ToolsState) bool {
	for _, s := range c.ToolsStates {
		if s == state {
			return true
		}
	}
	return false
}

// Template is a named episode recipe.
type Template struct {
	ID          vocabulary.TemplateID
	Name        string
	Description string
	Constraints Constraints
	Steps       []Step
	EntryStep   string
	ExitSteps   []string
}

// Step returns the step with the given id.
func (t *Template) Step(id string) (*Step, bool) {
	for i := range t.Steps {
		if t.Steps[i].StepID == id {
			return &t.Steps[i], true
		}
	}
	return nil, false
}

// StepIDs returns the set of step ids.
func (t *Template) StepIDs() map[string]bool {
	ids := make(map[string]bool, len(t.Steps))
	for _, s := range t.Steps {
		ids[s.StepID] = true
	}
	return ids
}

// IsExit reports whether id is a terminal step.
func (t *Template) IsExit(id string) bool {
	for _, e := range t.ExitSteps {
		if e == id {
			return true
		}
	}
	return false
}

// Get returns the canonical template with the given id.
func Get(id vocabulary.TemplateID) (*Template, error) {
	t, ok := canonical[id]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", id)
	}
	return t, nil
}

// All returns every canonical template in id order.
func All() []*Template {
	out := make([]*Template, 0, len(vocabulary.AllTemplates))
	for _, id := range vocabulary.AllTemplates {
		if t, ok := canonical[id]; ok {
			out = append(out, t)
		}
	}
	return out
}
