package template

import (
	"fmt"

	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// kindStates lists the episode states in which each packet kind may be
// emitted. Used for the static topology check; the ledger enforces the full
// edge semantics at runtime.
var kindStates = map[vocabulary.PacketKind][]vocabulary.FSMState{
	vocabulary.KindObservation: {
		vocabulary.StateSense, vocabulary.StateVerify, vocabulary.StateExecute,
	},
	vocabulary.KindBeliefUpdate: {
		vocabulary.StateModel, vocabulary.StateVerify, vocabulary.StateExecute,
		vocabulary.StateReview, vocabulary.StateSafeMode,
	},
	vocabulary.KindDecision: {
		vocabulary.StateDecide,
	},
	vocabulary.KindVerificationPlan: {
		vocabulary.StateVerify,
	},
	vocabulary.KindToolAuthorization: {
		vocabulary.StateAuthorize,
	},
	vocabulary.KindTaskDirective: {
		vocabulary.StateVerify, vocabulary.StateExecute,
	},
	vocabulary.KindTaskResult: {
		vocabulary.StateVerify, vocabulary.StateExecute,
	},
	vocabulary.KindEscalation: {
		vocabulary.StateEscalated,
	},
	vocabulary.KindIntegrityAlert: {
		vocabulary.StateSafeMode, vocabulary.StateReview,
	},
}

// ValidateTopology statically checks a template's step graph: reference
// integrity, reachability from the entry step, and state/kind plausibility
// per step. The runtime gates remain authoritative; this check catches
// authoring mistakes before an episode ever runs.
func ValidateTopology(t *Template) error {
	if len(t.Steps) == 0 {
		return fmt.Errorf("template %s: no steps", t.ID)
	}
	ids := t.StepIDs()

	if !ids[t.EntryStep] {
		return fmt.Errorf("template %s: entry step %q not found", t.ID, t.EntryStep)
	}
	if len(t.ExitSteps) == 0 {
		return fmt.Errorf("template %s: no exit steps", t.ID)
	}
	for _, exit := range t.ExitSteps {
		if !ids[exit] {
			return fmt.Errorf("template %s: exit step %q not found", t.ID, exit)
		}
	}

	for _, step := range t.Steps {
		for _, next := range step.NextSteps {
			if !ids[next] {
				return fmt.Errorf("template %s: step %s references unknown successor %q",
					t.ID, step.StepID, next)
			}
		}
		for outcome, next := range step.Branches {
			if !ids[next] {
				return fmt.Errorf("template %s: step %s branch %s references unknown step %q",
					t.ID, step.StepID, outcome, next)
			}
		}
		if step.EmitKind != "" {
			if err := checkStateKind(t.ID, step); err != nil {
				return err
			}
		}
		if !step.OwnerLayer.Valid() {
			return fmt.Errorf("template %s: step %s has invalid owner layer %q",
				t.ID, step.StepID, step.OwnerLayer)
		}
	}

	// Every step must be reachable from the entry.
	reachable := map[string]bool{t.EntryStep: true}
	frontier := []string{t.EntryStep}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		step, _ := t.Step(id)
		successors := append([]string(nil), step.NextSteps...)
		for _, next := range step.Branches {
			successors = append(successors, next)
		}
		for _, next := range successors {
			if !reachable[next] {
				reachable[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	for id := range ids {
		if !reachable[id] {
			return fmt.Errorf("template %s: step %s is unreachable from entry", t.ID, id)
		}
	}
	return nil
}

func checkStateKind(id vocabulary.TemplateID, step Step) error {
	allowed, ok := kindStates[step.EmitKind]
	if !ok {
		return fmt.Errorf("template %s: step %s emits unknown kind %q", id, step.StepID, step.EmitKind)
	}
	for _, state := range allowed {
		if state == step.State {
			return nil
		}
	}
	return fmt.Errorf("template %s: step %s emits %s in state %s, which never admits it",
		id, step.StepID, step.EmitKind, step.State)
}
