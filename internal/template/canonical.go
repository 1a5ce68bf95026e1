package template

import (
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Binding keys understood by layer implementations.
const (
	BindDecisionOutcome    = "decision_outcome"
	BindToolSafety         = "tool_safety"
	BindEpistemicStatus    = "epistemic_status"
	BindReferencesEvidence = "references_evidence"
	BindComplete           = "complete"
	BindTrigger            = "escalation_trigger"
)

// The canonical recipes A-H. Each topology walks only legal episode edges;
// the runner tests drive every one of them through a live ledger.
var canonical = map[vocabulary.TemplateID]*Template{
	vocabulary.TemplateGrounding:    templateA,
	vocabulary.TemplateVerification: templateB,
	vocabulary.TemplateReadOnlyAct:  templateC,
	vocabulary.TemplateWriteAct:     templateD,
	vocabulary.TemplateEscalation:   templateE,
	vocabulary.TemplateDegraded:     templateF,
	vocabulary.TemplateCompile:      templateG,
	vocabulary.TemplateFullStack:    templateH,
}

// Template A: grounding loop. Sense, model, decide, review.
var templateA = &Template{
	ID:          vocabulary.TemplateGrounding,
	Name:        "Grounding Loop",
	Description: "Sense the environment, update beliefs, record a deferred decision, review.",
	Constraints: Constraints{
		MinTier:     vocabulary.TierPar,
		ToolsStates: []vocabulary.ToolsState{vocabulary.ToolsOK, vocabulary.ToolsPartial},
	},
	Steps: []Step{
		{StepID: "idle_start", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateIdle,
			NextSteps: []string{"sense"}},
		{StepID: "sense", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateSense,
			EmitKind: vocabulary.KindObservation, NextSteps: []string{"model"}},
		{StepID: "model", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateModel,
			EmitKind: vocabulary.KindBeliefUpdate, NextSteps: []string{"decide"}},
		{StepID: "decide", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateDecide,
			EmitKind: vocabulary.KindDecision, NextSteps: []string{"review"},
			Bindings: map[string]string{BindDecisionOutcome: string(vocabulary.OutcomeDefer)}},
		{StepID: "review", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateReview,
			EmitKind: vocabulary.KindBeliefUpdate, NextSteps: []string{"idle_end"}},
		{StepID: "idle_end", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateIdle},
	},
	EntryStep: "idle_start",
	ExitSteps: []string{"idle_end"},
}

// Template B: verification loop. VERIFY_FIRST, plan, read, ground, re-decide.
var templateB = &Template{
	ID:          vocabulary.TemplateVerification,
	Name:        "Verification Loop",
	Description: "Plan verification, execute a read, integrate fresh evidence, re-decide.",
	Constraints: Constraints{
		MinTier:     vocabulary.TierPar,
		ToolsStates: []vocabulary.ToolsState{vocabulary.ToolsOK, vocabulary.ToolsPartial},
	},
	Steps: []Step{
		{StepID: "decide_verify", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateDecide,
			EmitKind: vocabulary.KindDecision, NextSteps: []string{"plan"},
			Bindings: map[string]string{BindDecisionOutcome: string(vocabulary.OutcomeVerifyFirst)}},
		{StepID: "plan", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateVerify,
			EmitKind: vocabulary.KindVerificationPlan, NextSteps: []string{"read_directive"}},
		{StepID: "read_directive", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateVerify,
			EmitKind: vocabulary.KindTaskDirective, NextSteps: []string{"read_result"},
			Bindings: map[string]string{BindToolSafety: string(vocabulary.SafetyRead)}},
		{StepID: "read_result", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateVerify,
			EmitKind: vocabulary.KindTaskResult, NextSteps: []string{"fresh_observation"}},
		{StepID: "fresh_observation", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateVerify,
			EmitKind: vocabulary.KindObservation, NextSteps: []string{"update_beliefs"},
			Bindings: map[string]string{BindEpistemicStatus: string(vocabulary.StatusObserved)}},
		{StepID: "update_beliefs", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateModel,
			EmitKind: vocabulary.KindBeliefUpdate, NextSteps: []string{"re_decide"},
			Bindings: map[string]string{BindReferencesEvidence: "true"}},
		{StepID: "re_decide", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateDecide,
			EmitKind: vocabulary.KindDecision,
			Bindings: map[string]string{BindDecisionOutcome: string(vocabulary.OutcomeAct)}},
	},
	EntryStep: "decide_verify",
	ExitSteps: []string{"re_decide"},
}

// Template C: read-only act. ACT with a READ directive; no token needed.
var templateC = &Template{
	ID:          vocabulary.TemplateReadOnlyAct,
	Name:        "Read-Only Act",
	Description: "ACT with READ directives only; no authorization token required.",
	Constraints: Constraints{
		MinTier:     vocabulary.TierPar,
		ToolsStates: []vocabulary.ToolsState{vocabulary.ToolsOK, vocabulary.ToolsPartial},
	},
	Steps: []Step{
		{StepID: "decide_act", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateDecide,
			EmitKind: vocabulary.KindDecision, NextSteps: []string{"execute"},
			Bindings: map[string]string{BindDecisionOutcome: string(vocabulary.OutcomeAct)}},
		{StepID: "execute", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateExecute,
			EmitKind: vocabulary.KindTaskDirective, NextSteps: []string{"result"},
			Bindings: map[string]string{BindToolSafety: string(vocabulary.SafetyRead)}},
		{StepID: "result", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateExecute,
			EmitKind: vocabulary.KindTaskResult, NextSteps: []string{"review"}},
		{StepID: "review", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateReview,
			EmitKind: vocabulary.KindBeliefUpdate,
			Bindings: map[string]string{BindComplete: "true"}},
	},
	EntryStep: "decide_act",
	ExitSteps: []string{"review"},
}

// Template D: write act. ACT, authorize, write, review. SUPERB and full
// tools only.
var templateD = &Template{
	ID:          vocabulary.TemplateWriteAct,
	Name:        "Write Act",
	Description: "ACT with WRITE directives; requires an authorization token before execution.",
	Constraints: Constraints{
		MinTier:      vocabulary.TierSuperb,
		ToolsStates:  []vocabulary.ToolsState{vocabulary.ToolsOK},
		WriteAllowed: true,
	},
	Steps: []Step{
		{StepID: "decide_act", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateDecide,
			EmitKind: vocabulary.KindDecision, NextSteps: []string{"authorize"},
			Bindings: map[string]string{BindDecisionOutcome: string(vocabulary.OutcomeAct)}},
		{StepID: "authorize", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateAuthorize,
			EmitKind: vocabulary.KindToolAuthorization, NextSteps: []string{"execute"}},
		{StepID: "execute", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateExecute,
			EmitKind: vocabulary.KindTaskDirective, NextSteps: []string{"result"},
			Bindings: map[string]string{BindToolSafety: string(vocabulary.SafetyWrite)}},
		{StepID: "result", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateExecute,
			EmitKind: vocabulary.KindTaskResult, NextSteps: []string{"review"}},
		{StepID: "review", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateReview,
			EmitKind: vocabulary.KindBeliefUpdate,
			Bindings: map[string]string{BindComplete: "true"}},
	},
	EntryStep: "decide_act",
	ExitSteps: []string{"review"},
}

// Template E: escalation. Hand the decision to a human with options.
var templateE = &Template{
	ID:          vocabulary.TemplateEscalation,
	Name:        "Escalation",
	Description: "ESCALATE to a human with options, gaps, and a recommendation.",
	Constraints: Constraints{
		MinTier: vocabulary.TierSubpar,
		ToolsStates: []vocabulary.ToolsState{
			vocabulary.ToolsOK, vocabulary.ToolsPartial, vocabulary.ToolsDown,
		},
	},
	Steps: []Step{
		{StepID: "decide_escalate", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateDecide,
			EmitKind: vocabulary.KindDecision, NextSteps: []string{"escalate"},
			Bindings: map[string]string{BindDecisionOutcome: string(vocabulary.OutcomeEscalate)}},
		{StepID: "escalate", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateEscalated,
			EmitKind: vocabulary.KindEscalation,
			Bindings: map[string]string{BindTrigger: "operator_guidance_required"}},
	},
	EntryStep: "decide_escalate",
	ExitSteps: []string{"escalate"},
}

// Template F: degraded tools. Sense what is reachable, then escalate.
var templateF = &Template{
	ID:          vocabulary.TemplateDegraded,
	Name:        "Degraded Tools",
	Description: "Degraded posture: sense what remains reachable, model, escalate.",
	Constraints: Constraints{
		MinTier:     vocabulary.TierPar,
		ToolsStates: []vocabulary.ToolsState{vocabulary.ToolsPartial, vocabulary.ToolsDown},
	},
	Steps: []Step{
		{StepID: "sense_degraded", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateSense,
			EmitKind: vocabulary.KindObservation, NextSteps: []string{"model_degraded"}},
		{StepID: "model_degraded", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateModel,
			EmitKind: vocabulary.KindBeliefUpdate, NextSteps: []string{"assess"}},
		{StepID: "assess", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateDecide,
			EmitKind: vocabulary.KindDecision, NextSteps: []string{"escalate_or_wait"},
			Branches: map[vocabulary.DecisionOutcome]string{
				vocabulary.OutcomeEscalate: "escalate_or_wait",
			},
			Bindings: map[string]string{BindDecisionOutcome: string(vocabulary.OutcomeEscalate)}},
		{StepID: "escalate_or_wait", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateEscalated,
			EmitKind: vocabulary.KindEscalation,
			Bindings: map[string]string{BindTrigger: "tools_degraded"}},
	},
	EntryStep: "sense_degraded",
	ExitSteps: []string{"escalate_or_wait"},
}

// Template G: compile-to-code. Verification-gated write with test provisions.
var templateG = &Template{
	ID:          vocabulary.TemplateCompile,
	Name:        "Compile-to-Code",
	Description: "Compilation workflow: plan the gates, authorize, execute, review.",
	Constraints: Constraints{
		MinTier:      vocabulary.TierSuperb,
		ToolsStates:  []vocabulary.ToolsState{vocabulary.ToolsOK},
		WriteAllowed: true,
	},
	Steps: []Step{
		{StepID: "decide_compile", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateDecide,
			EmitKind: vocabulary.KindDecision, NextSteps: []string{"plan_compilation"},
			Bindings: map[string]string{BindDecisionOutcome: string(vocabulary.OutcomeVerifyFirst)}},
		{StepID: "plan_compilation", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateVerify,
			EmitKind: vocabulary.KindVerificationPlan, NextSteps: []string{"authorize_compile"}},
		{StepID: "authorize_compile", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateAuthorize,
			EmitKind: vocabulary.KindToolAuthorization, NextSteps: []string{"execute_compile"}},
		{StepID: "execute_compile", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateExecute,
			EmitKind: vocabulary.KindTaskDirective, NextSteps: []string{"compile_result"},
			Bindings: map[string]string{BindToolSafety: string(vocabulary.SafetyWrite)}},
		{StepID: "compile_result", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateExecute,
			EmitKind: vocabulary.KindTaskResult, NextSteps: []string{"review_compilation"}},
		{StepID: "review_compilation", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateReview,
			EmitKind: vocabulary.KindBeliefUpdate,
			Bindings: map[string]string{BindComplete: "true"}},
	},
	EntryStep: "decide_compile",
	ExitSteps: []string{"review_compilation"},
}

// Template H: full stack. The complete traversal: ground, verify, authorize,
// write, review.
var templateH = &Template{
	ID:          vocabulary.TemplateFullStack,
	Name:        "Full Stack",
	Description: "Complete traversal: ground, verify, authorize, write, review.",
	Constraints: Constraints{
		MinTier:      vocabulary.TierSuperb,
		ToolsStates:  []vocabulary.ToolsState{vocabulary.ToolsOK},
		WriteAllowed: true,
	},
	Steps: []Step{
		{StepID: "idle_start", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateIdle,
			NextSteps: []string{"sense"}},
		{StepID: "sense", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateSense,
			EmitKind: vocabulary.KindObservation, NextSteps: []string{"model"}},
		{StepID: "model", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateModel,
			EmitKind: vocabulary.KindBeliefUpdate, NextSteps: []string{"decide_verify"}},
		{StepID: "decide_verify", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateDecide,
			EmitKind: vocabulary.KindDecision, NextSteps: []string{"plan"},
			Bindings: map[string]string{BindDecisionOutcome: string(vocabulary.OutcomeVerifyFirst)}},
		{StepID: "plan", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateVerify,
			EmitKind: vocabulary.KindVerificationPlan, NextSteps: []string{"read_directive"}},
		{StepID: "read_directive", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateVerify,
			EmitKind: vocabulary.KindTaskDirective, NextSteps: []string{"read_result"},
			Bindings: map[string]string{BindToolSafety: string(vocabulary.SafetyRead)}},
		{StepID: "read_result", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateVerify,
			EmitKind: vocabulary.KindTaskResult, NextSteps: []string{"fresh_observation"}},
		{StepID: "fresh_observation", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateVerify,
			EmitKind: vocabulary.KindObservation, NextSteps: []string{"integrate"},
			Bindings: map[string]string{BindEpistemicStatus: string(vocabulary.StatusObserved)}},
		{StepID: "integrate", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateModel,
			EmitKind: vocabulary.KindBeliefUpdate, NextSteps: []string{"re_decide"},
			Bindings: map[string]string{BindReferencesEvidence: "true"}},
		{StepID: "re_decide", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateDecide,
			EmitKind: vocabulary.KindDecision, NextSteps: []string{"authorize"},
			Bindings: map[string]string{BindDecisionOutcome: string(vocabulary.OutcomeAct)}},
		{StepID: "authorize", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateAuthorize,
			EmitKind: vocabulary.KindToolAuthorization, NextSteps: []string{"write_directive"}},
		{StepID: "write_directive", OwnerLayer: vocabulary.Layer5CognitiveControl, State: vocabulary.StateExecute,
			EmitKind: vocabulary.KindTaskDirective, NextSteps: []string{"write_result"},
			Bindings: map[string]string{BindToolSafety: string(vocabulary.SafetyWrite)}},
		{StepID: "write_result", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateExecute,
			EmitKind: vocabulary.KindTaskResult, NextSteps: []string{"review"}},
		{StepID: "review", OwnerLayer: vocabulary.Layer6TaskProsecution, State: vocabulary.StateReview,
			EmitKind: vocabulary.KindBeliefUpdate,
			Bindings: map[string]string{BindComplete: "true"}},
	},
	EntryStep: "idle_start",
	ExitSteps: []string{"review"},
}
