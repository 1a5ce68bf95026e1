// Package packettest builds well-formed packets for tests. Every fixture
// passes the schema gate by construction; individual tests then bend one
// field at a time to provoke the failure under test.
package packettest

import (
	"time"

	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// EnvOption mutates the fixture envelope.
type EnvOption func(*packet.MCP)

// Envelope returns a complete MCP with MEDIUM stakes, PAR tier, tools_ok,
// and an evidence-absent reason, then applies opts.
func Envelope(opts ...EnvOption) packet.MCP {
	m := packet.MCP{
		Intent: packet.Intent{Summary: "fixture intent", Scope: "fixture"},
		Stakes: packet.Stakes{
			Impact:          vocabulary.ImpactMedium,
			Irreversibility: vocabulary.Reversible,
			Uncertainty:     vocabulary.UncertaintyMedium,
			Adversariality:  vocabulary.Benign,
			StakesLevel:     vocabulary.StakesMedium,
		},
		Quality: packet.Quality{
			Tier:            vocabulary.TierPar,
			SatisficingMode: true,
			DefinitionOfDone: packet.DefinitionOfDone{
				Text:   "fixture definition of done",
				Checks: []string{"fixture check"},
			},
			VerificationRequirement: vocabulary.VerifyOne,
		},
		Budgets: packet.Budgets{
			TokenBudget:       1000,
			ToolCallBudget:    10,
			TimeBudgetSeconds: 300,
			RiskBudget:        packet.RiskBudget{Envelope: "low", MaxLoss: "small"},
		},
		Epistemics: packet.Epistemics{
			Status:          vocabulary.StatusDerived,
			Confidence:      0.7,
			CalibrationNote: "fixture calibration",
			FreshnessClass:  vocabulary.FreshStrategic,
		},
		Evidence: packet.Evidence{EvidenceAbsentReason: "fixture: no evidence gathered yet"},
		Routing:  packet.Routing{TaskClass: vocabulary.TaskLookup, ToolsState: vocabulary.ToolsOK},
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Stakes sets the aggregate level together with axes that support it.
func Stakes(level vocabulary.StakesLevel) EnvOption {
	return func(m *packet.MCP) {
		m.Stakes.StakesLevel = level
		switch level {
		case vocabulary.StakesLow:
			m.Stakes.Impact = vocabulary.ImpactLow
			m.Stakes.Irreversibility = vocabulary.Reversible
			m.Stakes.Uncertainty = vocabulary.UncertaintyLow
			m.Stakes.Adversariality = vocabulary.Benign
		case vocabulary.StakesMedium:
			m.Stakes.Impact = vocabulary.ImpactMedium
			m.Stakes.Irreversibility = vocabulary.Reversible
			m.Stakes.Uncertainty = vocabulary.UncertaintyMedium
			m.Stakes.Adversariality = vocabulary.Benign
		case vocabulary.StakesHigh:
			m.Stakes.Impact = vocabulary.ImpactHigh
			m.Stakes.Irreversibility = vocabulary.Partial
			m.Stakes.Uncertainty = vocabulary.UncertaintyHigh
			m.Stakes.Adversariality = vocabulary.Contested
		case vocabulary.StakesCritical:
			m.Stakes.Impact = vocabulary.ImpactCritical
			m.Stakes.Irreversibility = vocabulary.Irreversible
			m.Stakes.Uncertainty = vocabulary.UncertaintyHigh
			m.Stakes.Adversariality = vocabulary.Hostile
		}
	}
}

// Tier sets the quality tier.
func Tier(t vocabulary.QualityTier) EnvOption {
	return func(m *packet.MCP) { m.Quality.Tier = t }
}

// Tools sets the tools-availability signal.
func Tools(state vocabulary.ToolsState) EnvOption {
	return func(m *packet.MCP) { m.Routing.ToolsState = state }
}

// Uncertainty sets the uncertainty axis alone.
func Uncertainty(u vocabulary.UncertaintyLevel) EnvOption {
	return func(m *packet.MCP) { m.Stakes.Uncertainty = u }
}

// Epistemics sets status and freshness class.
func Epistemics(status vocabulary.EpistemicStatus, fresh vocabulary.FreshnessClass) EnvOption {
	return func(m *packet.MCP) {
		m.Epistemics.Status = status
		m.Epistemics.FreshnessClass = fresh
	}
}

// Budgets replaces the budget block.
func Budgets(tokens, toolCalls, timeSeconds int) EnvOption {
	return func(m *packet.MCP) {
		m.Budgets.TokenBudget = tokens
		m.Budgets.ToolCallBudget = toolCalls
		m.Budgets.TimeBudgetSeconds = timeSeconds
	}
}

// EvidenceRefs replaces the absence reason with concrete refs.
func EvidenceRefs(refs ...packet.EvidenceRef) EnvOption {
	return func(m *packet.MCP) {
		m.Evidence.EvidenceRefs = refs
		m.Evidence.EvidenceAbsentReason = ""
	}
}

// ToolEvidence builds a tool_output ref captured at ts.
func ToolEvidence(refID string, ts time.Time) packet.EvidenceRef {
	return packet.EvidenceRef{
		RefType:   vocabulary.RefToolOutput,
		RefID:     refID,
		Timestamp: ts,
	}
}

// Observation builds an admitted-ready observation packet.
func Observation(corrID string, at time.Time, opts ...EnvOption) *packet.Packet {
	p := packet.New(vocabulary.Layer6TaskProsecution, corrID, at, &packet.ObservationPayload{
		ObservationType: "telemetry",
		Data:            map[string]any{"reading": 42},
	})
	return p.WithMCP(Envelope(opts...))
}

// ObservedFresh builds an observation whose envelope claims OBSERVED status
// backed by a fresh tool_output ref.
func ObservedFresh(corrID string, at time.Time, opts ...EnvOption) *packet.Packet {
	base := []EnvOption{
		Epistemics(vocabulary.StatusObserved, vocabulary.FreshRealtime),
		EvidenceRefs(ToolEvidence("tool_read_1", at)),
	}
	return Observation(corrID, at, append(base, opts...)...)
}

// BeliefUpdate builds a single-change belief update.
func BeliefUpdate(corrID string, at time.Time, opts ...EnvOption) *packet.Packet {
	p := packet.New(vocabulary.Layer3SelfModel, corrID, at, &packet.BeliefUpdatePayload{
		UpdateType: "revision",
		BeliefChanges: []packet.BeliefChange{
			{Domain: "world", Key: "threat_level", NewValue: "low", PriorValue: "unknown"},
		},
	})
	return p.WithMCP(Envelope(opts...))
}

// BeliefUpdateReferencing builds a belief update that cites evidence packets,
// as a verification loop's closing update must.
func BeliefUpdateReferencing(corrID string, at time.Time, evidencePacketIDs []string, opts ...EnvOption) *packet.Packet {
	p := packet.New(vocabulary.Layer3SelfModel, corrID, at, &packet.BeliefUpdatePayload{
		UpdateType: "verification_integrated",
		BeliefChanges: []packet.BeliefChange{
			{Domain: "world", Key: "threat_level", NewValue: "low", PriorValue: "unknown"},
		},
		EvidencePacketIDs: evidencePacketIDs,
	})
	return p.WithMCP(Envelope(opts...))
}

// Decision builds a decision packet with all three constraint checks set.
func Decision(corrID string, at time.Time, outcome vocabulary.DecisionOutcome, opts ...EnvOption) *packet.Packet {
	p := packet.New(vocabulary.Layer5CognitiveControl, corrID, at, &packet.DecisionPayload{
		DecisionOutcome: outcome,
		DecisionSummary: "fixture decision",
		ConstraintsSatisfied: packet.ConstraintsSatisfied{
			ConstitutionalCheck: true,
			BudgetCheck:         true,
			TierCheck:           true,
		},
	})
	return p.WithMCP(Envelope(opts...))
}

// VerificationPlan builds a one-item plan.
func VerificationPlan(corrID string, at time.Time, opts ...EnvOption) *packet.Packet {
	p := packet.New(vocabulary.Layer5CognitiveControl, corrID, at, &packet.VerificationPlanPayload{
		Items: []packet.PlanItem{
			{TargetID: "verify_threat_level", Description: "confirm threat level via read"},
		},
	})
	return p.WithMCP(Envelope(opts...))
}

// Token builds an authorization token packet.
func Token(corrID string, at time.Time, tokenID, toolID, operation string, maxUses int, expiry time.Time, opts ...EnvOption) *packet.Packet {
	p := packet.New(vocabulary.Layer4Executive, corrID, at, &packet.ToolAuthorizationPayload{
		TokenID: tokenID,
		AuthorizedScope: packet.AuthorizedScope{
			ToolIDs:        []string{toolID},
			OperationTypes: []string{operation},
		},
		Expiry:        expiry,
		MaxUsageCount: maxUses,
		IssuerLayer:   vocabulary.Layer4Executive,
	})
	return p.WithMCP(Envelope(opts...))
}

// ReadDirective builds a READ task directive.
func ReadDirective(corrID string, at time.Time, taskID string, opts ...EnvOption) *packet.Packet {
	p := packet.New(vocabulary.Layer5CognitiveControl, corrID, at, &packet.TaskDirectivePayload{
		TaskID:          taskID,
		TaskType:        "lookup",
		ExecutionMethod: "tool_call",
		ToolID:          "intel_api",
		OperationType:   "read",
		ToolSafetyClass: vocabulary.SafetyRead,
		TimeoutSeconds:  60,
	})
	return p.WithMCP(Envelope(opts...))
}

// WriteDirective builds a WRITE task directive referencing tokenID.
func WriteDirective(corrID string, at time.Time, taskID, tokenID, toolID string, opts ...EnvOption) *packet.Packet {
	p := packet.New(vocabulary.Layer5CognitiveControl, corrID, at, &packet.TaskDirectivePayload{
		TaskID:               taskID,
		TaskType:             "mutation",
		ExecutionMethod:      "tool_call",
		ToolID:               toolID,
		OperationType:        "write",
		ToolSafetyClass:      vocabulary.SafetyWrite,
		AuthorizationTokenID: tokenID,
		TimeoutSeconds:       60,
	})
	return p.WithMCP(Envelope(opts...))
}

// Result builds a task result closing directivePacketID.
func Result(corrID string, at time.Time, taskID, directivePacketID string, status vocabulary.TaskResultStatus, opts ...EnvOption) *packet.Packet {
	payload := &packet.TaskResultPayload{
		TaskID:            taskID,
		DirectivePacketID: directivePacketID,
		ResultStatus:      status,
	}
	if status == vocabulary.ResultFailure {
		payload.ErrorDetails = "fixture failure"
	}
	p := packet.New(vocabulary.Layer6TaskProsecution, corrID, at, payload)
	return p.WithMCP(Envelope(opts...))
}

// Escalation builds a two-option escalation packet.
func Escalation(corrID string, at time.Time, trigger string, opts ...EnvOption) *packet.Packet {
	p := packet.New(vocabulary.Layer5CognitiveControl, corrID, at, &packet.EscalationPayload{
		EscalationTrigger: trigger,
		TopOptions: []packet.EscalationOption{
			{OptionID: "opt_wait", Description: "wait for tools to recover", Pros: []string{"safe"}, Cons: []string{"slow"}},
			{OptionID: "opt_manual", Description: "hand off to operator", Pros: []string{"grounded"}, Cons: []string{"costly"}},
		},
		EvidenceGaps:        []string{"no fresh observation of target system"},
		RecommendedNextStep: "operator review",
	})
	return p.WithMCP(Envelope(opts...))
}

// Alert builds an integrity alert.
func Alert(corrID string, at time.Time, alertType string, severity vocabulary.AlertSeverity, opts ...func(*packet.IntegrityAlertPayload)) *packet.Packet {
	payload := &packet.IntegrityAlertPayload{
		AlertType: alertType,
		Severity:  severity,
		Message:   "fixture alert",
	}
	for _, opt := range opts {
		opt(payload)
	}
	return packet.New(vocabulary.LayerIntegrity, corrID, at, payload)
}

// BudgetOverride marks an alert as an explicit budget override.
func BudgetOverride() func(*packet.IntegrityAlertPayload) {
	return func(p *packet.IntegrityAlertPayload) { p.BudgetOverride = true }
}
