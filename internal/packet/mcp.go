package packet

import (
	"time"

	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Intent states what the packet is trying to accomplish.
type Intent struct {
	Summary string `json:"summary"`
	Scope   string `json:"scope"`
}

// Stakes classifies a packet across the four stakes axes plus the derived
// aggregate level. The aggregate must be supportable by the axes; the
// invariant validator checks consistency.
type Stakes struct {
	Impact          vocabulary.ImpactLevel      `json:"impact"`
	Irreversibility vocabulary.Irreversibility  `json:"irreversibility"`
	Uncertainty     vocabulary.UncertaintyLevel `json:"uncertainty"`
	Adversariality  vocabulary.Adversariality   `json:"adversariality"`
	StakesLevel     vocabulary.StakesLevel      `json:"stakes_level"`
}

// DefinitionOfDone is the success criteria for a task.
type DefinitionOfDone struct {
	Text   string   `json:"text"`
	Checks []string `json:"checks"`
}

// Quality carries the required tier and verification posture.
type Quality struct {
	Tier                    vocabulary.QualityTier             `json:"tier"`
	SatisficingMode         bool                               `json:"satisficing_mode"`
	DefinitionOfDone        DefinitionOfDone                   `json:"definition_of_done"`
	VerificationRequirement vocabulary.VerificationRequirement `json:"verification_requirement"`
}

// RiskBudget bounds acceptable risk exposure.
type RiskBudget struct {
	Envelope string `json:"envelope"`
	MaxLoss  string `json:"max_loss"`
}

// Budgets are the resource ceilings for the work the packet commits to.
type Budgets struct {
	TokenBudget       int        `json:"token_budget"`
	ToolCallBudget    int        `json:"tool_call_budget"`
	TimeBudgetSeconds int        `json:"time_budget_seconds"`
	RiskBudget        RiskBudget `json:"risk_budget"`
}

// Epistemics classifies how the packet's claims are known.
type Epistemics struct {
	Status          vocabulary.EpistemicStatus `json:"status"`
	Confidence      float64                    `json:"confidence"`
	CalibrationNote string                     `json:"calibration_note"`
	FreshnessClass  vocabulary.FreshnessClass  `json:"freshness_class"`
	// StaleIfOlderThanSeconds overrides the deployment freshness window when
	// positive; zero means "use the default for the freshness class".
	StaleIfOlderThanSeconds int      `json:"stale_if_older_than_seconds,omitempty"`
	Assumptions             []string `json:"assumptions,omitempty"`
}

// EvidenceRef points at a piece of evidence backing a claim.
type EvidenceRef struct {
	RefType          vocabulary.EvidenceRefType `json:"ref_type"`
	RefID            string                     `json:"ref_id"`
	Timestamp        time.Time                  `json:"timestamp"`
	ReliabilityScore *float64                   `json:"reliability_score,omitempty"`
}

// Evidence holds the refs backing a packet's claims. Exactly one of
// (non-empty EvidenceRefs) and (non-empty EvidenceAbsentReason) must hold.
type Evidence struct {
	EvidenceRefs         []EvidenceRef `json:"evidence_refs"`
	EvidenceAbsentReason string        `json:"evidence_absent_reason,omitempty"`
}

// Routing carries task classification and the tools-availability signal.
type Routing struct {
	TaskClass  vocabulary.TaskClass  `json:"task_class"`
	ToolsState vocabulary.ToolsState `json:"tools_state"`
}

// MCP is the mandatory compliance payload. Every consequential packet
// (Decision, TaskDirective, ToolAuthorization, Escalation) must carry a
// complete envelope; other kinds may carry one to contribute evidence and
// budget deltas.
type MCP struct {
	Intent     Intent     `json:"intent"`
	Stakes     Stakes     `json:"stakes"`
	Quality    Quality    `json:"quality"`
	Budgets    Budgets    `json:"budgets"`
	Epistemics Epistemics `json:"epistemics"`
	Evidence   Evidence   `json:"evidence"`
	Routing    Routing    `json:"routing"`
}
