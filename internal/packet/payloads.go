package packet

import (
	"time"

	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Payload is the tagged-union interface over the nine packet payloads.
// Kind ties a payload to the header kind it is legal under.
type Payload interface {
	Kind() vocabulary.PacketKind
}

// ObservationPayload reports a sensed fact.
type ObservationPayload struct {
	ObservationType string         `json:"observation_type"`
	Data            map[string]any `json:"data"`
	SourceTool      string         `json:"source_tool,omitempty"`
	Reliability     *float64       `json:"reliability,omitempty"`
}

func (ObservationPayload) Kind() vocabulary.PacketKind { return vocabulary.KindObservation }

// BeliefChange is a single key-level revision of the world model.
type BeliefChange struct {
	Domain     string `json:"domain"`
	Key        string `json:"key"`
	NewValue   any    `json:"new_value"`
	PriorValue any    `json:"prior_value"`
}

// BeliefUpdatePayload revises beliefs; a contradiction_resolved update must
// describe the contradiction it resolves.
type BeliefUpdatePayload struct {
	UpdateType           string         `json:"update_type"`
	BeliefChanges        []BeliefChange `json:"belief_changes"`
	ContradictionDetails string         `json:"contradiction_details,omitempty"`
	// EvidencePacketIDs names the packets whose evidence this update
	// integrates. A verification loop closes only through an update that
	// references its verification evidence.
	EvidencePacketIDs []string `json:"evidence_packet_ids,omitempty"`
	// Complete marks a belief update that finishes execution review rather
	// than feeding another modeling pass.
	Complete bool `json:"complete,omitempty"`
}

func (BeliefUpdatePayload) Kind() vocabulary.PacketKind { return vocabulary.KindBeliefUpdate }

// UpdateTypeContradictionResolved is the update type that requires
// contradiction details.
const UpdateTypeContradictionResolved = "contradiction_resolved"

// ConstraintsSatisfied records the three gate checks a decision passed.
type ConstraintsSatisfied struct {
	ConstitutionalCheck bool `json:"constitutional_check"`
	BudgetCheck         bool `json:"budget_check"`
	TierCheck           bool `json:"tier_check"`
}

// RejectedAlternative is a considered-but-rejected option, kept for audit.
type RejectedAlternative struct {
	OptionID        string `json:"option_id"`
	Summary         string `json:"summary"`
	RejectionReason string `json:"rejection_reason"`
}

// LoadBearingAssumption is an assumption whose falsification would flip the
// decision.
type LoadBearingAssumption struct {
	Assumption           string `json:"assumption"`
	Verified             bool   `json:"verified"`
	VerificationPacketID string `json:"verification_packet_id,omitempty"`
}

// DecisionPayload is the output of deliberation.
type DecisionPayload struct {
	DecisionOutcome        vocabulary.DecisionOutcome `json:"decision_outcome"`
	DecisionSummary        string                     `json:"decision_summary"`
	ConstraintsSatisfied   ConstraintsSatisfied       `json:"constraints_satisfied"`
	ChosenOptionID         string                     `json:"chosen_option_id,omitempty"`
	RejectedAlternatives   []RejectedAlternative      `json:"rejected_alternatives,omitempty"`
	LoadBearingAssumptions []LoadBearingAssumption    `json:"load_bearing_assumptions,omitempty"`
}

func (DecisionPayload) Kind() vocabulary.PacketKind { return vocabulary.KindDecision }

// PlanItem is one verification target in a verification plan.
type PlanItem struct {
	TargetID    string `json:"target_id"`
	Description string `json:"description"`
	Method      string `json:"method,omitempty"`
}

// VerificationPlanPayload lists what must be verified before acting.
type VerificationPlanPayload struct {
	Items []PlanItem `json:"items"`
}

func (VerificationPlanPayload) Kind() vocabulary.PacketKind { return vocabulary.KindVerificationPlan }

// AuthorizedScope bounds what a token authorizes. ResourceConstraints is
// semi-opaque; richer constraint checks plug in above the core, which only
// matches tool ids and operation types.
type AuthorizedScope struct {
	ToolIDs             []string       `json:"tool_ids"`
	OperationTypes      []string       `json:"operation_types"`
	ResourceConstraints map[string]any `json:"resource_constraints,omitempty"`
}

// Covers reports whether the scope includes the given tool and operation.
func (s AuthorizedScope) Covers(toolID, operationType string) bool {
	found := false
	for _, id := range s.ToolIDs {
		if id == toolID {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	for _, op := range s.OperationTypes {
		if op == operationType {
			return true
		}
	}
	return false
}

// ToolAuthorizationPayload grants bounded tool access. UsageCount and
// Revoked are the mutable fields the ledger owns after admission.
type ToolAuthorizationPayload struct {
	TokenID         string             `json:"token_id"`
	AuthorizedScope AuthorizedScope    `json:"authorized_scope"`
	Expiry          time.Time          `json:"expiry"`
	MaxUsageCount   int                `json:"max_usage_count"`
	IssuerLayer     vocabulary.LayerID `json:"issuer_layer"`
	UsageCount      int                `json:"usage_count"`
	Revoked         bool               `json:"revoked"`
}

func (ToolAuthorizationPayload) Kind() vocabulary.PacketKind { return vocabulary.KindToolAuthorization }

// TaskDirectivePayload commands the task-prosecution layer to act. A WRITE
// or MIXED safety class requires AuthorizationTokenID.
type TaskDirectivePayload struct {
	TaskID               string                `json:"task_id"`
	TaskType             string                `json:"task_type"`
	ExecutionMethod      string                `json:"execution_method"`
	ToolID               string                `json:"tool_id,omitempty"`
	OperationType        string                `json:"operation_type,omitempty"`
	ToolSafetyClass      vocabulary.ToolSafety `json:"tool_safety_class,omitempty"`
	AuthorizationTokenID string                `json:"authorization_token_id,omitempty"`
	TimeoutSeconds       int                   `json:"timeout_seconds,omitempty"`
}

func (TaskDirectivePayload) Kind() vocabulary.PacketKind { return vocabulary.KindTaskDirective }

// TaskResultPayload closes a directive. ErrorDetails is required exactly when
// the status is FAILURE.
type TaskResultPayload struct {
	TaskID            string                      `json:"task_id"`
	DirectivePacketID string                      `json:"directive_packet_id"`
	ResultStatus      vocabulary.TaskResultStatus `json:"result_status"`
	ErrorDetails      string                      `json:"error_details,omitempty"`
	ExecutionMeta     map[string]any              `json:"execution_meta,omitempty"`
}

func (TaskResultPayload) Kind() vocabulary.PacketKind { return vocabulary.KindTaskResult }

// EscalationOption is one of the 2-3 options an escalation must present.
type EscalationOption struct {
	OptionID    string   `json:"option_id"`
	Description string   `json:"description"`
	Pros        []string `json:"pros"`
	Cons        []string `json:"cons"`
}

// EscalationPayload hands a decision to a human with options and gaps.
type EscalationPayload struct {
	EscalationTrigger   string             `json:"escalation_trigger"`
	TopOptions          []EscalationOption `json:"top_options"`
	EvidenceGaps        []string           `json:"evidence_gaps"`
	RecommendedNextStep string             `json:"recommended_next_step"`
}

func (EscalationPayload) Kind() vocabulary.PacketKind { return vocabulary.KindEscalation }

// TriggerBudgetInsufficient is the escalation trigger that approves
// continuing past an exhausted budget.
const TriggerBudgetInsufficient = "budget_insufficient"

// Well-known integrity alert types.
const (
	AlertBudgetWarning      = "budget_warning"
	AlertBudgetExceeded     = "budget_exceeded"
	AlertTokenRevoked       = "token_revoked"
	AlertConstitutionalVeto = "constitutional_veto"
	AlertContradiction      = "contradiction_detected"
	AlertSafeModeChange     = "safe_mode_change"
	AlertSafeModeClear      = "safe_mode_clear"
	AlertTaskTimeout        = "task_timeout"
)

// IntegrityAlertPayload reports a monitored condition. BudgetOverride marks
// an explicit approval to continue past an exhausted budget.
type IntegrityAlertPayload struct {
	AlertType      string                   `json:"alert_type"`
	Severity       vocabulary.AlertSeverity `json:"severity"`
	Message        string                   `json:"message"`
	BudgetOverride bool                     `json:"budget_override,omitempty"`
	TokenID        string                   `json:"token_id,omitempty"`
}

func (IntegrityAlertPayload) Kind() vocabulary.PacketKind { return vocabulary.KindIntegrityAlert }
