// Package schema implements the first validation gate: stateless structural
// checks over a single packet. No ledger, no episode context; every finding
// is reported, not just the first.
package schema

import (
	"fmt"

	"github.com/Tpanarchist/omen/internal/diag"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Diagnostic codes emitted by this gate.
const (
	CodeHeader   = "SCH-HEADER"
	CodeEnvelope = "SCH-ENVELOPE"
	CodeEvidence = "SCH-EVIDENCE"
	CodePayload  = "SCH-PAYLOAD"
)

// Validator performs structural validation. The zero value is ready to use.
type Validator struct{}

// New returns a schema validator.
func New() *Validator { return &Validator{} }

// Validate checks a single packet's structure and returns every diagnostic
// found. A packet with any error-severity diagnostic must not reach the FSM
// or invariant gates.
func (v *Validator) Validate(p *packet.Packet) diag.Result {
	var res diag.Result
	v.checkHeader(p, &res)
	v.checkEnvelope(p, &res)
	v.checkPayload(p, &res)
	return res
}

func (v *Validator) checkHeader(p *packet.Packet, res *diag.Result) {
	h := p.Header
	if err := packet.CheckID("header.packet_id", packet.PrefixPacket, h.PacketID); err != nil {
		res.Errorf(CodeHeader, "header.packet_id", "%v", err)
	}
	if !h.PacketKind.Valid() {
		res.Errorf(CodeHeader, "header.packet_kind", "unknown packet kind %q", h.PacketKind)
	}
	if h.CreatedAt.IsZero() {
		res.Errorf(CodeHeader, "header.created_at", "created_at is required")
	}
	if !h.SourceLayer.Valid() {
		res.Errorf(CodeHeader, "header.source_layer", "unknown layer %q", h.SourceLayer)
	}
	if err := packet.CheckID("header.correlation_id", packet.PrefixCorrelation, h.CorrelationID); err != nil {
		res.Errorf(CodeHeader, "header.correlation_id", "%v", err)
	}
	if h.CampaignID != "" {
		if err := packet.CheckID("header.campaign_id", packet.PrefixCampaign, h.CampaignID); err != nil {
			res.Errorf(CodeHeader, "header.campaign_id", "%v", err)
		}
	}
	if h.PreviousPacketID != "" {
		if err := packet.CheckID("header.previous_packet_id", packet.PrefixPacket, h.PreviousPacketID); err != nil {
			res.Errorf(CodeHeader, "header.previous_packet_id", "%v", err)
		}
	}
}

func (v *Validator) checkEnvelope(p *packet.Packet, res *diag.Result) {
	if p.MCP == nil {
		if p.Consequential() {
			res.Errorf(CodeEnvelope, "mcp", "%s requires a complete MCP envelope", p.Header.PacketKind)
		}
		return
	}
	m := p.MCP

	if m.Intent.Summary == "" {
		res.Errorf(CodeEnvelope, "mcp.intent.summary", "intent summary is required")
	}
	if m.Intent.Scope == "" {
		res.Errorf(CodeEnvelope, "mcp.intent.scope", "intent scope is required")
	}

	if !m.Stakes.Impact.Valid() {
		res.Errorf(CodeEnvelope, "mcp.stakes.impact", "unknown impact %q", m.Stakes.Impact)
	}
	if !m.Stakes.Irreversibility.Valid() {
		res.Errorf(CodeEnvelope, "mcp.stakes.irreversibility", "unknown irreversibility %q", m.Stakes.Irreversibility)
	}
	if !m.Stakes.Uncertainty.Valid() {
		res.Errorf(CodeEnvelope, "mcp.stakes.uncertainty", "unknown uncertainty %q", m.Stakes.Uncertainty)
	}
	if !m.Stakes.Adversariality.Valid() {
		res.Errorf(CodeEnvelope, "mcp.stakes.adversariality", "unknown adversariality %q", m.Stakes.Adversariality)
	}
	if !m.Stakes.StakesLevel.Valid() {
		res.Errorf(CodeEnvelope, "mcp.stakes.stakes_level", "unknown stakes level %q", m.Stakes.StakesLevel)
	}

	if !m.Quality.Tier.Valid() {
		res.Errorf(CodeEnvelope, "mcp.quality.tier", "unknown quality tier %q", m.Quality.Tier)
	}
	if m.Quality.DefinitionOfDone.Text == "" {
		res.Errorf(CodeEnvelope, "mcp.quality.definition_of_done.text", "definition of done is required")
	}
	if len(m.Quality.DefinitionOfDone.Checks) == 0 {
		res.Errorf(CodeEnvelope, "mcp.quality.definition_of_done.checks", "at least one check is required")
	}
	if !m.Quality.VerificationRequirement.Valid() {
		res.Errorf(CodeEnvelope, "mcp.quality.verification_requirement", "unknown verification requirement %q", m.Quality.VerificationRequirement)
	}

	if m.Budgets.TokenBudget < 0 {
		res.Errorf(CodeEnvelope, "mcp.budgets.token_budget", "budget must be non-negative")
	}
	if m.Budgets.ToolCallBudget < 0 {
		res.Errorf(CodeEnvelope, "mcp.budgets.tool_call_budget", "budget must be non-negative")
	}
	if m.Budgets.TimeBudgetSeconds < 0 {
		res.Errorf(CodeEnvelope, "mcp.budgets.time_budget_seconds", "budget must be non-negative")
	}

	if !m.Epistemics.Status.Valid() {
		res.Errorf(CodeEnvelope, "mcp.epistemics.status", "unknown epistemic status %q", m.Epistemics.Status)
	}
	if m.Epistemics.Confidence < 0 || m.Epistemics.Confidence > 1 {
		res.Errorf(CodeEnvelope, "mcp.epistemics.confidence", "confidence %v out of [0,1]", m.Epistemics.Confidence)
	}
	if !m.Epistemics.FreshnessClass.Valid() {
		res.Errorf(CodeEnvelope, "mcp.epistemics.freshness_class", "unknown freshness class %q", m.Epistemics.FreshnessClass)
	}
	if m.Epistemics.StaleIfOlderThanSeconds < 0 {
		res.Errorf(CodeEnvelope, "mcp.epistemics.stale_if_older_than_seconds", "staleness override must be non-negative")
	}

	v.checkEvidence(m.Evidence, res)

	if !m.Routing.TaskClass.Valid() {
		res.Errorf(CodeEnvelope, "mcp.routing.task_class", "unknown task class %q", m.Routing.TaskClass)
	}
	if !m.Routing.ToolsState.Valid() {
		res.Errorf(CodeEnvelope, "mcp.routing.tools_state", "unknown tools state %q", m.Routing.ToolsState)
	}
}

// checkEvidence enforces the refs-XOR-reason rule and per-ref structure.
func (v *Validator) checkEvidence(e packet.Evidence, res *diag.Result) {
	hasRefs := len(e.EvidenceRefs) > 0
	hasReason := e.EvidenceAbsentReason != ""
	switch {
	case !hasRefs && !hasReason:
		res.Errorf(CodeEvidence, "mcp.evidence", "either evidence_refs or evidence_absent_reason is required")
	case hasRefs && hasReason:
		res.Errorf(CodeEvidence, "mcp.evidence", "evidence_refs and evidence_absent_reason are mutually exclusive")
	}
	for i, ref := range e.EvidenceRefs {
		path := fieldIndex("mcp.evidence.evidence_refs", i)
		if !ref.RefType.Valid() {
			res.Errorf(CodeEvidence, path+".ref_type", "unknown evidence ref type %q", ref.RefType)
		}
		if ref.RefID == "" {
			res.Errorf(CodeEvidence, path+".ref_id", "ref_id is required")
		}
		if ref.Timestamp.IsZero() {
			res.Errorf(CodeEvidence, path+".timestamp", "timestamp is required")
		}
		if ref.ReliabilityScore != nil && (*ref.ReliabilityScore < 0 || *ref.ReliabilityScore > 1) {
			res.Errorf(CodeEvidence, path+".reliability_score", "reliability %v out of [0,1]", *ref.ReliabilityScore)
		}
	}
}

func (v *Validator) checkPayload(p *packet.Packet, res *diag.Result) {
	if p.Payload == nil {
		res.Errorf(CodePayload, "payload", "payload is required")
		return
	}
	if p.Payload.Kind() != p.Header.PacketKind {
		res.Errorf(CodePayload, "payload", "payload type %s does not match header kind %s",
			p.Payload.Kind(), p.Header.PacketKind)
		return
	}

	switch payload := p.Payload.(type) {
	case *packet.ObservationPayload:
		if payload.ObservationType == "" {
			res.Errorf(CodePayload, "payload.observation_type", "observation_type is required")
		}
		if len(payload.Data) == 0 {
			res.Errorf(CodePayload, "payload.data", "observation data must be non-empty")
		}
		if payload.Reliability != nil && (*payload.Reliability < 0 || *payload.Reliability > 1) {
			res.Errorf(CodePayload, "payload.reliability", "reliability %v out of [0,1]", *payload.Reliability)
		}

	case *packet.BeliefUpdatePayload:
		if payload.UpdateType == "" {
			res.Errorf(CodePayload, "payload.update_type", "update_type is required")
		}
		if len(payload.BeliefChanges) == 0 {
			res.Errorf(CodePayload, "payload.belief_changes", "at least one belief change is required")
		}
		for i, change := range payload.BeliefChanges {
			path := fieldIndex("payload.belief_changes", i)
			if change.Domain == "" {
				res.Errorf(CodePayload, path+".domain", "domain is required")
			}
			if change.Key == "" {
				res.Errorf(CodePayload, path+".key", "key is required")
			}
		}
		resolved := payload.UpdateType == packet.UpdateTypeContradictionResolved
		hasDetails := payload.ContradictionDetails != ""
		if resolved && !hasDetails {
			res.Errorf(CodePayload, "payload.contradiction_details",
				"contradiction_details is required when update_type is %s", packet.UpdateTypeContradictionResolved)
		}
		if !resolved && hasDetails {
			res.Errorf(CodePayload, "payload.contradiction_details",
				"contradiction_details is only valid when update_type is %s", packet.UpdateTypeContradictionResolved)
		}

	case *packet.DecisionPayload:
		if !payload.DecisionOutcome.Valid() {
			res.Errorf(CodePayload, "payload.decision_outcome", "unknown outcome %q", payload.DecisionOutcome)
		}
		if payload.DecisionSummary == "" {
			res.Errorf(CodePayload, "payload.decision_summary", "decision_summary is required")
		}

	case *packet.VerificationPlanPayload:
		if len(payload.Items) == 0 {
			res.Errorf(CodePayload, "payload.items", "at least one plan item is required")
		}
		for i, item := range payload.Items {
			path := fieldIndex("payload.items", i)
			if item.TargetID == "" {
				res.Errorf(CodePayload, path+".target_id", "target_id is required")
			}
			if item.Description == "" {
				res.Errorf(CodePayload, path+".description", "description is required")
			}
		}

	case *packet.ToolAuthorizationPayload:
		if err := packet.CheckID("payload.token_id", packet.PrefixToken, payload.TokenID); err != nil {
			res.Errorf(CodePayload, "payload.token_id", "%v", err)
		}
		if len(payload.AuthorizedScope.ToolIDs) == 0 {
			res.Errorf(CodePayload, "payload.authorized_scope.tool_ids", "at least one tool id is required")
		}
		if len(payload.AuthorizedScope.OperationTypes) == 0 {
			res.Errorf(CodePayload, "payload.authorized_scope.operation_types", "at least one operation type is required")
		}
		if payload.Expiry.IsZero() {
			res.Errorf(CodePayload, "payload.expiry", "expiry is required")
		}
		if payload.MaxUsageCount < 1 {
			res.Errorf(CodePayload, "payload.max_usage_count", "max_usage_count must be at least 1")
		}
		if !payload.IssuerLayer.Valid() {
			res.Errorf(CodePayload, "payload.issuer_layer", "unknown layer %q", payload.IssuerLayer)
		}

	case *packet.TaskDirectivePayload:
		if err := packet.CheckID("payload.task_id", packet.PrefixTask, payload.TaskID); err != nil {
			res.Errorf(CodePayload, "payload.task_id", "%v", err)
		}
		if payload.TaskType == "" {
			res.Errorf(CodePayload, "payload.task_type", "task_type is required")
		}
		if payload.ExecutionMethod == "" {
			res.Errorf(CodePayload, "payload.execution_method", "execution_method is required")
		}
		if payload.ToolSafetyClass != "" && !payload.ToolSafetyClass.Valid() {
			res.Errorf(CodePayload, "payload.tool_safety_class", "unknown tool safety class %q", payload.ToolSafetyClass)
		}
		needsToken := payload.ToolSafetyClass.RequiresAuthorization()
		hasToken := payload.AuthorizationTokenID != ""
		if needsToken && !hasToken {
			res.Errorf(CodePayload, "payload.authorization_token_id",
				"authorization_token_id is required for %s directives", payload.ToolSafetyClass)
		}
		if !needsToken && hasToken {
			res.Errorf(CodePayload, "payload.authorization_token_id",
				"authorization_token_id is only valid for WRITE or MIXED directives")
		}
		if hasToken {
			if err := packet.CheckID("payload.authorization_token_id", packet.PrefixToken, payload.AuthorizationTokenID); err != nil {
				res.Errorf(CodePayload, "payload.authorization_token_id", "%v", err)
			}
		}
		if payload.TimeoutSeconds < 0 {
			res.Errorf(CodePayload, "payload.timeout_seconds", "timeout must be non-negative")
		}

	case *packet.TaskResultPayload:
		if err := packet.CheckID("payload.task_id", packet.PrefixTask, payload.TaskID); err != nil {
			res.Errorf(CodePayload, "payload.task_id", "%v", err)
		}
		if err := packet.CheckID("payload.directive_packet_id", packet.PrefixPacket, payload.DirectivePacketID); err != nil {
			res.Errorf(CodePayload, "payload.directive_packet_id", "%v", err)
		}
		if !payload.ResultStatus.Valid() {
			res.Errorf(CodePayload, "payload.result_status", "unknown result status %q", payload.ResultStatus)
		}
		failed := payload.ResultStatus == vocabulary.ResultFailure
		hasError := payload.ErrorDetails != ""
		if failed && !hasError {
			res.Errorf(CodePayload, "payload.error_details", "error_details is required for FAILURE results")
		}
		if !failed && hasError {
			res.Errorf(CodePayload, "payload.error_details", "error_details is only valid for FAILURE results")
		}

	case *packet.EscalationPayload:
		if payload.EscalationTrigger == "" {
			res.Errorf(CodePayload, "payload.escalation_trigger", "escalation_trigger is required")
		}
		if n := len(payload.TopOptions); n < 2 || n > 3 {
			res.Errorf(CodePayload, "payload.top_options", "top_options must contain 2 or 3 options, got %d", n)
		}
		for i, opt := range payload.TopOptions {
			path := fieldIndex("payload.top_options", i)
			if opt.OptionID == "" {
				res.Errorf(CodePayload, path+".option_id", "option_id is required")
			}
			if opt.Description == "" {
				res.Errorf(CodePayload, path+".description", "description is required")
			}
		}
		if len(payload.EvidenceGaps) == 0 {
			res.Errorf(CodePayload, "payload.evidence_gaps", "at least one evidence gap is required")
		}
		if payload.RecommendedNextStep == "" {
			res.Errorf(CodePayload, "payload.recommended_next_step", "recommended_next_step is required")
		}

	case *packet.IntegrityAlertPayload:
		if payload.AlertType == "" {
			res.Errorf(CodePayload, "payload.alert_type", "alert_type is required")
		}
		if !payload.Severity.Valid() {
			res.Errorf(CodePayload, "payload.severity", "unknown severity %q", payload.Severity)
		}
		if payload.Message == "" {
			res.Errorf(CodePayload, "payload.message", "message is required")
		}
	}
}

func fieldIndex(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}
