// Package invariant implements the third validation gate: twelve stateful
// cross-policy rules evaluated over a packet plus the episode ledger. Rules
// INV-008 (verification-loop closure) and INV-011 (task closure) are enforced
// by the sequencing gate and the ledger's directive table; they are listed
// here for the record and always pass at this gate.
package invariant

import (
	"strings"
	"time"

	"github.com/Tpanarchist/omen/internal/diag"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Rule codes.
const (
	CodeMCPCompleteness   = "INV-001"
	CodeSubparNeverActs   = "INV-002"
	CodeHighStakesSafety  = "INV-003"
	CodeLiveTruthEvidence = "INV-004"
	CodeBudgetApproval    = "INV-005"
	CodeArbitration       = "INV-006"
	CodeWriteTokenScope   = "INV-007"
	CodeVerifyClosure     = "INV-008"
	CodeEscalationShape   = "INV-009"
	CodeDegradedTools     = "INV-010"
	CodeTaskClosure       = "INV-011"
	CodeStakesConsistency = "INV-012"
)

// TradeoffPolicies are the named arbitration policies a post-conflict
// decision must cite.
var TradeoffPolicies = []string{"safety-first", "risk-adjusted", "min-regret", "expected-value"}

// View is the read-only slice of ledger state the rules consume. The ledger
// implements it; tests may stub it.
type View interface {
	// TokenState returns the ledger's mutable mirror of a token, if known.
	TokenState(tokenID string) (*packet.ToolAuthorizationPayload, bool)
	// BudgetOverruns describes every exceeded budget axis, empty when within
	// budget.
	BudgetOverruns() []string
	// OverrunApproved reports whether an overrun approval (escalation or
	// integrity override) has landed since the overrun began.
	OverrunApproved() bool
	// UnresolvedConflict reports whether a recorded conflict awaits an
	// arbitrated decision.
	UnresolvedConflict() bool
}

// Options tune rule evaluation.
type Options struct {
	// FreshnessRealtime and FreshnessOperational are the default evidence
	// windows for INV-004.
	FreshnessRealtime    time.Duration
	FreshnessOperational time.Duration
	// SkipTimestampChecks disables the INV-004 freshness window, for
	// replaying historical episode logs.
	SkipTimestampChecks bool
}

// DefaultOptions returns the stock freshness windows.
func DefaultOptions() Options {
	return Options{
		FreshnessRealtime:    60 * time.Second,
		FreshnessOperational: 3600 * time.Second,
	}
}

// Validator evaluates the rule set.
type Validator struct {
	opts Options
}

// New returns a validator with the given options.
func New(opts Options) *Validator { return &Validator{opts: opts} }

// Validate runs the ten rules evaluated at this gate against the packet and
// ledger view, accumulating every finding. INV-008 and INV-011 are not
// evaluated here.
func (v *Validator) Validate(p *packet.Packet, view View) diag.Result {
	var res diag.Result
	v.mcpCompleteness(p, &res)
	v.subparNeverActs(p, &res)
	v.highStakesSafety(p, &res)
	v.liveTruthEvidence(p, &res)
	v.budgetApproval(p, view, &res)
	v.arbitration(p, view, &res)
	v.writeTokenScope(p, view, &res)
	v.escalationShape(p, &res)
	v.degradedTools(p, &res)
	v.stakesConsistency(p, &res)
	return res
}

// mcpCompleteness is INV-001: every consequential packet carries the full
// envelope, with evidence refs or an absence reason.
func (v *Validator) mcpCompleteness(p *packet.Packet, res *diag.Result) {
	if !p.Consequential() {
		return
	}
	if p.MCP == nil {
		res.Errorf(CodeMCPCompleteness, "mcp", "%s requires a complete MCP envelope", p.Kind())
		return
	}
	if len(p.MCP.Evidence.EvidenceRefs) == 0 && p.MCP.Evidence.EvidenceAbsentReason == "" {
		res.Errorf(CodeMCPCompleteness, "mcp.evidence",
			"empty evidence_refs requires evidence_absent_reason")
	}
}

// subparNeverActs is INV-002.
func (v *Validator) subparNeverActs(p *packet.Packet, res *diag.Result) {
	dec, ok := p.Decision()
	if !ok || p.MCP == nil {
		return
	}
	if p.MCP.Quality.Tier == vocabulary.TierSubpar && dec.DecisionOutcome == vocabulary.OutcomeAct {
		res.Errorf(CodeSubparNeverActs, "payload.decision_outcome",
			"SUBPAR tier cannot ACT; use VERIFY_FIRST, ESCALATE, DEFER, or CANCEL")
	}
}

// highStakesSafety is INV-003: HIGH/CRITICAL decisions verify, escalate, or
// ACT only at SUPERB with every load-bearing assumption verified.
func (v *Validator) highStakesSafety(p *packet.Packet, res *diag.Result) {
	dec, ok := p.Decision()
	if !ok || p.MCP == nil {
		return
	}
	if !p.MCP.Stakes.StakesLevel.AtLeastHigh() {
		return
	}
	switch dec.DecisionOutcome {
	case vocabulary.OutcomeVerifyFirst, vocabulary.OutcomeEscalate:
		return
	}
	if p.MCP.Quality.Tier != vocabulary.TierSuperb {
		res.Errorf(CodeHighStakesSafety, "payload.decision_outcome",
			"%s stakes %s requires SUPERB tier, got %s",
			p.MCP.Stakes.StakesLevel, dec.DecisionOutcome, p.MCP.Quality.Tier)
		return
	}
	for i, a := range dec.LoadBearingAssumptions {
		if !a.Verified {
			res.Errorf(CodeHighStakesSafety, "payload.load_bearing_assumptions",
				"%s stakes %s requires every load-bearing assumption verified; assumption %d (%q) is not",
				p.MCP.Stakes.StakesLevel, dec.DecisionOutcome, i, a.Assumption)
		}
	}
}

// liveTruthEvidence is INV-004: ungrounded claims about live reality need a
// fresh grounding evidence ref.
func (v *Validator) liveTruthEvidence(p *packet.Packet, res *diag.Result) {
	if p.MCP == nil {
		return
	}
	ep := p.MCP.Epistemics
	if !ep.Status.Ungrounded() || !ep.FreshnessClass.Live() {
		return
	}

	window := v.opts.FreshnessOperational
	if ep.FreshnessClass == vocabulary.FreshRealtime {
		window = v.opts.FreshnessRealtime
	}
	if ep.StaleIfOlderThanSeconds > 0 {
		window = time.Duration(ep.StaleIfOlderThanSeconds) * time.Second
	}

	for _, ref := range p.MCP.Evidence.EvidenceRefs {
		if !ref.RefType.Grounding() {
			continue
		}
		if v.opts.SkipTimestampChecks || !ref.Timestamp.Before(p.Header.CreatedAt.Add(-window)) {
			return
		}
	}
	res.Errorf(CodeLiveTruthEvidence, "mcp.evidence.evidence_refs",
		"%s claim at %s freshness needs a tool_output or user_observation ref within %s",
		ep.Status, ep.FreshnessClass, window)
}

// budgetApproval is INV-005: once any budget axis is exceeded, the next
// consequential packet must be (or be preceded by) an approval.
func (v *Validator) budgetApproval(p *packet.Packet, view View, res *diag.Result) {
	if !p.Consequential() {
		return
	}
	overruns := view.BudgetOverruns()
	if len(overruns) == 0 || view.OverrunApproved() {
		return
	}
	// The approving escalation itself is exempt.
	if esc, ok := p.Escalation(); ok && esc.EscalationTrigger == packet.TriggerBudgetInsufficient {
		return
	}
	res.Errorf(CodeBudgetApproval, "",
		"budget exceeded (%s) without approval; escalate with trigger %s or obtain an integrity override",
		strings.Join(overruns, ", "), packet.TriggerBudgetInsufficient)
}

// arbitration is INV-006: a decision following a recorded conflict must pass
// the constitutional and budget gates and cite a named tradeoff policy.
func (v *Validator) arbitration(p *packet.Packet, view View, res *diag.Result) {
	dec, ok := p.Decision()
	if !ok || !view.UnresolvedConflict() {
		return
	}
	if !dec.ConstraintsSatisfied.ConstitutionalCheck {
		res.Errorf(CodeArbitration, "payload.constraints_satisfied.constitutional_check",
			"post-conflict decision must pass the constitutional check")
	}
	if !dec.ConstraintsSatisfied.BudgetCheck {
		res.Errorf(CodeArbitration, "payload.constraints_satisfied.budget_check",
			"post-conflict decision must pass the budget check")
	}
	summary := strings.ToLower(dec.DecisionSummary)
	for _, policy := range TradeoffPolicies {
		if strings.Contains(summary, policy) {
			return
		}
	}
	res.Warnf(CodeArbitration, "payload.decision_summary",
		"post-conflict decision should cite a tradeoff policy (%s)",
		strings.Join(TradeoffPolicies, ", "))
}

// writeTokenScope is INV-007: a WRITE/MIXED directive references an active
// token whose scope covers it. The usage increment is the ledger's atomic
// check-and-update; this rule only inspects.
func (v *Validator) writeTokenScope(p *packet.Packet, view View, res *diag.Result) {
	dir, ok := p.TaskDirective()
	if !ok || !dir.ToolSafetyClass.RequiresAuthorization() {
		return
	}
	tok, found := view.TokenState(dir.AuthorizationTokenID)
	if !found {
		res.Errorf(CodeWriteTokenScope, "payload.authorization_token_id",
			"token %s is not active in this episode", dir.AuthorizationTokenID)
		return
	}
	if tok.Revoked {
		res.Errorf(CodeWriteTokenScope, "payload.authorization_token_id",
			"token %s is revoked", tok.TokenID)
	}
	if !tok.Expiry.After(p.Header.CreatedAt) {
		res.Errorf(CodeWriteTokenScope, "payload.authorization_token_id",
			"token %s expired at %s", tok.TokenID, tok.Expiry.Format(time.RFC3339))
	}
	if tok.UsageCount >= tok.MaxUsageCount {
		res.Errorf(CodeWriteTokenScope, "payload.authorization_token_id",
			"token %s usage exhausted (%d/%d)", tok.TokenID, tok.UsageCount, tok.MaxUsageCount)
	}
	if !tok.AuthorizedScope.Covers(dir.ToolID, dir.OperationType) {
		res.Errorf(CodeWriteTokenScope, "payload.authorization_token_id",
			"token %s scope does not cover tool %q operation %q", tok.TokenID, dir.ToolID, dir.OperationType)
	}
}

// escalationShape is INV-009.
func (v *Validator) escalationShape(p *packet.Packet, res *diag.Result) {
	esc, ok := p.Escalation()
	if !ok {
		return
	}
	if n := len(esc.TopOptions); n < 2 || n > 3 {
		res.Errorf(CodeEscalationShape, "payload.top_options",
			"escalation must present 2-3 options, got %d", n)
	}
	for i, opt := range esc.TopOptions {
		if opt.OptionID == "" || opt.Description == "" {
			res.Errorf(CodeEscalationShape, "payload.top_options",
				"option %d must carry option_id and description", i)
		}
	}
	if len(esc.EvidenceGaps) == 0 {
		res.Errorf(CodeEscalationShape, "payload.evidence_gaps", "evidence_gaps must be non-empty")
	}
	if esc.RecommendedNextStep == "" {
		res.Errorf(CodeEscalationShape, "payload.recommended_next_step", "recommended_next_step is required")
	}
}

// degradedTools is INV-010: tools_down forbids high-stakes ACT; tools_partial
// at MEDIUM stakes expects HIGH uncertainty.
func (v *Validator) degradedTools(p *packet.Packet, res *diag.Result) {
	dec, ok := p.Decision()
	if !ok || p.MCP == nil {
		return
	}
	state := p.MCP.Routing.ToolsState
	stakes := p.MCP.Stakes.StakesLevel

	if state == vocabulary.ToolsDown && stakes.AtLeastHigh() &&
		dec.DecisionOutcome == vocabulary.OutcomeAct {
		res.Errorf(CodeDegradedTools, "payload.decision_outcome",
			"ACT is forbidden with tools_down at %s stakes", stakes)
	}
	if state == vocabulary.ToolsPartial && stakes == vocabulary.StakesMedium &&
		p.MCP.Stakes.Uncertainty != vocabulary.UncertaintyHigh {
		res.Warnf(CodeDegradedTools, "mcp.stakes.uncertainty",
			"tools_partial at MEDIUM stakes expects HIGH uncertainty, got %s", p.MCP.Stakes.Uncertainty)
	}
}

// axisRanks maps the four stakes axes to integer ranks (impact 0-3;
// irreversibility, uncertainty and adversariality 0-2) so the consistency
// table can compare across them.
func axisRanks(s packet.Stakes) []int {
	impact := map[vocabulary.ImpactLevel]int{
		vocabulary.ImpactLow: 0, vocabulary.ImpactMedium: 1,
		vocabulary.ImpactHigh: 2, vocabulary.ImpactCritical: 3,
	}
	irrev := map[vocabulary.Irreversibility]int{
		vocabulary.Reversible: 0, vocabulary.Partial: 1, vocabulary.Irreversible: 2,
	}
	unc := map[vocabulary.UncertaintyLevel]int{
		vocabulary.UncertaintyLow: 0, vocabulary.UncertaintyMedium: 1, vocabulary.UncertaintyHigh: 2,
	}
	adv := map[vocabulary.Adversariality]int{
		vocabulary.Benign: 0, vocabulary.Contested: 1, vocabulary.Hostile: 2,
	}
	return []int{impact[s.Impact], irrev[s.Irreversibility], unc[s.Uncertainty], adv[s.Adversariality]}
}

// stakesConsistency is INV-012: the aggregate level must be supportable by
// the axes. Violations warn rather than reject.
func (v *Validator) stakesConsistency(p *packet.Packet, res *diag.Result) {
	if p.MCP == nil {
		return
	}
	s := p.MCP.Stakes
	ranks := axisRanks(s)
	atLeast := func(rank int) int {
		n := 0
		for _, r := range ranks {
			if r >= rank {
				n++
			}
		}
		return n
	}

	supported := false
	switch s.StakesLevel {
	case vocabulary.StakesCritical:
		supported = atLeast(3) >= 1 ||
			(s.Impact == vocabulary.ImpactHigh && s.Irreversibility == vocabulary.Irreversible)
	case vocabulary.StakesHigh:
		supported = atLeast(2) >= 2 || atLeast(3) >= 1
	case vocabulary.StakesMedium:
		supported = atLeast(1) >= 1
	case vocabulary.StakesLow:
		supported = atLeast(2) == 0
	}
	if !supported {
		res.Warnf(CodeStakesConsistency, "mcp.stakes.stakes_level",
			"stakes_level %s is not supported by axes (impact=%s irreversibility=%s uncertainty=%s adversariality=%s)",
			s.StakesLevel, s.Impact, s.Irreversibility, s.Uncertainty, s.Adversariality)
	}
}
