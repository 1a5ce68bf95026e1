package invariant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tpanarchist/omen/internal/diag"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/packettest"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// stubView is a canned ledger view.
type stubView struct {
	tokens   map[string]*packet.ToolAuthorizationPayload
	overruns []string
	approved bool
	conflict bool
}

func (s *stubView) TokenState(id string) (*packet.ToolAuthorizationPayload, bool) {
	tok, ok := s.tokens[id]
	return tok, ok
}
func (s *stubView) BudgetOverruns() []string { return s.overruns }
func (s *stubView) OverrunApproved() bool    { return s.approved }
func (s *stubView) UnresolvedConflict() bool { return s.conflict }

func errCodes(res diag.Result) []string {
	var codes []string
	for _, d := range res.Errors() {
		codes = append(codes, d.Code)
	}
	return codes
}

func TestSubparNeverActs(t *testing.T) {
	v := New(DefaultOptions())
	p := packettest.Decision("corr_inv", t0, vocabulary.OutcomeAct,
		packettest.Tier(vocabulary.TierSubpar), packettest.Stakes(vocabulary.StakesHigh))

	res := v.Validate(p, &stubView{})
	assert.Contains(t, errCodes(res), CodeSubparNeverActs)

	// Any non-ACT outcome is fine at SUBPAR.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeEscalate,
		packettest.Tier(vocabulary.TierSubpar))
	res = v.Validate(p, &stubView{})
	assert.NotContains(t, errCodes(res), CodeSubparNeverActs)
}

func TestHighStakesSafety(t *testing.T) {
	v := New(DefaultOptions())

	// ACT at HIGH with PAR tier fails.
	p := packettest.Decision("corr_inv", t0, vocabulary.OutcomeAct,
		packettest.Stakes(vocabulary.StakesHigh))
	assert.Contains(t, errCodes(v.Validate(p, &stubView{})), CodeHighStakesSafety)

	// SUPERB with all load-bearing assumptions verified passes.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeAct,
		packettest.Stakes(vocabulary.StakesHigh), packettest.Tier(vocabulary.TierSuperb))
	dec, _ := p.Decision()
	dec.LoadBearingAssumptions = []packet.LoadBearingAssumption{
		{Assumption: "market is open", Verified: true, VerificationPacketID: "pkt_v1"},
	}
	assert.NotContains(t, errCodes(v.Validate(p, &stubView{})), CodeHighStakesSafety)

	// One unverified assumption fails.
	dec.LoadBearingAssumptions = append(dec.LoadBearingAssumptions,
		packet.LoadBearingAssumption{Assumption: "account funded", Verified: false})
	assert.Contains(t, errCodes(v.Validate(p, &stubView{})), CodeHighStakesSafety)

	// VERIFY_FIRST is always acceptable at high stakes.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst,
		packettest.Stakes(vocabulary.StakesCritical))
	assert.NotContains(t, errCodes(v.Validate(p, &stubView{})), CodeHighStakesSafety)
}

func TestLiveTruthEvidence(t *testing.T) {
	v := New(DefaultOptions())

	// INFERRED + REALTIME with no refs fails.
	p := packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst,
		packettest.Epistemics(vocabulary.StatusInferred, vocabulary.FreshRealtime))
	assert.Contains(t, errCodes(v.Validate(p, &stubView{})), CodeLiveTruthEvidence)

	// Fresh tool_output ref passes.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst,
		packettest.Epistemics(vocabulary.StatusInferred, vocabulary.FreshRealtime),
		packettest.EvidenceRefs(packettest.ToolEvidence("read_1", t0.Add(-30*time.Second))))
	assert.NotContains(t, errCodes(v.Validate(p, &stubView{})), CodeLiveTruthEvidence)

	// Stale ref fails (61s old against a 60s window).
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst,
		packettest.Epistemics(vocabulary.StatusInferred, vocabulary.FreshRealtime),
		packettest.EvidenceRefs(packettest.ToolEvidence("read_1", t0.Add(-61*time.Second))))
	assert.Contains(t, errCodes(v.Validate(p, &stubView{})), CodeLiveTruthEvidence)

	// memory_item refs never ground live truth.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst,
		packettest.Epistemics(vocabulary.StatusHypothesized, vocabulary.FreshOperational),
		packettest.EvidenceRefs(packet.EvidenceRef{
			RefType: vocabulary.RefMemoryItem, RefID: "mem_1", Timestamp: t0,
		}))
	assert.Contains(t, errCodes(v.Validate(p, &stubView{})), CodeLiveTruthEvidence)

	// Packet-level staleness override widens the window.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst,
		packettest.Epistemics(vocabulary.StatusInferred, vocabulary.FreshRealtime),
		packettest.EvidenceRefs(packettest.ToolEvidence("read_1", t0.Add(-90*time.Second))))
	p.MCP.Epistemics.StaleIfOlderThanSeconds = 120
	assert.NotContains(t, errCodes(v.Validate(p, &stubView{})), CodeLiveTruthEvidence)

	// STRATEGIC freshness is exempt.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst,
		packettest.Epistemics(vocabulary.StatusInferred, vocabulary.FreshStrategic))
	assert.NotContains(t, errCodes(v.Validate(p, &stubView{})), CodeLiveTruthEvidence)
}

func TestBudgetApproval(t *testing.T) {
	v := New(DefaultOptions())
	over := &stubView{overruns: []string{"tokens: 1001/1000"}}

	// Next consequential packet without approval fails.
	p := packettest.Decision("corr_inv", t0, vocabulary.OutcomeAct)
	assert.Contains(t, errCodes(v.Validate(p, over)), CodeBudgetApproval)

	// Non-consequential packets pass through.
	obs := packettest.Observation("corr_inv", t0)
	assert.NotContains(t, errCodes(v.Validate(obs, over)), CodeBudgetApproval)

	// The approving escalation is exempt.
	esc := packettest.Escalation("corr_inv", t0, packet.TriggerBudgetInsufficient)
	assert.NotContains(t, errCodes(v.Validate(esc, over)), CodeBudgetApproval)

	// After approval the decision passes.
	over.approved = true
	assert.NotContains(t, errCodes(v.Validate(p, over)), CodeBudgetApproval)
}

func TestArbitration(t *testing.T) {
	v := New(DefaultOptions())
	conflicted := &stubView{conflict: true}

	p := packettest.Decision("corr_inv", t0, vocabulary.OutcomeAct)
	dec, _ := p.Decision()
	dec.ConstraintsSatisfied.ConstitutionalCheck = false
	assert.Contains(t, errCodes(v.Validate(p, conflicted)), CodeArbitration)

	// Checks pass but no tradeoff citation: warning, still admissible.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeAct)
	res := v.Validate(p, conflicted)
	assert.NotContains(t, errCodes(res), CodeArbitration)
	found := false
	for _, w := range res.Warnings() {
		if w.Code == CodeArbitration {
			found = true
		}
	}
	assert.True(t, found, "missing tradeoff citation should warn")

	// Citing a policy clears the warning.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeAct)
	dec, _ = p.Decision()
	dec.DecisionSummary = "proceed per safety-first arbitration"
	res = v.Validate(p, conflicted)
	for _, w := range res.Warnings() {
		assert.NotEqual(t, CodeArbitration, w.Code)
	}
}

func TestWriteTokenScope(t *testing.T) {
	v := New(DefaultOptions())
	token := &packet.ToolAuthorizationPayload{
		TokenID: "token_w1",
		AuthorizedScope: packet.AuthorizedScope{
			ToolIDs:        []string{"market_api"},
			OperationTypes: []string{"write"},
		},
		Expiry:        t0.Add(time.Hour),
		MaxUsageCount: 1,
	}
	view := &stubView{tokens: map[string]*packet.ToolAuthorizationPayload{"token_w1": token}}

	dir := packettest.WriteDirective("corr_inv", t0, "task_w", "token_w1", "market_api")
	assert.NotContains(t, errCodes(v.Validate(dir, view)), CodeWriteTokenScope)

	// Unknown token.
	orphan := packettest.WriteDirective("corr_inv", t0, "task_w", "token_zz", "market_api")
	assert.Contains(t, errCodes(v.Validate(orphan, view)), CodeWriteTokenScope)

	// Scope mismatch.
	wrongTool := packettest.WriteDirective("corr_inv", t0, "task_w", "token_w1", "ledger_api")
	assert.Contains(t, errCodes(v.Validate(wrongTool, view)), CodeWriteTokenScope)

	// Usage exhausted.
	token.UsageCount = 1
	assert.Contains(t, errCodes(v.Validate(dir, view)), CodeWriteTokenScope)
	token.UsageCount = 0

	// Revoked.
	token.Revoked = true
	assert.Contains(t, errCodes(v.Validate(dir, view)), CodeWriteTokenScope)
	token.Revoked = false

	// Expired.
	token.Expiry = t0.Add(-time.Minute)
	assert.Contains(t, errCodes(v.Validate(dir, view)), CodeWriteTokenScope)
}

func TestEscalationShape(t *testing.T) {
	v := New(DefaultOptions())
	p := packettest.Escalation("corr_inv", t0, "verification_impossible")
	assert.NotContains(t, errCodes(v.Validate(p, &stubView{})), CodeEscalationShape)

	esc, _ := p.Escalation()
	esc.TopOptions = append(esc.TopOptions, packet.EscalationOption{OptionID: "o3", Description: "d"},
		packet.EscalationOption{OptionID: "o4", Description: "d"})
	assert.Contains(t, errCodes(v.Validate(p, &stubView{})), CodeEscalationShape)
}

func TestDegradedTools(t *testing.T) {
	v := New(DefaultOptions())

	// tools_down + CRITICAL + ACT is an error.
	p := packettest.Decision("corr_inv", t0, vocabulary.OutcomeAct,
		packettest.Stakes(vocabulary.StakesCritical), packettest.Tools(vocabulary.ToolsDown),
		packettest.Tier(vocabulary.TierSuperb))
	assert.Contains(t, errCodes(v.Validate(p, &stubView{})), CodeDegradedTools)

	// ESCALATE instead passes this rule.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeEscalate,
		packettest.Stakes(vocabulary.StakesCritical), packettest.Tools(vocabulary.ToolsDown))
	assert.NotContains(t, errCodes(v.Validate(p, &stubView{})), CodeDegradedTools)

	// tools_partial at MEDIUM without HIGH uncertainty warns.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst,
		packettest.Stakes(vocabulary.StakesMedium), packettest.Tools(vocabulary.ToolsPartial))
	res := v.Validate(p, &stubView{})
	assert.NotContains(t, errCodes(res), CodeDegradedTools)
	warned := false
	for _, w := range res.Warnings() {
		if w.Code == CodeDegradedTools {
			warned = true
		}
	}
	assert.True(t, warned)

	// HIGH uncertainty clears the warning.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst,
		packettest.Stakes(vocabulary.StakesMedium), packettest.Tools(vocabulary.ToolsPartial),
		packettest.Uncertainty(vocabulary.UncertaintyHigh))
	res = v.Validate(p, &stubView{})
	for _, w := range res.Warnings() {
		assert.NotEqual(t, CodeDegradedTools, w.Code)
	}
}

func TestStakesConsistency(t *testing.T) {
	v := New(DefaultOptions())

	// CRITICAL with all-low axes warns.
	p := packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst)
	p.MCP.Stakes = packet.Stakes{
		Impact:          vocabulary.ImpactLow,
		Irreversibility: vocabulary.Reversible,
		Uncertainty:     vocabulary.UncertaintyLow,
		Adversariality:  vocabulary.Benign,
		StakesLevel:     vocabulary.StakesCritical,
	}
	res := v.Validate(p, &stubView{})
	warned := false
	for _, w := range res.Warnings() {
		if w.Code == CodeStakesConsistency {
			warned = true
		}
	}
	require.True(t, warned)

	// Every fixture stakes preset is self-consistent.
	for _, level := range []vocabulary.StakesLevel{
		vocabulary.StakesLow, vocabulary.StakesMedium, vocabulary.StakesHigh, vocabulary.StakesCritical,
	} {
		p := packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst, packettest.Stakes(level))
		res := v.Validate(p, &stubView{})
		for _, w := range res.Warnings() {
			assert.NotEqual(t, CodeStakesConsistency, w.Code, "level %s", level)
		}
	}

	// LOW with a HIGH axis warns.
	p = packettest.Decision("corr_inv", t0, vocabulary.OutcomeVerifyFirst)
	p.MCP.Stakes = packet.Stakes{
		Impact:          vocabulary.ImpactHigh,
		Irreversibility: vocabulary.Reversible,
		Uncertainty:     vocabulary.UncertaintyLow,
		Adversariality:  vocabulary.Benign,
		StakesLevel:     vocabulary.StakesLow,
	}
	res = v.Validate(p, &stubView{})
	warned = false
	for _, w := range res.Warnings() {
		if w.Code == CodeStakesConsistency {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestMCPCompleteness(t *testing.T) {
	v := New(DefaultOptions())
	p := packettest.Decision("corr_inv", t0, vocabulary.OutcomeAct)
	p.MCP = nil
	assert.Contains(t, errCodes(v.Validate(p, &stubView{})), CodeMCPCompleteness)
}
