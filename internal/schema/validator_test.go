package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/packettest"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestValidFixturesPass(t *testing.T) {
	corr := "corr_schema_ok"
	packets := []*packet.Packet{
		packettest.Observation(corr, t0),
		packettest.BeliefUpdate(corr, t0),
		packettest.Decision(corr, t0, vocabulary.OutcomeVerifyFirst),
		packettest.VerificationPlan(corr, t0),
		packettest.Token(corr, t0, "token_s1", "intel_api", "write", 1, t0.Add(time.Hour)),
		packettest.ReadDirective(corr, t0, "task_s1"),
		packettest.Result(corr, t0, "task_s1", "pkt_dir1", vocabulary.ResultSuccess),
		packettest.Escalation(corr, t0, "budget_insufficient"),
		packettest.Alert(corr, t0, packet.AlertBudgetWarning, vocabulary.SeverityWarning),
	}
	v := New()
	for _, p := range packets {
		res := v.Validate(p)
		assert.True(t, res.OK(), "kind %s: %s", p.Kind(), res.Summary())
	}
}

func TestConsequentialRequiresEnvelope(t *testing.T) {
	p := packettest.Decision("corr_x", t0, vocabulary.OutcomeAct)
	p.MCP = nil
	res := New().Validate(p)
	require.False(t, res.OK())
	assert.Equal(t, CodeEnvelope, res.Errors()[0].Code)
}

func TestObservationWithoutEnvelopeIsFine(t *testing.T) {
	p := packettest.Observation("corr_x", t0)
	p.MCP = nil
	assert.True(t, New().Validate(p).OK())
}

func TestEvidenceExclusivity(t *testing.T) {
	v := New()

	// Neither refs nor reason.
	p := packettest.Decision("corr_x", t0, vocabulary.OutcomeAct)
	p.MCP.Evidence = packet.Evidence{}
	res := v.Validate(p)
	require.False(t, res.OK())

	// Both refs and reason.
	p = packettest.Decision("corr_x", t0, vocabulary.OutcomeAct,
		packettest.EvidenceRefs(packettest.ToolEvidence("ref1", t0)))
	p.MCP.Evidence.EvidenceAbsentReason = "also a reason"
	res = v.Validate(p)
	require.False(t, res.OK())
}

func TestAllDiagnosticsReported(t *testing.T) {
	p := packettest.Decision("corr_x", t0, vocabulary.OutcomeAct)
	p.Header.PacketID = "bogus"
	p.MCP.Intent.Summary = ""
	p.MCP.Epistemics.Confidence = 1.5
	dec, _ := p.Decision()
	dec.DecisionSummary = ""

	res := New().Validate(p)
	// One error per broken field, not just the first.
	assert.GreaterOrEqual(t, len(res.Errors()), 4)
}

func TestTaskResultErrorDetailsConditional(t *testing.T) {
	v := New()

	fail := packettest.Result("corr_x", t0, "task_1", "pkt_d", vocabulary.ResultFailure)
	tr, _ := fail.TaskResult()
	tr.ErrorDetails = ""
	assert.False(t, v.Validate(fail).OK())

	ok := packettest.Result("corr_x", t0, "task_1", "pkt_d", vocabulary.ResultSuccess)
	tr, _ = ok.TaskResult()
	tr.ErrorDetails = "unexpected detail"
	assert.False(t, v.Validate(ok).OK())
}

func TestBeliefUpdateContradictionConditional(t *testing.T) {
	v := New()

	p := packettest.BeliefUpdate("corr_x", t0)
	bu, _ := p.BeliefUpdate()
	bu.UpdateType = packet.UpdateTypeContradictionResolved
	assert.False(t, v.Validate(p).OK(), "resolution without details must fail")

	bu.ContradictionDetails = "sensor A disagreed with sensor B; A retracted"
	assert.True(t, v.Validate(p).OK())
}

func TestWriteDirectiveNeedsToken(t *testing.T) {
	v := New()

	p := packettest.WriteDirective("corr_x", t0, "task_w", "token_w1", "market_api")
	assert.True(t, v.Validate(p).OK())

	td, _ := p.TaskDirective()
	td.AuthorizationTokenID = ""
	assert.False(t, v.Validate(p).OK())

	// READ with a token is also malformed.
	p = packettest.ReadDirective("corr_x", t0, "task_r")
	td, _ = p.TaskDirective()
	td.AuthorizationTokenID = "token_w1"
	assert.False(t, v.Validate(p).OK())
}

func TestEscalationShape(t *testing.T) {
	v := New()
	p := packettest.Escalation("corr_x", t0, "verification_impossible")
	esc, _ := p.Escalation()

	esc.TopOptions = esc.TopOptions[:1]
	assert.False(t, v.Validate(p).OK(), "one option is too few")

	p = packettest.Escalation("corr_x", t0, "verification_impossible")
	esc, _ = p.Escalation()
	esc.EvidenceGaps = nil
	assert.False(t, v.Validate(p).OK())
}

func TestTokenPayloadBounds(t *testing.T) {
	v := New()
	p := packettest.Token("corr_x", t0, "token_a", "intel_api", "write", 0, t0.Add(time.Hour))
	assert.False(t, v.Validate(p).OK(), "max_usage_count 0 is invalid")
}

func TestPayloadKindMismatch(t *testing.T) {
	p := packettest.Observation("corr_x", t0)
	p.Header.PacketKind = vocabulary.KindDecision
	res := New().Validate(p)
	assert.False(t, res.OK())
}
