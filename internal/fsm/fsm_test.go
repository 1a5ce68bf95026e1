package fsm

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

// admit validates and applies, failing the test on any error diagnostic.
func admit(t *testing.T, e *Episode, p *packet.Packet) {
	t.Helper()
	next, res := e.Validate(p)
	require.True(t, res.OK(), "kind %s in %s: %s", p.Kind(), e.Current(), res.Summary())
	e.Apply(p, next)
}

// reject asserts the packet is not admissible and leaves the state unchanged.
func reject(t *testing.T, e *Episode, p *packet.Packet) {
	t.Helper()
	before := e.Current()
	_, res := e.Validate(p)
	require.False(t, res.OK(), "expected rejection of %s in %s", p.Kind(), before)
	assert.Equal(t, before, e.Current())
}

func TestGroundingFlow(t *testing.T) {
	corr := "corr_fsm_ground"
	e := NewEpisode(corr, vocabulary.StateIdle)

	admit(t, e, packettest.Observation(corr, t0))
	assert.Equal(t, vocabulary.StateSense, e.Current())

	admit(t, e, packettest.Observation(corr, t0.Add(time.Second)))
	assert.Equal(t, vocabulary.StateSense, e.Current())

	admit(t, e, packettest.BeliefUpdate(corr, t0.Add(2*time.Second)))
	assert.Equal(t, vocabulary.StateModel, e.Current())

	admit(t, e, packettest.Decision(corr, t0.Add(3*time.Second), vocabulary.OutcomeDefer))
	assert.Equal(t, vocabulary.StateReview, e.Current())

	assert.True(t, e.Close())
	assert.Equal(t, vocabulary.StateIdle, e.Current())
}

func TestNoDecisionWithoutModel(t *testing.T) {
	corr := "corr_fsm_nomodel"
	e := NewEpisode(corr, vocabulary.StateIdle)
	admit(t, e, packettest.Observation(corr, t0))
	reject(t, e, packettest.Decision(corr, t0, vocabulary.OutcomeAct))
}

func TestSeededDecideSkipsModelRequirement(t *testing.T) {
	corr := "corr_fsm_seeded"
	e := NewEpisode(corr, vocabulary.StateDecide)
	admit(t, e, packettest.Decision(corr, t0, vocabulary.OutcomeAct))
	assert.Equal(t, vocabulary.StateDecide, e.Current())
}

func TestVerificationLoop(t *testing.T) {
	corr := "corr_fsm_verify"
	e := NewEpisode(corr, vocabulary.StateIdle)

	admit(t, e, packettest.Observation(corr, t0))
	admit(t, e, packettest.BeliefUpdate(corr, t0))
	admit(t, e, packettest.Decision(corr, t0, vocabulary.OutcomeVerifyFirst))
	assert.Equal(t, vocabulary.StateVerify, e.Current())

	// Premature closure: nothing verified yet.
	reject(t, e, packettest.BeliefUpdateReferencing(corr, t0, []string{"pkt_nope"}))

	admit(t, e, packettest.VerificationPlan(corr, t0))

	directive := packettest.ReadDirective(corr, t0, "task_v1")
	admit(t, e, directive)
	assert.Equal(t, vocabulary.StateVerify, e.Current())

	result := packettest.Result(corr, t0, "task_v1", directive.Header.PacketID, vocabulary.ResultSuccess)
	admit(t, e, result)

	obs := packettest.ObservedFresh(corr, t0)
	next, res := e.Validate(obs)
	require.True(t, res.OK())
	// The divergent historical edge surfaces as a warning, not an error.
	require.Len(t, res.Warnings(), 1)
	assert.Equal(t, CodeDivergence, res.Warnings()[0].Code)
	e.Apply(obs, next)

	// Closing update must reference loop evidence.
	reject(t, e, packettest.BeliefUpdate(corr, t0))
	reject(t, e, packettest.BeliefUpdateReferencing(corr, t0, []string{"pkt_outside"}))

	admit(t, e, packettest.BeliefUpdateReferencing(corr, t0, []string{result.Header.PacketID, obs.Header.PacketID}))
	assert.Equal(t, vocabulary.StateModel, e.Current())

	admit(t, e, packettest.Decision(corr, t0, vocabulary.OutcomeAct))
	assert.Equal(t, vocabulary.StateDecide, e.Current())
	assert.Empty(t, e.OpenTasks())
}

func TestWriteRequiresAuthorization(t *testing.T) {
	corr := "corr_fsm_write"
	e := NewEpisode(corr, vocabulary.StateDecide)

	admit(t, e, packettest.Decision(corr, t0, vocabulary.OutcomeAct))
	reject(t, e, packettest.WriteDirective(corr, t0, "task_w", "token_w1", "market_api"))

	admit(t, e, packettest.Token(corr, t0, "token_w1", "market_api", "write", 1, t0.Add(time.Hour)))
	assert.Equal(t, vocabulary.StateAuthorize, e.Current())

	admit(t, e, packettest.WriteDirective(corr, t0, "task_w", "token_w1", "market_api"))
	assert.Equal(t, vocabulary.StateExecute, e.Current())
}

func TestTokenRequiresActDecision(t *testing.T) {
	corr := "corr_fsm_token"
	e := NewEpisode(corr, vocabulary.StateDecide)
	admit(t, e, packettest.Decision(corr, t0, vocabulary.OutcomeDefer))
	// DEFER lands in review; a token has no business there.
	reject(t, e, packettest.Token(corr, t0, "token_x", "market_api", "write", 1, t0.Add(time.Hour)))
}

func TestDirectiveRequiresActOutcome(t *testing.T) {
	corr := "corr_fsm_dir"
	e := NewEpisode(corr, vocabulary.StateIdle)
	admit(t, e, packettest.Observation(corr, t0))
	admit(t, e, packettest.BeliefUpdate(corr, t0))
	reject(t, e, packettest.ReadDirective(corr, t0, "task_r1"))
}

func TestResultWithoutDirectiveRejected(t *testing.T) {
	corr := "corr_fsm_orphan"
	e := NewEpisode(corr, vocabulary.StateDecide)
	admit(t, e, packettest.Decision(corr, t0, vocabulary.OutcomeAct))
	admit(t, e, packettest.ReadDirective(corr, t0, "task_real"))
	reject(t, e, packettest.Result(corr, t0, "task_ghost", "pkt_x", vocabulary.ResultSuccess))
}

func TestEscalationFlow(t *testing.T) {
	corr := "corr_fsm_esc"
	e := NewEpisode(corr, vocabulary.StateIdle)
	admit(t, e, packettest.Observation(corr, t0))
	admit(t, e, packettest.BeliefUpdate(corr, t0))
	admit(t, e, packettest.Decision(corr, t0, vocabulary.OutcomeEscalate))
	assert.Equal(t, vocabulary.StateEscalated, e.Current())

	admit(t, e, packettest.Escalation(corr, t0, "tools_degraded"))
	assert.Equal(t, vocabulary.StateEscalated, e.Current())

	// Human responds: the distinguished non-packet signal re-enters deciding.
	assert.True(t, e.UserInput())
	assert.Equal(t, vocabulary.StateDecide, e.Current())
	assert.False(t, e.UserInput(), "signal only valid while escalated")
}

func TestSafeModeContainment(t *testing.T) {
	corr := "corr_fsm_safe"
	e := NewEpisode(corr, vocabulary.StateIdle)
	admit(t, e, packettest.Observation(corr, t0))

	admit(t, e, packettest.Alert(corr, t0, packet.AlertConstitutionalVeto, vocabulary.SeverityCritical))
	assert.Equal(t, vocabulary.StateSafeMode, e.Current())

	// Only alerts and belief updates are admitted.
	reject(t, e, packettest.Observation(corr, t0))
	reject(t, e, packettest.Decision(corr, t0, vocabulary.OutcomeAct))
	admit(t, e, packettest.BeliefUpdate(corr, t0))
	assert.Equal(t, vocabulary.StateSafeMode, e.Current())

	// INFO clear returns to review.
	admit(t, e, packettest.Alert(corr, t0, packet.AlertSafeModeClear, vocabulary.SeverityInfo))
	assert.Equal(t, vocabulary.StateReview, e.Current())
}

func TestTraceRecordsTriples(t *testing.T) {
	corr := "corr_fsm_trace"
	e := NewEpisode(corr, vocabulary.StateIdle)
	admit(t, e, packettest.Observation(corr, t0))
	admit(t, e, packettest.BeliefUpdate(corr, t0))

	trace := e.Trace()
	require.Len(t, trace, 2)
	assert.Equal(t, Transition{From: vocabulary.StateIdle, Kind: vocabulary.KindObservation, To: vocabulary.StateSense}, trace[0])
	assert.Equal(t, Transition{From: vocabulary.StateSense, Kind: vocabulary.KindBeliefUpdate, To: vocabulary.StateModel}, trace[1])
}

func TestVerifyLoopToolsPartialSkipsSuccessRequirement(t *testing.T) {
	corr := "corr_fsm_partial"
	e := NewEpisode(corr, vocabulary.StateIdle)
	admit(t, e, packettest.Observation(corr, t0))
	admit(t, e, packettest.BeliefUpdate(corr, t0))
	admit(t, e, packettest.Decision(corr, t0, vocabulary.OutcomeVerifyFirst,
		packettest.Tools(vocabulary.ToolsPartial)))
	admit(t, e, packettest.VerificationPlan(corr, t0))

	directive := packettest.ReadDirective(corr, t0, "task_p1")
	admit(t, e, directive)
	obs := packettest.ObservedFresh(corr, t0)
	next, res := e.Validate(obs)
	require.True(t, res.OK())
	e.Apply(obs, next)

	// No SUCCESS result landed, but tools were partial, so closure holds.
	admit(t, e, packettest.BeliefUpdateReferencing(corr, t0, []string{obs.Header.PacketID}))
	assert.Equal(t, vocabulary.StateModel, e.Current())
}
