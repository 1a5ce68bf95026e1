// Package fsm implements the second validation gate: the per-episode state
// machine over legal packet sequences. An Episode tracks the current state
// plus the sequencing facts the edge rules need (model established, last
// decision outcome, verification progress, open tasks). Validation is split
// from application so the ledger can run all three gates before committing
// anything.
package fsm

import (
	"github.com/Tpanarchist/omen/internal/diag"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Diagnostic codes emitted by this gate.
const (
	CodeTransition = "FSM-TRANSITION"
	CodeSequence   = "FSM-SEQUENCE"
	CodeVerify     = "FSM-VERIFY"
	CodeAuthorize  = "FSM-AUTHORIZE"
	CodeTask       = "FSM-TASK"
	CodeSafeMode   = "FSM-SAFEMODE"
	// CodeDivergence flags edges where the two historical transition surfaces
	// disagreed; the stricter edge is enforced and the packet admits with a
	// warning.
	CodeDivergence = "FSM-DIVERGENCE"
)

// Transition is one recorded (from, kind, to) triple.
type Transition struct {
	From vocabulary.FSMState
	Kind vocabulary.PacketKind
	To   vocabulary.FSMState
}

// verifyProgress accumulates what the episode has done since a VERIFY_FIRST
// decision opened the verification loop.
type verifyProgress struct {
	planSeen    bool
	readDirects int
	successes   int
	observedObs int
	toolsState  vocabulary.ToolsState
	packetIDs   map[string]struct{}
}

func (vp *verifyProgress) record(p *packet.Packet) {
	if vp.packetIDs == nil {
		vp.packetIDs = make(map[string]struct{})
	}
	vp.packetIDs[p.Header.PacketID] = struct{}{}
}

// Episode is the FSM state for one correlation id. The ledger owns exactly
// one Episode and serializes all access to it.
type Episode struct {
	correlationID string
	current       vocabulary.FSMState
	seeded        vocabulary.FSMState
	trace         []Transition

	beliefUpdates int
	lastOutcome   vocabulary.DecisionOutcome
	authorized    bool

	verifyPending bool
	verify        verifyProgress

	openTasks map[string]string // task_id -> directive packet_id
}

// NewEpisode starts an episode at the given initial state (normally
// StateIdle; templates entering mid-flow seed S2 or S3).
func NewEpisode(correlationID string, initial vocabulary.FSMState) *Episode {
	if initial == "" {
		initial = vocabulary.StateIdle
	}
	return &Episode{
		correlationID: correlationID,
		current:       initial,
		seeded:        initial,
		openTasks:     make(map[string]string),
	}
}

// Current returns the current state.
func (e *Episode) Current() vocabulary.FSMState { return e.current }

// Trace returns the recorded transitions, in admission order.
func (e *Episode) Trace() []Transition { return e.trace }

// OpenTasks returns the task ids with no matching result yet.
func (e *Episode) OpenTasks() []string {
	out := make([]string, 0, len(e.openTasks))
	for id := range e.openTasks {
		out = append(out, id)
	}
	return out
}

// modelEstablished reports whether a decision may be made: either a belief
// update has landed, or the episode was seeded past the modeling states.
func (e *Episode) modelEstablished() bool {
	if e.beliefUpdates > 0 {
		return true
	}
	return e.seeded == vocabulary.StateModel || e.seeded == vocabulary.StateDecide
}

// Validate computes the state the packet would transition the episode to,
// without mutating anything. The result carries every sequencing diagnostic;
// the packet is admissible only when res.OK().
func (e *Episode) Validate(p *packet.Packet) (vocabulary.FSMState, diag.Result) {
	var res diag.Result

	// Integrity alerts are admissible from any state.
	if alert, ok := p.IntegrityAlert(); ok {
		return e.alertTarget(alert), res
	}

	// Safe mode admits only alerts (handled above) and belief updates, which
	// are logged without leaving S9.
	if e.current == vocabulary.StateSafeMode {
		if p.Kind() == vocabulary.KindBeliefUpdate {
			return vocabulary.StateSafeMode, res
		}
		res.Errorf(CodeSafeMode, "", "%s not admitted in %s", p.Kind(), e.current)
		return e.current, res
	}

	switch p.Kind() {
	case vocabulary.KindObservation:
		return e.validateObservation(&res)
	case vocabulary.KindBeliefUpdate:
		return e.validateBeliefUpdate(p, &res)
	case vocabulary.KindDecision:
		return e.validateDecision(p, &res)
	case vocabulary.KindVerificationPlan:
		return e.validatePlan(&res)
	case vocabulary.KindToolAuthorization:
		return e.validateToken(&res)
	case vocabulary.KindTaskDirective:
		return e.validateDirective(p, &res)
	case vocabulary.KindTaskResult:
		return e.validateResult(p, &res)
	case vocabulary.KindEscalation:
		return e.validateEscalation(&res)
	}

	res.Errorf(CodeTransition, "", "unhandled packet kind %s", p.Kind())
	return e.current, res
}

func (e *Episode) alertTarget(alert *packet.IntegrityAlertPayload) vocabulary.FSMState {
	if alert.Severity == vocabulary.SeverityCritical {
		return vocabulary.StateSafeMode
	}
	if e.current == vocabulary.StateSafeMode &&
		alert.Severity == vocabulary.SeverityInfo &&
		alert.AlertType == packet.AlertSafeModeClear {
		return vocabulary.StateReview
	}
	return e.current
}

func (e *Episode) validateObservation(res *diag.Result) (vocabulary.FSMState, diag.Result) {
	switch e.current {
	case vocabulary.StateIdle, vocabulary.StateSense:
		return vocabulary.StateSense, *res
	case vocabulary.StateVerify:
		// One transition surface re-entered S1 here; the authoritative one
		// keeps the verification loop open.
		res.Warnf(CodeDivergence, "", "observation admitted in %s without re-entering %s",
			vocabulary.StateVerify, vocabulary.StateSense)
		return vocabulary.StateVerify, *res
	case vocabulary.StateExecute:
		return vocabulary.StateExecute, *res
	}
	res.Errorf(CodeTransition, "", "%s not admitted in %s", vocabulary.KindObservation, e.current)
	return e.current, *res
}

func (e *Episode) validateBeliefUpdate(p *packet.Packet, res *diag.Result) (vocabulary.FSMState, diag.Result) {
	update, _ := p.BeliefUpdate()
	switch e.current {
	case vocabulary.StateSense, vocabulary.StateModel:
		return vocabulary.StateModel, *res
	case vocabulary.StateVerify:
		e.checkVerifyClosure(update, res)
		if !res.OK() {
			return e.current, *res
		}
		return vocabulary.StateModel, *res
	case vocabulary.StateExecute:
		if update != nil && update.Complete {
			return vocabulary.StateReview, *res
		}
		return vocabulary.StateModel, *res
	case vocabulary.StateReview:
		return vocabulary.StateReview, *res
	}
	res.Errorf(CodeTransition, "", "%s not admitted in %s", vocabulary.KindBeliefUpdate, e.current)
	return e.current, *res
}

// checkVerifyClosure enforces that a verification loop only closes after the
// plan, at least one read, the required successes, a grounded observation,
// and a belief update that cites the loop's evidence packets.
func (e *Episode) checkVerifyClosure(update *packet.BeliefUpdatePayload, res *diag.Result) {
	vp := &e.verify
	if !e.verifyPending {
		res.Errorf(CodeVerify, "", "no verification loop is open")
		return
	}
	if !vp.planSeen {
		res.Errorf(CodeVerify, "", "verification loop has no plan")
	}
	if vp.readDirects == 0 {
		res.Errorf(CodeVerify, "", "verification loop executed no READ directive")
	}
	if vp.toolsState == vocabulary.ToolsOK && vp.successes == 0 {
		res.Errorf(CodeVerify, "", "verification loop has no SUCCESS result with tools_ok")
	}
	if vp.observedObs == 0 {
		res.Errorf(CodeVerify, "", "verification loop has no OBSERVED observation")
	}
	if update == nil || len(update.EvidencePacketIDs) == 0 {
		res.Errorf(CodeVerify, "payload.evidence_packet_ids",
			"closing belief update must reference verification evidence packets")
		return
	}
	for _, id := range update.EvidencePacketIDs {
		if _, ok := vp.packetIDs[id]; !ok {
			res.Errorf(CodeVerify, "payload.evidence_packet_ids",
				"referenced packet %s was not part of this verification loop", id)
		}
	}
}

func (e *Episode) validateDecision(p *packet.Packet, res *diag.Result) (vocabulary.FSMState, diag.Result) {
	switch e.current {
	case vocabulary.StateModel, vocabulary.StateDecide, vocabulary.StateReview:
	default:
		res.Errorf(CodeTransition, "", "%s not admitted in %s", vocabulary.KindDecision, e.current)
		return e.current, *res
	}
	if !e.modelEstablished() {
		res.Errorf(CodeSequence, "", "decision requires at least one prior belief update")
		return e.current, *res
	}

	dec, _ := p.Decision()
	if dec == nil {
		res.Errorf(CodeSequence, "payload", "decision payload missing")
		return e.current, *res
	}
	switch dec.DecisionOutcome {
	case vocabulary.OutcomeVerifyFirst:
		return vocabulary.StateVerify, *res
	case vocabulary.OutcomeAct:
		// The follow-up packet (token or READ directive) selects the branch.
		return vocabulary.StateDecide, *res
	case vocabulary.OutcomeEscalate:
		return vocabulary.StateEscalated, *res
	case vocabulary.OutcomeDefer, vocabulary.OutcomeCancel:
		return vocabulary.StateReview, *res
	}
	res.Errorf(CodeSequence, "payload.decision_outcome", "unknown outcome %q", dec.DecisionOutcome)
	return e.current, *res
}

func (e *Episode) validatePlan(res *diag.Result) (vocabulary.FSMState, diag.Result) {
	if e.current != vocabulary.StateVerify {
		res.Errorf(CodeTransition, "", "%s not admitted in %s", vocabulary.KindVerificationPlan, e.current)
		return e.current, *res
	}
	return vocabulary.StateVerify, *res
}

func (e *Episode) validateToken(res *diag.Result) (vocabulary.FSMState, diag.Result) {
	switch e.current {
	case vocabulary.StateDecide:
		if e.lastOutcome != vocabulary.OutcomeAct {
			res.Errorf(CodeSequence, "", "authorization requires a prior ACT decision")
			return e.current, *res
		}
		return vocabulary.StateAuthorize, *res
	case vocabulary.StateVerify, vocabulary.StateAuthorize:
		return vocabulary.StateAuthorize, *res
	}
	res.Errorf(CodeTransition, "", "%s not admitted in %s", vocabulary.KindToolAuthorization, e.current)
	return e.current, *res
}

func (e *Episode) validateDirective(p *packet.Packet, res *diag.Result) (vocabulary.FSMState, diag.Result) {
	dir, _ := p.TaskDirective()
	if dir == nil {
		res.Errorf(CodeSequence, "payload", "directive payload missing")
		return e.current, *res
	}
	write := dir.ToolSafetyClass.RequiresAuthorization()

	switch e.current {
	case vocabulary.StateVerify:
		if write {
			res.Errorf(CodeAuthorize, "", "verification loop admits READ directives only")
			return e.current, *res
		}
		return vocabulary.StateVerify, *res

	case vocabulary.StateDecide:
		if e.lastOutcome != vocabulary.OutcomeAct {
			res.Errorf(CodeSequence, "", "directive requires the most recent decision to be ACT")
			return e.current, *res
		}
		if write {
			res.Errorf(CodeAuthorize, "", "%s directive requires authorization before execution",
				dir.ToolSafetyClass)
			return e.current, *res
		}
		return vocabulary.StateExecute, *res

	case vocabulary.StateAuthorize:
		return vocabulary.StateExecute, *res

	case vocabulary.StateExecute:
		if write && !e.authorized {
			res.Errorf(CodeAuthorize, "", "%s directive requires authorization before execution",
				dir.ToolSafetyClass)
			return e.current, *res
		}
		return vocabulary.StateExecute, *res
	}
	res.Errorf(CodeTransition, "", "%s not admitted in %s", vocabulary.KindTaskDirective, e.current)
	return e.current, *res
}

func (e *Episode) validateResult(p *packet.Packet, res *diag.Result) (vocabulary.FSMState, diag.Result) {
	result, _ := p.TaskResult()
	if result == nil {
		res.Errorf(CodeSequence, "payload", "result payload missing")
		return e.current, *res
	}
	switch e.current {
	case vocabulary.StateVerify, vocabulary.StateExecute:
	default:
		res.Errorf(CodeTransition, "", "%s not admitted in %s", vocabulary.KindTaskResult, e.current)
		return e.current, *res
	}
	if _, open := e.openTasks[result.TaskID]; !open {
		res.Errorf(CodeTask, "payload.task_id", "no open directive for task %s", result.TaskID)
		return e.current, *res
	}
	return e.current, *res
}

func (e *Episode) validateEscalation(res *diag.Result) (vocabulary.FSMState, diag.Result) {
	switch e.current {
	case vocabulary.StateEscalated:
		return vocabulary.StateEscalated, *res
	case vocabulary.StateVerify, vocabulary.StateAuthorize, vocabulary.StateDecide:
		// Verification impossible, authorization denied, or a decided
		// hand-off (budget exhaustion included).
		return vocabulary.StateEscalated, *res
	}
	res.Errorf(CodeTransition, "", "%s not admitted in %s", vocabulary.KindEscalation, e.current)
	return e.current, *res
}

// Apply commits the packet's effect on the episode. Call only with the next
// state a passing Validate returned for the same packet.
func (e *Episode) Apply(p *packet.Packet, next vocabulary.FSMState) {
	e.trace = append(e.trace, Transition{From: e.current, Kind: p.Kind(), To: next})

	switch p.Kind() {
	case vocabulary.KindObservation:
		if e.current == vocabulary.StateVerify {
			e.verify.record(p)
			if p.MCP != nil && p.MCP.Epistemics.Status == vocabulary.StatusObserved {
				e.verify.observedObs++
			}
		}

	case vocabulary.KindBeliefUpdate:
		e.beliefUpdates++
		if e.current == vocabulary.StateVerify {
			// Loop closed.
			e.verifyPending = false
			e.verify = verifyProgress{}
		}

	case vocabulary.KindDecision:
		dec, _ := p.Decision()
		e.lastOutcome = dec.DecisionOutcome
		e.authorized = false
		if dec.DecisionOutcome == vocabulary.OutcomeVerifyFirst {
			e.verifyPending = true
			e.verify = verifyProgress{toolsState: toolsState(p)}
		}

	case vocabulary.KindVerificationPlan:
		e.verify.planSeen = true
		e.verify.record(p)

	case vocabulary.KindToolAuthorization:
		e.authorized = true

	case vocabulary.KindTaskDirective:
		dir, _ := p.TaskDirective()
		e.openTasks[dir.TaskID] = p.Header.PacketID
		if e.current == vocabulary.StateVerify {
			e.verify.record(p)
			if !dir.ToolSafetyClass.RequiresAuthorization() {
				e.verify.readDirects++
			}
		}

	case vocabulary.KindTaskResult:
		result, _ := p.TaskResult()
		delete(e.openTasks, result.TaskID)
		if e.current == vocabulary.StateVerify {
			e.verify.record(p)
			if result.ResultStatus == vocabulary.ResultSuccess {
				e.verify.successes++
			}
		}
	}

	e.current = next
}

// CloseTask drops a task from the open set without a result packet, for
// timeout expiry.
func (e *Episode) CloseTask(taskID string) {
	delete(e.openTasks, taskID)
}

// ForceEscalated routes the episode to the escalated state without a
// packet. The runner uses this for cooperative budget-exhaustion handling;
// the synthesized escalation packet then admits normally.
func (e *Episode) ForceEscalated() {
	if e.current == vocabulary.StateEscalated || e.current == vocabulary.StateSafeMode {
		return
	}
	e.trace = append(e.trace, Transition{From: e.current, Kind: "", To: vocabulary.StateEscalated})
	e.current = vocabulary.StateEscalated
}

// UserInput applies the distinguished non-packet northbound signal: an
// escalated episode re-enters deciding once a human responds.
func (e *Episode) UserInput() bool {
	if e.current != vocabulary.StateEscalated {
		return false
	}
	e.trace = append(e.trace, Transition{From: e.current, Kind: "", To: vocabulary.StateDecide})
	e.current = vocabulary.StateDecide
	return true
}

// Close applies the episode-close marker from review back to idle.
func (e *Episode) Close() bool {
	if e.current != vocabulary.StateReview {
		return false
	}
	e.trace = append(e.trace, Transition{From: e.current, Kind: "", To: vocabulary.StateIdle})
	e.current = vocabulary.StateIdle
	return true
}

func toolsState(p *packet.Packet) vocabulary.ToolsState {
	if p.MCP != nil {
		return p.MCP.Routing.ToolsState
	}
	return vocabulary.ToolsOK
}
