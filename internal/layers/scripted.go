package layers

import (
	"context"
	"fmt"
	"time"

	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Scripted is a deterministic cognition used by the reference runner and
// tests. It produces exactly the packet kind the compiled step asks for,
// parameterized by the step bindings, and tracks the episode-local handles
// (last task, last token, verification evidence) a coherent packet stream
// needs. One Scripted instance serves one episode.
type Scripted struct {
	clock  func() time.Time
	toolID string

	inVerify        bool
	verifyIDs       []string
	lastTokenID     string
	lastTaskID      string
	lastDirectiveID string
}

// ScriptedOption configures a Scripted instance.
type ScriptedOption func(*Scripted)

// WithClock replaces the time source, for deterministic tests.
func WithClock(clock func() time.Time) ScriptedOption {
	return func(s *Scripted) { s.clock = clock }
}

// WithToolID sets the tool every directive targets.
func WithToolID(toolID string) ScriptedOption {
	return func(s *Scripted) { s.toolID = toolID }
}

// NewScripted returns a scripted cognition for one episode.
func NewScripted(opts ...ScriptedOption) *Scripted {
	s := &Scripted{
		clock:  time.Now,
		toolID: "intel_api",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BindAll registers the scripted cognition on all six layers of the pool.
func (s *Scripted) BindAll(pool *Pool) error {
	for _, layer := range vocabulary.AllLayers {
		if err := pool.Register(layer, s.Invoke); err != nil {
			return err
		}
	}
	return nil
}

// Invoke implements Cognition.
func (s *Scripted) Invoke(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if in.Step.EmitKind == "" {
		return Output{}, nil
	}

	now := s.clock()
	env := in.Step.Envelope
	bind := in.Step.Bindings

	var payload packet.Payload
	switch in.Step.EmitKind {
	case vocabulary.KindObservation:
		payload = &packet.ObservationPayload{
			ObservationType: "telemetry",
			Data:            map[string]any{"reading": "nominal", "step": in.Step.StepID},
			SourceTool:      s.toolID,
		}
		if bind[BindEpistemicStatus] == string(vocabulary.StatusObserved) {
			env.Epistemics.Status = vocabulary.StatusObserved
			env.Epistemics.FreshnessClass = vocabulary.FreshRealtime
			env.Evidence = packet.Evidence{EvidenceRefs: []packet.EvidenceRef{{
				RefType:   vocabulary.RefToolOutput,
				RefID:     fmt.Sprintf("read_%s", in.Step.StepID),
				Timestamp: now,
			}}}
		}

	case vocabulary.KindBeliefUpdate:
		update := &packet.BeliefUpdatePayload{
			UpdateType: "revision",
			BeliefChanges: []packet.BeliefChange{{
				Domain: "world", Key: in.Step.StepID, NewValue: "current", PriorValue: "stale",
			}},
		}
		if bind[BindReferencesEvidence] == "true" {
			if len(s.verifyIDs) == 0 {
				return Output{}, fmt.Errorf("step %s: no verification evidence to reference", in.Step.StepID)
			}
			update.EvidencePacketIDs = append([]string(nil), s.verifyIDs...)
		}
		if bind[BindComplete] == "true" {
			update.Complete = true
		}
		payload = update

	case vocabulary.KindDecision:
		outcome := vocabulary.DecisionOutcome(bind[BindDecisionOutcome])
		if outcome == "" {
			outcome = vocabulary.OutcomeDefer
		}
		payload = &packet.DecisionPayload{
			DecisionOutcome: outcome,
			DecisionSummary: fmt.Sprintf("scripted %s decision at step %s", outcome, in.Step.StepID),
			ConstraintsSatisfied: packet.ConstraintsSatisfied{
				ConstitutionalCheck: true,
				BudgetCheck:         true,
				TierCheck:           true,
			},
		}

	case vocabulary.KindVerificationPlan:
		payload = &packet.VerificationPlanPayload{Items: []packet.PlanItem{{
			TargetID:    fmt.Sprintf("verify_%s", in.Step.StepID),
			Description: "confirm the load-bearing unknown with one read",
			Method:      "tool_read",
		}}}

	case vocabulary.KindToolAuthorization:
		tokenID := packet.NewTokenID()
		s.lastTokenID = tokenID
		payload = &packet.ToolAuthorizationPayload{
			TokenID: tokenID,
			AuthorizedScope: packet.AuthorizedScope{
				ToolIDs:        []string{s.toolID},
				OperationTypes: []string{"write"},
			},
			Expiry:        now.Add(time.Hour),
			MaxUsageCount: 1,
			IssuerLayer:   in.Layer,
		}

	case vocabulary.KindTaskDirective:
		safety := vocabulary.ToolSafety(bind[BindToolSafety])
		if safety == "" {
			safety = vocabulary.SafetyRead
		}
		taskID := packet.NewTaskID()
		s.lastTaskID = taskID
		dir := &packet.TaskDirectivePayload{
			TaskID:          taskID,
			TaskType:        "scripted",
			ExecutionMethod: "tool_call",
			ToolID:          s.toolID,
			OperationType:   "read",
			ToolSafetyClass: safety,
			TimeoutSeconds:  60,
		}
		if safety.RequiresAuthorization() {
			dir.OperationType = "write"
			dir.AuthorizationTokenID = s.lastTokenID
		}
		payload = dir

	case vocabulary.KindTaskResult:
		payload = &packet.TaskResultPayload{
			TaskID:            s.lastTaskID,
			DirectivePacketID: s.lastDirectiveID,
			ResultStatus:      vocabulary.ResultSuccess,
			ExecutionMeta: map[string]any{
				"tokens_used":       float64(25),
				"time_seconds_used": float64(1),
			},
		}
		env.Evidence = packet.Evidence{EvidenceRefs: []packet.EvidenceRef{{
			RefType:   vocabulary.RefToolOutput,
			RefID:     fmt.Sprintf("result_%s", s.lastTaskID),
			Timestamp: now,
		}}}

	case vocabulary.KindEscalation:
		trigger := bind[BindTrigger]
		if trigger == "" {
			trigger = "operator_guidance_required"
		}
		payload = &packet.EscalationPayload{
			EscalationTrigger: trigger,
			TopOptions: []packet.EscalationOption{
				{OptionID: "opt_wait", Description: "hold position until conditions improve",
					Pros: []string{"no irreversible exposure"}, Cons: []string{"objective slips"}},
				{OptionID: "opt_manual", Description: "hand execution to the operator",
					Pros: []string{"grounded judgment"}, Cons: []string{"slower"}},
			},
			EvidenceGaps:        []string{"no fresh read of the target system"},
			RecommendedNextStep: "operator review of the degraded posture",
		}

	case vocabulary.KindIntegrityAlert:
		payload = &packet.IntegrityAlertPayload{
			AlertType: "status",
			Severity:  vocabulary.SeverityInfo,
			Message:   fmt.Sprintf("scripted alert at step %s", in.Step.StepID),
		}

	default:
		return Output{}, fmt.Errorf("step %s: unsupported emit kind %s", in.Step.StepID, in.Step.EmitKind)
	}

	pk := packet.New(in.Layer, in.CorrelationID, now, payload)
	if in.CampaignID != "" {
		pk.WithCampaign(in.CampaignID)
	}
	pk.WithMCP(env)

	s.track(pk)
	return Output{Packets: []*packet.Packet{pk}}, nil
}

// track maintains the episode-local handles after a packet is produced.
func (s *Scripted) track(pk *packet.Packet) {
	switch pk.Kind() {
	case vocabulary.KindDecision:
		dec, _ := pk.Decision()
		switch dec.DecisionOutcome {
		case vocabulary.OutcomeVerifyFirst:
			s.inVerify = true
			s.verifyIDs = nil
		case vocabulary.OutcomeAct:
			s.inVerify = false
		}
	case vocabulary.KindVerificationPlan:
		if s.inVerify {
			s.verifyIDs = append(s.verifyIDs, pk.Header.PacketID)
		}
	case vocabulary.KindTaskDirective:
		s.lastDirectiveID = pk.Header.PacketID
		if s.inVerify {
			s.verifyIDs = append(s.verifyIDs, pk.Header.PacketID)
		}
	case vocabulary.KindTaskResult, vocabulary.KindObservation:
		if s.inVerify {
			s.verifyIDs = append(s.verifyIDs, pk.Header.PacketID)
		}
	}
}
