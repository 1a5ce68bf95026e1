// Package runner executes compiled episodes: it drives each step through
// its owner layer, runs every candidate packet through the ledger's
// validation pipeline, publishes admitted packets on the buses, and selects
// the next step. One runner may serve many episodes, but each episode is
// executed strictly sequentially by a single worker.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Tpanarchist/omen/internal/bus"
	"github.com/Tpanarchist/omen/internal/config"
	"github.com/Tpanarchist/omen/internal/diag"
	"github.com/Tpanarchist/omen/internal/integrity"
	"github.com/Tpanarchist/omen/internal/layers"
	"github.com/Tpanarchist/omen/internal/ledger"
	"github.com/Tpanarchist/omen/internal/observability"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/protoerr"
	"github.com/Tpanarchist/omen/internal/template"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// StepOutcome records one executed step.
type StepOutcome struct {
	StepID         string
	Layer          vocabulary.LayerID
	Success        bool
	PacketsEmitted int
	Diagnostics    []diag.Diagnostic
	Error          string
	Duration       time.Duration

	admitted []*packet.Packet
}

// Admitted returns the packets this step successfully admitted.
func (s StepOutcome) Admitted() []*packet.Packet { return s.admitted }

// EpisodeResult is the runner's verdict on a completed or aborted episode.
type EpisodeResult struct {
	CorrelationID string
	TemplateID    vocabulary.TemplateID
	Success       bool
	Steps         []StepOutcome
	FinalStep     string
	FinalState    vocabulary.FSMState
	Snapshot      ledger.Snapshot
	Errors        []string
}

// Runner drives compiled episodes through a layer pool.
type Runner struct {
	log     *zap.Logger
	cfg     config.Config
	pool    *layers.Pool
	north   *bus.Bus
	south   *bus.Bus
	monitor *integrity.Monitor
	metrics *observability.Metrics
	clock   func() time.Time
}

// Option configures a runner.
type Option func(*Runner)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithConfig overrides runtime tunables.
func WithConfig(cfg config.Config) Option {
	return func(r *Runner) { r.cfg = cfg }
}

// WithBuses attaches the northbound and southbound buses.
func WithBuses(north, south *bus.Bus) Option {
	return func(r *Runner) {
		r.north = north
		r.south = south
	}
}

// WithMonitor attaches the integrity overlay.
func WithMonitor(m *integrity.Monitor) Option {
	return func(r *Runner) { r.monitor = m }
}

// WithClock replaces the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) { r.clock = clock }
}

// WithMetrics attaches a metrics instance.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New builds a runner over the given layer pool.
func New(pool *layers.Pool, opts ...Option) *Runner {
	r := &Runner{
		log:     zap.NewNop(),
		cfg:     config.Default(),
		pool:    pool,
		metrics: observability.Default,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.north == nil {
		r.north = bus.NewNorthbound(r.log, r.cfg.BusLogLimit)
	}
	if r.south == nil {
		r.south = bus.NewSouthbound(r.log, r.cfg.BusLogLimit)
	}
	return r
}

// Buses returns the runner's buses.
func (r *Runner) Buses() (north, south *bus.Bus) { return r.north, r.south }

// Run executes a compiled episode against its ledger. The loop completes
// when an exit step finishes, the step budget runs out, cancellation is
// observed, or a step fails.
func (r *Runner) Run(ctx context.Context, episode *template.CompiledEpisode,
	led *ledger.Ledger, initial []*packet.Packet) EpisodeResult {

	result := EpisodeResult{
		CorrelationID: episode.CorrelationID,
		TemplateID:    episode.TemplateID,
	}

	currentStepID := episode.EntryStep
	currentPackets := initial
	var lastOutcome vocabulary.DecisionOutcome
	finished := false

	for steps := 0; steps < r.cfg.MaxSteps && !finished; steps++ {
		// Cancellation is observed between steps at minimum.
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("episode cancelled: %v", err))
			finished = true
			break
		}

		// Budget exhaustion is cooperative: refuse to start the next step
		// and route the episode to escalation.
		if led.OverBudget() && !led.OverrunApproved() {
			r.escalateBudget(episode, led, &result)
			finished = true
			break
		}

		step, ok := episode.Step(currentStepID)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("step %s not found", currentStepID))
			finished = true
			break
		}

		outcome := r.executeStep(ctx, episode, step, led, currentPackets)
		result.Steps = append(result.Steps, outcome)
		result.FinalStep = step.StepID

		if !outcome.Success {
			result.Errors = append(result.Errors, outcome.Error)
			finished = true
			break
		}

		if dec := lastDecisionOutcome(outcome, led); dec != "" {
			lastOutcome = dec
		}

		if episode.IsExit(currentStepID) {
			// An idle exit step is the episode-close marker.
			if step.State == vocabulary.StateIdle {
				led.Close()
			}
			led.Freeze()
			finished = true
			break
		}

		next := selectNext(step, lastOutcome)
		if next == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("step %s has no successor and is not an exit", step.StepID))
			finished = true
			break
		}
		currentStepID = next
		currentPackets = outcome.admitted
	}

	if !finished {
		result.Errors = append(result.Errors, fmt.Sprintf("max steps (%d) exceeded", r.cfg.MaxSteps))
	}

	result.FinalState = led.State()
	result.Snapshot = led.Snapshot()
	result.Success = len(result.Errors) == 0 && len(result.Steps) > 0
	r.metrics.EpisodeFinished(result.Success)
	return result
}

// executeStep runs one step: invoke the owner layer, validate and admit
// every candidate packet, publish, and account.
func (r *Runner) executeStep(ctx context.Context, episode *template.CompiledEpisode,
	step *template.CompiledStep, led *ledger.Ledger, input []*packet.Packet) StepOutcome {

	outcome := StepOutcome{StepID: step.StepID, Layer: step.OwnerLayer}
	started := r.clock()
	defer func() { outcome.Duration = r.clock().Sub(started) }()

	// Transition steps produce nothing.
	if step.EmitKind == "" {
		outcome.Success = true
		return outcome
	}

	stepCtx := ctx
	cancel := func() {}
	if tb := step.Envelope.Budgets.TimeBudgetSeconds; tb > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(tb)*time.Second)
	}
	defer cancel()

	candidates, err := r.pool.Invoke(stepCtx, step.OwnerLayer, layers.Input{
		Packets:       input,
		CorrelationID: episode.CorrelationID,
		CampaignID:    episode.CampaignID,
		Step: layers.StepContext{
			StepID:     step.StepID,
			TemplateID: episode.TemplateID,
			EmitKind:   step.EmitKind,
			Bindings:   step.Bindings,
			Envelope:   step.Envelope,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			r.handleStepTimeout(episode, step, led, &outcome)
			return outcome
		}
		outcome.Error = err.Error()
		return outcome
	}

	for _, candidate := range candidates {
		res, applyErr := led.Apply(candidate)
		outcome.Diagnostics = append(outcome.Diagnostics, res.Diagnostics...)
		if applyErr != nil {
			r.metrics.PacketRejected(candidate.Kind())
			if code, ok := protoerr.InvariantCode(applyErr); ok {
				r.metrics.InvariantHit(code)
			}
			outcome.Error = fmt.Sprintf("step %s: packet %s rejected: %v",
				step.StepID, candidate.Header.PacketID, applyErr)
			return outcome
		}
		r.metrics.PacketAdmitted(candidate.Kind())
		outcome.admitted = append(outcome.admitted, candidate)
		outcome.PacketsEmitted++
		r.publish(candidate, step.OwnerLayer)
	}

	led.AddUsage(0, 0, r.clock().Sub(started).Seconds(), r.clock())
	r.sweep(episode.CorrelationID)

	outcome.Success = true
	return outcome
}

// handleStepTimeout fails the step with a timeout, emits the timeout event,
// and at HIGH or CRITICAL stakes synthesizes an escalation packet.
func (r *Runner) handleStepTimeout(episode *template.CompiledEpisode,
	step *template.CompiledStep, led *ledger.Ledger, outcome *StepOutcome) {

	outcome.Error = fmt.Sprintf("step %s: %v", step.StepID, protoerr.ErrStepTimeout)
	r.log.Warn("step deadline exceeded",
		zap.String("correlation_id", episode.CorrelationID),
		zap.String("step", step.StepID))

	if !episode.Stakes.StakesLevel.AtLeastHigh() {
		return
	}
	led.RouteEscalated()
	esc := r.synthesizeEscalation(episode, step.Envelope,
		"step_timeout", fmt.Sprintf("step %s exceeded its time budget", step.StepID))
	if _, err := led.Apply(esc); err == nil {
		r.publish(esc, vocabulary.Layer5CognitiveControl)
	}
}

// escalateBudget routes a budget-exhausted episode to escalation and admits
// the synthesized budget escalation.
func (r *Runner) escalateBudget(episode *template.CompiledEpisode,
	led *ledger.Ledger, result *EpisodeResult) {

	result.Errors = append(result.Errors, protoerr.ErrBudgetExceeded.Error())
	led.RouteEscalated()

	entry, _ := episode.Step(episode.EntryStep)
	env := packet.MCP{}
	if entry != nil {
		env = entry.Envelope
	}
	esc := r.synthesizeEscalation(episode, env, packet.TriggerBudgetInsufficient,
		"episode budget exhausted before completion")
	if _, err := led.Apply(esc); err != nil {
		r.log.Warn("budget escalation rejected",
			zap.String("correlation_id", episode.CorrelationID),
			zap.Error(err))
		return
	}
	r.publish(esc, vocabulary.Layer5CognitiveControl)
}

func (r *Runner) synthesizeEscalation(episode *template.CompiledEpisode,
	env packet.MCP, trigger, gap string) *packet.Packet {

	now := r.clock()
	env.Evidence = packet.Evidence{EvidenceAbsentReason: "synthesized by the episode runner"}
	esc := packet.New(vocabulary.Layer5CognitiveControl, episode.CorrelationID, now,
		&packet.EscalationPayload{
			EscalationTrigger: trigger,
			TopOptions: []packet.EscalationOption{
				{OptionID: "opt_extend", Description: "extend the budget and resume",
					Pros: []string{"episode completes"}, Cons: []string{"cost overrun"}},
				{OptionID: "opt_abort", Description: "abort the episode",
					Pros: []string{"bounded spend"}, Cons: []string{"objective unmet"}},
			},
			EvidenceGaps:        []string{gap},
			RecommendedNextStep: "operator decides whether to extend or abort",
		})
	if episode.CampaignID != "" {
		esc.WithCampaign(episode.CampaignID)
	}
	return esc.WithMCP(env)
}

// publish routes an admitted packet onto whichever bus carries its kind.
func (r *Runner) publish(p *packet.Packet, source vocabulary.LayerID) {
	msg := bus.Message{
		Packet:        p,
		SourceLayer:   source,
		CorrelationID: p.Header.CorrelationID,
		At:            p.Header.CreatedAt,
	}
	if r.north.Carries(p.Kind()) {
		r.north.Publish(msg)
		return
	}
	if r.south.Carries(p.Kind()) {
		r.south.Publish(msg)
	}
}

// sweep lets the integrity overlay convert pending ledger events to alerts.
func (r *Runner) sweep(correlationID string) {
	if r.monitor != nil {
		r.monitor.SweepLedger(correlationID, r.clock())
	}
}

// lastDecisionOutcome extracts the outcome of the step's admitted decision,
// if it produced one.
func lastDecisionOutcome(outcome StepOutcome, _ *ledger.Ledger) vocabulary.DecisionOutcome {
	for i := len(outcome.admitted) - 1; i >= 0; i-- {
		if dec, ok := outcome.admitted[i].Decision(); ok {
			return dec.DecisionOutcome
		}
	}
	return ""
}

// selectNext picks the successor: an outcome branch when one matches, the
// single declared successor otherwise.
func selectNext(step *template.CompiledStep, lastOutcome vocabulary.DecisionOutcome) string {
	if len(step.Branches) > 0 && lastOutcome != "" {
		if next, ok := step.Branches[lastOutcome]; ok {
			return next
		}
	}
	if len(step.NextSteps) > 0 {
		return step.NextSteps[0]
	}
	return ""
}
