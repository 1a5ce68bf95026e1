package template

import (
	"fmt"

	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

// Context is the compilation input: the intent, posture, and budgets the
// episode runs under.
type Context struct {
	Intent     packet.Intent
	Stakes     packet.Stakes
	Tier       vocabulary.QualityTier
	ToolsState vocabulary.ToolsState
	Budgets    packet.Budgets
	TaskClass  vocabulary.TaskClass
	// CorrelationID is allocated fresh when empty.
	CorrelationID string
	CampaignID    string
	// Params are template-specific extras merged into step bindings.
	Params map[string]string
}

// CompiledStep is a template step with its envelope bound.
type CompiledStep struct {
	Step
	Envelope packet.MCP
}

// CompiledEpisode is an executable episode: the bound step graph plus the
// allocated identity.
type CompiledEpisode struct {
	CorrelationID string
	CampaignID    string
	TemplateID    vocabulary.TemplateID
	Stakes        packet.Stakes
	Budgets       packet.Budgets
	EntryStep     string
	ExitSteps     []string
	InitialState  vocabulary.FSMState
	steps         map[string]*CompiledStep
	order         []string
}

// Step returns the compiled step with the given id.
func (c *CompiledEpisode) Step(id string) (*CompiledStep, bool) {
	s, ok := c.steps[id]
	return s, ok
}

// StepOrder returns step ids in template declaration order.
func (c *CompiledEpisode) StepOrder() []string { return c.order }

// IsExit reports whether id terminates the episode.
func (c *CompiledEpisode) IsExit(id string) bool {
	for _, e := range c.ExitSteps {
		if e == id {
			return true
		}
	}
	return false
}

// Compile binds a canonical template to a context. It refuses contexts that
// violate the template's declared constraints.
func Compile(id vocabulary.TemplateID, ctx Context) (*CompiledEpisode, error) {
	t, err := Get(id)
	if err != nil {
		return nil, err
	}

	if ctx.Tier == "" {
		ctx.Tier = vocabulary.TierPar
	}
	if ctx.ToolsState == "" {
		ctx.ToolsState = vocabulary.ToolsOK
	}
	if !ctx.Tier.AtLeast(t.Constraints.MinTier) {
		return nil, fmt.Errorf("compile template %s: tier %s below required %s",
			id, ctx.Tier, t.Constraints.MinTier)
	}
	if !t.Constraints.allowsTools(ctx.ToolsState) {
		return nil, fmt.Errorf("compile template %s: tools state %s not accepted",
			id, ctx.ToolsState)
	}

	correlationID := ctx.CorrelationID
	if correlationID == "" {
		correlationID = packet.NewCorrelationID()
	}

	entry, ok := t.Step(t.EntryStep)
	if !ok {
		return nil, fmt.Errorf("compile template %s: entry step %s missing", id, t.EntryStep)
	}

	compiled := &CompiledEpisode{
		CorrelationID: correlationID,
		CampaignID:    ctx.CampaignID,
		TemplateID:    id,
		Stakes:        ctx.Stakes,
		Budgets:       ctx.Budgets,
		EntryStep:     t.EntryStep,
		ExitSteps:     append([]string(nil), t.ExitSteps...),
		InitialState:  entry.State,
		steps:         make(map[string]*CompiledStep, len(t.Steps)),
	}

	for _, step := range t.Steps {
		bound := step
		bound.Bindings = mergeBindings(step.Bindings, ctx.Params)
		compiled.steps[step.StepID] = &CompiledStep{
			Step:     bound,
			Envelope: bindEnvelope(id, ctx, step),
		}
		compiled.order = append(compiled.order, step.StepID)
	}
	return compiled, nil
}

func mergeBindings(stepBindings, params map[string]string) map[string]string {
	if len(stepBindings) == 0 && len(params) == 0 {
		return nil
	}
	merged := make(map[string]string, len(stepBindings)+len(params))
	for k, v := range params {
		merged[k] = v
	}
	// Step bindings win over context params.
	for k, v := range stepBindings {
		merged[k] = v
	}
	return merged
}

// bindEnvelope pre-fills a step's MCP from the context. Payload-shaped
// fields (evidence, epistemics) start conservative; layers refine them when
// they produce the actual packet.
func bindEnvelope(id vocabulary.TemplateID, ctx Context, step Step) packet.MCP {
	intent := ctx.Intent
	if intent.Summary == "" {
		intent.Summary = fmt.Sprintf("step %s", step.StepID)
	}
	if intent.Scope == "" {
		intent.Scope = "episode"
	}
	stakes := ctx.Stakes
	if stakes.StakesLevel == "" {
		stakes = packet.Stakes{
			Impact:          vocabulary.ImpactLow,
			Irreversibility: vocabulary.Reversible,
			Uncertainty:     vocabulary.UncertaintyLow,
			Adversariality:  vocabulary.Benign,
			StakesLevel:     vocabulary.StakesLow,
		}
	}
	taskClass := ctx.TaskClass
	if taskClass == "" {
		taskClass = vocabulary.TaskLookup
	}
	verification := vocabulary.VerifyOne
	switch ctx.Tier {
	case vocabulary.TierSubpar:
		verification = vocabulary.VerifyOptional
	case vocabulary.TierSuperb:
		verification = vocabulary.VerifyAll
	}
	return packet.MCP{
		Intent: intent,
		Stakes: stakes,
		Quality: packet.Quality{
			Tier:            ctx.Tier,
			SatisficingMode: ctx.Tier != vocabulary.TierSuperb,
			DefinitionOfDone: packet.DefinitionOfDone{
				Text:   fmt.Sprintf("step %s of template %s completed", step.StepID, id),
				Checks: []string{"emitted packet admitted by the episode ledger"},
			},
			VerificationRequirement: verification,
		},
		Budgets: ctx.Budgets,
		Epistemics: packet.Epistemics{
			Status:          vocabulary.StatusDerived,
			Confidence:      0.7,
			CalibrationNote: "compiled from template context",
			FreshnessClass:  vocabulary.FreshStrategic,
		},
		Evidence: packet.Evidence{
			EvidenceAbsentReason: "compiled step; evidence accrues at runtime",
		},
		Routing: packet.Routing{TaskClass: taskClass, ToolsState: ctx.ToolsState},
	}
}
