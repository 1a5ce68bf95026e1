package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

func TestAllCanonicalTopologiesAreValid(t *testing.T) {
	all := All()
	require.Len(t, all, 8)
	for _, tpl := range all {
		assert.NoError(t, ValidateTopology(tpl), "template %s", tpl.ID)
	}
}

func TestValidateTopologyCatchesBrokenReferences(t *testing.T) {
	broken := &Template{
		ID:        vocabulary.TemplateGrounding,
		EntryStep: "start",
		ExitSteps: []string{"end"},
		Steps: []Step{
			{StepID: "start", OwnerLayer: vocabulary.Layer5CognitiveControl,
				State: vocabulary.StateIdle, NextSteps: []string{"missing"}},
			{StepID: "end", OwnerLayer: vocabulary.Layer5CognitiveControl,
				State: vocabulary.StateIdle},
		},
	}
	assert.Error(t, ValidateTopology(broken))
}

func TestValidateTopologyCatchesUnreachableStep(t *testing.T) {
	orphaned := &Template{
		ID:        vocabulary.TemplateGrounding,
		EntryStep: "start",
		ExitSteps: []string{"start"},
		Steps: []Step{
			{StepID: "start", OwnerLayer: vocabulary.Layer5CognitiveControl,
				State: vocabulary.StateIdle},
			{StepID: "island", OwnerLayer: vocabulary.Layer5CognitiveControl,
				State: vocabulary.StateIdle},
		},
	}
	assert.Error(t, ValidateTopology(orphaned))
}

func TestCompileAllocatesIdentity(t *testing.T) {
	first, err := Compile(vocabulary.TemplateGrounding, Context{})
	require.NoError(t, err)
	second, err := Compile(vocabulary.TemplateGrounding, Context{})
	require.NoError(t, err)

	assert.True(t, packet.ValidID(packet.PrefixCorrelation, first.CorrelationID))
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)
	assert.Equal(t, vocabulary.StateIdle, first.InitialState)
}

func TestCompileKeepsProvidedCorrelation(t *testing.T) {
	compiled, err := Compile(vocabulary.TemplateVerification, Context{
		CorrelationID: "corr_fixed",
		CampaignID:    "camp_one",
	})
	require.NoError(t, err)
	assert.Equal(t, "corr_fixed", compiled.CorrelationID)
	assert.Equal(t, "camp_one", compiled.CampaignID)
	assert.Equal(t, vocabulary.StateDecide, compiled.InitialState)
}

func TestCompileRefusesConstraintViolations(t *testing.T) {
	// Template D requires SUPERB.
	_, err := Compile(vocabulary.TemplateWriteAct, Context{Tier: vocabulary.TierPar})
	assert.Error(t, err)

	// Template D requires tools_ok.
	_, err = Compile(vocabulary.TemplateWriteAct, Context{
		Tier: vocabulary.TierSuperb, ToolsState: vocabulary.ToolsPartial,
	})
	assert.Error(t, err)

	// Template F requires degraded tools.
	_, err = Compile(vocabulary.TemplateDegraded, Context{ToolsState: vocabulary.ToolsOK})
	assert.Error(t, err)
	_, err = Compile(vocabulary.TemplateDegraded, Context{ToolsState: vocabulary.ToolsDown})
	assert.NoError(t, err)
}

func TestCompileBindsEnvelopes(t *testing.T) {
	compiled, err := Compile(vocabulary.TemplateWriteAct, Context{
		Intent:     packet.Intent{Summary: "rebalance inventory", Scope: "warehouse"},
		Tier:       vocabulary.TierSuperb,
		ToolsState: vocabulary.ToolsOK,
		Budgets:    packet.Budgets{TokenBudget: 500, ToolCallBudget: 3, TimeBudgetSeconds: 120},
		TaskClass:  vocabulary.TaskCreate,
	})
	require.NoError(t, err)

	step, ok := compiled.Step("execute")
	require.True(t, ok)
	assert.Equal(t, "rebalance inventory", step.Envelope.Intent.Summary)
	assert.Equal(t, vocabulary.TierSuperb, step.Envelope.Quality.Tier)
	assert.Equal(t, vocabulary.VerifyAll, step.Envelope.Quality.VerificationRequirement)
	assert.Equal(t, 500, step.Envelope.Budgets.TokenBudget)
	assert.Equal(t, vocabulary.TaskCreate, step.Envelope.Routing.TaskClass)
	assert.NotEmpty(t, step.Envelope.Quality.DefinitionOfDone.Checks)
	assert.Equal(t, string(vocabulary.SafetyWrite), step.Bindings[BindToolSafety])
}

func TestCompileMergesParams(t *testing.T) {
	compiled, err := Compile(vocabulary.TemplateEscalation, Context{
		Tier:   vocabulary.TierPar,
		Params: map[string]string{"tool_id": "inventory_api", BindTrigger: "overridden"},
	})
	require.NoError(t, err)

	step, _ := compiled.Step("escalate")
	// Context params flow in, but step bindings win on conflict.
	assert.Equal(t, "inventory_api", step.Bindings["tool_id"])
	assert.Equal(t, "operator_guidance_required", step.Bindings[BindTrigger])
}

func TestGetUnknownTemplate(t *testing.T) {
	_, err := Get(vocabulary.TemplateID("Z"))
	assert.Error(t, err)
}
