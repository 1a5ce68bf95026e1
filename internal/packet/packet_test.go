package packet

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tpanarchist/omen/internal/vocabulary"
)

func sampleMCP() MCP {
	return MCP{
		Intent: Intent{Summary: "verify intel before acting", Scope: "intel_update"},
		Stakes: Stakes{
			Impact:          vocabulary.ImpactMedium,
			Irreversibility: vocabulary.Reversible,
			Uncertainty:     vocabulary.UncertaintyHigh,
			Adversariality:  vocabulary.Contested,
			StakesLevel:     vocabulary.StakesMedium,
		},
		Quality: Quality{
			Tier:            vocabulary.TierPar,
			SatisficingMode: true,
			DefinitionOfDone: DefinitionOfDone{
				Text:   "one fresh observation for the key unknown",
				Checks: []string{"fresh evidence collected"},
			},
			VerificationRequirement: vocabulary.VerifyOne,
		},
		Budgets: Budgets{
			TokenBudget:       900,
			ToolCallBudget:    2,
			TimeBudgetSeconds: 90,
			RiskBudget:        RiskBudget{Envelope: "low", MaxLoss: "small"},
		},
		Epistemics: Epistemics{
			Status:          vocabulary.StatusHypothesized,
			Confidence:      0.45,
			CalibrationNote: "uncertainty high, no fresh observation yet",
			FreshnessClass:  vocabulary.FreshOperational,
		},
		Evidence: Evidence{EvidenceAbsentReason: "no tool read executed yet"},
		Routing:  Routing{TaskClass: vocabulary.TaskVerify, ToolsState: vocabulary.ToolsOK},
	}
}

func TestRoundTripDecision(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	pkt := New(vocabulary.Layer5CognitiveControl, "corr_rt_1", now, &DecisionPayload{
		DecisionOutcome: vocabulary.OutcomeVerifyFirst,
		DecisionSummary: "verify the load-bearing assumption first",
		ConstraintsSatisfied: ConstraintsSatisfied{
			ConstitutionalCheck: true,
			BudgetCheck:         true,
			TierCheck:           true,
		},
		LoadBearingAssumptions: []LoadBearingAssumption{
			{Assumption: "threat level is low", Verified: false},
		},
	}).WithMCP(sampleMCP())

	data, err := json.Marshal(pkt)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, vocabulary.KindDecision, decoded.Kind())
	assert.Equal(t, pkt.Header.PacketID, decoded.Header.PacketID)
	require.NotNil(t, decoded.MCP)
	assert.Equal(t, vocabulary.StakesMedium, decoded.MCP.Stakes.StakesLevel)

	payload, ok := decoded.Decision()
	require.True(t, ok)
	assert.Equal(t, vocabulary.OutcomeVerifyFirst, payload.DecisionOutcome)
	require.Len(t, payload.LoadBearingAssumptions, 1)
	assert.False(t, payload.LoadBearingAssumptions[0].Verified)
}

func TestRoundTripToken(t *testing.T) {
	now := time.Now().UTC()
	pkt := New(vocabulary.Layer4Executive, "corr_rt_2", now, &ToolAuthorizationPayload{
		TokenID: "token_w1",
		AuthorizedScope: AuthorizedScope{
			ToolIDs:        []string{"market_api"},
			OperationTypes: []string{"write"},
		},
		Expiry:        now.Add(time.Hour),
		MaxUsageCount: 1,
		IssuerLayer:   vocabulary.Layer4Executive,
	}).WithMCP(sampleMCP())

	data, err := json.Marshal(pkt)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	tok, ok := decoded.ToolAuthorization()
	require.True(t, ok)
	assert.Equal(t, "token_w1", tok.TokenID)
	assert.Equal(t, 1, tok.MaxUsageCount)
	assert.True(t, tok.AuthorizedScope.Covers("market_api", "write"))
	assert.False(t, tok.AuthorizedScope.Covers("market_api", "read"))
	assert.False(t, tok.AuthorizedScope.Covers("other_api", "write"))
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	raw := `{"header":{"packet_id":"pkt_x","packet_kind":"TelemetryPacket","created_at":"2026-03-14T09:30:00Z","source_layer":"6","correlation_id":"corr_x"},"payload":{}}`
	_, err := Decode([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown packet kind")
}

func TestDecodeRejectsMissingKind(t *testing.T) {
	raw := `{"header":{"packet_id":"pkt_x","created_at":"2026-03-14T09:30:00Z","source_layer":"6","correlation_id":"corr_x"},"payload":{"observation_type":"cache"}}`
	_, err := Decode([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "packet_kind is required")
}

func TestIdentifierPatterns(t *testing.T) {
	assert.True(t, ValidID(PrefixPacket, NewPacketID()))
	assert.True(t, ValidID(PrefixCorrelation, NewCorrelationID()))
	assert.True(t, ValidID(PrefixCampaign, NewCampaignID()))
	assert.True(t, ValidID(PrefixTask, NewTaskID()))
	assert.True(t, ValidID(PrefixToken, NewTokenID()))

	assert.False(t, ValidID(PrefixPacket, "pkt_"))
	assert.False(t, ValidID(PrefixPacket, "corr_abc"))
	assert.False(t, ValidID(PrefixPacket, "pkt_has space"))
	assert.False(t, ValidID(PrefixPacket, "pkt_bad/slash"))

	assert.Error(t, CheckID("header.packet_id", PrefixPacket, "nope"))
	assert.NoError(t, CheckID("header.packet_id", PrefixPacket, "pkt_ok-1"))
}
