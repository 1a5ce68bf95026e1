package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tpanarchist/omen/internal/config"
	"github.com/Tpanarchist/omen/internal/episode"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/packettest"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func initGlobals(t *testing.T) {
	t.Helper()
	logger = zap.NewNop()
	cfg = config.Default()
}

func TestValidatePacketCommand(t *testing.T) {
	initGlobals(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	data, err := json.Marshal(packettest.Decision("corr_cli", t0, vocabulary.OutcomeVerifyFirst))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(good, data, 0o644))
	assert.NoError(t, runValidatePacket(validatePacketCmd, []string{good}))

	bad := filepath.Join(dir, "bad.json")
	broken := packettest.Decision("corr_cli", t0, vocabulary.OutcomeVerifyFirst)
	broken.MCP.Intent.Summary = ""
	data, err = json.Marshal(broken)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bad, data, 0o644))
	assert.Error(t, runValidatePacket(validatePacketCmd, []string{bad}))
}

func TestValidateEpisodeCommand(t *testing.T) {
	initGlobals(t)
	dir := t.TempDir()
	corr := "corr_cli_episode"

	path := filepath.Join(dir, "episode.jsonl")
	require.NoError(t, episode.WriteJSONLFile(path, []*packet.Packet{
		packettest.Observation(corr, t0),
		packettest.BeliefUpdate(corr, t0.Add(time.Second)),
		packettest.Decision(corr, t0.Add(2*time.Second), vocabulary.OutcomeDefer),
	}))
	assert.NoError(t, runValidateEpisode(validateEpisodeCmd, []string{path}))

	// Out-of-order log fails.
	badPath := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, episode.WriteJSONLFile(badPath, []*packet.Packet{
		packettest.Observation(corr, t0),
		packettest.Decision(corr, t0.Add(time.Second), vocabulary.OutcomeAct),
	}))
	assert.Error(t, runValidateEpisode(validateEpisodeCmd, []string{badPath}))
}

func TestTemplateContextFlags(t *testing.T) {
	initGlobals(t)
	compileTier = "SUPERB"
	compileToolsState = "tools_partial"
	compileStakes = "HIGH"
	defer func() { compileTier, compileToolsState, compileStakes = "", "", "" }()

	tctx, err := templateContext()
	require.NoError(t, err)
	assert.Equal(t, vocabulary.TierSuperb, tctx.Tier)
	assert.Equal(t, vocabulary.ToolsPartial, tctx.ToolsState)
	assert.Equal(t, vocabulary.StakesHigh, tctx.Stakes.StakesLevel)

	compileTier = "EXCELLENT"
	_, err = templateContext()
	assert.Error(t, err)
	compileTier = ""
}

func TestStakesForSupportsEachLevel(t *testing.T) {
	for _, level := range []vocabulary.StakesLevel{
		vocabulary.StakesLow, vocabulary.StakesMedium, vocabulary.StakesHigh, vocabulary.StakesCritical,
	} {
		s := stakesFor(level)
		assert.Equal(t, level, s.StakesLevel)
		assert.True(t, s.Impact.Valid())
	}
}
