package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tpanarchist/omen/internal/episode"
	"github.com/Tpanarchist/omen/internal/layers"
	"github.com/Tpanarchist/omen/internal/ledger"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/runner"
	"github.com/Tpanarchist/omen/internal/template"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

var (
	compileCorrelationID string
	compileCampaignID    string
	compileTier          string
	compileToolsState    string
	compileStakes        string
	compileOutput        string
)

var compileCmd = &cobra.Command{
	Use:   "compile <template>",
	Short: "Compile a canonical template and emit its episode log as JSONL",
	Long: `Compiles a canonical template (A-H) against the given context, executes
it with the deterministic scripted layers, and writes the admitted packet
stream as line-delimited JSON. The output replays cleanly through
'omen validate episode'.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileCorrelationID, "correlation-id", "",
		"episode identity (corr_<slug>); allocated fresh when omitted")
	compileCmd.Flags().StringVar(&compileCampaignID, "campaign-id", "", "campaign grouping (camp_<slug>)")
	compileCmd.Flags().StringVar(&compileTier, "tier", "", "quality tier (SUBPAR, PAR, SUPERB)")
	compileCmd.Flags().StringVar(&compileToolsState, "tools-state", "",
		"tools availability (tools_ok, tools_partial, tools_down)")
	compileCmd.Flags().StringVar(&compileStakes, "stakes", "", "stakes level (LOW, MEDIUM, HIGH, CRITICAL)")
	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "", "output file (default stdout)")
}

// templateContext assembles a compile context from the shared flags.
func templateContext() (template.Context, error) {
	tctx := template.Context{
		CorrelationID: compileCorrelationID,
		CampaignID:    compileCampaignID,
	}
	if compileTier != "" {
		tier := vocabulary.QualityTier(compileTier)
		if !tier.Valid() {
			return tctx, fmt.Errorf("unknown tier %q", compileTier)
		}
		tctx.Tier = tier
	}
	if compileToolsState != "" {
		state := vocabulary.ToolsState(compileToolsState)
		if !state.Valid() {
			return tctx, fmt.Errorf("unknown tools state %q", compileToolsState)
		}
		tctx.ToolsState = state
	}
	if compileStakes != "" {
		level := vocabulary.StakesLevel(compileStakes)
		if !level.Valid() {
			return tctx, fmt.Errorf("unknown stakes level %q", compileStakes)
		}
		tctx.Stakes = stakesFor(level)
	}
	return tctx, nil
}

// stakesFor fills the four axes with values that support the aggregate.
func stakesFor(level vocabulary.StakesLevel) packet.Stakes {
	switch level {
	case vocabulary.StakesCritical:
		return packet.Stakes{
			Impact: vocabulary.ImpactCritical, Irreversibility: vocabulary.Irreversible,
			Uncertainty: vocabulary.UncertaintyHigh, Adversariality: vocabulary.Hostile,
			StakesLevel: level,
		}
	case vocabulary.StakesHigh:
		return packet.Stakes{
			Impact: vocabulary.ImpactHigh, Irreversibility: vocabulary.Partial,
			Uncertainty: vocabulary.UncertaintyHigh, Adversariality: vocabulary.Contested,
			StakesLevel: level,
		}
	case vocabulary.StakesMedium:
		return packet.Stakes{
			Impact: vocabulary.ImpactMedium, Irreversibility: vocabulary.Reversible,
			Uncertainty: vocabulary.UncertaintyMedium, Adversariality: vocabulary.Benign,
			StakesLevel: level,
		}
	default:
		return packet.Stakes{
			Impact: vocabulary.ImpactLow, Irreversibility: vocabulary.Reversible,
			Uncertainty: vocabulary.UncertaintyLow, Adversariality: vocabulary.Benign,
			StakesLevel: vocabulary.StakesLow,
		}
	}
}

func runCompile(cmd *cobra.Command, args []string) error {
	templateID, err := vocabulary.ParseTemplateID(args[0])
	if err != nil {
		return err
	}
	tctx, err := templateContext()
	if err != nil {
		return err
	}

	compiled, err := template.Compile(templateID, tctx)
	if err != nil {
		return err
	}

	pool := layers.NewPool(logger)
	if err := layers.NewScripted().BindAll(pool); err != nil {
		return err
	}
	led := ledger.New(compiled.CorrelationID,
		ledger.WithBudgets(compiled.Budgets),
		ledger.WithInitialState(compiled.InitialState),
		ledger.WithCampaign(compiled.CampaignID),
		ledger.WithTemplate(compiled.TemplateID),
		ledger.WithStakes(compiled.Stakes.StakesLevel),
		ledger.WithLogger(logger),
		ledger.WithConfig(cfg),
	)

	result := runner.New(pool, runner.WithLogger(logger), runner.WithConfig(cfg)).
		Run(cmd.Context(), compiled, led, nil)
	if !result.Success {
		return fmt.Errorf("template %s did not complete: %v", templateID, result.Errors)
	}

	out := os.Stdout
	if compileOutput != "" {
		f, err := os.Create(compileOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := episode.WriteJSONL(out, led.Packets()); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "episode %s: %d packets, final state %s\n",
		result.CorrelationID, len(result.Snapshot.PacketIDs), result.FinalState)
	return nil
}
