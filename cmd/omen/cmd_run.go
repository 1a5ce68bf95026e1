package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tpanarchist/omen/internal/episode"
	"github.com/Tpanarchist/omen/internal/layers"
	"github.com/Tpanarchist/omen/internal/runner"
	"github.com/Tpanarchist/omen/internal/template"
	"github.com/Tpanarchist/omen/internal/vocabulary"
)

var runStorePath string

var runCmd = &cobra.Command{
	Use:   "run <template>",
	Short: "Run a canonical template with the scripted reference layers",
	Long: `Compiles a canonical template (A-H), runs it through the orchestrator
with the deterministic scripted layers, and prints a per-step summary.
With --store, the episode record persists to a SQLite database keyed by
correlation id.`,
	Args: cobra.ExactArgs(1),
	RunE: runEpisode,
}

func init() {
	runCmd.Flags().StringVar(&runStorePath, "store", "", "SQLite episode store path")
	runCmd.Flags().StringVar(&compileCorrelationID, "correlation-id", "", "episode identity (corr_<slug>)")
	runCmd.Flags().StringVar(&compileCampaignID, "campaign-id", "", "campaign grouping (camp_<slug>)")
	runCmd.Flags().StringVar(&compileTier, "tier", "", "quality tier (SUBPAR, PAR, SUPERB)")
	runCmd.Flags().StringVar(&compileToolsState, "tools-state", "", "tools availability")
	runCmd.Flags().StringVar(&compileStakes, "stakes", "", "stakes level")
}

func runEpisode(cmd *cobra.Command, args []string) error {
	templateID, err := vocabulary.ParseTemplateID(args[0])
	if err != nil {
		return err
	}
	tctx, err := templateContext()
	if err != nil {
		return err
	}

	opts := []runner.OrchestratorOption{
		runner.WithOrchestratorLogger(logger),
		runner.WithOrchestratorConfig(cfg),
	}
	if runStorePath != "" {
		store, err := episode.OpenSQLite(runStorePath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, runner.WithStore(store))
	}

	factory := func(*template.CompiledEpisode) (*layers.Pool, error) {
		pool := layers.NewPool(logger)
		if err := layers.NewScripted().BindAll(pool); err != nil {
			return nil, err
		}
		return pool, nil
	}

	o := runner.NewOrchestrator(factory, opts...)
	result, err := o.Run(cmd.Context(), runner.EpisodeRequest{
		TemplateID: templateID,
		Context:    tctx,
	})
	if err != nil {
		return err
	}

	fmt.Printf("episode %s (template %s)\n", result.CorrelationID, result.TemplateID)
	for _, step := range result.Steps {
		status := "ok"
		if !step.Success {
			status = "FAILED: " + step.Error
		}
		fmt.Printf("  %-20s layer %-2s packets %d  %s\n",
			step.StepID, step.Layer, step.PacketsEmitted, status)
	}
	fmt.Printf("final state %s, safe mode %s, %d packets admitted\n",
		result.FinalState, result.Snapshot.SafeMode, len(result.Snapshot.PacketIDs))
	if !result.Success {
		return fmt.Errorf("episode failed: %v", result.Errors)
	}
	return nil
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the canonical episode templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, t := range template.All() {
			fmt.Printf("%s  %-18s min tier %-6s write %-5v  %s\n",
				t.ID, t.Name, t.Constraints.MinTier, t.Constraints.WriteAllowed, t.Description)
		}
		return nil
	},
}
