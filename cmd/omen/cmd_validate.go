package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tpanarchist/omen/internal/episode"
	"github.com/Tpanarchist/omen/internal/packet"
	"github.com/Tpanarchist/omen/internal/schema"
)

var noTimestampChecks bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a packet or an episode log",
}

var validatePacketCmd = &cobra.Command{
	Use:   "packet <file>",
	Short: "Run the structural validator over a single packet JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidatePacket,
}

var validateEpisodeCmd = &cobra.Command{
	Use:   "episode <file.jsonl>",
	Short: "Replay an episode log through schema, FSM, and invariant gates",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidateEpisode,
}

func init() {
	validateEpisodeCmd.Flags().BoolVar(&noTimestampChecks, "no-timestamp-checks", false,
		"skip evidence freshness windows (for historical logs)")
	validateCmd.AddCommand(validatePacketCmd)
	validateCmd.AddCommand(validateEpisodeCmd)
}

func runValidatePacket(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	p, err := packet.Decode(data)
	if err != nil {
		return err
	}

	res := schema.New().Validate(p)
	for _, d := range res.Diagnostics {
		fmt.Println(d.String())
	}
	if !res.OK() {
		return fmt.Errorf("packet %s failed structural validation (%d errors)",
			p.Header.PacketID, len(res.Errors()))
	}
	fmt.Printf("packet %s (%s) is structurally valid\n", p.Header.PacketID, p.Kind())
	return nil
}

func runValidateEpisode(cmd *cobra.Command, args []string) error {
	packets, err := episode.ReadJSONLFile(args[0])
	if err != nil {
		return err
	}

	report := episode.Replay(packets, episode.ReplayOptions{
		SkipTimestampChecks: noTimestampChecks,
	})
	for i, res := range report.Diagnostics {
		for _, d := range res.Diagnostics {
			fmt.Printf("packet %d: %s\n", i, d.String())
		}
	}
	if !report.OK() {
		return fmt.Errorf("episode %s failed at packet %d: %v",
			report.CorrelationID, report.FailedAt, report.Err)
	}
	fmt.Printf("episode %s valid: %d packets admitted, final state %s\n",
		report.CorrelationID, report.Admitted, report.FinalState)
	return nil
}
