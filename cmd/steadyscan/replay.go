package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/ayusman/steadyscan/internal/pipeline"
	"github.com/ayusman/steadyscan/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.json | bundled-name>",
	Short: "Play recorded detector results through the pipeline and print the changes.",
	Long: `Replay runs a recorded scenario on a simulated clock and prints every change
as a JSON line. When the scenario lists expected change kinds, a mismatch is an
error. Use --list to show the bundled scenarios.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if list, _ := cmd.Flags().GetBool("list"); list {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if list, _ := cmd.Flags().GetBool("list"); list {
			names, err := replay.BundledNames()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sc, err := loadScenario(args[0])
		if err != nil {
			return err
		}

		pcfg := pipeline.DefaultConfig()
		pcfg.DeletionDelay = cfg.DeletionDelay
		pcfg.Smoothing = cfg.Smoothing
		pcfg.Expansion = cfg.Expansion

		records, err := replay.Run(cmd.Context(), sc, pcfg)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}

		if len(sc.Expect) > 0 {
			if diff := cmp.Diff(sc.Expect, replay.Kinds(records)); diff != "" {
				return fmt.Errorf("scenario %q: unexpected changes (-want +got):\n%s", sc.Name, diff)
			}
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().Bool("list", false, "list bundled scenarios")
}

// loadScenario reads a scenario file, falling back to a bundled scenario of
// the same name.
func loadScenario(name string) (*replay.Scenario, error) {
	f, err := os.Open(name)
	if err == nil {
		defer f.Close()
		return replay.Load(f)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	sc, bundledErr := replay.Bundled(name)
	if bundledErr != nil {
		return nil, fmt.Errorf("scenario %s: %w", name, err)
	}
	return sc, nil
}
