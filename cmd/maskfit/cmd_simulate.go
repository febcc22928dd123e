package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"maskfit/internal/config"
	"maskfit/internal/report"
	"maskfit/internal/simulate"
)

func newSimulateCmd() *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a dataset and print its summary",
		Long: `Simulate a two-stage choice dataset without fitting anything.

Useful for checking that simulated visit and choice frequencies line
up with the drawn truth before spending time on sampling. With --json
the ground-truth parameter values are included in the output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyDataFlags(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ds, err := simulate.New(simulate.Config{
				N:     cfg.Data.Rows,
				Dim:   cfg.Data.Dim,
				Items: cfg.Data.Items,
				Seed:  cfg.Data.Seed,
			})
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"rows":                ds.N,
					"dim":                 ds.Dim,
					"items":               ds.Items,
					"seed":                ds.Seed,
					"visitors":            ds.Visitors(),
					"visit_rate":          ds.VisitRate(),
					"expected_visit_rate": ds.ExpectedVisitRate(),
					"choice_rates":        ds.ChoiceRates(),
					"truth":               ds.Truth,
				})
			}

			report.WriteDataSummary(cmd.OutOrStdout(), ds)
			return nil
		},
	}

	cmd.Flags().Int("rows", def.Data.Rows, "Observations to simulate")
	cmd.Flags().Int("dim", def.Data.Dim, "Feature dimensions per observation")
	cmd.Flags().Int("items", def.Data.Items, "Choice items per observation")
	cmd.Flags().Uint64("seed", def.Data.Seed, "Data simulation seed")

	return cmd
}

// applyDataFlags overrides the data section of cfg with any flags the
// user set explicitly.
func applyDataFlags(cmd *cobra.Command, cfg *config.ExperimentConfig) {
	flags := cmd.Flags()
	if flags.Changed("rows") {
		cfg.Data.Rows, _ = flags.GetInt("rows")
	}
	if flags.Changed("dim") {
		cfg.Data.Dim, _ = flags.GetInt("dim")
	}
	if flags.Changed("items") {
		cfg.Data.Items, _ = flags.GetInt("items")
	}
	if flags.Changed("seed") {
		cfg.Data.Seed, _ = flags.GetUint64("seed")
	}
}
