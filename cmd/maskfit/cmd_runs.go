package main

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"maskfit/internal/report"
	"maskfit/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived runs",
		Long: `Inspect runs archived with 'maskfit run --store'.

The archive is a SQLite database holding each run's settings, sampler
outcome, and per-parameter posterior summaries.`,
	}

	cmd.PersistentFlags().String("store", "", "Archive directory (default store.dir from config)")

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
	)

	return cmd
}

// openArchive opens the archive named by --store, falling back to the
// configured store directory.
func openArchive(cmd *cobra.Command) (*store.Store, error) {
	dir, _ := cmd.Flags().GetString("store")
	if dir == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		dir = cfg.Store.Dir
	}
	if dir == "" {
		return nil, fmt.Errorf("no archive directory configured (use --store or set store.dir)")
	}
	return store.Open(dir)
}

func newRunsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer archive.Close()

			runs, err := archive.ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"runs":  runs,
					"count": len(runs),
				})
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No archived runs.")
				return nil
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"ID", "Created", "Spec", "Rows", "Chains", "Draws", "Accept", "Rhat"})
			for _, run := range runs {
				tw.AppendRow(table.Row{
					run.ID,
					run.CreatedAt.Format("2006-01-02 15:04:05"),
					run.Spec,
					run.Data.N,
					run.Chains,
					run.Draws,
					fmt.Sprintf("%.2f", run.AcceptRate),
					fmtArchivedRHat(run.MaxRHat),
				})
			}
			tw.Render()
			return nil
		},
	}
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one archived run with its posterior summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer archive.Close()

			run, err := archive.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(run)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run: %s\n", run.ID)
			fmt.Fprintf(out, "Created: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Spec: %s\n", run.Spec)
			fmt.Fprintf(out, "Data: %d rows, %d features, %d items, seed %d\n",
				run.Data.N, run.Data.Dim, run.Data.Items, run.Data.Seed)
			fmt.Fprintf(out, "Sampler: %d chains, %d warmup, %d draws, seed %d\n",
				run.Chains, run.Warmup, run.Draws, run.SamplerSeed)
			fmt.Fprintf(out, "Prior scale: %g\n", run.PriorScale)
			fmt.Fprintf(out, "Accept rate: %.2f  Step size: %.3g  Divergences: %d\n",
				run.AcceptRate, run.StepSize, run.Divergences)
			fmt.Fprintf(out, "Elapsed: %s\n", run.Elapsed)
			fmt.Fprintln(out)
			report.WriteSummaries(out, "Posterior", run.Params)
			return nil
		},
	}
}

func fmtArchivedRHat(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}
