package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"maskfit/internal/choice"
	"maskfit/internal/config"
	"maskfit/internal/experiment"
	"maskfit/internal/export"
	"maskfit/internal/hmc"
	"maskfit/internal/logging"
	"maskfit/internal/report"
	"maskfit/internal/simulate"
	"maskfit/internal/store"
)

func newRunCmd() *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate a dataset and fit the requested models",
		Long: `Simulate a two-stage choice dataset and fit the requested model
specifications against it with Hamiltonian Monte Carlo.

With --spec both (the default) the naive and the masked model are fit
to the same dataset and printed side by side, so the bias from scoring
non-visitor placeholder rows shows up directly in the choice-stage
columns.

Examples:
  maskfit run
  maskfit run --rows 2000 --chains 2 --spec masked
  maskfit run --store ./archive --draws-out draws.arrows`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			specArg, _ := cmd.Flags().GetString("spec")
			specs, err := parseSpecs(specArg)
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
			st := settingsFromConfig(cfg)

			traceDir := cfg.Store.Dir
			if traceDir == "" {
				traceDir = "."
			}
			tracer := logging.NewTraceLogger(traceDir, cfg.Logging.Level)
			defer tracer.Close()
			if tracer != nil {
				st.Trace = func(ev hmc.TraceEvent) {
					tracer.Log(map[string]any{
						"chain":       ev.Chain,
						"phase":       ev.Phase,
						"iter":        ev.Iter,
						"step_size":   ev.StepSize,
						"accept_prob": ev.AcceptProb,
						"divergent":   ev.Divergent,
						"energy":      ev.Energy,
					})
				}
			}

			rep, err := experiment.Run(cmd.Context(), st, specs, logger)
			if err != nil {
				return err
			}

			var runIDs []string
			if cfg.Store.Dir != "" {
				archive, err := store.Open(cfg.Store.Dir)
				if err != nil {
					return fmt.Errorf("failed to open archive: %w", err)
				}
				defer archive.Close()
				for _, fit := range rep.Fits {
					id, err := archive.SaveFit(cmd.Context(), st, fit)
					if err != nil {
						return fmt.Errorf("failed to archive %s fit: %w", fit.Spec, err)
					}
					runIDs = append(runIDs, id)
				}
			}

			drawsOut, _ := cmd.Flags().GetString("draws-out")
			if drawsOut != "" {
				layout := choice.Layout{Dim: cfg.Data.Dim, Items: cfg.Data.Items}
				for _, fit := range rep.Fits {
					path := drawsPath(drawsOut, fit.Spec, len(rep.Fits) > 1)
					if err := export.WriteDraws(path, layout.Names(), fit.Result); err != nil {
						return fmt.Errorf("failed to export %s draws: %w", fit.Spec, err)
					}
				}
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(runOutput(rep, runIDs))
			}

			printReport(cmd.OutOrStdout(), rep)
			for _, id := range runIDs {
				fmt.Fprintf(cmd.OutOrStdout(), "Archived run %s in %s\n", id, cfg.Store.Dir)
			}
			return nil
		},
	}

	cmd.Flags().Int("rows", def.Data.Rows, "Observations to simulate")
	cmd.Flags().Int("dim", def.Data.Dim, "Feature dimensions per observation")
	cmd.Flags().Int("items", def.Data.Items, "Choice items per observation")
	cmd.Flags().Uint64("seed", def.Data.Seed, "Data simulation seed")
	cmd.Flags().Int("chains", def.Sampler.Chains, "Independent HMC chains")
	cmd.Flags().Int("warmup", def.Sampler.Warmup, "Warmup iterations per chain")
	cmd.Flags().Int("draws", def.Sampler.Draws, "Kept draws per chain")
	cmd.Flags().Int("max-leapfrog", def.Sampler.MaxLeapfrog, "Maximum leapfrog steps per transition")
	cmd.Flags().Float64("step-size", def.Sampler.StepSize, "Leapfrog step size (0 = adapt during warmup)")
	cmd.Flags().Float64("target-accept", def.Sampler.TargetAccept, "Acceptance rate targeted by step size adaptation")
	cmd.Flags().Uint64("sampler-seed", def.Sampler.Seed, "Sampler seed")
	cmd.Flags().Float64("prior-scale", def.Prior.Scale, "Prior standard deviation on all parameters")
	cmd.Flags().String("spec", "both", "Model specification to fit: naive, masked, or both")
	cmd.Flags().String("store", "", "Archive directory for run results")
	cmd.Flags().String("draws-out", "", "Write posterior draws to this Arrow IPC file")
	cmd.Flags().String("log-level", def.Logging.Level, "Log level (info, debug, trace)")

	return cmd
}

// applyRunFlags overrides config values with any flags the user set
// explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *config.ExperimentConfig) {
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
	if flags.Changed("chains") {
		cfg.Sampler.Chains, _ = flags.GetInt("chains")
	}
	if flags.Changed("warmup") {
		cfg.Sampler.Warmup, _ = flags.GetInt("warmup")
	}
	if flags.Changed("draws") {
		cfg.Sampler.Draws, _ = flags.GetInt("draws")
	}
	if flags.Changed("max-leapfrog") {
		cfg.Sampler.MaxLeapfrog, _ = flags.GetInt("max-leapfrog")
	}
	if flags.Changed("step-size") {
		cfg.Sampler.StepSize, _ = flags.GetFloat64("step-size")
	}
	if flags.Changed("target-accept") {
		cfg.Sampler.TargetAccept, _ = flags.GetFloat64("target-accept")
	}
	if flags.Changed("sampler-seed") {
		cfg.Sampler.Seed, _ = flags.GetUint64("sampler-seed")
	}
	if flags.Changed("prior-scale") {
		cfg.Prior.Scale, _ = flags.GetFloat64("prior-scale")
	}
	if flags.Changed("store") {
		cfg.Store.Dir, _ = flags.GetString("store")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
}

func settingsFromConfig(cfg *config.ExperimentConfig) experiment.Settings {
	return experiment.Settings{
		Data: simulate.Config{
			N:     cfg.Data.Rows,
			Dim:   cfg.Data.Dim,
			Items: cfg.Data.Items,
			Seed:  cfg.Data.Seed,
		},
		Sampler: hmc.Config{
			Chains:       cfg.Sampler.Chains,
			Warmup:       cfg.Sampler.Warmup,
			Draws:        cfg.Sampler.Draws,
			MaxLeapfrog:  cfg.Sampler.MaxLeapfrog,
			StepSize:     cfg.Sampler.StepSize,
			TargetAccept: cfg.Sampler.TargetAccept,
			Seed:         cfg.Sampler.Seed,
		},
		PriorScale: cfg.Prior.Scale,
	}
}

// parseSpecs expands "both" into the two comparable specifications.
func parseSpecs(s string) ([]choice.Spec, error) {
	if s == "both" {
		return []choice.Spec{choice.SpecNaive, choice.SpecMasked}, nil
	}
	spec, err := choice.ParseSpec(s)
	if err != nil {
		return nil, err
	}
	return []choice.Spec{spec}, nil
}

// drawsPath returns the export path for one spec's draws. With several
// specs in one run the spec name is folded into the file name.
func drawsPath(path string, spec choice.Spec, multi bool) string {
	if !multi {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + string(spec) + ext
}

func printReport(w io.Writer, rep *experiment.Report) {
	report.WriteDataSummary(w, rep.Data)
	fmt.Fprintln(w)

	naive := rep.Fit(choice.SpecNaive)
	masked := rep.Fit(choice.SpecMasked)
	if naive != nil && masked != nil {
		if err := report.WriteComparison(w, naive.Summaries, masked.Summaries); err != nil {
			fmt.Fprintf(w, "comparison unavailable: %v\n", err)
		}
	} else {
		for _, fit := range rep.Fits {
			report.WriteSummaries(w, fmt.Sprintf("%s model posterior", fit.Spec), fit.Summaries)
		}
	}

	fmt.Fprintln(w)
	for _, fit := range rep.Fits {
		fmt.Fprintf(w, "%s: accept %.2f, step size %.3g, divergences %d, elapsed %s\n",
			fit.Spec, fit.AcceptRate, fit.StepSize, fit.Divergences, fit.Elapsed.Round(time.Millisecond))
	}
}

func runOutput(rep *experiment.Report, runIDs []string) map[string]any {
	out := map[string]any{
		"data": map[string]any{
			"rows":                rep.Data.N,
			"dim":                 rep.Data.Dim,
			"items":               rep.Data.Items,
			"seed":                rep.Data.Seed,
			"visitors":            rep.Data.Visitors(),
			"visit_rate":          rep.Data.VisitRate(),
			"expected_visit_rate": rep.Data.ExpectedVisitRate(),
			"choice_rates":        rep.Data.ChoiceRates(),
		},
		"fits": rep.Fits,
	}
	if len(runIDs) > 0 {
		out["run_ids"] = runIDs
	}
	return out
}
