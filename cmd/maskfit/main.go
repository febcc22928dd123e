package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"maskfit/internal/config"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "maskfit",
		Short: "Observation masking demo - two-stage choice models fit with HMC",
		Long: `maskfit shows why partially observed outcomes need masking.

It simulates a two-stage choice process (visit, then per-item choice),
fits a naive and a masked Bayesian logistic model to the same data with
Hamiltonian Monte Carlo, and prints posterior estimates next to the
simulation's ground truth. The naive model scores the placeholder rows
of people who never visited; the masked model gates them out of the
likelihood.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for scripting)")
	rootCmd.PersistentFlags().String("config", "", "Config file path (default ~/.maskfit/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newSimulateCmd(),
		newRunsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "maskfit version %s\n", version)
			}
		},
	}
}

// loadConfig loads the experiment configuration, honoring --config when
// set.
func loadConfig(cmd *cobra.Command) (*config.ExperimentConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}
	return config.Load()
}
