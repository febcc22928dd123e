// Package config provides unified configuration loading for maskfit.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ExperimentConfig contains all maskfit configuration settings.
type ExperimentConfig struct {
	// Data controls the simulated dataset.
	Data DataConfig `json:"data" yaml:"data"`

	// Sampler controls the HMC run.
	Sampler SamplerConfig `json:"sampler" yaml:"sampler"`

	// Prior controls the parameter priors.
	Prior PriorConfig `json:"prior" yaml:"prior"`

	// Logging contains settings for operational and trace logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Store contains settings for the run archive.
	Store StoreConfig `json:"store" yaml:"store"`
}

// DataConfig configures the simulated dataset.
type DataConfig struct {
	// Rows is the number of observations to simulate.
	Rows int `json:"rows" yaml:"rows"`

	// Dim is the number of features per observation.
	Dim int `json:"dim" yaml:"dim"`

	// Items is the number of choice outcomes per visiting row.
	Items int `json:"items" yaml:"items"`

	// Seed initializes the data random source.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// SamplerConfig configures the HMC sampler.
type SamplerConfig struct {
	// Chains is the number of independent chains.
	Chains int `json:"chains" yaml:"chains"`

	// Warmup is the number of adaptation iterations per chain.
	Warmup int `json:"warmup" yaml:"warmup"`

	// Draws is the number of kept iterations per chain.
	Draws int `json:"draws" yaml:"draws"`

	// MaxLeapfrog bounds the leapfrog steps per transition.
	MaxLeapfrog int `json:"max_leapfrog" yaml:"max_leapfrog"`

	// StepSize is the leapfrog step size. 0 means adapt automatically.
	StepSize float64 `json:"step_size" yaml:"step_size"`

	// TargetAccept is the acceptance probability adaptation aims for.
	TargetAccept float64 `json:"target_accept" yaml:"target_accept"`

	// Seed initializes the sampler random sources.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// PriorConfig configures the parameter priors.
type PriorConfig struct {
	// Scale is the standard deviation of the normal prior on every
	// parameter.
	Scale float64 `json:"scale" yaml:"scale"`
}

// LoggingConfig configures maskfit's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or
	// "trace". Below "info" a per-transition JSONL sampler trace is
	// also written next to the run archive.
	Level string `json:"level" yaml:"level"`
}

// StoreConfig configures the run archive.
type StoreConfig struct {
	// Dir is the directory holding the SQLite run archive. Empty
	// disables archiving.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Default returns an ExperimentConfig with sensible defaults.
func Default() *ExperimentConfig {
	return &ExperimentConfig{
		Data: DataConfig{
			Rows:  10000,
			Dim:   3,
			Items: 2,
			Seed:  0,
		},
		Sampler: SamplerConfig{
			Chains:       4,
			Warmup:       500,
			Draws:        1000,
			MaxLeapfrog:  24,
			StepSize:     0,
			TargetAccept: 0.8,
			Seed:         0,
		},
		Prior: PriorConfig{
			Scale: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.maskfit/config.yaml -> environment variables
func Load() (*ExperimentConfig, error) {
	config := Default()

	// Try to load from default config file
	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".maskfit", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *ExperimentConfig) Validate() error {
	if c.Data.Rows <= 0 {
		return fmt.Errorf("data rows must be positive, got %d", c.Data.Rows)
	}
	if c.Data.Dim <= 0 {
		return fmt.Errorf("data dim must be positive, got %d", c.Data.Dim)
	}
	if c.Data.Items <= 0 {
		return fmt.Errorf("data items must be positive, got %d", c.Data.Items)
	}

	if c.Sampler.Chains <= 0 {
		return fmt.Errorf("sampler chains must be positive, got %d", c.Sampler.Chains)
	}
	if c.Sampler.Warmup < 0 {
		return fmt.Errorf("sampler warmup must be non-negative, got %d", c.Sampler.Warmup)
	}
	if c.Sampler.Draws <= 0 {
		return fmt.Errorf("sampler draws must be positive, got %d", c.Sampler.Draws)
	}
	if c.Sampler.MaxLeapfrog <= 0 {
		return fmt.Errorf("sampler max_leapfrog must be positive, got %d", c.Sampler.MaxLeapfrog)
	}
	if c.Sampler.StepSize < 0 {
		return fmt.Errorf("sampler step_size must be non-negative, got %f", c.Sampler.StepSize)
	}
	if c.Sampler.TargetAccept <= 0 || c.Sampler.TargetAccept >= 1 {
		return fmt.Errorf("sampler target_accept must be between 0 and 1 exclusive, got %f", c.Sampler.TargetAccept)
	}

	if c.Prior.Scale <= 0 {
		return fmt.Errorf("prior scale must be positive, got %f", c.Prior.Scale)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *ExperimentConfig) {
	if v := os.Getenv("MASKFIT_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Data.Rows = n
		}
	}
	if v := os.Getenv("MASKFIT_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Data.Dim = n
		}
	}
	if v := os.Getenv("MASKFIT_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Data.Items = n
		}
	}
	if v := os.Getenv("MASKFIT_DATA_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Data.Seed = n
		}
	}

	if v := os.Getenv("MASKFIT_CHAINS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sampler.Chains = n
		}
	}
	if v := os.Getenv("MASKFIT_WARMUP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sampler.Warmup = n
		}
	}
	if v := os.Getenv("MASKFIT_DRAWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sampler.Draws = n
		}
	}
	if v := os.Getenv("MASKFIT_STEP_SIZE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Sampler.StepSize = f
		}
	}
	if v := os.Getenv("MASKFIT_TARGET_ACCEPT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Sampler.TargetAccept = f
		}
	}
	if v := os.Getenv("MASKFIT_SAMPLER_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Sampler.Seed = n
		}
	}

	if v := os.Getenv("MASKFIT_PRIOR_SCALE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Prior.Scale = f
		}
	}

	if v := os.Getenv("MASKFIT_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("MASKFIT_STORE_DIR"); v != "" {
		config.Store.Dir = v
	}
}
