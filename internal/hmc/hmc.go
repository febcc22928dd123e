// Package hmc implements Hamiltonian Monte Carlo sampling over
// differentiable log densities. Chains run independently in parallel,
// each fully determined by the sampler seed and its chain index. Warmup
// adapts the step size by Nesterov dual averaging (Hoffman & Gelman,
// 2014) and estimates a diagonal inverse-mass matrix from the first
// warmup half. Divergent transitions are rejected and counted, never
// retried.
package hmc

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Target is a differentiable unnormalized log density.
// Implementations must be safe for concurrent calls; every chain
// evaluates the same target.
type Target interface {
	// Dim returns the parameter count.
	Dim() int
	// LogDensity returns the log density at x up to an additive
	// constant and fills grad with its gradient. Both slices have
	// length Dim.
	LogDensity(x, grad []float64) float64
}

// TraceEvent describes one transition, for diagnostics.
type TraceEvent struct {
	Chain      int
	Phase      string // "warmup" or "sample"
	Iter       int
	StepSize   float64
	AcceptProb float64
	Divergent  bool
	Energy     float64
}

// Tracer receives one event per transition. It may be called
// concurrently from all chains.
type Tracer func(TraceEvent)

// Config controls a sampling run.
type Config struct {
	// Chains is the number of independent chains.
	Chains int
	// Warmup is the number of adaptation iterations per chain,
	// discarded from the result.
	Warmup int
	// Draws is the number of kept iterations per chain.
	Draws int
	// MaxLeapfrog bounds the leapfrog steps per transition. The
	// actual count is drawn uniformly from [1, MaxLeapfrog] each
	// transition to avoid periodic trajectories.
	MaxLeapfrog int
	// StepSize is the leapfrog step size. Zero means find a starting
	// value automatically and adapt it during warmup.
	StepSize float64
	// TargetAccept is the acceptance probability the step-size
	// adaptation aims for.
	TargetAccept float64
	// Seed determines every chain: chain c uses Seed+c.
	Seed uint64
}

// DefaultConfig returns the sampling defaults: 4 chains, 500 warmup
// iterations, 1000 draws, at most 24 leapfrog steps, automatic step
// size aiming at 0.8 acceptance.
func DefaultConfig() Config {
	return Config{
		Chains:       4,
		Warmup:       500,
		Draws:        1000,
		MaxLeapfrog:  24,
		StepSize:     0,
		TargetAccept: 0.8,
	}
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	if c.Chains <= 0 {
		return fmt.Errorf("chains must be positive, got %d", c.Chains)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("warmup must be non-negative, got %d", c.Warmup)
	}
	if c.Draws <= 0 {
		return fmt.Errorf("draws must be positive, got %d", c.Draws)
	}
	if c.MaxLeapfrog <= 0 {
		return fmt.Errorf("max leapfrog steps must be positive, got %d", c.MaxLeapfrog)
	}
	if c.StepSize < 0 {
		return fmt.Errorf("step size must be non-negative, got %v", c.StepSize)
	}
	if c.TargetAccept <= 0 || c.TargetAccept >= 1 {
		return fmt.Errorf("target acceptance must be in (0,1), got %v", c.TargetAccept)
	}
	return nil
}

// Sampler runs HMC chains against a target.
type Sampler struct {
	target Target
	cfg    Config

	// Trace, when set, receives one event per transition across all
	// chains. Set before Run.
	Trace Tracer
}

// NewSampler creates a sampler. The config is validated by Run.
func NewSampler(target Target, cfg Config) *Sampler {
	return &Sampler{target: target, cfg: cfg}
}

// Run samples all chains, in parallel up to GOMAXPROCS, and returns
// their post-warmup draws. The result is deterministic for a given
// target, config, and seed. Cancelling ctx stops every chain.
func (s *Sampler) Run(ctx context.Context) (*Result, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampler config: %w", err)
	}
	if s.target == nil {
		return nil, fmt.Errorf("nil target")
	}
	if s.target.Dim() <= 0 {
		return nil, fmt.Errorf("target dimension must be positive, got %d", s.target.Dim())
	}

	chains := make([]Chain, s.cfg.Chains)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for c := 0; c < s.cfg.Chains; c++ {
		c := c
		g.Go(func() error {
			chain, err := s.runChain(ctx, c)
			if err != nil {
				return fmt.Errorf("chain %d: %w", c, err)
			}
			chains[c] = chain
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{Chains: chains}, nil
}
