package hmc

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

// divergenceThreshold is the energy error above which a trajectory is
// declared divergent.
const divergenceThreshold = 1000

// chainState carries the current position with its cached density and
// gradient, so accepted transitions reuse the last evaluation.
type chainState struct {
	q    []float64
	grad []float64
	lp   float64
}

func (s *Sampler) runChain(ctx context.Context, chain int) (Chain, error) {
	dim := s.target.Dim()
	rng := rand.New(rand.NewSource(s.cfg.Seed + uint64(chain)))

	state, err := s.initState(rng, dim)
	if err != nil {
		return Chain{}, err
	}

	invMass := make([]float64, dim)
	for i := range invMass {
		invMass[i] = 1
	}

	step := s.cfg.StepSize
	adapt := step == 0
	if adapt {
		step = s.findReasonableStep(rng, state, invMass)
	}

	var da *dualAveraging
	if adapt {
		da = newDualAveraging(step, s.cfg.TargetAccept)
	}

	// The first warmup half runs on the unit metric while collecting
	// positions. At the midpoint the metric is estimated from them and
	// step-size adaptation restarts against the new metric.
	metricAt := s.cfg.Warmup / 2
	var warmDraws [][]float64
	if s.cfg.Warmup > 0 {
		warmDraws = make([][]float64, 0, metricAt)
	}

	for iter := 0; iter < s.cfg.Warmup; iter++ {
		if err := ctx.Err(); err != nil {
			return Chain{}, err
		}

		if iter == metricAt && iter > 0 {
			estimateInvMass(warmDraws, invMass)
			warmDraws = nil
			if adapt {
				step = s.findReasonableStep(rng, state, invMass)
				da = newDualAveraging(step, s.cfg.TargetAccept)
			}
		}

		accept, divergent, energy := s.transition(rng, state, step, invMass)
		if da != nil {
			step = da.update(accept)
		}
		if iter < metricAt {
			warmDraws = append(warmDraws, append([]float64(nil), state.q...))
		}
		s.trace(TraceEvent{
			Chain: chain, Phase: "warmup", Iter: iter,
			StepSize: step, AcceptProb: accept, Divergent: divergent, Energy: energy,
		})
	}

	if da != nil {
		step = da.final()
	}

	draws := make([][]float64, s.cfg.Draws)
	var acceptSum float64
	var divergences int
	for iter := 0; iter < s.cfg.Draws; iter++ {
		if err := ctx.Err(); err != nil {
			return Chain{}, err
		}

		accept, divergent, energy := s.transition(rng, state, step, invMass)
		acceptSum += accept
		if divergent {
			divergences++
		}
		draws[iter] = append([]float64(nil), state.q...)
		s.trace(TraceEvent{
			Chain: chain, Phase: "sample", Iter: iter,
			StepSize: step, AcceptProb: accept, Divergent: divergent, Energy: energy,
		})
	}

	return Chain{
		Draws:       draws,
		AcceptRate:  acceptSum / float64(s.cfg.Draws),
		StepSize:    step,
		Divergences: divergences,
	}, nil
}

// initState draws starting positions uniformly from [-2,2] per
// dimension until the density and gradient are finite there.
func (s *Sampler) initState(rng *rand.Rand, dim int) (*chainState, error) {
	state := &chainState{q: make([]float64, dim), grad: make([]float64, dim)}
	for attempt := 0; attempt < 100; attempt++ {
		for i := range state.q {
			state.q[i] = rng.Float64()*4 - 2
		}
		state.lp = s.target.LogDensity(state.q, state.grad)
		if isFinite(state.lp) && allFinite(state.grad) {
			return state, nil
		}
	}
	return nil, fmt.Errorf("no finite starting point after 100 attempts")
}

// transition advances the state by one trajectory of a jittered number
// of leapfrog steps with a Metropolis correction. Divergent
// trajectories are rejected and reported, never retried.
func (s *Sampler) transition(rng *rand.Rand, state *chainState, step float64, invMass []float64) (acceptProb float64, divergent bool, energy float64) {
	dim := len(state.q)

	p := make([]float64, dim)
	for i := range p {
		p[i] = rng.NormFloat64() / math.Sqrt(invMass[i])
	}
	h0 := -state.lp + kinetic(p, invMass)

	q := append([]float64(nil), state.q...)
	grad := append([]float64(nil), state.grad...)
	lp := state.lp

	nSteps := 1 + rng.Intn(s.cfg.MaxLeapfrog)
	for i := 0; i < nSteps; i++ {
		lp = leapfrog(s.target, q, p, grad, step, invMass)
		if !isFinite(lp) {
			break
		}
	}

	h1 := -lp + kinetic(p, invMass)
	if !isFinite(h1) || h1-h0 > divergenceThreshold {
		return 0, true, h1
	}

	acceptProb = 1
	if h1 > h0 {
		acceptProb = math.Exp(h0 - h1)
	}
	if rng.Float64() < acceptProb {
		copy(state.q, q)
		copy(state.grad, grad)
		state.lp = lp
	}
	return acceptProb, false, h1
}

// leapfrog performs one integrator step in place: half-step momentum,
// full-step position, gradient refresh, half-step momentum. Returns the
// log density at the new position.
func leapfrog(t Target, q, p, grad []float64, step float64, invMass []float64) float64 {
	for i := range p {
		p[i] += 0.5 * step * grad[i]
	}
	for i := range q {
		q[i] += step * invMass[i] * p[i]
	}
	lp := t.LogDensity(q, grad)
	for i := range p {
		p[i] += 0.5 * step * grad[i]
	}
	return lp
}

// kinetic returns the kinetic energy for the diagonal metric.
func kinetic(p, invMass []float64) float64 {
	var k float64
	for i, v := range p {
		k += v * v * invMass[i]
	}
	return 0.5 * k
}

// estimateInvMass sets the diagonal inverse mass to the per-dimension
// variance of the collected positions, shrunk toward a small constant
// as in Stan's windowed adaptation. No-op with fewer than two draws.
func estimateInvMass(draws [][]float64, invMass []float64) {
	if len(draws) < 2 {
		return
	}
	n := float64(len(draws))
	col := make([]float64, len(draws))
	for d := range invMass {
		for i, q := range draws {
			col[i] = q[d]
		}
		v := (n/(n+5))*stat.Variance(col, nil) + 1e-3*(5/(n+5))
		if !isFinite(v) || v <= 0 {
			v = 1
		}
		invMass[d] = v
	}
}

func (s *Sampler) trace(ev TraceEvent) {
	if s.Trace != nil {
		s.Trace(ev)
	}
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if !isFinite(x) {
			return false
		}
	}
	return true
}
