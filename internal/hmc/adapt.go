package hmc

import (
	"math"

	"golang.org/x/exp/rand"
)

// Dual-averaging constants from Hoffman & Gelman (2014), Algorithm 5.
const (
	daGamma = 0.05
	daT0    = 10
	daKappa = 0.75
)

// dualAveraging adapts the leapfrog step size toward a target
// acceptance probability.
type dualAveraging struct {
	mu        float64
	logEps    float64
	logEpsBar float64
	hBar      float64
	m         int
	target    float64
}

func newDualAveraging(step0, target float64) *dualAveraging {
	return &dualAveraging{
		mu:     math.Log(10 * step0),
		logEps: math.Log(step0),
		target: target,
	}
}

// update folds one acceptance probability in and returns the step size
// to use for the next iteration.
func (da *dualAveraging) update(acceptProb float64) float64 {
	if acceptProb > 1 {
		acceptProb = 1
	}
	da.m++
	m := float64(da.m)
	frac := 1 / (m + daT0)
	da.hBar = (1-frac)*da.hBar + frac*(da.target-acceptProb)
	da.logEps = da.mu - math.Sqrt(m)/daGamma*da.hBar
	pow := math.Pow(m, -daKappa)
	da.logEpsBar = pow*da.logEps + (1-pow)*da.logEpsBar
	return math.Exp(da.logEps)
}

// final returns the averaged step size to freeze for sampling.
func (da *dualAveraging) final() float64 {
	return math.Exp(da.logEpsBar)
}

// findReasonableStep doubles or halves the step size until a single
// leapfrog step from the current position crosses 50% acceptance
// (Hoffman & Gelman, 2014, Algorithm 4).
func (s *Sampler) findReasonableStep(rng *rand.Rand, state *chainState, invMass []float64) float64 {
	step := 1.0

	p := make([]float64, len(state.q))
	for i := range p {
		p[i] = rng.NormFloat64() / math.Sqrt(invMass[i])
	}
	h0 := -state.lp + kinetic(p, invMass)

	logRatio := stepLogRatio(s.target, state, p, step, invMass, h0)
	dir := -1.0
	if logRatio > math.Log(0.5) {
		dir = 1.0
	}
	for i := 0; i < 100; i++ {
		if dir*logRatio <= -dir*math.Log(2) {
			break
		}
		step *= math.Pow(2, dir)
		if step > 1e7 || step < 1e-10 {
			break
		}
		logRatio = stepLogRatio(s.target, state, p, step, invMass, h0)
	}
	return step
}

// stepLogRatio returns the log acceptance ratio of one leapfrog step of
// the given size from the current state, -Inf when the step leaves the
// finite region.
func stepLogRatio(t Target, state *chainState, p0 []float64, step float64, invMass []float64, h0 float64) float64 {
	q := append([]float64(nil), state.q...)
	grad := append([]float64(nil), state.grad...)
	p := append([]float64(nil), p0...)

	lp := leapfrog(t, q, p, grad, step, invMass)
	if !isFinite(lp) {
		return math.Inf(-1)
	}
	h := -lp + kinetic(p, invMass)
	if !isFinite(h) {
		return math.Inf(-1)
	}
	return h0 - h
}
