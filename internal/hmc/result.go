package hmc

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Chain holds one chain's post-warmup output.
type Chain struct {
	// Draws is the kept positions, one vector per iteration.
	Draws [][]float64
	// AcceptRate is the mean acceptance probability over kept draws.
	AcceptRate float64
	// StepSize is the frozen step size used for the kept draws.
	StepSize float64
	// Divergences counts divergent transitions among kept draws.
	Divergences int
}

// Result holds the output of every chain of a run.
type Result struct {
	Chains []Chain
}

// Dim returns the parameter count, 0 for an empty result.
func (r *Result) Dim() int {
	if len(r.Chains) == 0 || len(r.Chains[0].Draws) == 0 {
		return 0
	}
	return len(r.Chains[0].Draws[0])
}

// TotalDraws returns the kept draw count across all chains.
func (r *Result) TotalDraws() int {
	var n int
	for _, c := range r.Chains {
		n += len(c.Draws)
	}
	return n
}

// Merged returns every chain's draws concatenated in chain order.
func (r *Result) Merged() [][]float64 {
	merged := make([][]float64, 0, r.TotalDraws())
	for _, c := range r.Chains {
		merged = append(merged, c.Draws...)
	}
	return merged
}

// Column returns dimension d of every draw across chains.
func (r *Result) Column(d int) []float64 {
	col := make([]float64, 0, r.TotalDraws())
	for _, c := range r.Chains {
		for _, q := range c.Draws {
			col = append(col, q[d])
		}
	}
	return col
}

// AcceptRate returns the mean acceptance rate across chains.
func (r *Result) AcceptRate() float64 {
	if len(r.Chains) == 0 {
		return 0
	}
	var sum float64
	for _, c := range r.Chains {
		sum += c.AcceptRate
	}
	return sum / float64(len(r.Chains))
}

// Divergences returns the total divergent transitions across chains.
func (r *Result) Divergences() int {
	var n int
	for _, c := range r.Chains {
		n += c.Divergences
	}
	return n
}

// StepSize returns the mean frozen step size across chains.
func (r *Result) StepSize() float64 {
	if len(r.Chains) == 0 {
		return 0
	}
	var sum float64
	for _, c := range r.Chains {
		sum += c.StepSize
	}
	return sum / float64(len(r.Chains))
}

// PotentialScaleReduction returns the split-Rhat per dimension. Each
// chain is split in half and the halves are compared as separate
// sequences, so a single long chain still yields a diagnostic. Values
// near 1 indicate mixing; much above 1 the chains disagree. Returns NaN
// per dimension when chains hold fewer than 4 draws.
func (r *Result) PotentialScaleReduction() []float64 {
	dim := r.Dim()
	out := make([]float64, dim)
	if dim == 0 {
		return out
	}

	half := len(r.Chains[0].Draws) / 2
	if half < 2 {
		for d := range out {
			out[d] = math.NaN()
		}
		return out
	}

	n := float64(half)
	col := make([]float64, half)
	for d := 0; d < dim; d++ {
		means := make([]float64, 0, 2*len(r.Chains))
		vars := make([]float64, 0, 2*len(r.Chains))
		for _, c := range r.Chains {
			for _, start := range []int{0, half} {
				for i := 0; i < half; i++ {
					col[i] = c.Draws[start+i][d]
				}
				means = append(means, stat.Mean(col, nil))
				vars = append(vars, stat.Variance(col, nil))
			}
		}

		w := stat.Mean(vars, nil)
		b := n * stat.Variance(means, nil)
		if w == 0 {
			if b == 0 {
				out[d] = 1
			} else {
				out[d] = math.Inf(1)
			}
			continue
		}
		varPlus := (n-1)/n*w + b/n
		out[d] = math.Sqrt(varPlus / w)
	}
	return out
}
