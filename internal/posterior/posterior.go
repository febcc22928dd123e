// Package posterior turns raw sampler draws into per-parameter
// summaries lined up with ground truth.
package posterior

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"maskfit/internal/choice"
	"maskfit/internal/hmc"
)

// Summary describes one parameter's posterior next to its true value.
type Summary struct {
	Name  string            `json:"name"`
	Group choice.ParamGroup `json:"group"`
	Truth float64           `json:"truth"`
	Mean  float64           `json:"mean"`
	SD    float64           `json:"sd"`
	Q025  float64           `json:"q025"`
	Q975  float64           `json:"q975"`
	RHat  float64           `json:"rhat"`
}

// Summarize computes mean, standard deviation, central 95% interval,
// and split-Rhat per parameter, pairing each with its name, group, and
// true value. The layout must match both the result dimension and the
// flattened truth.
func Summarize(res *hmc.Result, layout choice.Layout, truth []float64) ([]Summary, error) {
	dim := layout.Len()
	if res.Dim() != dim {
		return nil, fmt.Errorf("result has %d dimensions, layout has %d", res.Dim(), dim)
	}
	if len(truth) != dim {
		return nil, fmt.Errorf("truth has %d values, layout has %d", len(truth), dim)
	}

	names := layout.Names()
	groups := layout.Groups()
	rhat := res.PotentialScaleReduction()

	summaries := make([]Summary, dim)
	for d := 0; d < dim; d++ {
		col := res.Column(d)
		mean := stat.Mean(col, nil)
		sd := stat.StdDev(col, nil)

		sort.Float64s(col)
		q025 := stat.Quantile(0.025, stat.Empirical, col, nil)
		q975 := stat.Quantile(0.975, stat.Empirical, col, nil)

		summaries[d] = Summary{
			Name:  names[d],
			Group: groups[d],
			Truth: truth[d],
			Mean:  mean,
			SD:    sd,
			Q025:  q025,
			Q975:  q975,
			RHat:  rhat[d],
		}
	}
	return summaries, nil
}

// GroupError returns the mean absolute error of the posterior means
// against truth, per parameter group.
func GroupError(summaries []Summary) map[choice.ParamGroup]float64 {
	sums := make(map[choice.ParamGroup]float64)
	counts := make(map[choice.ParamGroup]int)
	for _, s := range summaries {
		sums[s.Group] += math.Abs(s.Mean - s.Truth)
		counts[s.Group]++
	}
	errs := make(map[choice.ParamGroup]float64, len(sums))
	for g, sum := range sums {
		errs[g] = sum / float64(counts[g])
	}
	return errs
}

// MaxRHat returns the largest split-Rhat across summaries, skipping NaN
// entries. Returns NaN when no summary has one.
func MaxRHat(summaries []Summary) float64 {
	max := math.NaN()
	for _, s := range summaries {
		if math.IsNaN(s.RHat) {
			continue
		}
		if math.IsNaN(max) || s.RHat > max {
			max = s.RHat
		}
	}
	return max
}

// CoverageCount returns how many parameters' true values fall inside
// their central 95% interval.
func CoverageCount(summaries []Summary) int {
	var n int
	for _, s := range summaries {
		if s.Truth >= s.Q025 && s.Truth <= s.Q975 {
			n++
		}
	}
	return n
}
