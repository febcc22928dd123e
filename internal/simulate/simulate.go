// Package simulate draws synthetic data from a two-stage Bernoulli choice
// process: a logistic visit stage over every row, and a logistic per-item
// choice stage defined only for rows that visited. Non-visitor rows carry
// an all-false placeholder choice vector; the placeholder is structural,
// not an observation, and downstream likelihood code must not score it.
package simulate

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"maskfit/internal/mathx"
)

// Config controls a simulation run. The seed is explicit so the same
// config always reproduces the same dataset.
type Config struct {
	// N is the number of observations (rows).
	N int
	// Dim is the number of features per observation.
	Dim int
	// Items is the number of choice outcomes per visiting row.
	Items int
	// Seed initializes the random source.
	Seed uint64
}

// DefaultConfig returns the reference scenario: 10000 rows, 3 features,
// 2 items, seed 0.
func DefaultConfig() Config {
	return Config{N: 10000, Dim: 3, Items: 2, Seed: 0}
}

// Truth holds the generating parameters. Inference never sees these;
// they exist only to validate posterior estimates.
type Truth struct {
	VisitWeight  []float64   `json:"visit_weight"`
	VisitBias    float64     `json:"visit_bias"`
	ChoiceWeight [][]float64 `json:"choice_weight"` // Items x Dim
	ChoiceBias   []float64   `json:"choice_bias"`   // Items
}

// Dataset is one simulated draw from the two-stage process.
type Dataset struct {
	Config

	// Features is the N x Dim design matrix, entries iid standard normal.
	Features *mat.Dense
	// Visits is the stage-0 outcome per row.
	Visits []bool
	// Choices is the stage-1 outcome per row and item. Rows with
	// Visits=false are all-false placeholders, not observations.
	Choices [][]bool

	Truth Truth
}

// New simulates a dataset. The truth parameters are drawn first from the
// seeded source, then rows are generated in order, so a given config is
// fully reproducible.
func New(cfg Config) (*Dataset, error) {
	if cfg.N <= 0 {
		return nil, fmt.Errorf("observation count must be positive, got %d", cfg.N)
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("feature dimension must be positive, got %d", cfg.Dim)
	}
	if cfg.Items <= 0 {
		return nil, fmt.Errorf("item count must be positive, got %d", cfg.Items)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}

	truth := drawTruth(cfg, normal)

	ds := &Dataset{
		Config:   cfg,
		Features: mat.NewDense(cfg.N, cfg.Dim, nil),
		Visits:   make([]bool, cfg.N),
		Choices:  make([][]bool, cfg.N),
		Truth:    truth,
	}

	x := make([]float64, cfg.Dim)
	for row := 0; row < cfg.N; row++ {
		for d := range x {
			x[d] = normal.Rand()
		}
		ds.Features.SetRow(row, x)

		ds.Choices[row] = make([]bool, cfg.Items)

		pVisit := mathx.Sigmoid(floats.Dot(truth.VisitWeight, x) + truth.VisitBias)
		visited := distuv.Bernoulli{P: pVisit, Src: rng}.Rand() == 1
		ds.Visits[row] = visited
		if !visited {
			continue
		}
		for item := 0; item < cfg.Items; item++ {
			p := mathx.Sigmoid(floats.Dot(truth.ChoiceWeight[item], x) + truth.ChoiceBias[item])
			ds.Choices[row][item] = distuv.Bernoulli{P: p, Src: rng}.Rand() == 1
		}
	}

	return ds, nil
}

func drawTruth(cfg Config, normal distuv.Normal) Truth {
	truth := Truth{
		VisitWeight:  make([]float64, cfg.Dim),
		ChoiceWeight: make([][]float64, cfg.Items),
		ChoiceBias:   make([]float64, cfg.Items),
	}
	for d := range truth.VisitWeight {
		truth.VisitWeight[d] = normal.Rand()
	}
	truth.VisitBias = normal.Rand()
	for item := range truth.ChoiceWeight {
		truth.ChoiceWeight[item] = make([]float64, cfg.Dim)
		for d := range truth.ChoiceWeight[item] {
			truth.ChoiceWeight[item][d] = normal.Rand()
		}
		truth.ChoiceBias[item] = normal.Rand()
	}
	return truth
}

// VisitRate returns the empirical fraction of rows that visited.
func (ds *Dataset) VisitRate() float64 {
	var visited int
	for _, v := range ds.Visits {
		if v {
			visited++
		}
	}
	return float64(visited) / float64(ds.N)
}

// ExpectedVisitRate returns the mean visit probability implied by the
// truth parameters over the realized features. The empirical VisitRate
// converges to this value as N grows.
func (ds *Dataset) ExpectedVisitRate() float64 {
	var sum float64
	x := make([]float64, ds.Dim)
	for row := 0; row < ds.N; row++ {
		mat.Row(x, row, ds.Features)
		sum += mathx.Sigmoid(floats.Dot(ds.Truth.VisitWeight, x) + ds.Truth.VisitBias)
	}
	return sum / float64(ds.N)
}

// ChoiceRates returns, per item, the empirical choice rate among rows
// that visited. All zeros if no row visited.
func (ds *Dataset) ChoiceRates() []float64 {
	rates := make([]float64, ds.Items)
	var visitors int
	for row, visited := range ds.Visits {
		if !visited {
			continue
		}
		visitors++
		for item, chosen := range ds.Choices[row] {
			if chosen {
				rates[item]++
			}
		}
	}
	if visitors == 0 {
		return rates
	}
	for item := range rates {
		rates[item] /= float64(visitors)
	}
	return rates
}

// Visitors returns the number of rows with a true visit outcome.
func (ds *Dataset) Visitors() int {
	var n int
	for _, v := range ds.Visits {
		if v {
			n++
		}
	}
	return n
}
