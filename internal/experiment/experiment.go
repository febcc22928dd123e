// Package experiment drives the full comparison: simulate a dataset
// once, fit the requested model specifications against it with the same
// sampler settings, and collect posterior summaries next to ground
// truth.
package experiment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"maskfit/internal/choice"
	"maskfit/internal/hmc"
	"maskfit/internal/posterior"
	"maskfit/internal/simulate"
)

// Settings bundles everything a run needs.
type Settings struct {
	Data       simulate.Config
	Sampler    hmc.Config
	PriorScale float64

	// Trace, when set, receives per-transition sampler events.
	Trace hmc.Tracer
}

// Fit is the outcome of fitting one model specification.
type Fit struct {
	Spec        choice.Spec         `json:"spec"`
	Summaries   []posterior.Summary `json:"summaries"`
	AcceptRate  float64             `json:"accept_rate"`
	Divergences int                 `json:"divergences"`
	StepSize    float64             `json:"step_size"`
	Elapsed     time.Duration       `json:"elapsed_ns"`
	Result      *hmc.Result         `json:"-"`
}

// Report holds the shared dataset and every fit of a run.
type Report struct {
	Data *simulate.Dataset
	Fits []Fit
}

// Fit returns the fit for spec, nil if absent.
func (r *Report) Fit(spec choice.Spec) *Fit {
	for i := range r.Fits {
		if r.Fits[i].Spec == spec {
			return &r.Fits[i]
		}
	}
	return nil
}

// ChoiceError returns the mean absolute error of the posterior means
// over all choice-stage parameters for spec, NaN if the spec was not
// fitted.
func (r *Report) ChoiceError(spec choice.Spec) float64 {
	fit := r.Fit(spec)
	if fit == nil {
		return math.NaN()
	}
	var sum float64
	var n int
	for _, s := range fit.Summaries {
		if s.Group != choice.GroupChoiceWeight && s.Group != choice.GroupChoiceBias {
			continue
		}
		sum += math.Abs(s.Mean - s.Truth)
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Run simulates one dataset and fits each spec against it. Every fit
// reuses the same sampler config and seed, so the specs differ only in
// their likelihood. Any stage failing aborts the run with its cause.
func Run(ctx context.Context, st Settings, specs []choice.Spec, logger *slog.Logger) (*Report, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no model specs requested")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ds, err := simulate.New(st.Data)
	if err != nil {
		return nil, fmt.Errorf("simulating dataset: %w", err)
	}
	logger.Info("dataset simulated",
		"rows", ds.N,
		"dim", ds.Dim,
		"items", ds.Items,
		"seed", ds.Seed,
		"visit_rate", ds.VisitRate(),
	)

	layout := choice.Layout{Dim: ds.Dim, Items: ds.Items}
	truth := layout.FlattenTruth(ds.Truth)

	report := &Report{Data: ds}
	for _, spec := range specs {
		model, err := choice.New(spec, ds, st.PriorScale)
		if err != nil {
			return nil, fmt.Errorf("building %s model: %w", spec, err)
		}

		sampler := hmc.NewSampler(model, st.Sampler)
		sampler.Trace = st.Trace

		logger.Info("sampling", "spec", spec, "chains", st.Sampler.Chains,
			"warmup", st.Sampler.Warmup, "draws", st.Sampler.Draws)
		start := time.Now()
		res, err := sampler.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("sampling %s model: %w", spec, err)
		}
		elapsed := time.Since(start)

		summaries, err := posterior.Summarize(res, layout, truth)
		if err != nil {
			return nil, fmt.Errorf("summarizing %s fit: %w", spec, err)
		}

		fit := Fit{
			Spec:        spec,
			Summaries:   summaries,
			AcceptRate:  res.AcceptRate(),
			Divergences: res.Divergences(),
			StepSize:    res.StepSize(),
			Elapsed:     elapsed,
			Result:      res,
		}
		report.Fits = append(report.Fits, fit)

		maxRHat := posterior.MaxRHat(summaries)
		logger.Info("fit complete",
			"spec", spec,
			"accept_rate", fit.AcceptRate,
			"step_size", fit.StepSize,
			"max_rhat", maxRHat,
			"elapsed", elapsed,
		)
		if fit.Divergences > 0 {
			logger.Warn("divergent transitions", "spec", spec, "count", fit.Divergences)
		}
		if maxRHat > 1.05 {
			logger.Warn("chains may not have mixed", "spec", spec, "max_rhat", maxRHat)
		}
	}

	return report, nil
}
