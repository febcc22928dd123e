package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"maskfit/internal/choice"
	"maskfit/internal/experiment"
	"maskfit/internal/hmc"
	"maskfit/internal/posterior"
	"maskfit/internal/simulate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSettings() experiment.Settings {
	return experiment.Settings{
		Data:       simulate.Config{N: 500, Dim: 2, Items: 1, Seed: 7},
		Sampler:    hmc.Config{Chains: 2, Warmup: 100, Draws: 200, MaxLeapfrog: 16, TargetAccept: 0.8, Seed: 3},
		PriorScale: 10,
	}
}

func sampleFit() experiment.Fit {
	return experiment.Fit{
		Spec: choice.SpecMasked,
		Summaries: []posterior.Summary{
			{Name: "visit_weight[0]", Group: choice.GroupVisitWeight, Truth: 0.5, Mean: 0.48, SD: 0.1, Q025: 0.3, Q975: 0.7, RHat: 1.01},
			{Name: "visit_weight[1]", Group: choice.GroupVisitWeight, Truth: -0.2, Mean: -0.25, SD: 0.12, Q025: -0.5, Q975: 0.0, RHat: 1.02},
			{Name: "visit_bias", Group: choice.GroupVisitBias, Truth: 0.1, Mean: 0.09, SD: 0.08, Q025: -0.05, Q975: 0.25, RHat: math.NaN()},
		},
		AcceptRate:  0.87,
		Divergences: 1,
		StepSize:    0.21,
		Elapsed:     1500 * time.Millisecond,
	}
}

func TestOpenCreatesDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "archive")
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, "maskfit.db")); err != nil {
		t.Errorf("expected database file to exist: %v", err)
	}
}

func TestSaveFitAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	st := sampleSettings()
	fit := sampleFit()

	id, err := s.SaveFit(ctx, st, fit)
	if err != nil {
		t.Fatalf("failed to save fit: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty run ID")
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if run.ID != id {
		t.Errorf("expected ID %s, got %s", id, run.ID)
	}
	if run.Spec != choice.SpecMasked {
		t.Errorf("expected spec masked, got %s", run.Spec)
	}
	if run.Data != st.Data {
		t.Errorf("expected data config %+v, got %+v", st.Data, run.Data)
	}
	if run.Chains != 2 || run.Warmup != 100 || run.Draws != 200 {
		t.Errorf("unexpected sampler settings: %+v", run)
	}
	if run.SamplerSeed != 3 {
		t.Errorf("expected sampler seed 3, got %d", run.SamplerSeed)
	}
	if run.PriorScale != 10 {
		t.Errorf("expected prior scale 10, got %g", run.PriorScale)
	}
	if run.AcceptRate != 0.87 || run.Divergences != 1 || run.StepSize != 0.21 {
		t.Errorf("unexpected sampler outcome: %+v", run)
	}
	if run.Elapsed != 1500*time.Millisecond {
		t.Errorf("expected elapsed 1.5s, got %v", run.Elapsed)
	}
	if run.CreatedAt.IsZero() {
		t.Error("expected non-zero creation time")
	}
	if got, want := run.MaxRHat, 1.02; got != want {
		t.Errorf("expected max rhat %g, got %g", want, got)
	}
	if diff := cmp.Diff(fit.Summaries, run.Params, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "deadbeef")
	if err == nil {
		t.Fatal("expected error for unknown run ID")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	st := sampleSettings()

	first, err := s.SaveFit(ctx, st, sampleFit())
	if err != nil {
		t.Fatalf("failed to save first fit: %v", err)
	}
	second, err := s.SaveFit(ctx, st, experiment.Fit{Spec: choice.SpecNaive, AcceptRate: 0.9})
	if err != nil {
		t.Fatalf("failed to save second fit: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct run IDs")
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second {
		t.Errorf("expected newest run first, got %s", runs[0].ID)
	}
	if runs[1].ID != first {
		t.Errorf("expected oldest run last, got %s", runs[1].ID)
	}
	for _, run := range runs {
		if len(run.Params) != 0 {
			t.Errorf("expected listing without params, got %d", len(run.Params))
		}
	}
}

func TestListRuns_Empty(t *testing.T) {
	s := newTestStore(t)

	runs, err := s.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}

func TestMaxRHatNullRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fit := sampleFit()
	for i := range fit.Summaries {
		fit.Summaries[i].RHat = math.NaN()
	}
	id, err := s.SaveFit(ctx, sampleSettings(), fit)
	if err != nil {
		t.Fatalf("failed to save fit: %v", err)
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if !math.IsNaN(run.MaxRHat) {
		t.Errorf("expected NaN max rhat, got %g", run.MaxRHat)
	}
	for _, p := range run.Params {
		if !math.IsNaN(p.RHat) {
			t.Errorf("expected NaN rhat for %s, got %g", p.Name, p.RHat)
		}
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	id, err := s.SaveFit(context.Background(), sampleSettings(), sampleFit())
	if err != nil {
		t.Fatalf("failed to save fit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	run, err := s.GetRun(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get run after reopen: %v", err)
	}
	if len(run.Params) != 3 {
		t.Errorf("expected 3 params after reopen, got %d", len(run.Params))
	}
}

func TestSchemaVersion(t *testing.T) {
	s := newTestStore(t)

	version, err := getSchemaVersion(context.Background(), s.db)
	if err != nil {
		t.Fatalf("failed to read schema version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, version)
	}
}

func TestValidateIntegrity(t *testing.T) {
	s := newTestStore(t)

	if err := ValidateIntegrity(context.Background(), s.db); err != nil {
		t.Errorf("expected intact database, got %v", err)
	}
}
