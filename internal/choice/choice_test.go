package choice

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"

	"maskfit/internal/simulate"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Spec
		wantErr bool
	}{
		{"naive", "naive", SpecNaive, false},
		{"masked", "masked", SpecMasked, false},
		{"unknown", "bayesian", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpec(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseSpec(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSpec(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseSpec(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLayoutLen(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
		want   int
	}{
		{"reference scenario", Layout{Dim: 3, Items: 2}, 3 + 1 + 6 + 2},
		{"single item", Layout{Dim: 2, Items: 1}, 2 + 1 + 2 + 1},
		{"one feature", Layout{Dim: 1, Items: 3}, 1 + 1 + 3 + 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.layout.Len(); got != tt.want {
				t.Errorf("Len() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLayoutNamesAndGroups(t *testing.T) {
	layout := Layout{Dim: 2, Items: 2}

	wantNames := []string{
		"visit_weight[0]", "visit_weight[1]",
		"visit_bias",
		"choice_weight[0][0]", "choice_weight[0][1]",
		"choice_weight[1][0]", "choice_weight[1][1]",
		"choice_bias[0]", "choice_bias[1]",
	}
	if diff := cmp.Diff(wantNames, layout.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	wantGroups := []ParamGroup{
		GroupVisitWeight, GroupVisitWeight,
		GroupVisitBias,
		GroupChoiceWeight, GroupChoiceWeight, GroupChoiceWeight, GroupChoiceWeight,
		GroupChoiceBias, GroupChoiceBias,
	}
	if diff := cmp.Diff(wantGroups, layout.Groups()); diff != "" {
		t.Errorf("Groups() mismatch (-want +got):\n%s", diff)
	}

	if len(layout.Names()) != layout.Len() || len(layout.Groups()) != layout.Len() {
		t.Error("Names and Groups must cover every flat index")
	}
}

func TestFlattenTruth(t *testing.T) {
	layout := Layout{Dim: 2, Items: 2}
	truth := simulate.Truth{
		VisitWeight:  []float64{1, 2},
		VisitBias:    3,
		ChoiceWeight: [][]float64{{4, 5}, {6, 7}},
		ChoiceBias:   []float64{8, 9},
	}

	want := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if diff := cmp.Diff(want, layout.FlattenTruth(truth)); diff != "" {
		t.Errorf("FlattenTruth mismatch (-want +got):\n%s", diff)
	}
}

func TestFlattenTruthShapeMismatch(t *testing.T) {
	layout := Layout{Dim: 3, Items: 2}
	truth := simulate.Truth{
		VisitWeight:  []float64{1, 2},
		ChoiceWeight: [][]float64{{1}, {2}},
		ChoiceBias:   []float64{0, 0},
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on truth shape mismatch")
		}
	}()
	layout.FlattenTruth(truth)
}

// pairedDatasets returns two datasets identical except for the choice
// placeholder values of the non-visitor rows.
func pairedDatasets() (*simulate.Dataset, *simulate.Dataset) {
	cfg := simulate.Config{N: 4, Dim: 2, Items: 2}
	features := mat.NewDense(4, 2, []float64{
		0.5, -1.0,
		1.5, 0.25,
		-0.75, 0.5,
		0.1, 2.0,
	})
	visits := []bool{true, false, true, false}

	a := &simulate.Dataset{
		Config:   cfg,
		Features: features,
		Visits:   visits,
		Choices: [][]bool{
			{true, false},
			{false, false},
			{true, true},
			{false, false},
		},
	}
	b := &simulate.Dataset{
		Config:   cfg,
		Features: features,
		Visits:   visits,
		Choices: [][]bool{
			{true, false},
			{true, true},
			{true, true},
			{false, true},
		},
	}
	return a, b
}

func testParams(dim int) []float64 {
	params := make([]float64, dim)
	for i := range params {
		params[i] = 0.4 * math.Sin(float64(i+1))
	}
	return params
}

func TestMaskedIgnoresPlaceholderValues(t *testing.T) {
	a, b := pairedDatasets()

	ma, err := New(SpecMasked, a, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mb, err := New(SpecMasked, b, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := testParams(ma.Dim())
	gradA := make([]float64, ma.Dim())
	gradB := make([]float64, mb.Dim())

	lpA := ma.LogDensity(params, gradA)
	lpB := mb.LogDensity(params, gradB)

	if lpA != lpB {
		t.Errorf("masked density changed with placeholder values: %v vs %v", lpA, lpB)
	}
	if diff := cmp.Diff(gradA, gradB); diff != "" {
		t.Errorf("masked gradient changed with placeholder values (-a +b):\n%s", diff)
	}
}

func TestNaiveScoresPlaceholderValues(t *testing.T) {
	a, b := pairedDatasets()

	ma, err := New(SpecNaive, a, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mb, err := New(SpecNaive, b, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := testParams(ma.Dim())
	grad := make([]float64, ma.Dim())

	lpA := ma.LogDensity(params, grad)
	lpB := mb.LogDensity(params, grad)

	if lpA == lpB {
		t.Error("naive density must react to placeholder values, got identical densities")
	}
}

func TestSpecsAgreeWhenEveryRowVisits(t *testing.T) {
	ds, err := simulate.New(simulate.Config{N: 60, Dim: 2, Items: 2, Seed: 11})
	if err != nil {
		t.Fatalf("simulate.New: %v", err)
	}
	// With every row observed the gate is always open and the specs
	// coincide. Placeholders become genuine no-choice observations.
	for row := range ds.Visits {
		ds.Visits[row] = true
	}

	naive, err := New(SpecNaive, ds, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	masked, err := New(SpecMasked, ds, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := testParams(naive.Dim())
	gradN := make([]float64, naive.Dim())
	gradM := make([]float64, masked.Dim())

	lpN := naive.LogDensity(params, gradN)
	lpM := masked.LogDensity(params, gradM)

	if lpN != lpM {
		t.Errorf("densities differ with all rows visiting: %v vs %v", lpN, lpM)
	}
	if diff := cmp.Diff(gradN, gradM); diff != "" {
		t.Errorf("gradients differ with all rows visiting (-naive +masked):\n%s", diff)
	}
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	ds, err := simulate.New(simulate.Config{N: 40, Dim: 2, Items: 2, Seed: 3})
	if err != nil {
		t.Fatalf("simulate.New: %v", err)
	}

	for _, spec := range []Spec{SpecNaive, SpecMasked} {
		t.Run(string(spec), func(t *testing.T) {
			m, err := New(spec, ds, 10)
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			dim := m.Dim()
			params := testParams(dim)
			grad := make([]float64, dim)
			m.LogDensity(params, grad)

			const h = 1e-5
			scratch := make([]float64, dim)
			for i := 0; i < dim; i++ {
				orig := params[i]
				params[i] = orig + h
				fp := m.LogDensity(params, scratch)
				params[i] = orig - h
				fm := m.LogDensity(params, scratch)
				params[i] = orig

				numeric := (fp - fm) / (2 * h)
				tol := 1e-6 * math.Max(1, math.Abs(grad[i]))
				if math.Abs(numeric-grad[i]) > tol {
					t.Errorf("param %d: analytic %v, numeric %v", i, grad[i], numeric)
				}
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	ds, err := simulate.New(simulate.Config{N: 10, Dim: 2, Items: 2, Seed: 1})
	if err != nil {
		t.Fatalf("simulate.New: %v", err)
	}

	t.Run("unknown spec", func(t *testing.T) {
		if _, err := New(Spec("other"), ds, 10); err == nil {
			t.Error("expected error for unknown spec")
		}
	})

	t.Run("nil dataset", func(t *testing.T) {
		if _, err := New(SpecMasked, nil, 10); err == nil {
			t.Error("expected error for nil dataset")
		}
	})

	t.Run("non-positive prior scale", func(t *testing.T) {
		if _, err := New(SpecMasked, ds, 0); err == nil {
			t.Error("expected error for zero prior scale")
		}
	})

	t.Run("visit length mismatch", func(t *testing.T) {
		broken := *ds
		broken.Visits = ds.Visits[:5]
		if _, err := New(SpecMasked, &broken, 10); err == nil {
			t.Error("expected error for visit length mismatch")
		}
	})

	t.Run("ragged choice row", func(t *testing.T) {
		broken := *ds
		broken.Choices = make([][]bool, len(ds.Choices))
		copy(broken.Choices, ds.Choices)
		broken.Choices[3] = []bool{true}
		if _, err := New(SpecMasked, &broken, 10); err == nil {
			t.Error("expected error for ragged choice row")
		}
	})
}

func TestLogDensityPanicsOnLengthMismatch(t *testing.T) {
	ds, err := simulate.New(simulate.Config{N: 10, Dim: 2, Items: 1, Seed: 1})
	if err != nil {
		t.Fatalf("simulate.New: %v", err)
	}
	m, err := New(SpecMasked, ds, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on short parameter vector")
		}
	}()
	m.LogDensity(make([]float64, 2), make([]float64, 2))
}
