// Package choice defines the two competing model specifications for the
// two-stage Bernoulli choice process. Both share the same generative
// story and priors; they differ only in whether the choice-stage
// likelihood is gated by the visit outcome. The naive spec scores every
// choice row, placeholder or not, and so misattributes likelihood mass
// to rows that were never observed. The masked spec multiplies each
// row's choice-stage log-pmf by its visit indicator, excluding
// placeholders from scoring without removing them from the data.
package choice

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"maskfit/internal/mathx"
	"maskfit/internal/simulate"
)

// Spec names a model specification.
type Spec string

const (
	// SpecNaive scores the choice stage for every row unconditionally.
	SpecNaive Spec = "naive"
	// SpecMasked gates each row's choice-stage likelihood by its visit
	// outcome, so placeholder rows contribute nothing.
	SpecMasked Spec = "masked"
)

// ParseSpec maps a string to a Spec.
func ParseSpec(s string) (Spec, error) {
	switch Spec(s) {
	case SpecNaive:
		return SpecNaive, nil
	case SpecMasked:
		return SpecMasked, nil
	default:
		return "", fmt.Errorf("unknown model spec %q, want %q or %q", s, SpecNaive, SpecMasked)
	}
}

// ParamGroup identifies one block of the parameter vector. Groups are
// shared by simulation, inference, and reporting so samples can be
// compared against truth without string parsing.
type ParamGroup string

const (
	GroupVisitWeight  ParamGroup = "visit_weight"
	GroupVisitBias    ParamGroup = "visit_bias"
	GroupChoiceWeight ParamGroup = "choice_weight"
	GroupChoiceBias   ParamGroup = "choice_bias"
)

// Layout fixes the flat parameter-vector order:
// visit weights (Dim), visit bias (1), choice weights (Items x Dim,
// row-major), choice biases (Items).
type Layout struct {
	Dim   int
	Items int
}

// Len returns the flat parameter count.
func (l Layout) Len() int {
	return l.Dim + 1 + l.Items*l.Dim + l.Items
}

func (l Layout) choiceWeightOffset() int { return l.Dim + 1 }
func (l Layout) choiceBiasOffset() int   { return l.Dim + 1 + l.Items*l.Dim }

// Names returns a display name per flat index.
func (l Layout) Names() []string {
	names := make([]string, 0, l.Len())
	for d := 0; d < l.Dim; d++ {
		names = append(names, fmt.Sprintf("visit_weight[%d]", d))
	}
	names = append(names, "visit_bias")
	for item := 0; item < l.Items; item++ {
		for d := 0; d < l.Dim; d++ {
			names = append(names, fmt.Sprintf("choice_weight[%d][%d]", item, d))
		}
	}
	for item := 0; item < l.Items; item++ {
		names = append(names, fmt.Sprintf("choice_bias[%d]", item))
	}
	return names
}

// Groups returns the parameter group per flat index.
func (l Layout) Groups() []ParamGroup {
	groups := make([]ParamGroup, 0, l.Len())
	for d := 0; d < l.Dim; d++ {
		groups = append(groups, GroupVisitWeight)
	}
	groups = append(groups, GroupVisitBias)
	for i := 0; i < l.Items*l.Dim; i++ {
		groups = append(groups, GroupChoiceWeight)
	}
	for item := 0; item < l.Items; item++ {
		groups = append(groups, GroupChoiceBias)
	}
	return groups
}

// FlattenTruth places truth parameters into the flat layout order.
// Panics if the truth shape disagrees with the layout.
func (l Layout) FlattenTruth(t simulate.Truth) []float64 {
	if len(t.VisitWeight) != l.Dim || len(t.ChoiceWeight) != l.Items || len(t.ChoiceBias) != l.Items {
		panic("choice: truth shape does not match layout")
	}
	flat := make([]float64, 0, l.Len())
	flat = append(flat, t.VisitWeight...)
	flat = append(flat, t.VisitBias)
	for _, w := range t.ChoiceWeight {
		if len(w) != l.Dim {
			panic("choice: truth shape does not match layout")
		}
		flat = append(flat, w...)
	}
	flat = append(flat, t.ChoiceBias...)
	return flat
}

// Model is a differentiable joint log density over the flat parameter
// vector, ready for gradient-based sampling. Safe for concurrent use:
// LogDensity touches only read-only state.
type Model struct {
	spec       Spec
	layout     Layout
	priorScale float64

	n  int
	x  *mat.Dense // N x Dim features
	y0 []float64  // visit outcomes as 0/1; doubles as the mask
	y1 *mat.Dense // N x Items choice outcomes as 0/1
}

// New builds a model over the dataset. Shape disagreement between the
// dataset pieces is an error and aborts the run.
func New(spec Spec, ds *simulate.Dataset, priorScale float64) (*Model, error) {
	if spec != SpecNaive && spec != SpecMasked {
		return nil, fmt.Errorf("unknown model spec %q", spec)
	}
	if ds == nil {
		return nil, fmt.Errorf("nil dataset")
	}
	if priorScale <= 0 {
		return nil, fmt.Errorf("prior scale must be positive, got %v", priorScale)
	}

	rows, cols := ds.Features.Dims()
	if rows != ds.N || cols != ds.Dim {
		return nil, fmt.Errorf("feature matrix is %dx%d, config says %dx%d", rows, cols, ds.N, ds.Dim)
	}
	if len(ds.Visits) != ds.N {
		return nil, fmt.Errorf("visit vector has %d rows, config says %d", len(ds.Visits), ds.N)
	}
	if len(ds.Choices) != ds.N {
		return nil, fmt.Errorf("choice matrix has %d rows, config says %d", len(ds.Choices), ds.N)
	}

	m := &Model{
		spec:       spec,
		layout:     Layout{Dim: ds.Dim, Items: ds.Items},
		priorScale: priorScale,
		n:          ds.N,
		x:          ds.Features,
		y0:         make([]float64, ds.N),
		y1:         mat.NewDense(ds.N, ds.Items, nil),
	}
	for row, visited := range ds.Visits {
		if visited {
			m.y0[row] = 1
		}
		if len(ds.Choices[row]) != ds.Items {
			return nil, fmt.Errorf("choice row %d has %d items, config says %d", row, len(ds.Choices[row]), ds.Items)
		}
		for item, chosen := range ds.Choices[row] {
			if chosen {
				m.y1.Set(row, item, 1)
			}
		}
	}
	return m, nil
}

// Spec returns the model's specification.
func (m *Model) Spec() Spec { return m.spec }

// Layout returns the flat parameter layout.
func (m *Model) Layout() Layout { return m.layout }

// Dim returns the flat parameter count.
func (m *Model) Dim() int { return m.layout.Len() }

// LogDensity returns the joint log posterior density at params, up to an
// additive constant, and fills grad with its gradient. Both slices must
// have length Dim; the call panics otherwise.
//
// The density is the N(0, priorScale^2) prior over every parameter, the
// visit-stage Bernoulli-logit log-pmf over every row, and the
// choice-stage log-pmf per row and item. Under SpecMasked each row's
// choice term is multiplied by its visit indicator, so placeholder rows
// with arbitrary choice values leave the density unchanged. Under
// SpecNaive every row's choice term is scored as if observed.
func (m *Model) LogDensity(params, grad []float64) float64 {
	dim := m.layout.Len()
	if len(params) != dim || len(grad) != dim {
		panic("choice: parameter length mismatch")
	}

	lp := 0.0
	invVar := 1 / (m.priorScale * m.priorScale)
	for i, p := range params {
		lp -= 0.5 * p * p * invVar
		grad[i] = -p * invVar
	}

	d := m.layout.Dim
	items := m.layout.Items
	cwOff := m.layout.choiceWeightOffset()
	cbOff := m.layout.choiceBiasOffset()

	visitWeight := params[:d]
	visitBias := params[d]
	gradVisitWeight := grad[:d]

	for row := 0; row < m.n; row++ {
		x := m.x.RawRowView(row)
		y0 := m.y0[row]

		z := floats.Dot(visitWeight, x) + visitBias
		lp += y0*z - mathx.Log1pExp(z)
		r := y0 - mathx.Sigmoid(z)
		for j, xv := range x {
			gradVisitWeight[j] += r * xv
		}
		grad[d] += r

		gate := 1.0
		if m.spec == SpecMasked {
			gate = y0
		}
		if gate == 0 {
			continue
		}

		y1 := m.y1.RawRowView(row)
		for item := 0; item < items; item++ {
			w := params[cwOff+item*d : cwOff+(item+1)*d]
			z := floats.Dot(w, x) + params[cbOff+item]
			lp += gate * (y1[item]*z - mathx.Log1pExp(z))
			r := gate * (y1[item] - mathx.Sigmoid(z))
			gw := grad[cwOff+item*d : cwOff+(item+1)*d]
			for j, xv := range x {
				gw[j] += r * xv
			}
			grad[cbOff+item] += r
		}
	}

	return lp
}
