package mathx

import (
	"math"
	"testing"
)

func TestSigmoid(t *testing.T) {
	tests := []struct {
		name string
		z    float64
		want float64
	}{
		{"zero", 0, 0.5},
		{"positive", 2, 1 / (1 + math.Exp(-2))},
		{"negative", -2, math.Exp(-2) / (1 + math.Exp(-2))},
		{"large positive saturates", 800, 1},
		{"large negative saturates", -800, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sigmoid(tt.z)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Sigmoid(%v) = %v, want %v", tt.z, got, tt.want)
			}
		})
	}
}

func TestSigmoidFinite(t *testing.T) {
	for _, z := range []float64{-1e6, -1, 0, 1, 1e6} {
		got := Sigmoid(z)
		if math.IsNaN(got) || got < 0 || got > 1 {
			t.Errorf("Sigmoid(%v) = %v, want value in [0,1]", z, got)
		}
	}
}

func TestSigmoidSymmetry(t *testing.T) {
	// sigmoid(z) + sigmoid(-z) = 1
	for _, z := range []float64{0.1, 1, 3, 7, 20} {
		sum := Sigmoid(z) + Sigmoid(-z)
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("Sigmoid(%v)+Sigmoid(-%v) = %v, want 1", z, z, sum)
		}
	}
}

func TestLog1pExp(t *testing.T) {
	tests := []struct {
		name string
		z    float64
		want float64
	}{
		{"zero", 0, math.Log(2)},
		{"moderate positive", 3, math.Log(1 + math.Exp(3))},
		{"moderate negative", -3, math.Log(1 + math.Exp(-3))},
		{"very negative vanishes", -800, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Log1pExp(tt.z)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Log1pExp(%v) = %v, want %v", tt.z, got, tt.want)
			}
		})
	}
}

func TestLog1pExpLargeArgument(t *testing.T) {
	// For large z the naive formula overflows; the stable one returns ~z.
	got := Log1pExp(800)
	if math.IsInf(got, 0) || math.Abs(got-800) > 1e-9 {
		t.Errorf("Log1pExp(800) = %v, want ~800", got)
	}
}

func TestBernoulliLogitIdentity(t *testing.T) {
	// log pmf of Bernoulli(sigmoid(z)) at y is y*z - log(1+exp(z)).
	// Cross-check against direct evaluation in the safe range.
	for _, z := range []float64{-5, -0.5, 0, 0.5, 5} {
		for _, y := range []float64{0, 1} {
			direct := y*math.Log(Sigmoid(z)) + (1-y)*math.Log(1-Sigmoid(z))
			stable := y*z - Log1pExp(z)
			if math.Abs(direct-stable) > 1e-9 {
				t.Errorf("z=%v y=%v: direct %v vs stable %v", z, y, direct, stable)
			}
		}
	}
}
