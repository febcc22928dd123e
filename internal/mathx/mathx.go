// Package mathx provides the numerically stable logistic primitives
// shared by the data simulator and the likelihood code.
package mathx

import "math"

// Sigmoid returns 1/(1+exp(-z)) without overflow for large |z|.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// Log1pExp returns log(1+exp(z)) without overflow for large z.
// This is the normalizer of the Bernoulli-logit log-pmf.
func Log1pExp(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
