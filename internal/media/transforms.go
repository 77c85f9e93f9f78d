// Package media holds the saturation and lagging transforms applied to media
// series before they enter the regression, plus the deterministic trend and
// seasonality components of the model.
//
// All functions operate on one channel series at a time and never mutate
// their input.
package media

import (
	"math"
)

// DefaultCarryoverLags is the convolution window used by Carryover when the
// caller does not specify one.
const DefaultCarryoverLags = 13

// Adstock applies geometric decay: y[0] = x[0], y[t] = x[t] + lagWeight*y[t-1].
// With normalise the result is multiplied by (1 - lagWeight) so a constant
// input converges to itself.
func Adstock(x []float64, lagWeight float64, normalise bool) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	out[0] = x[0]
	for t := 1; t < len(x); t++ {
		out[t] = x[t] + lagWeight*out[t-1]
	}
	if normalise {
		for t := range out {
			out[t] *= 1 - lagWeight
		}
	}
	return out
}

// Hill applies the saturation curve x^s / (x^s + K^s) where K is the half max
// effective concentration and s the slope. Zero input maps to zero.
func Hill(x []float64, halfMaxEffectiveConcentration, slope float64) []float64 {
	out := make([]float64, len(x))
	for t, v := range x {
		ratio := exponentSafe(v/halfMaxEffectiveConcentration, -slope)
		if ratio == 0 {
			continue
		}
		out[t] = 1 / (1 + ratio)
	}
	return out
}

// Carryover convolves the series with weights w[l] = r^((l - delay)^2) for
// l in [0, lags), normalised to sum to one. Values before the first
// observation are treated as zero.
func Carryover(x []float64, retentionRate, peakEffectDelay float64, lags int) []float64 {
	if lags <= 0 {
		lags = DefaultCarryoverLags
	}
	weights := CarryoverWeights(retentionRate, peakEffectDelay, lags)
	out := make([]float64, len(x))
	for t := range x {
		var acc float64
		for l := 0; l < lags && l <= t; l++ {
			acc += weights[l] * x[t-l]
		}
		out[t] = acc
	}
	return out
}

// CarryoverWeights returns the normalised lag weights used by Carryover.
// A degenerate retention rate that zeroes every weight yields all zeros.
func CarryoverWeights(retentionRate, peakEffectDelay float64, lags int) []float64 {
	weights := make([]float64, lags)
	var total float64
	for l := range weights {
		d := float64(l) - peakEffectDelay
		weights[l] = math.Pow(retentionRate, d*d)
		total += weights[l]
	}
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return make([]float64, lags)
	}
	for l := range weights {
		weights[l] /= total
	}
	return weights
}

// ApplyExponentSafe raises every value to exponent, leaving zeros at zero so
// negative exponents never divide by zero.
func ApplyExponentSafe(x []float64, exponent float64) []float64 {
	out := make([]float64, len(x))
	for t, v := range x {
		out[t] = exponentSafe(v, exponent)
	}
	return out
}

func exponentSafe(v, exponent float64) float64 {
	if v == 0 {
		return 0
	}
	return math.Pow(v, exponent)
}
