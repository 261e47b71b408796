// Package stats computes fairness and concentration metrics over a vector of
// per-entity totals (one value per custodian, per period).
//
// Every function is pure and total: degenerate inputs (empty, all-zero,
// all-identical) produce a documented neutral value instead of NaN or Inf.
// Inputs are never mutated.
package stats

import (
	"math"
	"slices"
)

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// StdDev returns the population standard deviation (divisor n).
// Returns 0 for an empty slice.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// relativeEpsilon bounds the rounding noise left in a deviation computed
// over identical values.
const relativeEpsilon = 1e-12

// ZScores returns (x - mean) / stddev for each value.
// When every value is identical all scores are 0, even if rounding in the
// mean leaves a non-zero deviation.
func ZScores(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || allEqual(values) {
		return out
	}

	mean := Mean(values)
	sd := StdDev(values)
	if sd <= relativeEpsilon*math.Max(math.Abs(mean), 1) {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / sd
	}
	return out
}

func allEqual(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// sortedCopy returns an ascending copy of values.
func sortedCopy(values []float64) []float64 {
	cp := slices.Clone(values)
	slices.Sort(cp)
	return cp
}
