// Package stats provides the population statistics shared by the detectors
// and the characterizer: mean, standard deviation, interpolated percentiles
// and column standardization. All helpers operate on plain float64 slices
// and never mutate their input.
package stats

import "math"

// Summary holds the population moments of a single feature column.
type Summary struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	Count  int
}

// Summarize computes population mean and standard deviation (divisor n,
// not n-1: the region set is the whole population, not a sample).
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sum := 0.0
	min := values[0]
	max := values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return Summary{
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Min:    min,
		Max:    max,
		Count:  len(values),
	}
}

// Percentile returns the p-th percentile (0-100) of values using linear
// interpolation between closest ranks. Works on a sorted copy; the input
// slice is left untouched.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := sortedCopy(values)
	return percentileSorted(sorted, p)
}

// percentileSorted assumes ascending order.
func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi || hi >= len(sorted) {
		return sorted[lo]
	}
	w := rank - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

// Standardize maps values to zero mean and unit variance. A zero-variance
// column standardizes to all zeros rather than dividing by zero.
func Standardize(values []float64) []float64 {
	out := make([]float64, len(values))
	s := Summarize(values)
	if s.StdDev == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - s.Mean) / s.StdDev
	}
	return out
}

// sortedCopy insertion-sorts a copy of values. Region populations are tens
// of rows, so the quadratic sort is not a concern.
func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted
}
