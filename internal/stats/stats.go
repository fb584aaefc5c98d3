// Package stats holds the numeric helpers used by the aggregation pipeline:
// linear-interpolated percentiles, the IQR outlier fence and population moments.
package stats

import (
	"math"
	"sort"
)

// DefaultFenceK is the Tukey multiplier applied to the interquartile range.
const DefaultFenceK = 1.5

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between closest ranks. values does not need to be sorted.
// It returns NaN for an empty slice.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[n-1]
	}
	h := (p / 100) * float64(n-1)
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// IQRFence returns the inclusive [lower, upper] bounds Q1-k*IQR and Q3+k*IQR.
func IQRFence(values []float64, k float64) (lower, upper float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q1 := percentileSorted(sorted, 25)
	q3 := percentileSorted(sorted, 75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

// FilterOutliers keeps the items whose value lies inside the IQR fence.
// Inputs with fewer than two items are returned unchanged. Order is preserved.
func FilterOutliers[T any](items []T, value func(T) float64) []T {
	if len(items) < 2 {
		return items
	}
	values := make([]float64, len(items))
	for i, it := range items {
		values[i] = value(it)
	}
	lower, upper := IQRFence(values, DefaultFenceK)
	kept := make([]T, 0, len(items))
	for i, it := range items {
		if values[i] >= lower && values[i] <= upper {
			kept = append(kept, it)
		}
	}
	return kept
}

// MinStdDevSurvivors is how many items FilterOutliersStdDev keeps at least,
// capped by the input size.
const MinStdDevSurvivors = 3

const stdDevStep = 0.5

// FilterOutliersStdDev keeps the items within mean ± m·σ (population σ). m
// starts at 1 and rises by 0.5 until at least min(MinStdDevSurvivors, len(items))
// items survive. Inputs with fewer than two items, zero spread or non-finite
// moments are returned unchanged. Order is preserved.
func FilterOutliersStdDev[T any](items []T, value func(T) float64) []T {
	if len(items) < 2 {
		return items
	}
	values := make([]float64, len(items))
	for i, it := range items {
		values[i] = value(it)
	}
	mean := Mean(values)
	sd := PopulationStdDev(values)
	if sd == 0 || !IsFinite(mean) || !IsFinite(sd) {
		return items
	}

	want := min(MinStdDevSurvivors, len(items))
	for m := 1.0; ; m += stdDevStep {
		lower, upper := mean-m*sd, mean+m*sd
		kept := make([]T, 0, len(items))
		for i, it := range items {
			if values[i] >= lower && values[i] <= upper {
				kept = append(kept, it)
			}
		}
		if len(kept) >= want {
			return kept
		}
	}
}

// Mean returns the arithmetic mean, or NaN for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PopulationVariance divides by n, not n-1.
func PopulationVariance(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	m := Mean(values)
	var acc float64
	for _, v := range values {
		d := v - m
		acc += d * d
	}
	return acc / float64(len(values))
}

// PopulationStdDev is the square root of PopulationVariance.
func PopulationStdDev(values []float64) float64 {
	return math.Sqrt(PopulationVariance(values))
}

// WeightedMean returns sum(v*w)/sum(w). ok is false when the slices differ in
// length, are empty, or the weights sum to zero.
func WeightedMean(values, weights []float64) (mean float64, ok bool) {
	if len(values) == 0 || len(values) != len(weights) {
		return 0, false
	}
	var num, den float64
	for i := range values {
		num += values[i] * weights[i]
		den += weights[i]
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// IsFinite reports whether f is neither NaN nor ±Inf.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
