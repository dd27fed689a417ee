package frame

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Present returns the non-NaN values of a slice
func Present(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Mean returns the mean of the non-NaN values, NaN when there are none
func Mean(values []float64) float64 {
	p := Present(values)
	if len(p) == 0 {
		return math.NaN()
	}
	return stat.Mean(p, nil)
}

// PopStd returns the population standard deviation of the non-NaN values
func PopStd(values []float64) float64 {
	p := Present(values)
	if len(p) == 0 {
		return math.NaN()
	}
	_, std := stat.PopMeanStdDev(p, nil)
	return std
}

// SampleStd returns the sample standard deviation of the non-NaN values
func SampleStd(values []float64) float64 {
	p := Present(values)
	if len(p) < 2 {
		return math.NaN()
	}
	return stat.StdDev(p, nil)
}

// Quantile returns the q-th quantile (0..1) of the non-NaN values using linear
// interpolation between closest ranks.
func Quantile(values []float64, q float64) float64 {
	p := Present(values)
	if len(p) == 0 {
		return math.NaN()
	}
	sort.Float64s(p)
	return SortedQuantile(p, q)
}

// SortedQuantile is Quantile over values already sorted ascending without NaN
func SortedQuantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Median returns the median of the non-NaN values
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}
