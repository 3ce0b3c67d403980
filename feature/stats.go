package feature

import (
	"math"
	"math/cmplx"
	"slices"
)

// axisStats are the per-axis statistics, in layout order.
var axisStats = []string{
	"mean", "std", "min", "max", "range", "median",
	"skew", "kurtosis", "rms", "peak_count", "fft_max",
}

// magnitudeStats are computed over the vector magnitude of 3-axis channels.
var magnitudeStats = []string{"mean", "std", "max"}

// describe appends the axisStats of values to dst. An empty series contributes zeros.
func describe(dst []float64, values []float64) []float64 {
	n := len(values)
	if n == 0 {
		return append(dst, make([]float64, len(axisStats))...)
	}

	mean, std := meanStd(values)
	lo, hi := slices.Min(values), slices.Max(values)

	var sumSq float64
	for _, v := range values {
		sumSq += v * v
	}

	threshold := mean + 2*std
	peaks := 0
	for _, v := range values {
		if v > threshold {
			peaks++
		}
	}

	skew, kurt := moments(values, mean)

	return append(dst,
		mean,
		std,
		lo,
		hi,
		hi-lo,
		median(values),
		skew,
		kurt,
		math.Sqrt(sumSq/float64(n)),
		float64(peaks),
		fftMax(values),
	)
}

// meanStd returns the mean and the sample standard deviation (n-1 denominator).
func meanStd(values []float64) (float64, float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	if len(values) < 2 {
		return mean, 0
	}

	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// moments returns the biased skewness and excess kurtosis. A constant series yields 0, 0.
func moments(values []float64, mean float64) (float64, float64) {
	n := float64(len(values))
	var m2, m3, m4 float64
	for _, v := range values {
		d := v - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= n
	m3 /= n
	m4 /= n
	if m2 < 1e-24 {
		return 0, 0
	}
	return m3 / math.Pow(m2, 1.5), m4/(m2*m2) - 3
}

func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// fftMax is the largest DFT magnitude over the first n/2 bins, DC included.
// Series shorter than 3 samples yield 0.
func fftMax(values []float64) float64 {
	n := len(values)
	if n <= 2 {
		return 0
	}

	var best float64
	for k := 0; k < n/2; k++ {
		var sum complex128
		for t, v := range values {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			sum += complex(v, 0) * cmplx.Exp(complex(0, angle))
		}
		best = max(best, cmplx.Abs(sum))
	}
	return best
}
