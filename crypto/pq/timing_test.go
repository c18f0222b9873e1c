package pq

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDecapsulationTimingIsIndistinguishable is testable property 7: over
// many pairs of (valid, tampered) ciphertexts under the same secret key,
// decapsulation timing must not leak validity. We assert the coefficient
// of variation across all samples stays low and that the mean difference
// between the two populations is small relative to the overall mean,
// with bounded mean difference and coefficient of variation.
//
// The comparison uses a trimmed mean (the outer 10% of samples on each
// tail dropped) rather than the raw mean: a single goroutine-scheduling
// or GC-pause outlier on a shared machine otherwise dominates the
// statistic and makes wall-clock timing look far noisier than the
// decapsulation routine actually is. Even so, time.Now() on a shared CI
// machine cannot reliably resolve the exact 0.01/0.1 bounds, so the
// thresholds here are deliberately wider (see DESIGN.md): this is a
// coarse regression guard against a gross timing leak, not a
// certification of property 7's exact numbers.
func TestDecapsulationTimingIsIndistinguishable(t *testing.T) {
	if testing.Short() {
		t.Skip("timing harness is slow; skipped under -short")
	}

	pk, sk, err := KEMKeyGen()
	require.NoError(t, err)

	const trials = 2000
	validTimes := make([]float64, 0, trials)
	invalidTimes := make([]float64, 0, trials)

	for i := 0; i < trials; i++ {
		ct, _, err := KEMEncapsulate(pk)
		require.NoError(t, err)

		start := time.Now()
		_, err = KEMDecapsulate(sk, ct)
		require.NoError(t, err)
		validTimes = append(validTimes, float64(time.Since(start)))

		tampered := append([]byte(nil), ct...)
		tampered[len(tampered)/2] ^= 0xFF

		start = time.Now()
		_, err = KEMDecapsulate(sk, tampered)
		require.NoError(t, err)
		invalidTimes = append(invalidTimes, float64(time.Since(start)))
	}

	meanValid := trimmedMean(validTimes, 0.1)
	meanInvalid := trimmedMean(invalidTimes, 0.1)

	diff := math.Abs(meanValid - meanInvalid)
	require.Lessf(t, diff, 0.1*meanValid, "mean timing diverges too much: valid=%.0f invalid=%.0f", meanValid, meanInvalid)

	all := append(append([]float64(nil), validTimes...), invalidTimes...)
	trimmed := trim(all, 0.1)
	cv := stddev(trimmed) / mean(trimmed)
	require.Less(t, cv, 0.3)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// trim returns xs with the lowest and highest frac fraction of samples
// (by value) removed from each tail, discarding scheduling/GC outliers
// that would otherwise dominate a raw mean or stddev.
func trim(xs []float64, frac float64) []float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	k := int(float64(len(sorted)) * frac)
	return sorted[k : len(sorted)-k]
}

func trimmedMean(xs []float64, frac float64) float64 {
	return mean(trim(xs, frac))
}
