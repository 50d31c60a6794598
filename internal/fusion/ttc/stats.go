package ttc

import (
	"fmt"
	"math"
	"sort"
)

// machineEpsilon matches the double-precision epsilon (2^-52).
var machineEpsilon = math.Nextafter(1, 2) - 1

// Median returns the median of values without modifying them. For an even
// count it is the mean of the two middle values. ok is false for an empty
// slice.
func Median(values []float64) (median float64, ok bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := n / 2
	if n%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2.0, true
	}
	return sorted[mid], true
}

// frameInterval converts a frame rate to the time between frames.
func frameInterval(frameRate float64) (float64, error) {
	if frameRate <= 0 || math.IsNaN(frameRate) || math.IsInf(frameRate, 0) {
		return 0, fmt.Errorf("frame rate must be positive and finite, got %g", frameRate)
	}
	return 1.0 / frameRate, nil
}
