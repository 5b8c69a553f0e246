package vectorindex

import (
	"fmt"
	"math"

	"github.com/aifs-project/aifs/model"
)

// distanceFunc computes the internal distance between two equal-length
// vectors. Lower is better; similarity metrics are negated. Length checks
// happen at graph entry, not per call.
type distanceFunc func(a, b []float32) float32

func distanceFor(metric model.Metric) (distanceFunc, error) {
	switch metric {
	case model.MetricCosine:
		return cosineDistance, nil
	case model.MetricEuclidean:
		return euclideanDistance, nil
	case model.MetricDot:
		return negatedDot, nil
	case model.MetricManhattan:
		return manhattanDistance, nil
	case model.MetricHamming:
		return hammingDistance, nil
	default:
		return nil, fmt.Errorf("unsupported distance metric %q", metric)
	}
}

// score converts an internal distance back to the user-facing score of the
// metric: similarity metrics report similarity, distance metrics report
// distance.
func score(metric model.Metric, dist float32) float32 {
	if metric == model.MetricDot {
		return -dist
	}
	return dist
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func negatedDot(a, b []float32) float32 {
	return -dot(a, b)
}

func cosineDistance(a, b []float32) float32 {
	var ab, aa, bb float32
	for i := range a {
		ab += a[i] * b[i]
		aa += a[i] * a[i]
		bb += b[i] * b[i]
	}
	if aa == 0 || bb == 0 {
		return 1
	}
	return 1 - ab/float32(math.Sqrt(float64(aa)*float64(bb)))
}

func euclideanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func manhattanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

func hammingDistance(a, b []float32) float32 {
	var diff float32
	for i := range a {
		if a[i] != b[i] {
			diff++
		}
	}
	return diff
}
