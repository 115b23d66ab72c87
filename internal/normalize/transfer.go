package normalize

import "math"

// Kind selects a transfer function.
type Kind string

const (
	KindDistance Kind = "distance"
	KindCount    Kind = "count"
	KindRating   Kind = "rating"
	KindFlag     Kind = "flag"
)

// Distance is 100 at or below ideal, 0 at or beyond unacceptable and linear
// in between. It also serves travel times in minutes.
func Distance(v, ideal, unacceptable float64) float64 {
	switch {
	case v <= ideal:
		return 100
	case v >= unacceptable:
		return 0
	default:
		return 100 * (unacceptable - v) / (unacceptable - ideal)
	}
}

// Count rises linearly up to the saturation count and stays at 100 after.
func Count(v, saturation float64) float64 {
	if v <= 0 {
		return 0
	}
	return clamp(100 * v / saturation)
}

// Rating rescales a rating on [0, scale] to [0, 100].
func Rating(v, scale float64) float64 {
	return clamp(100 * v / scale)
}

// Flag maps a present (1) or absent (0) observation to 100 or 0.
func Flag(v float64) float64 {
	if v >= 0.5 {
		return 100
	}
	return 0
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
