package mathx

import "math"

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

// SnapFloat floors f to a block coordinate, shifts it by offset and snaps it
// down to a multiple of step.
func SnapFloat(f float64, step, offset int) int {
	return FloorDiv(int(math.Floor(f))+offset, step) * step
}

func ClampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
