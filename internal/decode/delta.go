package decode

// CumSum decodes a delta coded array. The running sum starts at zero and
// follows the order of deltas.
func CumSum(deltas []int64) []int64 {
	values := make([]int64, len(deltas))
	var acc int64
	for i, d := range deltas {
		acc += d
		values[i] = acc
	}
	return values
}

// Delta is the inverse of CumSum
func Delta(values []int64) []int64 {
	deltas := make([]int64, len(values))
	var prev int64
	for i, v := range values {
		deltas[i] = v - prev
		prev = v
	}
	return deltas
}

// coord converts a delta decoded coordinate to degrees
func coord(v, granularity, offset int64) float64 {
	return float64(v*granularity+offset) / 1e9
}
