package pipeline

import "math"

// Derived-metric arithmetic for feeds that routinely report zero
// reserves, zero prices, or missing fields. Division never panics and
// never produces Inf/NaN; the caller gets the default plus a validity
// bit and decides which flag to attach.

// SafeDiv divides num by den. A zero, NaN, or infinite denominator
// yields (def, false).
func SafeDiv(num, den, def float64) (float64, bool) {
	if den == 0 || math.IsNaN(den) || math.IsInf(den, 0) || math.IsNaN(num) {
		return def, false
	}
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def, false
	}
	return v, true
}

// SafePctChange returns the percent change from previous to current.
// A zero previous value yields (def, false).
func SafePctChange(current, previous, def float64) (float64, bool) {
	v, ok := SafeDiv(current-previous, previous, 0)
	if !ok {
		return def, false
	}
	return v * 100, true
}

// SafeRatio returns a/b clamped to non-negative. Zero b yields
// (def, false).
func SafeRatio(a, b, def float64) (float64, bool) {
	v, ok := SafeDiv(a, b, def)
	if !ok {
		return def, false
	}
	if v < 0 {
		return 0, true
	}
	return v, true
}
