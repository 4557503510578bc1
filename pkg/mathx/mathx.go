// Package mathx holds the small integer helpers shared by the drivers.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Abs for signed integers.
func Abs[T ~int | ~int8 | ~int16 | ~int32 | ~int64](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

// RoundDiv returns a/b rounded half up, for positive integers.
func RoundDiv[T constraints.Integer](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b/2) / b
}
