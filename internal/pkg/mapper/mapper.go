// Package mapper translates values linearly between ranges.
package mapper

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is returned when the input range is empty.
var ErrInvalidRange = errors.New("invalid range")

// Map translates x from [inMin, inMax] to [outMin, outMax]. Values outside
// the input range extrapolate; nothing is clamped.
func Map(x, inMin, inMax, outMin, outMax float64) (float64, error) {
	if inMax == inMin {
		return 0, fmt.Errorf("%w: input range [%g, %g] is empty", ErrInvalidRange, inMin, inMax)
	}
	return (x-inMin)/(inMax-inMin)*(outMax-outMin) + outMin, nil
}

// Range is a fixed translation, such as percentage to PWM.
type Range struct {
	InMin, InMax   float64
	OutMin, OutMax float64
}

// PercentToPWM is the canonical percentage [-100,100] to PWM [1100,1900]
// translation. Neutral is 1500.
var PercentToPWM = Range{InMin: -100, InMax: 100, OutMin: 1100, OutMax: 1900}

// Validate fails when the input range is empty.
func (r Range) Validate() error {
	if r.InMax == r.InMin {
		return fmt.Errorf("%w: input range [%g, %g] is empty", ErrInvalidRange, r.InMin, r.InMax)
	}
	return nil
}

// Map translates x through the range.
func (r Range) Map(x float64) (float64, error) {
	return Map(x, r.InMin, r.InMax, r.OutMin, r.OutMax)
}

// Contains reports whether x lies within the input range.
func (r Range) Contains(x float64) bool {
	lo, hi := r.InMin, r.InMax
	if lo > hi {
		lo, hi = hi, lo
	}
	return x >= lo && x <= hi
}
