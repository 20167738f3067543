package control

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedAction is returned when a control function yields something
// other than four finite numbers.
var ErrMalformedAction = errors.New("malformed control action")

// ControlFunc is the per-tick control hook: state is (x, y, vx, vy, φ, φ̇),
// target is (x, y). The result must be (u1, u2, errX, errY).
type ControlFunc func(state [6]float64, target [2]float64, dt float64) []float64

// Output is a validated control tick result.
type Output struct {
	U1, U2     float64 // throttle, [0, MaxThrottle]
	ErrX, ErrY float64 // m, state minus target
}

// Action returns the throttle pair for the vehicle.
func (o Output) Action() [2]float64 {
	return [2]float64{o.U1, o.U2}
}

// Slice returns the ControlFunc wire form.
func (o Output) Slice() []float64 {
	return []float64{o.U1, o.U2, o.ErrX, o.ErrY}
}

// ValidateAction checks a ControlFunc result.
func ValidateAction(raw []float64) (Output, error) {
	if len(raw) != 4 {
		return Output{}, fmt.Errorf("%w: want 4 values, got %d", ErrMalformedAction, len(raw))
	}
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Output{}, fmt.Errorf("%w: value %d is %v", ErrMalformedAction, i, v)
		}
	}
	return Output{U1: raw[0], U2: raw[1], ErrX: raw[2], ErrY: raw[3]}, nil
}

// ClampFloat clamps value between min and max
func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
