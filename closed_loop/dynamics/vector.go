package dynamics

import (
	"fmt"
	"math"
)

// Vector2 is a planar vector. Y points down (gravity is +Y).
type Vector2 struct {
	X, Y float64
}

func (v Vector2) Add(o Vector2) Vector2       { return Vector2{v.X + o.X, v.Y + o.Y} }
func (v Vector2) Sub(o Vector2) Vector2       { return Vector2{v.X - o.X, v.Y - o.Y} }
func (v Vector2) Scale(s float64) Vector2     { return Vector2{v.X * s, v.Y * s} }
func (v Vector2) Neg() Vector2                { return Vector2{-v.X, -v.Y} }
func (v Vector2) Length() float64             { return math.Hypot(v.X, v.Y) }
func (v Vector2) String() string              { return fmt.Sprintf("(%.3f, %.3f)", v.X, v.Y) }
func (v Vector2) DivScalar(s float64) Vector2 { return Vector2{v.X / s, v.Y / s} }

// Normalize returns the unit vector, or the zero vector when |v| is zero.
func (v Vector2) Normalize() Vector2 {
	l := v.Length()
	if l == 0 {
		return Vector2{}
	}
	return Vector2{v.X / l, v.Y / l}
}

// RotateAbout rotates v counterclockwise by angle (rad) around origin.
func (v Vector2) RotateAbout(origin Vector2, angle float64) Vector2 {
	s, c := math.Sincos(angle)
	dx, dy := v.X-origin.X, v.Y-origin.Y
	return Vector2{
		X: origin.X + c*dx - s*dy,
		Y: origin.Y + s*dx + c*dy,
	}
}

// WrapAngle maps a into (-π, π].
func WrapAngle(a float64) float64 {
	if a > -math.Pi && a <= math.Pi {
		return a
	}
	w := a - 2*math.Pi*math.Ceil((a-math.Pi)/(2*math.Pi))
	if w <= -math.Pi {
		w += 2 * math.Pi
	} else if w > math.Pi {
		w -= 2 * math.Pi
	}
	return w
}

func RadToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }
