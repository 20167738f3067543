package dynamics

import "math"

// State is the rigid-body state of the vehicle.
type State struct {
	Position        Vector2 // m
	Velocity        Vector2 // m/s
	Attitude        float64 // rad, (-π, π]
	AngularVelocity float64 // rad/s
}

// Tuple returns (x, y, vx, vy, φ, φ̇).
func (s State) Tuple() [6]float64 {
	return [6]float64{s.Position.X, s.Position.Y, s.Velocity.X, s.Velocity.Y, s.Attitude, s.AngularVelocity}
}

// StateFromTuple is the inverse of Tuple.
func StateFromTuple(t [6]float64) State {
	return State{
		Position:        Vector2{t[0], t[1]},
		Velocity:        Vector2{t[2], t[3]},
		Attitude:        t[4],
		AngularVelocity: t[5],
	}
}

// DefaultInitialState is the episode start: hovering position, at rest.
func DefaultInitialState() State {
	return State{Position: Vector2{4, 4}}
}

// Body integrates a planar twin-rotor vehicle with explicit Euler steps.
type Body struct {
	params Params
	state  State

	left, right *Rotor
	lastAction  [2]float64
	box         [4]Vector2
}

func NewBody(p Params, initial State) *Body {
	b := &Body{}
	b.Reset(p, initial)
	return b
}

// Reset installs fresh parameters and state and rebuilds both rotors.
func (b *Body) Reset(p Params, initial State) {
	b.params = p
	b.state = initial
	b.state.Attitude = WrapAngle(initial.Attitude)
	b.left = NewRotor(p.RotorTimeConstant, p.ThrustCoefficient, p.RotorGain, p.BiasSpeed)
	b.right = NewRotor(p.RotorTimeConstant, p.ThrustCoefficient, p.RotorGain, p.BiasSpeed)
	b.lastAction = [2]float64{}
	b.updateBox()
}

func (b *Body) Params() Params              { return b.params }
func (b *Body) State() State                { return b.state }
func (b *Body) LastAction() [2]float64      { return b.lastAction }
func (b *Body) Box() [4]Vector2             { return b.box }
func (b *Body) Rotors() (left, right Rotor) { return *b.left, *b.right }

// Step advances the body by dt under throttle action and wind (m/s).
func (b *Body) Step(action [2]float64, dt float64, wind Vector2) {
	u1 := clampUnit(action[0])
	u2 := clampUnit(action[1])
	b.lastAction = [2]float64{u1, u2}

	b.left.SetThrottle(u1)
	b.right.SetThrottle(u2)
	b.left.Step(dt)
	b.right.Step(dt)

	t1, t2 := b.left.Thrust, b.right.Thrust
	s := &b.state

	sin, cos := math.Sincos(s.Attitude)
	thrust := Vector2{sin, -cos}.Scale(t1 + t2)
	drag := b.DragForce(wind)

	accel := thrust.DivScalar(b.params.Mass).
		Add(Vector2{0, Gravity}).
		Add(drag.DivScalar(b.params.Mass))

	s.Velocity = s.Velocity.Add(accel.Scale(dt))
	s.Position = s.Position.Add(s.Velocity.Scale(dt))

	torque := (t1 - t2) * ArmLength
	s.AngularVelocity += torque / b.params.Inertia * dt
	s.Attitude = WrapAngle(s.Attitude + s.AngularVelocity*dt)

	b.updateBox()
}

// DragForce is the aerodynamic force for the current velocity relative to wind.
func (b *Body) DragForce(wind Vector2) Vector2 {
	rel := b.state.Velocity.Sub(wind)
	speed := rel.Length()
	if speed == 0 {
		return Vector2{}
	}
	mag := 0.5 * b.params.DragCoefficient * b.params.ReferenceArea * AirDensity * speed * speed
	return rel.Normalize().Neg().Scale(mag)
}

// CheckCollision tests the bounding box against walls in order and reports the
// first hit.
func (b *Body) CheckCollision(walls []Wall) (collided, isGround bool) {
	for _, w := range walls {
		if BoxHitsSegment(b.box, w.A, w.B) {
			return true, w.IsGround
		}
	}
	return false, false
}

func (b *Body) updateBox() {
	p := b.state.Position
	hw, hh := BodyWidth/2, BodyHeight/2
	corners := [4]Vector2{
		{p.X - hw, p.Y - hh},
		{p.X + hw, p.Y - hh},
		{p.X + hw, p.Y + hh},
		{p.X - hw, p.Y + hh},
	}
	for i, c := range corners {
		b.box[i] = c.RotateAbout(p, b.state.Attitude)
	}
}

func clampUnit(u float64) float64 {
	return math.Max(0, math.Min(u, 1))
}
