package dynamics

// Rotor is a first-order lag between commanded and actual spin speed.
type Rotor struct {
	TimeConstant      float64 // s
	ThrustCoefficient float64 // N/(rad/s)²
	RotorGain         float64 // rad/s per unit throttle
	BiasSpeed         float64 // idle spin, rad/s

	DesiredSpeed float64
	Speed        float64
	Thrust       float64
}

func NewRotor(timeConstant, thrustCoefficient, rotorGain, biasSpeed float64) *Rotor {
	return &Rotor{
		TimeConstant:      timeConstant,
		ThrustCoefficient: thrustCoefficient,
		RotorGain:         rotorGain,
		BiasSpeed:         biasSpeed,
	}
}

func (r *Rotor) Step(dt float64) {
	r.Speed += ((r.DesiredSpeed - r.Speed) / r.TimeConstant) * dt
	r.Thrust = r.ThrustCoefficient * r.Speed * r.Speed
}

func (r *Rotor) SetThrottle(u float64) {
	r.DesiredSpeed = u*r.RotorGain + r.BiasSpeed
}

func (r *Rotor) Reset() {
	r.DesiredSpeed = 0
	r.Speed = 0
	r.Thrust = 0
}
