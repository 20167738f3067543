package dynamics

import (
	"math"
	"math/rand/v2"
)

const (
	Gravity    = 9.81  // m/s², along +Y
	AirDensity = 1.225 // kg/m³
	ArmLength  = 0.25  // m, rotor moment arm

	// Bounding box footprint in metres.
	BodyWidth  = 0.5
	BodyHeight = 0.1

	ThrustCoefficient = 0.0000001984
	RotorGain         = 6432.0
	BiasSpeed         = 1779.0

	// second PCG word; the first is the seed
	paramStream = 0x7477696e
)

// Ranges sampled by GenerateParameters, in draw order.
var (
	MassRange              = [2]float64{0.5, 1.3}
	InertiaRange           = [2]float64{0.25, 0.5}
	DragCoefficientRange   = [2]float64{0.25, 0.75}
	ReferenceAreaRange     = [2]float64{0.05, 0.15}
	RotorTimeConstantRange = [2]float64{0.05, 0.1}
)

// Params are the physical constants of one vehicle instance.
type Params struct {
	Mass              float64 // kg
	Inertia           float64 // kg·m²
	DragCoefficient   float64
	ReferenceArea     float64 // m²
	ThrustCoefficient float64
	RotorTimeConstant float64 // s
	RotorGain         float64
	BiasSpeed         float64
}

// GenerateParameters derives a vehicle from seed. The generator is PCG-DXSM
// (math/rand/v2) seeded with (seed, paramStream); each parameter consumes one
// Float64 draw mapped linearly onto its range, in the order mass, inertia,
// drag coefficient, reference area, rotor time constant.
func GenerateParameters(seed uint64) Params {
	rng := rand.New(rand.NewPCG(seed, paramStream))
	return Params{
		Mass:              uniform(rng, MassRange),
		Inertia:           uniform(rng, InertiaRange),
		DragCoefficient:   uniform(rng, DragCoefficientRange),
		ReferenceArea:     uniform(rng, ReferenceAreaRange),
		ThrustCoefficient: ThrustCoefficient,
		RotorTimeConstant: uniform(rng, RotorTimeConstantRange),
		RotorGain:         RotorGain,
		BiasSpeed:         BiasSpeed,
	}
}

func uniform(rng *rand.Rand, r [2]float64) float64 {
	return r[0] + (r[1]-r[0])*rng.Float64()
}

// HoverThrottle is the throttle that makes the two rotors' steady-state thrust
// equal the vehicle weight. It may exceed the controller saturation.
func (p Params) HoverThrottle() float64 {
	speed := math.Sqrt(p.Mass * Gravity / (2 * p.ThrustCoefficient))
	return (speed - p.BiasSpeed) / p.RotorGain
}

// ThrustToWeight is the full-throttle thrust-to-weight ratio.
func (p Params) ThrustToWeight() float64 {
	speed := p.RotorGain + p.BiasSpeed
	return 2 * p.ThrustCoefficient * speed * speed / (p.Mass * Gravity)
}
