package control

// State holds the three integral accumulators. It is owned by the caller and
// replaced with a zero value on reload.
type State struct {
	IntY   float64
	IntX   float64
	IntPhi float64
}

// Diagnostics is a snapshot of the last Compute call.
type Diagnostics struct {
	Altitude PIDDiagnostics
	Lateral  PIDDiagnostics
	Attitude PIDDiagnostics

	PitchSetpoint float64 // rad
	Collective    float64 // F before mixing
	Differential  float64 // M before mixing
	Saturated     bool
}

// Step runs one tick of the cascaded loop against s and returns the clamped
// throttles and position errors. Lateral error sets the attitude setpoint;
// the attitude integral is updated after the lateral one.
func Step(cfg Config, s *State, state [6]float64, target [2]float64, dt float64) (Output, Diagnostics) {
	x, y, vx, vy, phi, phiDot := state[0], state[1], state[2], state[3], state[4], state[5]

	errY := y - target[1]
	errX := x - target[0]

	s.IntY = cfg.Altitude.integrate(s.IntY, errY, dt)
	s.IntX = cfg.Lateral.integrate(s.IntX, errX, dt)

	phiC := -cfg.Lateral.output(errX, s.IntX, vx)
	phiC = ClampFloat(phiC, -cfg.MaxPitchRad, cfg.MaxPitchRad)

	errPhi := phi - phiC
	s.IntPhi = cfg.Attitude.integrate(s.IntPhi, errPhi, dt)

	f := cfg.Altitude.output(errY, s.IntY, vy)
	m := cfg.Attitude.output(errPhi, s.IntPhi, phiDot)

	u1 := ClampFloat(f-m, cfg.MinThrottle, cfg.MaxThrottle)
	u2 := ClampFloat(f+m, cfg.MinThrottle, cfg.MaxThrottle)

	diag := Diagnostics{
		Altitude:      cfg.Altitude.terms(errY, s.IntY, vy),
		Lateral:       cfg.Lateral.terms(errX, s.IntX, vx),
		Attitude:      cfg.Attitude.terms(errPhi, s.IntPhi, phiDot),
		PitchSetpoint: phiC,
		Collective:    f,
		Differential:  m,
		Saturated:     u1 != f-m || u2 != f+m,
	}
	return Output{U1: u1, U2: u2, ErrX: errX, ErrY: errY}, diag
}

// Controller binds a Config to its integral State.
type Controller struct {
	cfg   Config
	state State
	diag  Diagnostics
}

// NewController creates a controller with zeroed integrals
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Compute runs one control tick.
func (c *Controller) Compute(state [6]float64, target [2]float64, dt float64) Output {
	out, diag := Step(c.cfg, &c.state, state, target, dt)
	c.diag = diag
	return out
}

// Reload discards the integrals.
func (c *Controller) Reload() {
	c.state = State{}
	c.diag = Diagnostics{}
}

func (c *Controller) State() State             { return c.state }
func (c *Controller) Config() Config           { return c.cfg }
func (c *Controller) Diagnostics() Diagnostics { return c.diag }

// Func adapts the controller to a ControlFunc.
func (c *Controller) Func() ControlFunc {
	return func(state [6]float64, target [2]float64, dt float64) []float64 {
		return c.Compute(state, target, dt).Slice()
	}
}
