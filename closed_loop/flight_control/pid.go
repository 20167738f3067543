package control

// integrate accumulates err·dt and applies the anti-windup clamp.
func (a AxisConfig) integrate(integral, err, dt float64) float64 {
	return ClampFloat(integral+err*dt, -a.IntegralLimit, a.IntegralLimit)
}

// output is the PID sum. The derivative term uses the measured rate rather
// than the error difference, so target jumps cause no derivative kick.
func (a AxisConfig) output(err, integral, rate float64) float64 {
	return a.Kd*rate + a.Kp*err + a.Ki*integral
}

// terms splits an axis output for diagnostics.
func (a AxisConfig) terms(err, integral, rate float64) PIDDiagnostics {
	return PIDDiagnostics{
		Error:    err,
		Integral: integral,
		P:        a.Kp * err,
		I:        a.Ki * integral,
		D:        a.Kd * rate,
	}
}

// PIDDiagnostics contains one loop's internal state for monitoring
type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
	D        float64
}
