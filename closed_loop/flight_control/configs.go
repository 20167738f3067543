package control

// AxisConfig holds one PID loop's gains and its integral clamp.
type AxisConfig struct {
	Kp            float64 `json:"kp" mapstructure:"kp"`
	Ki            float64 `json:"ki" mapstructure:"ki"`
	Kd            float64 `json:"kd" mapstructure:"kd"`
	IntegralLimit float64 `json:"integral_limit" mapstructure:"integral_limit"`
}

// Config holds the cascaded controller parameters. Lateral error produces an
// attitude setpoint; Altitude and Attitude produce collective and differential
// throttle.
type Config struct {
	Altitude AxisConfig `json:"altitude" mapstructure:"altitude"`
	Lateral  AxisConfig `json:"lateral" mapstructure:"lateral"`
	Attitude AxisConfig `json:"attitude" mapstructure:"attitude"`

	MaxPitchRad float64 `json:"max_pitch_rad" mapstructure:"max_pitch_rad"`
	MinThrottle float64 `json:"min_throttle" mapstructure:"min_throttle"`
	MaxThrottle float64 `json:"max_throttle" mapstructure:"max_throttle"`
}

// MaxPitch is 10 degrees, using the five-digit value of pi the gains were
// tuned with.
const MaxPitch = 10 * (3.14159 / 180)

// DefaultConfig returns the tuned gains.
func DefaultConfig() Config {
	return Config{
		Altitude: AxisConfig{Kp: 63.5, Ki: 62, Kd: 30, IntegralLimit: 0.15},
		Lateral:  AxisConfig{Kp: 0.1631, Ki: 0.05607, Kd: 0.2345, IntegralLimit: 0.085},
		Attitude: AxisConfig{Kp: 50, Ki: 0.35, Kd: 20, IntegralLimit: 0.15},

		MaxPitchRad: MaxPitch,
		MinThrottle: 0,
		MaxThrottle: 0.75,
	}
}
