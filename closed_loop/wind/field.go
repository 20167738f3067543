package wind

import (
	"math"
	"math/rand/v2"

	"twinthrust/closed_loop/dynamics"
)

const (
	minGustDuration = 0.1 // s
	maxGustDuration = 2.0 // s

	// second PCG word; the first is the seed
	windStream = 0x67757374
)

// Config bounds the random draws of a Field. A zero MaxSteadyState turns the
// steady component off, a zero MaxGust turns gusts off.
type Config struct {
	MaxSteadyState float64 `mapstructure:"max_steady_state"` // m/s
	MaxGust        float64 `mapstructure:"max_gust"`         // m/s
	GustRate       float64 `mapstructure:"gust_rate"`        // gusts/s, roughly
}

func DefaultConfig() Config {
	return Config{MaxSteadyState: 5, MaxGust: 1, GustRate: 0.1}
}

func (c Config) SteadyOn() bool { return c.MaxSteadyState != 0 }
func (c Config) GustsOn() bool  { return c.MaxGust != 0 }

// Gust is a discrete 1-cos pulse.
type Gust struct {
	Direction float64 // rad, 0 = +X
	Peak      float64 // m/s
	Duration  float64 // s
	Start     float64 // s, field time
}

// Active reports whether the gust still contributes at field time t.
func (g Gust) Active(t float64) bool {
	return t-g.Start < g.Duration
}

// Velocity is the gust contribution at field time t. The phase uses the
// absolute field time, not the time since Start.
func (g Gust) Velocity(t float64) dynamics.Vector2 {
	mag := (g.Peak / 2) * (1 - math.Cos(2*math.Pi*t/g.Duration))
	return dynamics.Vector2{X: math.Sin(g.Direction) * mag, Y: math.Cos(g.Direction) * mag}
}

// Field produces the wind velocity seen by the vehicle: a steady vector drawn
// once per reset plus the sum of active gusts.
type Field struct {
	cfg Config
	rng *rand.Rand

	steady    dynamics.Vector2
	gusts     []Gust
	elapsed   float64
	lastStart float64
}

func NewField(cfg Config, seed uint64) *Field {
	f := &Field{cfg: cfg}
	f.Reseed(seed)
	return f
}

// Reseed restarts the random stream from seed and resets the field.
func (f *Field) Reseed(seed uint64) {
	f.rng = rand.New(rand.NewPCG(seed, windStream))
	f.Reset()
}

// Reset clears time and gusts and draws a new steady component, continuing
// the current random stream.
func (f *Field) Reset() {
	f.steady = dynamics.Vector2{}
	f.gusts = nil
	f.elapsed = 0
	f.lastStart = 0

	if f.cfg.SteadyOn() {
		angle := f.uniform(0.25*math.Pi, 0.75*math.Pi)
		if f.rng.IntN(2) == 0 {
			angle = -angle
		}
		mag := f.uniform(0, f.cfg.MaxSteadyState)
		f.steady = dynamics.Vector2{X: mag * math.Sin(angle), Y: mag * math.Cos(angle)}
	}

	if f.cfg.GustsOn() && f.spawnDue() {
		f.spawn()
	}
}

// Sample advances the field by dt and returns the wind velocity.
func (f *Field) Sample(dt float64) dynamics.Vector2 {
	f.elapsed += dt
	if !f.cfg.GustsOn() {
		return f.steady
	}

	if f.spawnDue() {
		f.spawn()
	}

	var sum dynamics.Vector2
	active := make([]Gust, 0, len(f.gusts))
	for _, g := range f.gusts {
		if !g.Active(f.elapsed) {
			continue
		}
		sum = sum.Add(g.Velocity(f.elapsed))
		active = append(active, g)
	}
	f.gusts = active

	return f.steady.Add(sum)
}

func (f *Field) Config() Config           { return f.cfg }
func (f *Field) Steady() dynamics.Vector2 { return f.steady }
func (f *Field) Elapsed() float64         { return f.elapsed }
func (f *Field) Gusts() []Gust            { return append([]Gust(nil), f.gusts...) }

func (f *Field) spawnDue() bool {
	return f.elapsed-f.lastStart > f.uniform(0, 1/(f.cfg.GustRate+0.1))
}

func (f *Field) spawn() {
	g := Gust{
		Direction: f.uniform(0, 2*math.Pi),
		Peak:      f.uniform(0, f.cfg.MaxGust),
		Duration:  f.logUniform(minGustDuration, maxGustDuration),
		Start:     f.elapsed,
	}
	if f.elapsed == 0 {
		// already part-way through when the episode starts
		g.Start = -f.logUniform(g.Duration/100, g.Duration)
	}
	f.gusts = append(f.gusts, g)
	f.lastStart = g.Start
}

func (f *Field) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*f.rng.Float64()
}

func (f *Field) logUniform(lo, hi float64) float64 {
	return math.Exp(f.uniform(math.Log(lo), math.Log(hi)))
}
