package main

import (
	"twinthrust/closed_loop/dynamics"
	"twinthrust/closed_loop/wind"
	"twinthrust/utils"
)

// EnvironmentConfig fixes everything an Environment needs besides the seed.
type EnvironmentConfig struct {
	WindEnabled bool
	Wind        wind.Config
	WindSeed    uint64 // 0 derives it from the vehicle seed
	Start       dynamics.State
	Walls       bool
	Restitution float64
	PathLength  int // flight path points kept, 0 disables
}

// TickResult is what one environment tick produced.
type TickResult struct {
	Action   [2]float64
	Wind     dynamics.Vector2
	Collided bool
	Ground   bool
}

// DecideFunc turns the pre-step state into a throttle pair.
type DecideFunc func(s dynamics.State) ([2]float64, error)

// Environment owns the vehicle body, the wind field and the world walls.
type Environment struct {
	cfg  EnvironmentConfig
	seed uint64

	body        *dynamics.Body
	field       *wind.Field
	windEnabled bool
	walls       []dynamics.Wall
	lastWind    dynamics.Vector2
	path        []dynamics.Vector2
}

func NewEnvironment(cfg EnvironmentConfig, seed uint64) *Environment {
	e := &Environment{cfg: cfg}
	if cfg.Walls {
		e.walls = dynamics.BoxWalls(utils.WorldMin, utils.WorldMax, cfg.Restitution)
	}
	e.body = dynamics.NewBody(dynamics.GenerateParameters(seed), cfg.Start)
	e.field = wind.NewField(cfg.Wind, e.windSeed(seed))
	e.seed = seed
	e.windEnabled = cfg.WindEnabled
	return e
}

// Reset derives new vehicle parameters from seed and restarts body and wind.
func (e *Environment) Reset(seed uint64, windEnabled bool) {
	e.seed = seed
	e.windEnabled = windEnabled
	e.body.Reset(dynamics.GenerateParameters(seed), e.cfg.Start)
	e.field.Reseed(e.windSeed(seed))
	e.lastWind = dynamics.Vector2{}
	e.path = e.path[:0]
}

func (e *Environment) windSeed(seed uint64) uint64 {
	if e.cfg.WindSeed != 0 {
		return e.cfg.WindSeed
	}
	// golden-ratio mix of the vehicle seed
	return seed*0x9e3779b97f4a7c15 + 1
}

// ToggleWind flips wind on or off without reseeding.
func (e *Environment) ToggleWind() bool {
	e.windEnabled = !e.windEnabled
	return e.windEnabled
}

// Tick samples the wind, asks decide for an action on the pre-step state and
// advances the body. A disabled field is neither sampled nor advanced.
func (e *Environment) Tick(dt float64, decide DecideFunc) (TickResult, error) {
	w := dynamics.Vector2{}
	if e.windEnabled {
		w = e.field.Sample(dt)
	}
	e.lastWind = w

	action, err := decide(e.body.State())
	if err != nil {
		return TickResult{}, err
	}
	e.body.Step(action, dt, w)
	e.record(e.body.State().Position)

	res := TickResult{Action: e.body.LastAction(), Wind: w}
	res.Collided, res.Ground = e.body.CheckCollision(e.walls)
	return res, nil
}

func (e *Environment) record(p dynamics.Vector2) {
	if e.cfg.PathLength <= 0 {
		return
	}
	if len(e.path) == e.cfg.PathLength {
		copy(e.path, e.path[1:])
		e.path = e.path[:len(e.path)-1]
	}
	e.path = append(e.path, p)
}

func (e *Environment) Seed() uint64               { return e.seed }
func (e *Environment) Body() *dynamics.Body       { return e.body }
func (e *Environment) Field() *wind.Field         { return e.field }
func (e *Environment) WindEnabled() bool          { return e.windEnabled }
func (e *Environment) Walls() []dynamics.Wall     { return e.walls }
func (e *Environment) LastWind() dynamics.Vector2 { return e.lastWind }
func (e *Environment) Path() []dynamics.Vector2   { return e.path }
