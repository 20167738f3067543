package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinthrust/closed_loop/dynamics"
	control "twinthrust/closed_loop/flight_control"
	"twinthrust/closed_loop/wind"
)

const testDt = 1.0 / 60.0

func testEnvConfig() EnvironmentConfig {
	return EnvironmentConfig{
		WindEnabled: true,
		Wind:        wind.DefaultConfig(),
		Start:       dynamics.DefaultInitialState(),
		Walls:       true,
		Restitution: 0.5,
		PathLength:  100,
	}
}

func pidDecide(c *control.Controller, target [2]float64) DecideFunc {
	return func(s dynamics.State) ([2]float64, error) {
		return c.Compute(s.Tuple(), target, testDt).Action(), nil
	}
}

func flyEnv(e *Environment, ticks int) []dynamics.State {
	c := control.NewController(control.DefaultConfig())
	out := make([]dynamics.State, 0, ticks)
	for i := 0; i < ticks; i++ {
		if _, err := e.Tick(testDt, pidDecide(c, [2]float64{4, 4})); err != nil {
			panic(err)
		}
		out = append(out, e.Body().State())
	}
	return out
}

func TestEnvironmentIsReproducible(t *testing.T) {
	a := flyEnv(NewEnvironment(testEnvConfig(), 5), 1200)
	b := flyEnv(NewEnvironment(testEnvConfig(), 5), 1200)
	assert.Equal(t, a, b)

	c := flyEnv(NewEnvironment(testEnvConfig(), 6), 1200)
	assert.NotEqual(t, a, c)
}

func TestEnvironmentControlSeesPreStepState(t *testing.T) {
	e := NewEnvironment(testEnvConfig(), 5)
	before := e.Body().State()

	var seen dynamics.State
	res, err := e.Tick(testDt, func(s dynamics.State) ([2]float64, error) {
		seen = s
		return [2]float64{2, -1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, before, seen)
	assert.Equal(t, [2]float64{1, 0}, res.Action)
	assert.NotEqual(t, before, e.Body().State())
	assert.Equal(t, res.Wind, e.LastWind())
}

func TestToggleWind(t *testing.T) {
	e := NewEnvironment(testEnvConfig(), 5)
	flyEnv(e, 10)
	elapsed := e.Field().Elapsed()
	assert.InDelta(t, 10*testDt, elapsed, 1e-12)

	assert.False(t, e.ToggleWind())
	flyEnv(e, 10)
	assert.Equal(t, dynamics.Vector2{}, e.LastWind())
	assert.Equal(t, elapsed, e.Field().Elapsed())

	assert.True(t, e.ToggleWind())
	flyEnv(e, 1)
	assert.Greater(t, e.Field().Elapsed(), elapsed)
}

func TestEnvironmentReset(t *testing.T) {
	e := NewEnvironment(testEnvConfig(), 5)
	flyEnv(e, 120)
	require.Len(t, e.Path(), 100)

	e.Reset(8, false)
	assert.Equal(t, uint64(8), e.Seed())
	assert.Equal(t, dynamics.GenerateParameters(8), e.Body().Params())
	assert.Equal(t, dynamics.DefaultInitialState(), e.Body().State())
	assert.False(t, e.WindEnabled())
	assert.Empty(t, e.Path())
	assert.Zero(t, e.Field().Elapsed())

	// same seed, same wind, same flight
	e.Reset(5, true)
	again := flyEnv(e, 300)
	assert.Equal(t, flyEnv(NewEnvironment(testEnvConfig(), 5), 300), again)
}

func TestEnvironmentWalls(t *testing.T) {
	cfg := testEnvConfig()
	assert.Len(t, NewEnvironment(cfg, 1).Walls(), 4)

	cfg.Walls = false
	cfg.Start = dynamics.State{Position: dynamics.Vector2{X: 4, Y: 7.99}}
	e := NewEnvironment(cfg, 1)
	res, err := e.Tick(testDt, func(dynamics.State) ([2]float64, error) { return [2]float64{}, nil })
	require.NoError(t, err)
	assert.False(t, res.Collided)
}
