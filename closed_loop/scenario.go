package main

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"

	control "twinthrust/closed_loop/flight_control"
	"twinthrust/closed_loop/telemetry"
	"twinthrust/closed_loop/wind"
	"twinthrust/utils"
)

const envPrefix = "TWINTHRUST"

// Scenario defines a complete simulation run
type Scenario struct {
	Meta      ScenarioMeta      `mapstructure:"meta"`
	Timing    ScenarioTiming    `mapstructure:"timing"`
	Vehicle   ScenarioVehicle   `mapstructure:"vehicle"`
	Wind      ScenarioWind      `mapstructure:"wind"`
	Targets   ScenarioTargets   `mapstructure:"targets"`
	World     ScenarioWorld     `mapstructure:"world"`
	Control   control.Config    `mapstructure:"control"`
	Bus       ScenarioBus       `mapstructure:"bus"`
	Telemetry ScenarioTelemetry `mapstructure:"telemetry"`
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// ScenarioTiming defines timing parameters
type ScenarioTiming struct {
	DtS          float64 `mapstructure:"dt_s"`
	DurationS    float64 `mapstructure:"duration_s"`
	RealTimeMode bool    `mapstructure:"real_time_mode"`
	LogEvery     int     `mapstructure:"log_every"` // ticks between DEBUG state lines
}

// ScenarioVehicle selects the vehicle instance and where it starts.
type ScenarioVehicle struct {
	Seed     uint64  `mapstructure:"seed"`
	Episodes int     `mapstructure:"episodes"` // episode i uses Seed+i
	StartX   float64 `mapstructure:"start_x"`
	StartY   float64 `mapstructure:"start_y"`
}

type ScenarioWind struct {
	Enabled     bool   `mapstructure:"enabled"`
	Seed        uint64 `mapstructure:"seed"`
	wind.Config `mapstructure:",squash"`
}

type ScenarioTargets struct {
	Path         string      `mapstructure:"path"`
	Inline       [][]float64 `mapstructure:"inline"`
	SwitchEveryS float64     `mapstructure:"switch_every_s"`
}

type ScenarioWorld struct {
	Walls       bool    `mapstructure:"walls"`
	Restitution float64 `mapstructure:"restitution"`
	PathLength  int     `mapstructure:"path_length"`
}

// ScenarioBus configures the SocketCAN side.
type ScenarioBus struct {
	Enabled   bool   `mapstructure:"enabled"`
	Interface string `mapstructure:"interface"`
	MapPath   string `mapstructure:"map_path"`
}

type ScenarioTelemetry struct {
	DBPath    string         `mapstructure:"db_path"`
	BatchSize int            `mapstructure:"batch_size"`
	PlotDir   string         `mapstructure:"plot_dir"`
	Influx    ScenarioInflux `mapstructure:"influx"`
}

type ScenarioInflux struct {
	Enabled                bool `mapstructure:"enabled"`
	telemetry.InfluxConfig `mapstructure:",squash"`
}

func setScenarioDefaults(v *viper.Viper) {
	v.SetDefault("meta.name", "hover")
	v.SetDefault("meta.description", "")

	v.SetDefault("timing.dt_s", 1.0/60.0)
	v.SetDefault("timing.duration_s", 20.0)
	v.SetDefault("timing.real_time_mode", false)
	v.SetDefault("timing.log_every", 60)

	v.SetDefault("vehicle.seed", 5)
	v.SetDefault("vehicle.episodes", 1)
	v.SetDefault("vehicle.start_x", 4.0)
	v.SetDefault("vehicle.start_y", 4.0)

	wc := wind.DefaultConfig()
	v.SetDefault("wind.enabled", true)
	v.SetDefault("wind.seed", 0)
	v.SetDefault("wind.max_steady_state", wc.MaxSteadyState)
	v.SetDefault("wind.max_gust", wc.MaxGust)
	v.SetDefault("wind.gust_rate", wc.GustRate)

	v.SetDefault("targets.path", "")
	v.SetDefault("targets.inline", [][]float64{{4, 4}})
	v.SetDefault("targets.switch_every_s", 0.0)

	v.SetDefault("world.walls", true)
	v.SetDefault("world.restitution", 0.5)
	v.SetDefault("world.path_length", 600)

	cc := control.DefaultConfig()
	for name, axis := range map[string]control.AxisConfig{
		"altitude": cc.Altitude,
		"lateral":  cc.Lateral,
		"attitude": cc.Attitude,
	} {
		v.SetDefault("control."+name+".kp", axis.Kp)
		v.SetDefault("control."+name+".ki", axis.Ki)
		v.SetDefault("control."+name+".kd", axis.Kd)
		v.SetDefault("control."+name+".integral_limit", axis.IntegralLimit)
	}
	v.SetDefault("control.max_pitch_rad", cc.MaxPitchRad)
	v.SetDefault("control.min_throttle", cc.MinThrottle)
	v.SetDefault("control.max_throttle", cc.MaxThrottle)

	v.SetDefault("bus.enabled", false)
	v.SetDefault("bus.interface", "vcan0")
	v.SetDefault("bus.map_path", "")

	v.SetDefault("telemetry.db_path", "")
	v.SetDefault("telemetry.batch_size", 500)
	v.SetDefault("telemetry.plot_dir", "")
	v.SetDefault("telemetry.influx.enabled", false)
	v.SetDefault("telemetry.influx.url", "http://localhost:8086")
	v.SetDefault("telemetry.influx.token", "")
	v.SetDefault("telemetry.influx.org", "twinthrust")
	v.SetDefault("telemetry.influx.bucket", "ticks")
	v.SetDefault("telemetry.influx.backup_path", "twinthrust_ticks.lp.gz")
	v.SetDefault("telemetry.influx.timeout", "2s")
}

// LoadScenario reads a JSON or YAML scenario file on top of the defaults.
// An empty path yields the defaults. TWINTHRUST_* environment variables
// override both, e.g. TWINTHRUST_WIND_ENABLED=false.
func LoadScenario(path string) (Scenario, error) {
	v := viper.New()
	setScenarioDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
		}
	}

	var scen Scenario
	if err := v.Unmarshal(&scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := scen.Validate(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

// Validate rejects configurations the simulation cannot run.
func (s Scenario) Validate() error {
	var errs []error
	if s.Timing.DtS <= 0 || math.IsNaN(s.Timing.DtS) {
		errs = append(errs, fmt.Errorf("invalid dt_s: %v", s.Timing.DtS))
	}
	if s.Timing.DurationS <= 0 {
		errs = append(errs, fmt.Errorf("invalid duration_s: %v", s.Timing.DurationS))
	}
	if s.Vehicle.Episodes < 1 {
		errs = append(errs, fmt.Errorf("invalid episodes: %d", s.Vehicle.Episodes))
	}
	if err := utils.CheckTarget(utils.Target{X: s.Vehicle.StartX, Y: s.Vehicle.StartY}); err != nil {
		errs = append(errs, fmt.Errorf("start position: %w", err))
	}
	if s.Wind.MaxSteadyState < 0 || s.Wind.MaxGust < 0 || s.Wind.GustRate < 0 {
		errs = append(errs, fmt.Errorf("wind parameters must be non-negative: %+v", s.Wind.Config))
	}
	if s.Targets.Path == "" && len(s.Targets.Inline) == 0 {
		errs = append(errs, utils.ErrNoTargets)
	}
	for i, row := range s.Targets.Inline {
		if len(row) != 2 {
			errs = append(errs, fmt.Errorf("targets.inline[%d]: want [x, y], got %v", i, row))
		}
	}
	if s.Targets.SwitchEveryS < 0 {
		errs = append(errs, fmt.Errorf("invalid switch_every_s: %v", s.Targets.SwitchEveryS))
	}
	if s.Control.MaxThrottle <= s.Control.MinThrottle {
		errs = append(errs, fmt.Errorf("control throttle range [%v, %v] is empty", s.Control.MinThrottle, s.Control.MaxThrottle))
	}
	return errors.Join(errs...)
}

// Ticks is the number of ticks per episode.
func (s Scenario) Ticks() int {
	return int(math.Round(s.Timing.DurationS / s.Timing.DtS))
}

// ResolveTargets loads the target list. Out-of-bounds entries are dropped
// with a warning.
func (s Scenario) ResolveTargets(log *utils.Logger) ([]utils.Target, error) {
	if s.Targets.Path != "" {
		return utils.LoadTargets(s.Targets.Path, log)
	}

	var out []utils.Target
	for i, row := range s.Targets.Inline {
		t := utils.Target{X: row[0], Y: row[1]}
		if err := utils.CheckTarget(t); err != nil {
			log.Warn("targets.inline[%d]: %v, not loading target", i, err)
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, utils.ErrNoTargets
	}
	return out, nil
}
