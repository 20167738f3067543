package main

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"twinthrust/closed_loop/dynamics"
	control "twinthrust/closed_loop/flight_control"
	"twinthrust/closed_loop/telemetry"
	"twinthrust/utils"
)

type Runner struct {
	scen Scenario
	log  *utils.Logger
	dt   float64

	env     *Environment
	ctrl    *control.Controller
	control control.ControlFunc
	targets *utils.TargetList

	cmap   *utils.CANMap
	writer utils.CANWriter
	reader utils.CANReader
	txLast map[string]float64

	sinks   telemetry.Fanout
	history *telemetry.ErrorHistory

	run       telemetry.RunInfo
	tick      int
	crashes   int
	inContact bool
	sent      uint64
}

// RunnerOption customises a Runner, mainly to inject transports and sinks.
type RunnerOption func(*Runner)

func WithCANWriter(w utils.CANWriter) RunnerOption  { return func(r *Runner) { r.writer = w } }
func WithCANReader(rd utils.CANReader) RunnerOption { return func(r *Runner) { r.reader = rd } }
func WithSink(s telemetry.Sink) RunnerOption        { return func(r *Runner) { r.sinks = append(r.sinks, s) } }

// WithControlFunc replaces the built-in cascaded PID.
func WithControlFunc(f control.ControlFunc) RunnerOption {
	return func(r *Runner) { r.control = f }
}

func NewRunner(ctx context.Context, scen Scenario, log *utils.Logger, opts ...RunnerOption) (*Runner, error) {
	targets, err := scen.ResolveTargets(log)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	list, err := utils.NewTargetList(targets)
	if err != nil {
		return nil, err
	}

	cmap, err := utils.LoadCANMap(scen.Bus.MapPath)
	if err != nil {
		return nil, fmt.Errorf("load can map: %w", err)
	}

	r := &Runner{
		scen:    scen,
		log:     log,
		dt:      scen.Timing.DtS,
		targets: list,
		cmap:    cmap,
		txLast:  map[string]float64{},
	}
	r.env = NewEnvironment(EnvironmentConfig{
		WindEnabled: scen.Wind.Enabled,
		Wind:        scen.Wind.Config,
		WindSeed:    scen.Wind.Seed,
		Start:       dynamics.State{Position: dynamics.Vector2{X: scen.Vehicle.StartX, Y: scen.Vehicle.StartY}},
		Walls:       scen.World.Walls,
		Restitution: scen.World.Restitution,
		PathLength:  scen.World.PathLength,
	}, scen.Vehicle.Seed)
	r.ctrl = control.NewController(scen.Control)
	r.control = r.ctrl.Func()

	for _, opt := range opts {
		opt(r)
	}

	if scen.Bus.Enabled {
		if err := r.dialBus(ctx); err != nil {
			return nil, err
		}
	}

	if err := r.openSinks(); err != nil {
		r.Close()
		return nil, err
	}

	p := r.env.Body().Params()
	log.Info("Vehicle seed=%d mass=%.3fkg inertia=%.3f cd=%.3f area=%.3f tau=%.3fs hover_u=%.3f t/w=%.2f",
		scen.Vehicle.Seed, p.Mass, p.Inertia, p.DragCoefficient, p.ReferenceArea,
		p.RotorTimeConstant, p.HoverThrottle(), p.ThrustToWeight())
	return r, nil
}

func (r *Runner) dialBus(ctx context.Context) error {
	if r.writer == nil {
		writer, err := utils.NewSocketCANWriter(ctx, r.scen.Bus.Interface)
		if err != nil {
			return err
		}
		r.writer = writer
	}
	if r.reader == nil {
		reader, err := utils.NewSocketCANReader(ctx, r.scen.Bus.Interface)
		if err != nil {
			_ = r.writer.Close()
			return err
		}
		r.reader = reader
	}
	return nil
}

func (r *Runner) openSinks() error {
	tc := r.scen.Telemetry
	if tc.DBPath != "" {
		rec, err := telemetry.OpenRecorder(tc.DBPath, tc.BatchSize, r.log)
		if err != nil {
			return err
		}
		r.sinks = append(r.sinks, rec)
	}
	if tc.Influx.Enabled {
		sink, err := telemetry.NewInfluxSink(tc.Influx.InfluxConfig, r.log)
		if err != nil {
			return err
		}
		r.sinks = append(r.sinks, sink)
	}
	if tc.PlotDir != "" {
		r.history = &telemetry.ErrorHistory{}
		r.sinks = append(r.sinks, r.history)
	}
	return nil
}

func (r *Runner) Close() {
	if err := r.sinks.Close(); err != nil {
		r.log.Error("Closing telemetry: %v", err)
	}
	if r.reader != nil {
		_ = r.reader.Close()
	}
	if r.writer != nil {
		_ = r.writer.Close()
	}
}

func (r *Runner) Environment() *Environment       { return r.env }
func (r *Runner) Controller() *control.Controller { return r.ctrl }
func (r *Runner) Targets() *utils.TargetList      { return r.targets }
func (r *Runner) Crashes() int                    { return r.crashes }

// Reset starts a new episode: new vehicle parameters from seed, fresh wind
// and zeroed controller integrals.
func (r *Runner) Reset(seed uint64, windEnabled bool) {
	r.env.Reset(seed, windEnabled)
	r.ctrl.Reload()
	r.tick = 0
	r.crashes = 0
	r.inContact = false
	clear(r.txLast)
	r.log.Info("Reset: seed=%d wind=%v", seed, windEnabled)
}

// Run plays every configured episode. Cancellation is honoured between ticks.
func (r *Runner) Run(ctx context.Context) error {
	var rx chan TargetCommand
	if r.reader != nil {
		rxCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		defer func() {
			cancel()
			wg.Wait()
		}()

		rx = make(chan TargetCommand, 16)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.receiveLoop(rxCtx, rx)
		}()
	}

	for ep := 0; ep < r.scen.Vehicle.Episodes; ep++ {
		if ep > 0 {
			r.Reset(r.scen.Vehicle.Seed+uint64(ep), r.env.WindEnabled())
		}
		if err := r.runEpisode(ctx, rx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runEpisode(ctx context.Context, rx <-chan TargetCommand) error {
	ticks := r.scen.Ticks()
	r.beginRun()
	r.log.Info("Starting episode: run=%s scenario=%s ticks=%d dt=%.4fs wind=%v target=%v",
		r.run.ID, r.scen.Meta.Name, ticks, r.dt, r.env.WindEnabled(), r.targets.Current())

	var pace <-chan time.Time
	if r.scen.Timing.RealTimeMode {
		ticker := time.NewTicker(time.Duration(r.dt * float64(time.Second)))
		defer ticker.Stop()
		pace = ticker.C
	}

	for r.tick < ticks {
		if pace != nil {
			select {
			case <-ctx.Done():
				return r.stop(ctx.Err())
			case <-pace:
			}
		} else if err := ctx.Err(); err != nil {
			return r.stop(err)
		}

		r.drainTargets(rx)
		if err := r.step(ctx); err != nil {
			return r.stop(err)
		}
	}

	r.log.Info("Completed episode: run=%s ticks=%d crashes=%d frames_sent=%d", r.run.ID, r.tick, r.crashes, r.sent)
	return r.endRun()
}

func (r *Runner) drainTargets(rx <-chan TargetCommand) {
	for {
		select {
		case cmd := <-rx:
			if err := r.targets.Override(cmd.Target); err != nil {
				r.log.Warn("RX target %v: %v", cmd.Target, err)
				continue
			}
			r.log.Info("Target set over bus: %v", cmd.Target)
		default:
			return
		}
	}
}

// step runs one tick: wind, control on the pre-step state, body.
func (r *Runner) step(ctx context.Context) error {
	t := float64(r.tick) * r.dt
	if every := r.scen.Targets.SwitchEveryS; every > 0 && r.tick > 0 && r.targets.Len() > 1 {
		if k := int(math.Round(every / r.dt)); k > 0 && r.tick%k == 0 {
			r.log.Info("t=%.2fs switching target to %v", t, r.targets.Next())
		}
	}
	target := r.targets.Current()

	var out control.Output
	res, err := r.env.Tick(r.dt, func(s dynamics.State) ([2]float64, error) {
		raw := r.control(s.Tuple(), [2]float64{target.X, target.Y}, r.dt)
		o, err := control.ValidateAction(raw)
		if err != nil {
			return [2]float64{}, fmt.Errorf("tick %d: %w", r.tick, err)
		}
		out = o
		return o.Action(), nil
	})
	if err != nil {
		return err
	}
	r.tick++
	t = float64(r.tick) * r.dt
	state := r.env.Body().State()

	r.trackContact(t, res)

	if r.writer != nil {
		if err := r.transmit(ctx, t, out, state, res.Wind); err != nil {
			return err
		}
	}

	sample := telemetry.TickSample{
		Tick:     r.tick,
		Time:     t,
		State:    state,
		Target:   [2]float64{target.X, target.Y},
		Action:   res.Action,
		ErrX:     out.ErrX,
		ErrY:     out.ErrY,
		Wind:     res.Wind,
		Collided: res.Collided,
		Ground:   res.Ground,
	}
	if err := r.sinks.Record(sample); err != nil {
		r.log.Error("Telemetry at t=%.3f: %v", t, err)
	}

	if every := r.scen.Timing.LogEvery; every > 0 && r.tick%every == 0 {
		diag := r.ctrl.Diagnostics()
		r.log.Debug("t=%.2f pos=%v att=%.1fdeg u=(%.3f, %.3f) err=(%.3f, %.3f) wind=%v pitch_sp=%.3f",
			t, state.Position, dynamics.RadToDeg(state.Attitude), res.Action[0], res.Action[1],
			out.ErrX, out.ErrY, res.Wind, diag.PitchSetpoint)
	}
	return nil
}

// trackContact logs one crash per contact episode. Contact never changes
// the physics.
func (r *Runner) trackContact(t float64, res TickResult) {
	if !res.Collided {
		r.inContact = false
		return
	}
	if r.inContact {
		return
	}
	r.inContact = true
	r.crashes++
	if res.Ground {
		r.log.Error("t=%.2fs crashed into the ground at %v", t, r.env.Body().State().Position)
	} else {
		r.log.Warn("t=%.2fs hit a wall at %v", t, r.env.Body().State().Position)
	}
}

// transmit sends the actuator and state frames, each at its own cycle time.
func (r *Runner) transmit(ctx context.Context, t float64, out control.Output, s dynamics.State, w dynamics.Vector2) error {
	frames := []struct {
		name   string
		values map[string]float64
	}{
		{utils.FrameActuatorCmd, map[string]float64{
			"u1_cmd": out.U1,
			"u2_cmd": out.U2,
		}},
		{utils.FrameVehicleState, map[string]float64{
			"pos_x_m":        s.Position.X,
			"pos_y_m":        s.Position.Y,
			"attitude_rad":   s.Attitude,
			"wind_speed_mps": w.Length(),
		}},
	}

	for _, f := range frames {
		fd, err := r.cmap.FrameByName(f.name)
		if err != nil {
			return err
		}
		last, seen := r.txLast[f.name]
		if seen && (t-last)*1000 < float64(fd.CycleMS)-1e-9 {
			continue
		}

		frame, err := r.cmap.EncodeEinrideFrame(f.name, f.values)
		if err != nil {
			r.log.Error("Encode %s failed at t=%.3f: %v", f.name, t, err)
			return err
		}
		if err := r.writer.WriteFrame(ctx, frame); err != nil {
			r.log.Critical("Transmit failed at t=%.3f: %v", t, err)
			return err
		}
		r.txLast[f.name] = t
		r.sent++
		r.log.Trace("TX t=%.3f id=0x%X len=%d data=% X", t, frame.ID, frame.Length, frame.Data[:frame.Length])
	}
	return nil
}

func (r *Runner) beginRun() {
	p := r.env.Body().Params()
	r.run = telemetry.RunInfo{
		ID:          telemetry.NewRunID(),
		Name:        r.scen.Meta.Name,
		Seed:        r.env.Seed(),
		Params:      p,
		WindEnabled: r.env.WindEnabled(),
		Wind:        r.scen.Wind.Config,
		Dt:          r.dt,
		StartedAt:   time.Now().UTC(),
	}
	if err := r.sinks.BeginRun(r.run); err != nil {
		r.log.Error("Telemetry begin run %s: %v", r.run.ID, err)
	}
}

func (r *Runner) endRun() error {
	err := r.sinks.EndRun(telemetry.RunSummary{Ticks: r.tick, Crashes: r.crashes, EndedAt: time.Now().UTC()})
	if err != nil {
		r.log.Error("Telemetry end run %s: %v", r.run.ID, err)
	}

	if r.history != nil && r.history.Len() > 0 {
		path := filepath.Join(r.scen.Telemetry.PlotDir, "errors_"+r.run.ID+".png")
		if err := telemetry.SaveErrorPlot(r.history, path); err != nil {
			return fmt.Errorf("save error plot: %w", err)
		}
		r.log.Info("Saved error plot: %s", path)
	}
	return nil
}

// stop closes the current run after an interruption and passes cause through.
func (r *Runner) stop(cause error) error {
	r.log.Warn("Stopping at tick %d: %v", r.tick, cause)
	if err := r.endRun(); err != nil {
		r.log.Error("%v", err)
	}
	return cause
}
