package main

import (
	"bytes"
	"context"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	"twinthrust/closed_loop/dynamics"
	control "twinthrust/closed_loop/flight_control"
	"twinthrust/closed_loop/telemetry"
	"twinthrust/utils"
)

type fakeWriter struct {
	frames []can.Frame
}

func (w *fakeWriter) WriteFrame(_ context.Context, f can.Frame) error {
	w.frames = append(w.frames, f)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	frames chan can.Frame
}

func (r *fakeReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case f := <-r.frames:
		return f, nil
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error { return nil }

// closableReader blocks until ctx ends while open, fails once closed, and can
// replay a queue of errors first.
type closableReader struct {
	mu     sync.Mutex
	closed bool
	errs   []error
	reads  atomic.Int64
}

func (r *closableReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	r.reads.Add(1)
	r.mu.Lock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		r.mu.Unlock()
		return can.Frame{}, err
	}
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return can.Frame{}, net.ErrClosed
	}
	<-ctx.Done()
	return can.Frame{}, ctx.Err()
}

func (r *closableReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func testScenario(t *testing.T, seconds float64) Scenario {
	t.Helper()
	scen, err := LoadScenario("")
	require.NoError(t, err)
	scen.Timing.DurationS = seconds
	return scen
}

func TestRunnerRunsEpisode(t *testing.T) {
	scen := testScenario(t, 1)
	r, err := NewRunner(context.Background(), scen, utils.NewNopLogger())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 60, r.tick)

	s := r.Environment().Body().State()
	for _, v := range s.Tuple() {
		assert.False(t, math.IsNaN(v))
	}
	assert.NotEqual(t, control.State{}, r.Controller().State())
}

func TestRunnerMalformedActionIsFatal(t *testing.T) {
	scen := testScenario(t, 1)
	r, err := NewRunner(context.Background(), scen, utils.NewNopLogger(),
		WithControlFunc(func([6]float64, [2]float64, float64) []float64 {
			return []float64{0.5, 0.5}
		}))
	require.NoError(t, err)
	defer r.Close()

	err = r.Run(context.Background())
	assert.ErrorIs(t, err, control.ErrMalformedAction)
	assert.Zero(t, r.tick)

	r2, err := NewRunner(context.Background(), scen, utils.NewNopLogger(),
		WithControlFunc(func([6]float64, [2]float64, float64) []float64 {
			return []float64{0.5, math.NaN(), 0, 0}
		}))
	require.NoError(t, err)
	defer r2.Close()
	assert.ErrorIs(t, r2.Run(context.Background()), control.ErrMalformedAction)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	r, err := NewRunner(context.Background(), testScenario(t, 1), utils.NewNopLogger())
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Zero(t, r.tick)
}

func TestRunnerRealTimePacing(t *testing.T) {
	scen := testScenario(t, 0.25)
	scen.Timing.RealTimeMode = true
	r, err := NewRunner(context.Background(), scen, utils.NewNopLogger())
	require.NoError(t, err)
	defer r.Close()

	start := time.Now()
	require.NoError(t, r.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 15, r.tick)
}

func TestRunnerTransmitsFrames(t *testing.T) {
	w := &fakeWriter{}
	scen := testScenario(t, 1)
	scen.Wind.Enabled = false
	r, err := NewRunner(context.Background(), scen, utils.NewNopLogger(), WithCANWriter(w))
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Run(context.Background()))

	cmap, err := utils.DefaultCANMap()
	require.NoError(t, err)

	counts := map[string]int{}
	for _, f := range w.frames {
		name, values, err := cmap.DecodeEinrideFrame(f)
		require.NoError(t, err)
		counts[name]++
		if name == utils.FrameActuatorCmd {
			assert.True(t, values["u1_cmd"] >= 0 && values["u1_cmd"] <= 0.75)
		}
		if name == utils.FrameVehicleState {
			assert.InDelta(t, 4.0, values["pos_x_m"], 1e-9)
		}
	}
	// 17 ms cycle at 60 Hz: every other tick
	assert.Equal(t, 30, counts[utils.FrameActuatorCmd])
	assert.Equal(t, 30, counts[utils.FrameVehicleState])
}

func TestRunnerRecordsAndPlots(t *testing.T) {
	dir := t.TempDir()
	scen := testScenario(t, 1)
	scen.Vehicle.Episodes = 2
	scen.Telemetry.DBPath = filepath.Join(dir, "runs.db")
	scen.Telemetry.BatchSize = 25
	scen.Telemetry.PlotDir = filepath.Join(dir, "plots")

	r, err := NewRunner(context.Background(), scen, utils.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))
	r.Close()

	rec, err := telemetry.OpenRecorder(scen.Telemetry.DBPath, 0, utils.NewNopLogger())
	require.NoError(t, err)
	defer rec.Close()

	runs, err := rec.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	seeds := []int64{runs[0].Seed, runs[1].Seed}
	assert.ElementsMatch(t, []int64{5, 6}, seeds)

	for _, run := range runs {
		assert.Equal(t, 60, run.Ticks)
		ticks, err := rec.Ticks(run.ID)
		require.NoError(t, err)
		assert.Len(t, ticks, 60)

		_, err = os.Stat(filepath.Join(scen.Telemetry.PlotDir, "errors_"+run.ID+".png"))
		assert.NoError(t, err)
	}
}

func TestRunnerLogsGroundCrashOnce(t *testing.T) {
	var buf bytes.Buffer
	log := utils.NewWriterLogger(&buf, utils.WARN)

	scen := testScenario(t, 1)
	scen.Vehicle.StartY = 7.9
	scen.Wind.Enabled = false
	r, err := NewRunner(context.Background(), scen, log,
		WithControlFunc(func([6]float64, [2]float64, float64) []float64 {
			return []float64{0, 0, 0, 0}
		}))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, r.Crashes())
	assert.Equal(t, 1, strings.Count(buf.String(), "crashed into the ground"))
	// contact does not stop the body
	assert.Greater(t, r.Environment().Body().State().Position.Y, 8.0)
}

func TestRunnerSwitchesTargets(t *testing.T) {
	scen := testScenario(t, 1)
	scen.Targets.Inline = [][]float64{{4, 4}, {5, 5}, {6, 6}}
	scen.Targets.SwitchEveryS = 0.4

	r, err := NewRunner(context.Background(), scen, utils.NewNopLogger())
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Run(context.Background()))

	// switches at ticks 24 and 48
	assert.Equal(t, 2, r.Targets().Index())
}

func TestRunnerReset(t *testing.T) {
	r, err := NewRunner(context.Background(), testScenario(t, 0.5), utils.NewNopLogger())
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Run(context.Background()))

	r.Reset(12, false)
	assert.Equal(t, control.State{}, r.Controller().State())
	assert.Equal(t, dynamics.GenerateParameters(12), r.Environment().Body().Params())
	assert.False(t, r.Environment().WindEnabled())
	assert.Zero(t, r.tick)
}

func TestRunnerAppliesBusTargets(t *testing.T) {
	rd := &fakeReader{frames: make(chan can.Frame, 1)}
	r, err := NewRunner(context.Background(), testScenario(t, 1), utils.NewNopLogger(), WithCANReader(rd))
	require.NoError(t, err)
	defer r.Close()

	frame, err := r.cmap.EncodeEinrideFrame(utils.FrameTargetCmd, map[string]float64{
		"target_x_m": 6,
		"target_y_m": 3,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rx := make(chan TargetCommand, 1)
	go r.receiveLoop(ctx, rx)
	rd.frames <- frame

	select {
	case cmd := <-rx:
		r.drainTargets(singleCommand(cmd))
	case <-time.After(2 * time.Second):
		t.Fatal("no target received")
	}
	assert.InDelta(t, 6.0, r.Targets().Current().X, 1e-9)
	assert.InDelta(t, 3.0, r.Targets().Current().Y, 1e-9)
}

func singleCommand(cmd TargetCommand) <-chan TargetCommand {
	ch := make(chan TargetCommand, 1)
	ch <- cmd
	return ch
}

func TestDecodeTargetFrame(t *testing.T) {
	cmap, err := utils.DefaultCANMap()
	require.NoError(t, err)

	f, err := cmap.EncodeEinrideFrame(utils.FrameTargetCmd, map[string]float64{"target_x_m": 1.5, "target_y_m": 7.25})
	require.NoError(t, err)
	got, ok, err := decodeTargetFrame(cmap, f)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 1.5, got.X, 1e-9)
	assert.InDelta(t, 7.25, got.Y, 1e-9)

	other, err := cmap.EncodeEinrideFrame(utils.FrameActuatorCmd, map[string]float64{"u1_cmd": 0.5})
	require.NoError(t, err)
	_, ok, err = decodeTargetFrame(cmap, other)
	assert.False(t, ok)
	assert.NoError(t, err)
}

type countingSink struct {
	runs, ticks, ended int
	last               telemetry.RunSummary
}

func (s *countingSink) BeginRun(telemetry.RunInfo) error  { s.runs++; return nil }
func (s *countingSink) Record(telemetry.TickSample) error { s.ticks++; return nil }
func (s *countingSink) Close() error                      { return nil }

func (s *countingSink) EndRun(sum telemetry.RunSummary) error {
	s.ended++
	s.last = sum
	return nil
}

func TestRunnerFeedsSinks(t *testing.T) {
	sink := &countingSink{}
	scen := testScenario(t, 0.5)
	scen.Vehicle.Episodes = 3
	r, err := NewRunner(context.Background(), scen, utils.NewNopLogger(), WithSink(sink))
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 3, sink.runs)
	assert.Equal(t, 3, sink.ended)
	assert.Equal(t, 90, sink.ticks)
	assert.Equal(t, 30, sink.last.Ticks)
}

func TestRunnerStopsReceivingAfterRun(t *testing.T) {
	rd := &closableReader{}
	r, err := NewRunner(context.Background(), testScenario(t, 0.5), utils.NewNopLogger(), WithCANReader(rd))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))
	r.Close()

	reads := rd.reads.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, reads, rd.reads.Load())
}

func TestReceiveLoopStopsOnClosedReader(t *testing.T) {
	rd := &closableReader{errs: []error{os.ErrDeadlineExceeded, os.ErrDeadlineExceeded}}
	require.NoError(t, rd.Close())
	r, err := NewRunner(context.Background(), testScenario(t, 1), utils.NewNopLogger(), WithCANReader(rd))
	require.NoError(t, err)
	defer r.Close()

	done := make(chan struct{})
	go func() {
		r.receiveLoop(context.Background(), make(chan TargetCommand))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receive loop still running on a closed reader")
	}
	// two timeouts retried, then the closed error ends the loop
	assert.Equal(t, int64(3), rd.reads.Load())
}
