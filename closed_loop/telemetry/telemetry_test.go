package telemetry

import (
	"bufio"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinthrust/closed_loop/dynamics"
	"twinthrust/closed_loop/wind"
	"twinthrust/utils"
)

func testRun() RunInfo {
	return RunInfo{
		ID:          NewRunID(),
		Name:        "hover",
		Seed:        5,
		Params:      dynamics.GenerateParameters(5),
		WindEnabled: true,
		Wind:        wind.DefaultConfig(),
		Dt:          1.0 / 60.0,
		StartedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func sample(i int) TickSample {
	return TickSample{
		Tick:   i,
		Time:   float64(i) / 60,
		State:  dynamics.State{Position: dynamics.Vector2{X: 4, Y: 4 + float64(i)*0.001}},
		Target: [2]float64{4, 4},
		Action: [2]float64{0.4, 0.41},
		ErrX:   0,
		ErrY:   float64(i) * 0.001,
		Wind:   dynamics.Vector2{X: 1.5, Y: -0.2},
	}
}

func TestRecorderStoresRunsAndTicks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	rec, err := OpenRecorder(path, 100, utils.NewNopLogger())
	require.NoError(t, err)

	run := testRun()
	require.NoError(t, rec.BeginRun(run))
	for i := 0; i < 250; i++ {
		require.NoError(t, rec.Record(sample(i)))
	}
	// two full batches written, the rest buffered
	stored, err := rec.Ticks(run.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 200)

	require.NoError(t, rec.EndRun(RunSummary{Ticks: 250, Crashes: 1, EndedAt: run.StartedAt.Add(time.Minute)}))

	stored, err = rec.Ticks(run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 250)
	assert.Equal(t, 249, stored[249].Tick)
	assert.InDelta(t, 4.249, stored[249].Y, 1e-9)
	assert.Equal(t, 1.5, stored[0].WindX)

	runs, err := rec.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, int64(5), runs[0].Seed)
	assert.Equal(t, run.Params.Mass, runs[0].Mass)
	assert.Equal(t, 250, runs[0].Ticks)
	assert.Equal(t, 1, runs[0].Crashes)
	require.NotNil(t, runs[0].EndedAt)

	require.NoError(t, rec.Close())
}

func TestRecorderInMemory(t *testing.T) {
	rec, err := OpenRecorder("", 0, utils.NewNopLogger())
	require.NoError(t, err)
	defer rec.Close()

	assert.Error(t, rec.Record(sample(0)))

	run := testRun()
	run.ID = ""
	require.NoError(t, rec.BeginRun(run))
	require.NoError(t, rec.Record(sample(0)))
	require.NoError(t, rec.Flush())

	runs, err := rec.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].ID, 36)

	ticks, err := rec.Ticks(runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, ticks, 1)
}

func TestTickPoint(t *testing.T) {
	run := testRun()
	p := NewTickPoint(run, sample(60))
	assert.Equal(t, TickMeasurement, p.Name())
	assert.Equal(t, run.StartedAt.Add(time.Second), p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, run.ID, tags["run"])
	assert.Equal(t, "5", tags["seed"])

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 0.41, fields["u2"])
	assert.Equal(t, 1.5, fields["wind_x"])
}

func TestInfluxSinkFallsBackToBackup(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "ticks.lp.gz")
	sink, err := NewInfluxSink(InfluxConfig{
		URL:        "http://127.0.0.1:1",
		Org:        "twinthrust",
		Bucket:     "ticks",
		BackupPath: backup,
		Timeout:    500 * time.Millisecond,
	}, utils.NewNopLogger())
	require.NoError(t, err)
	assert.False(t, sink.IsValid)

	run := testRun()
	require.NoError(t, sink.BeginRun(run))
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Record(sample(i)))
	}
	require.NoError(t, sink.EndRun(RunSummary{Ticks: 5}))
	require.NoError(t, sink.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 5)
	for _, l := range lines {
		assert.NotEmpty(t, l)
	}
	assert.True(t, strings.HasPrefix(lines[0], TickMeasurement+",run="+run.ID))
	assert.Contains(t, lines[4], "tick=4i")
}

func TestInfluxSinkNeedsBackupPath(t *testing.T) {
	_, err := NewInfluxSink(InfluxConfig{URL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, utils.NewNopLogger())
	assert.Error(t, err)
}

func TestSaveErrorPlot(t *testing.T) {
	var h ErrorHistory
	path := filepath.Join(t.TempDir(), "plots", "errors.png")
	assert.Error(t, SaveErrorPlot(&h, path))

	require.NoError(t, h.BeginRun(RunInfo{ID: "r1"}))
	for i := 0; i < 120; i++ {
		require.NoError(t, h.Record(sample(i)))
	}
	assert.Equal(t, 120, h.Len())
	require.NoError(t, SaveErrorPlot(&h, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))

	require.NoError(t, h.BeginRun(RunInfo{ID: "r2"}))
	assert.Zero(t, h.Len())
	assert.Equal(t, "r2", h.RunID)
}

type failingSink struct{ ErrorHistory }

func (failingSink) Record(TickSample) error { return errors.New("disk full") }

func TestFanoutJoinsErrors(t *testing.T) {
	var good ErrorHistory
	f := Fanout{&good, &failingSink{}}

	require.NoError(t, f.BeginRun(RunInfo{ID: "x"}))
	err := f.Record(sample(1))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, good.Len())
	assert.NoError(t, f.EndRun(RunSummary{}))
	assert.NoError(t, f.Close())
}
