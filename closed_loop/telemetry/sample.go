package telemetry

import (
	"errors"
	"time"

	"twinthrust/closed_loop/dynamics"
	"twinthrust/closed_loop/wind"
)

// RunInfo describes one episode.
type RunInfo struct {
	ID          string
	Name        string
	Seed        uint64
	Params      dynamics.Params
	WindEnabled bool
	Wind        wind.Config
	Dt          float64
	StartedAt   time.Time
}

// RunSummary closes an episode.
type RunSummary struct {
	Ticks   int
	Crashes int
	EndedAt time.Time
}

// TickSample is everything observed during one simulation tick.
type TickSample struct {
	Tick     int
	Time     float64 // s since episode start
	State    dynamics.State
	Target   [2]float64
	Action   [2]float64
	ErrX     float64
	ErrY     float64
	Wind     dynamics.Vector2
	Collided bool
	Ground   bool
}

// Sink consumes tick samples for one episode at a time.
type Sink interface {
	BeginRun(info RunInfo) error
	Record(s TickSample) error
	EndRun(sum RunSummary) error
	Close() error
}

// Fanout forwards every call to each sink and joins their errors.
type Fanout []Sink

func (f Fanout) BeginRun(info RunInfo) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.BeginRun(info))
	}
	return errors.Join(errs...)
}

func (f Fanout) Record(sample TickSample) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.Record(sample))
	}
	return errors.Join(errs...)
}

func (f Fanout) EndRun(sum RunSummary) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.EndRun(sum))
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
