package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// World extent in metres; targets must lie inside [WorldMin, WorldMax] on both axes.
const (
	WorldMin = 0.0
	WorldMax = 8.0
)

var (
	ErrTargetOutOfBounds = errors.New("target outside world bounds")
	ErrNoTargets         = errors.New("no valid targets")
)

type Target struct {
	X float64
	Y float64
}

func (t Target) String() string { return fmt.Sprintf("(%.2f, %.2f)", t.X, t.Y) }

func CheckTarget(t Target) error {
	if t.X < WorldMin || t.X > WorldMax || t.Y < WorldMin || t.Y > WorldMax {
		return fmt.Errorf("%w: %v not in (%.0f, %.0f) to (%.0f, %.0f)",
			ErrTargetOutOfBounds, t, WorldMin, WorldMin, WorldMax, WorldMax)
	}
	return nil
}

func LoadTargets(path string, log *Logger) ([]Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseTargets(f, log)
}

// ParseTargets reads "x,y" rows after a header line. Rows outside the world are
// skipped with a warning; unparseable rows are an error.
func ParseTargets(in io.Reader, log *Logger) ([]Target, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoTargets
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []Target
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected x,y got %d fields", line, len(rec))
		}

		x, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: x: %w", line, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: y: %w", line, err)
		}

		t := Target{X: x, Y: y}
		if err := CheckTarget(t); err != nil {
			log.Warn("line %d: %v, not loading target", line, err)
			continue
		}
		out = append(out, t)
	}

	if len(out) == 0 {
		return nil, ErrNoTargets
	}
	return out, nil
}

// TargetList cycles through a fixed set of targets.
type TargetList struct {
	targets []Target
	idx     int
}

func NewTargetList(targets []Target) (*TargetList, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	cp := make([]Target, len(targets))
	copy(cp, targets)
	return &TargetList{targets: cp}, nil
}

func (l *TargetList) Current() Target { return l.targets[l.idx] }
func (l *TargetList) Index() int      { return l.idx }
func (l *TargetList) Len() int        { return len(l.targets) }

func (l *TargetList) Next() Target {
	l.idx = (l.idx + 1) % len(l.targets)
	return l.Current()
}

func (l *TargetList) Prev() Target {
	l.idx = (l.idx - 1 + len(l.targets)) % len(l.targets)
	return l.Current()
}

// Override replaces the current entry, e.g. when a target arrives over the bus.
func (l *TargetList) Override(t Target) error {
	if err := CheckTarget(t); err != nil {
		return err
	}
	l.targets[l.idx] = t
	return nil
}
