package telemetry

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// ErrorHistory keeps the position error of the current run for plotting.
type ErrorHistory struct {
	RunID string
	Time  []float64
	ErrX  []float64
	ErrY  []float64
}

func (h *ErrorHistory) BeginRun(info RunInfo) error {
	*h = ErrorHistory{RunID: info.ID}
	return nil
}

func (h *ErrorHistory) Record(s TickSample) error {
	h.Time = append(h.Time, s.Time)
	h.ErrX = append(h.ErrX, s.ErrX)
	h.ErrY = append(h.ErrY, s.ErrY)
	return nil
}

func (h *ErrorHistory) EndRun(RunSummary) error { return nil }
func (h *ErrorHistory) Close() error            { return nil }

func (h *ErrorHistory) Len() int { return len(h.Time) }

// SaveErrorPlot renders x and y error against time with a zero reference
// line to a PNG at path.
func SaveErrorPlot(h *ErrorHistory, path string) error {
	if h.Len() == 0 {
		return errors.New("no error samples to plot")
	}

	p := plot.New()
	p.Title.Text = "Position error vs time"
	if h.RunID != "" {
		p.Title.Text += " (" + h.RunID + ")"
	}
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "error (m)"
	p.Add(plotter.NewGrid())

	errX, err := historyLine(h.Time, h.ErrX)
	if err != nil {
		return err
	}
	errX.LineStyle.Color = plotutil.Color(0)
	errY, err := historyLine(h.Time, h.ErrY)
	if err != nil {
		return err
	}
	errY.LineStyle.Color = plotutil.Color(1)

	zero, err := plotter.NewLine(plotter.XYs{{X: h.Time[0], Y: 0}, {X: h.Time[h.Len()-1], Y: 0}})
	if err != nil {
		return fmt.Errorf("cannot create zero line: %w", err)
	}
	zero.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}

	p.Add(zero, errX, errY)
	p.Legend.Add("error x", errX)
	p.Legend.Add("error y", errY)
	p.Legend.Top = true

	return savePlotPNG(p, 8, 5, path)
}

func historyLine(t, v []float64) (*plotter.Line, error) {
	pts := make(plotter.XYs, len(t))
	for i := range t {
		pts[i].X = t[i]
		pts[i].Y = v[i]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("cannot create line plot: %w", err)
	}
	line.LineStyle.Width = vg.Points(1.5)
	return line, nil
}

// savePlotPNG renders a plot to a PNG. widthIn and heightIn are in inches.
func savePlotPNG(p *plot.Plot, widthIn, heightIn float64, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(150),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	png := vgimg.PngCanvas{Canvas: c}
	if _, err := png.WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return bw.Flush()
}
