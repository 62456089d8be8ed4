package export

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
)

var (
	distanceColor  = color.RGBA{R: 59, G: 130, B: 246, A: 255}
	thresholdColor = color.RGBA{R: 239, G: 68, B: 68, A: 255}
)

// WritePlot renders the distance history with the threshold band as a PNG.
func WritePlot(w io.Writer, snap monitor.DistanceSnapshot, t monitor.Thresholds) error {
	if len(snap.History) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = "Distance history"
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Distance (cm)"

	pts := make(plotter.XYs, len(snap.History))
	for i, d := range snap.History {
		pts[i] = plotter.XY{X: float64(i + 1), Y: d}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to build distance line: %w", err)
	}
	line.Color = distanceColor
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("distance", line)

	last := float64(len(snap.History))
	if last < 2 {
		last = 2
	}
	for i, y := range []float64{t.Min, t.Max} {
		bound, err := plotter.NewLine(plotter.XYs{{X: 1, Y: y}, {X: last, Y: y}})
		if err != nil {
			return fmt.Errorf("failed to build threshold line: %w", err)
		}
		bound.Color = thresholdColor
		bound.Width = vg.Points(1)
		bound.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(bound)
		if i == 0 {
			p.Legend.Add(fmt.Sprintf("thresholds %.1f-%.1f cm", t.Min, t.Max), bound)
		}
	}
	p.Add(plotter.NewGrid())

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}
