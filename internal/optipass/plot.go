package optipass

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotFileName is the habitat plot written into a kept run directory.
const PlotFileName = "habitat.png"

// WritePlot renders potential habitat against budget as a PNG: one line per
// target plus the weighted total when there is more than one target.
func WritePlot(w io.Writer, s *Summary) error {
	p := plot.New()
	p.Title.Text = "Potential habitat by budget"
	p.X.Label.Text = "Budget"
	p.Y.Label.Text = "Potential habitat"

	budgets := s.Budgets()
	add := func(i int, name string, ys []float64) error {
		pts := make(plotter.XYs, len(budgets))
		for j := range budgets {
			pts[j] = plotter.XY{X: budgets[j], Y: ys[j]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to plot %s: %w", name, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(name, line)
		return nil
	}

	for i, t := range s.Targets {
		if err := add(i, t, s.Column(i)); err != nil {
			return err
		}
	}
	if len(s.Targets) > 1 {
		if err := add(len(s.Targets), "wph", s.WPHColumn()); err != nil {
			return err
		}
	}

	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.XOffs = 10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
