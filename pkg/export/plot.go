package export

import (
	"errors"
	"fmt"

	"github.com/kpotier/molrefine/pkg/data1d"
	"github.com/kpotier/molrefine/pkg/partials"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Size of the saved plots.
var (
	PlotWidth  = 6 * vg.Inch
	PlotHeight = 4 * vg.Inch
)

func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for k := range x {
		pts[k].X = x[k]
		pts[k].Y = y[k]
	}
	return pts
}

func newPlot(title, xLabel, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.Title.Padding = 3 * vg.Millimeter
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	return p
}

// PlotCurves saves a plot of the total and of the full curve of every pair
// of atom types. The format follows the extension of path.
func PlotCurves(path, title, xLabel, yLabel string, c *partials.Curves, names []string) error {
	if len(c.X) == 0 {
		return errors.New("nothing to plot")
	}
	p := newPlot(title, xLabel, yLabel)

	lines := []interface{}{"total", xys(c.X, c.Total)}
	c.Full.Each(func(i, j int, y []float64) {
		lines = append(lines, names[i]+"-"+names[j], xys(c.X, y))
	})
	err := plotutil.AddLines(p, lines...)
	if err != nil {
		return fmt.Errorf("AddLines: %w", err)
	}
	return p.Save(PlotWidth, PlotHeight, path)
}

// PlotData saves a plot of one line per data set.
func PlotData(path, title, xLabel, yLabel string, sets ...*data1d.Data1D) error {
	if len(sets) == 0 {
		return errors.New("nothing to plot")
	}
	p := newPlot(title, xLabel, yLabel)

	var lines []interface{}
	for _, d := range sets {
		lines = append(lines, d.Name, xys(d.X, d.Y))
	}
	err := plotutil.AddLines(p, lines...)
	if err != nil {
		return fmt.Errorf("AddLines: %w", err)
	}
	return p.Save(PlotWidth, PlotHeight, path)
}
