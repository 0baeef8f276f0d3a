package stats

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"l2g/internal/protocol"
)

type Series struct {
	Label string
	Steps []protocol.Step
}

// PlotProtocols draws every series' interaction energy (solid) and chemical
// potential (dashed) against the step index.
func PlotProtocols(path, title string, series []Series) error {
	if len(series) == 0 {
		return fmt.Errorf("no protocols to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Megastep"
	p.Y.Label.Text = "Value"

	for i, s := range series {
		ie := make(plotter.XYs, len(s.Steps))
		mu := make(plotter.XYs, len(s.Steps))
		for j, step := range s.Steps {
			ie[j].X, ie[j].Y = float64(j), step.InteractionEnergy
			mu[j].X, mu[j].Y = float64(j), step.ChemicalPotential
		}
		ieLine, err := plotter.NewLine(ie)
		if err != nil {
			return err
		}
		muLine, err := plotter.NewLine(mu)
		if err != nil {
			return err
		}
		ieLine.Color = plotutil.Color(i)
		muLine.Color = plotutil.Color(i)
		muLine.Dashes = plotutil.Dashes(1)

		p.Add(ieLine, muLine)
		p.Legend.Add(s.Label+" epsilon", ieLine)
		p.Legend.Add(s.Label+" mu", muLine)
	}
	p.Legend.Top = true

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

// ProgressPoint is one generation on the progress plot.
type ProgressPoint struct {
	Generation int
	Best       float64
	Mean       float64
	PoolFloor  float64
}

func PlotProgress(path string, points []ProgressPoint) error {
	if len(points) == 0 {
		return fmt.Errorf("no generations to plot")
	}
	p := plot.New()
	p.Title.Text = "Fitness by generation"
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Fitness"

	best := make(plotter.XYs, len(points))
	mean := make(plotter.XYs, len(points))
	floor := make(plotter.XYs, len(points))
	for i, pt := range points {
		x := float64(pt.Generation)
		best[i].X, best[i].Y = x, pt.Best
		mean[i].X, mean[i].Y = x, pt.Mean
		floor[i].X, floor[i].Y = x, pt.PoolFloor
	}

	if err := plotutil.AddLinePoints(p, "best", best, "mean", mean, "pool floor", floor); err != nil {
		return err
	}
	p.Legend.Top = true
	p.Legend.Left = true

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
