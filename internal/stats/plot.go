package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteFitnessPlot renders best and average fitness against generation. The
// image format follows the extension of path. Non-finite points are dropped.
func WriteFitnessPlot(path, title string, best, average []float64) error {
	bestPts := finitePoints(best)
	if len(bestPts) == 0 {
		return fmt.Errorf("no finite fitness values to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Fitness"

	bestLine, err := plotter.NewLine(bestPts)
	if err != nil {
		return err
	}
	p.Add(bestLine)
	p.Legend.Add("best", bestLine)

	if avgPts := finitePoints(average); len(avgPts) > 0 {
		avgLine, err := plotter.NewLine(avgPts)
		if err != nil {
			return err
		}
		avgLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(avgLine)
		p.Legend.Add("average", avgLine)
	}
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	p.Legend.Left = true

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

func finitePoints(series []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(series))
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i), Y: v})
	}
	return pts
}
