package stats

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const plotSmoothing = 100

// WriteRewardPlot saves the per-episode reward curve and its moving average
// as a PNG.
func WriteRewardPlot(path, title string, rewards []float64) error {
	if len(rewards) == 0 {
		return fmt.Errorf("no rewards to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Episode"
	p.Y.Label.Text = "Total reward"

	raw := make(plotter.XYs, len(rewards))
	for i, r := range rewards {
		raw[i].X = float64(i + 1)
		raw[i].Y = r
	}
	rawLine, err := plotter.NewLine(raw)
	if err != nil {
		return fmt.Errorf("reward line: %w", err)
	}
	rawLine.LineStyle.Color = color.RGBA{R: 170, G: 170, B: 220, A: 255}

	avg := MovingAverage(rewards, plotSmoothing)
	smooth := make(plotter.XYs, len(avg))
	for i, pt := range avg {
		smooth[i].X = float64(pt.Index)
		smooth[i].Y = pt.Value
	}
	avgLine, err := plotter.NewLine(smooth)
	if err != nil {
		return fmt.Errorf("average line: %w", err)
	}
	avgLine.LineStyle.Color = color.RGBA{R: 200, A: 255}
	avgLine.LineStyle.Width = vg.Points(1.5)

	p.Add(rawLine, avgLine)
	p.Legend.Add("Total reward", rawLine)
	p.Legend.Add(fmt.Sprintf("Mean of last %d", plotSmoothing), avgLine)
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}
