package metrics

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoSamples is returned when there is nothing to plot.
var ErrNoSamples = errors.New("no samples")

// WriteSessionPlot renders fps (one value per frame) as a PNG line chart,
// creating the parent directory if needed.
func WriteSessionPlot(path, title string, fps []float64) error {
	if len(fps) == 0 {
		return ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "FPS"

	pts := make(plotter.XYs, len(fps))
	for i, v := range fps {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 30, G: 120, B: 200, A: 255}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
