// Package overlay draws detection boxes, labels and the frame-rate readout
// onto frames. Everything here is a pure function of its inputs.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/alertcam/internal/vision"
)

var (
	// BoxColor is used for detection boxes and labels.
	BoxColor = color.RGBA{0, 255, 0, 255}
	// FPSColor is used for the frame-rate readout.
	FPSColor = color.RGBA{255, 255, 0, 255}
)

const (
	boxThickness = 2
	labelOffset  = 10
	labelMinY    = 10
)

// FPSOrigin is the baseline position of the frame-rate text.
var FPSOrigin = image.Pt(10, 25)

// DrawDetection draws d's box and "<class> <conf>" label onto dst. Parts of
// the box outside dst are clipped.
func DrawDetection(dst *image.RGBA, d vision.Detection) {
	r := d.Box.Rect()
	DrawRect(dst, r, BoxColor, boxThickness)
	y := r.Min.Y - labelOffset
	if y < labelMinY {
		y = labelMinY
	}
	DrawText(dst, d.Label(), image.Pt(r.Min.X, y), BoxColor)
}

// DrawFPS draws the "FPS: n.n" readout onto dst.
func DrawFPS(dst *image.RGBA, fps float64) {
	DrawText(dst, fmt.Sprintf("FPS: %.1f", fps), FPSOrigin, FPSColor)
}

// DrawRect outlines r with the given stroke thickness, growing inwards.
func DrawRect(dst *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	if r.Empty() || thickness <= 0 {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), // top
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), // left
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		e = e.Intersect(r).Intersect(dst.Bounds())
		if e.Empty() {
			continue
		}
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

// DrawText renders s with its baseline starting at origin.
func DrawText(dst *image.RGBA, s string, origin image.Point, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(origin.X, origin.Y),
	}
	d.DrawString(s)
}
