// Package vision defines the frame and detection types shared by every
// stage of the detection pipeline.
package vision

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"strings"
	"time"
)

// Frame is a captured image. A stage that receives a Frame treats it as
// read-only; anything that draws on it works on a CloneFrame copy.
type Frame = *image.RGBA

// CloneFrame returns a deep copy of f with bounds starting at the origin.
func CloneFrame(f Frame) Frame {
	if f == nil {
		return nil
	}
	b := f.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), f, b.Min, draw.Src)
	return out
}

// ToFrame converts any image to a Frame, copying only when needed.
func ToFrame(img image.Image) Frame {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// BBox is a bounding box in integer pixel coordinates.
type BBox struct {
	X1, Y1, X2, Y2 int
}

// Rect returns the box as a canonical image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is one model output for a frame.
type Detection struct {
	ClassName  string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"box"`
}

// Label is the overlay text for the detection, e.g. "gun 0.62".
func (d Detection) Label() string {
	return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
}

// Threshold bounds.
const (
	MinThreshold = 0.1
	MaxThreshold = 1.0
)

// ClampThreshold clamps v into [MinThreshold, MaxThreshold]. NaN clamps to
// the minimum.
func ClampThreshold(v float64) float64 {
	if math.IsNaN(v) || v < MinThreshold {
		return MinThreshold
	}
	if v > MaxThreshold {
		return MaxThreshold
	}
	return v
}

// Filter returns the detections whose confidence is at or above threshold,
// in their original order.
func Filter(dets []Detection, threshold float64) []Detection {
	var kept []Detection
	for _, d := range dets {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	return kept
}

// ClassSet is a case-insensitive set of class names.
type ClassSet map[string]struct{}

// NewClassSet builds a ClassSet from names.
func NewClassSet(names ...string) ClassSet {
	s := make(ClassSet, len(names))
	for _, n := range names {
		s[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return s
}

// Contains reports whether name is in the set, ignoring case.
func (s ClassSet) Contains(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}

// LogEntry is one line of the detection log.
type LogEntry struct {
	Time       time.Time `json:"time"`
	ClassName  string    `json:"class"`
	Confidence float64   `json:"confidence"`
}

// Clock formats the entry time as HH:MM:SS.
func (e LogEntry) Clock() string {
	return e.Time.Format("15:04:05")
}

func (e LogEntry) String() string {
	return "[" + e.Clock() + "] " + e.ClassName
}
