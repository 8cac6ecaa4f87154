// Package detect runs object detection on frames, either through a remote
// inference service or from scripted results.
package detect

import (
	"context"
	"errors"
	"sync"

	"github.com/banshee-data/alertcam/internal/vision"
)

// ErrDetection is returned (wrapped) when inference fails for a frame.
var ErrDetection = errors.New("detection failed")

// DefaultInferenceSize is the square input size requested from the model.
const DefaultInferenceSize = 320

// Detector returns candidate detections for a frame. The threshold is a
// hint for the model; callers still filter the result themselves.
// Implementations must not modify frame.
type Detector interface {
	Predict(ctx context.Context, frame vision.Frame, inferenceSize int, threshold float64) ([]vision.Detection, error)
}

// StaticDetector replays scripted results, one entry per call. Once the
// script runs out it keeps returning the last entry (or nothing).
type StaticDetector struct {
	mu     sync.Mutex
	script []StaticResult
	calls  int
}

// StaticResult is the outcome of one scripted Predict call.
type StaticResult struct {
	Detections []vision.Detection
	Err        error
}

// NewStaticDetector returns a detector that answers with script in order.
func NewStaticDetector(script ...StaticResult) *StaticDetector {
	return &StaticDetector{script: script}
}

// Predict returns the next scripted result.
func (d *StaticDetector) Predict(ctx context.Context, _ vision.Frame, _ int, _ float64) ([]vision.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.calls
	d.calls++
	if len(d.script) == 0 {
		return nil, nil
	}
	if i >= len(d.script) {
		i = len(d.script) - 1
	}
	r := d.script[i]
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]vision.Detection, len(r.Detections))
	copy(out, r.Detections)
	return out, nil
}

// Calls returns how many times Predict has been called.
func (d *StaticDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
