// Package metrics summarises per-frame timing for a detection session.
package metrics

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the number of recent frames kept for summaries.
const DefaultWindow = 300

// FrameStats keeps a bounded window of frame rates and inference latencies
// plus the full per-frame series of the current session for plotting.
type FrameStats struct {
	mu        sync.Mutex
	window    int
	fps       []float64 // ring, len <= window
	latency   []float64 // milliseconds, ring, len <= window
	next      int
	frames    uint64
	series    []float64
	latSeries []float64 // milliseconds, parallel to series
	maxSer    int
}

// Summary describes the frames currently in the window. Zero-rate frames
// (the first of a session) are excluded from the rate figures.
type Summary struct {
	Frames          uint64  `json:"frames"`
	Window          int     `json:"window"`
	MeanFPS         float64 `json:"mean_fps"`
	StdDevFPS       float64 `json:"stddev_fps"`
	P50FPS          float64 `json:"p50_fps"`
	P95FPS          float64 `json:"p95_fps"`
	MeanInferenceMs float64 `json:"mean_inference_ms"`
	P95InferenceMs  float64 `json:"p95_inference_ms"`
	MaxInferenceMs  float64 `json:"max_inference_ms"`
}

// NewFrameStats returns stats over the last window frames. A session series
// longer than 100 windows keeps only its most recent part.
func NewFrameStats(window int) *FrameStats {
	if window <= 0 {
		window = DefaultWindow
	}
	return &FrameStats{window: window, maxSer: window * 100}
}

// Observe records one processed frame.
func (s *FrameStats) Observe(fps float64, inference time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := float64(inference) / float64(time.Millisecond)
	if len(s.fps) < s.window {
		s.fps = append(s.fps, fps)
		s.latency = append(s.latency, ms)
	} else {
		s.fps[s.next] = fps
		s.latency[s.next] = ms
	}
	s.next = (s.next + 1) % s.window
	s.frames++

	s.series = append(s.series, fps)
	s.latSeries = append(s.latSeries, ms)
	if len(s.series) > s.maxSer {
		s.series = append(s.series[:0], s.series[len(s.series)-s.maxSer:]...)
		s.latSeries = append(s.latSeries[:0], s.latSeries[len(s.latSeries)-s.maxSer:]...)
	}
}

// Reset clears the window and the session series. The lifetime frame count
// is kept.
func (s *FrameStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fps = s.fps[:0]
	s.latency = s.latency[:0]
	s.next = 0
	s.series = nil
	s.latSeries = nil
}

// Series returns a copy of the frame-rate series since the last Reset.
func (s *FrameStats) Series() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.series))
	copy(out, s.series)
	return out
}

// LatencySeries returns a copy of the per-frame inference latencies in
// milliseconds since the last Reset, index-aligned with Series.
func (s *FrameStats) LatencySeries() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.latSeries))
	copy(out, s.latSeries)
	return out
}

// Summary computes statistics over the current window.
func (s *FrameStats) Summary() Summary {
	s.mu.Lock()
	fps := make([]float64, 0, len(s.fps))
	for _, v := range s.fps {
		if v > 0 {
			fps = append(fps, v)
		}
	}
	lat := append([]float64(nil), s.latency...)
	sum := Summary{Frames: s.frames, Window: len(s.fps)}
	s.mu.Unlock()

	if len(fps) > 0 {
		sort.Float64s(fps)
		sum.MeanFPS = stat.Mean(fps, nil)
		if len(fps) > 1 {
			sum.StdDevFPS = stat.StdDev(fps, nil)
		}
		sum.P50FPS = stat.Quantile(0.5, stat.Empirical, fps, nil)
		sum.P95FPS = stat.Quantile(0.95, stat.Empirical, fps, nil)
	}
	if len(lat) > 0 {
		sort.Float64s(lat)
		sum.MeanInferenceMs = stat.Mean(lat, nil)
		sum.P95InferenceMs = stat.Quantile(0.95, stat.Empirical, lat, nil)
		sum.MaxInferenceMs = lat[len(lat)-1]
	}
	return sum
}
