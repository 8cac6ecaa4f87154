package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alertcam/internal/capture"
	"github.com/banshee-data/alertcam/internal/detect"
	"github.com/banshee-data/alertcam/internal/fsutil"
	"github.com/banshee-data/alertcam/internal/monitoring"
	"github.com/banshee-data/alertcam/internal/recorder"
	"github.com/banshee-data/alertcam/internal/snapshot"
	"github.com/banshee-data/alertcam/internal/timeutil"
	"github.com/banshee-data/alertcam/internal/vision"
)

var frameSize = image.Pt(160, 120)

// markedFrame returns a black frame whose bottom-right pixel encodes n.
func markedFrame(n uint8) vision.Frame {
	f := image.NewRGBA(image.Rectangle{Max: frameSize})
	f.SetRGBA(frameSize.X-1, frameSize.Y-1, color.RGBA{n, n, n, 255})
	return f
}

func mark(f vision.Frame) uint8 {
	return f.RGBAAt(frameSize.X-1, frameSize.Y-1).R
}

// gatedSource yields frames fed by the test and ends when feed is closed.
type gatedSource struct {
	feed   chan vision.Frame
	once   sync.Once
	mu     sync.Mutex
	closes int
}

func newGatedSource() *gatedSource {
	return &gatedSource{feed: make(chan vision.Frame)}
}

// push hands f to the worker, blocking until it has been read.
func (s *gatedSource) push(f vision.Frame) {
	s.feed <- f
}

// end makes the next Read report the end of the stream.
func (s *gatedSource) end() {
	s.once.Do(func() { close(s.feed) })
}

func (s *gatedSource) Read() (vision.Frame, error) {
	f, ok := <-s.feed
	if !ok {
		return nil, capture.ErrEndOfStream
	}
	return f, nil
}

func (s *gatedSource) Size() image.Point { return frameSize }

func (s *gatedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *gatedSource) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// liveSource produces frames until closed, like a camera.
type liveSource struct {
	mu     sync.Mutex
	n      uint8
	closes int
}

func (s *liveSource) Read() (vision.Frame, error) {
	time.Sleep(time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return nil, errors.New("device closed")
	}
	s.n++
	return markedFrame(s.n), nil
}

func (s *liveSource) Size() image.Point { return frameSize }

func (s *liveSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *liveSource) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// blockingDetector parks every Predict call until release is closed and
// ignores cancellation, like a model stuck in a native call.
type blockingDetector struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingDetector() *blockingDetector {
	return &blockingDetector{entered: make(chan struct{}), release: make(chan struct{})}
}

func (d *blockingDetector) Predict(ctx context.Context, frame vision.Frame, inferenceSize int, threshold float64) ([]vision.Detection, error) {
	d.once.Do(func() { close(d.entered) })
	<-d.release
	return []vision.Detection{{ClassName: "person", Confidence: 0.9, Box: vision.BBox{X1: 10, Y1: 10, X2: 40, Y2: 60}}}, nil
}

// sourceQueue hands out the given sources in order, one per open.
type sourceQueue struct {
	mu      sync.Mutex
	sources []capture.FrameSource
	opens   int
	err     error
}

func (q *sourceQueue) Open(id string) (capture.FrameSource, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.opens++
	if q.err != nil {
		return nil, q.err
	}
	if len(q.sources) == 0 {
		return nil, errors.New("no more sources")
	}
	s := q.sources[0]
	q.sources = q.sources[1:]
	return s, nil
}

func (q *sourceQueue) Opens() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.opens
}

// recordingSink keeps the marks of the frames written to it.
type recordingSink struct {
	mu       sync.Mutex
	marks    []uint8
	closes   int
	writeErr error
}

func (s *recordingSink) Write(f vision.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.marks = append(s.marks, mark(f))
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *recordingSink) Marks() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint8(nil), s.marks...)
}

func (s *recordingSink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type harness struct {
	ctrl  *Controller
	queue *sourceQueue
	fs    *fsutil.MemoryFileSystem
	sink  *recordingSink
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	cfg     Config
	clock   timeutil.Clock
	det     detect.Detector
	openErr error
}

func withDetector(d detect.Detector) harnessOption {
	return func(h *harnessConfig) { h.det = d }
}

func withClock(c timeutil.Clock) harnessOption {
	return func(h *harnessConfig) { h.clock = c }
}

func withRecorderOpenError(err error) harnessOption {
	return func(h *harnessConfig) { h.openErr = err }
}

func newHarness(t *testing.T, sources []capture.FrameSource, opts ...harnessOption) *harness {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	hc := harnessConfig{
		cfg: Config{
			SourceID:      "0",
			InferenceSize: 320,
			Threshold:     0.5,
			AlertClasses:  []string{"gun", "knife"},
			RecordingPath: "output.mp4",
		},
		clock: timeutil.RealClock{},
		det:   detect.NewStaticDetector(),
	}
	for _, o := range opts {
		o(&hc)
	}

	mfs := fsutil.NewMemoryFileSystem()
	store, err := snapshot.NewStore("detections",
		snapshot.WithFileSystem(mfs),
		snapshot.WithClock(timeutil.NewMockClock(time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC))),
	)
	require.NoError(t, err)

	sink := &recordingSink{}
	rec := recorder.New(func(path string, fps float64, size image.Point) (recorder.Sink, error) {
		if hc.openErr != nil {
			return nil, hc.openErr
		}
		return sink, nil
	})

	q := &sourceQueue{sources: sources}
	ctrl, err := New(hc.cfg, Deps{
		Open:      q.Open,
		Detector:  hc.det,
		Snapshots: store,
		Recorder:  rec,
		Clock:     hc.clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })
	// Runs before Close so a worker blocked on a gated source can exit.
	t.Cleanup(func() {
		for _, src := range sources {
			if g, ok := src.(*gatedSource); ok {
				g.end()
			}
		}
	})

	return &harness{ctrl: ctrl, queue: q, fs: mfs, sink: sink}
}

// waitSessionDone blocks until the most recent worker has fully exited.
func waitSessionDone(t *testing.T, c *Controller) {
	t.Helper()
	c.mu.Lock()
	s := c.last
	c.mu.Unlock()
	require.NotNil(t, s, "no session started")
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func waitProcessed(t *testing.T, c *Controller, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.framesProcessed.Load()+c.detectionFailures.Load() >= n
	}, 5*time.Second, time.Millisecond)
}

// drain collects buffered events without blocking.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(evs []Event, kind EventKind, state string) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == kind && (state == "" || ev.State == state) {
			n++
		}
	}
	return n
}
