// Package pipeline runs the detection loop and owns its lifecycle: the
// Idle/Running/Recording state machine, the worker goroutine, the shared
// counters and the handoff of overlaid frames to consumers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/alertcam/internal/capture"
	"github.com/banshee-data/alertcam/internal/detect"
	"github.com/banshee-data/alertcam/internal/metrics"
	"github.com/banshee-data/alertcam/internal/monitoring"
	"github.com/banshee-data/alertcam/internal/recorder"
	"github.com/banshee-data/alertcam/internal/snapshot"
	"github.com/banshee-data/alertcam/internal/timeutil"
	"github.com/banshee-data/alertcam/internal/vision"
)

// ErrNotRunning is returned by ToggleRecording while the pipeline is idle.
var ErrNotRunning = errors.New("pipeline not running")

var logf = monitoring.Prefixed("[Pipeline]")

// maxLogLines bounds the detection log kept for consumers that poll.
const maxLogLines = 500

// Config holds the tunables of a Controller.
type Config struct {
	SourceID       string
	InferenceSize  int
	Threshold      float64
	AlertClasses   []string
	RecordingPath  string
	RecordingFPS   float64
	SessionPlotDir string
}

// Deps are the capabilities a Controller drives. Open, Detector, Snapshots
// and Recorder are required.
type Deps struct {
	Open      capture.Opener
	Detector  detect.Detector
	Snapshots *snapshot.Store
	Recorder  *recorder.Recorder
	Clock     timeutil.Clock
	Stats     *metrics.FrameStats
	Events    *Events
}

// session is the per-Start worker state.
type session struct {
	id      string
	source  capture.FrameSource
	stopCh  chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	started time.Time
}

// Controller is the detection pipeline. All methods are safe for concurrent
// use.
type Controller struct {
	cfg      Config
	open     capture.Opener
	detector detect.Detector
	store    *snapshot.Store
	rec      *recorder.Recorder
	clock    timeutil.Clock
	stats    *metrics.FrameStats
	events   *Events
	alert    vision.ClassSet
	slot     *FrameSlot
	recent   snapshot.Recent

	// cmdMu serialises Start, Stop and ToggleRecording.
	cmdMu sync.Mutex

	// mu guards state transitions, sess and recorder open/write/close.
	// The worker never holds it while reading or predicting.
	mu    sync.Mutex
	state atomic.Int32
	sess  *session
	last  *session

	threshold atomic.Uint64 // float64 bits
	fps       atomic.Uint64 // float64 bits
	total     atomic.Uint64

	framesProcessed   atomic.Uint64
	detectionFailures atomic.Uint64
	recorderFailures  atomic.Uint64
	snapshotFailures  atomic.Uint64

	logMu    sync.Mutex
	logLines []vision.LogEntry
}

// New builds an idle Controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case deps.Open == nil:
		return nil, fmt.Errorf("pipeline: frame source opener is required")
	case deps.Detector == nil:
		return nil, fmt.Errorf("pipeline: detector is required")
	case deps.Snapshots == nil:
		return nil, fmt.Errorf("pipeline: snapshot store is required")
	case deps.Recorder == nil:
		return nil, fmt.Errorf("pipeline: recorder is required")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Stats == nil {
		deps.Stats = metrics.NewFrameStats(metrics.DefaultWindow)
	}
	if deps.Events == nil {
		deps.Events = NewEvents(DefaultEventBuffer)
	}
	if cfg.InferenceSize <= 0 {
		cfg.InferenceSize = detect.DefaultInferenceSize
	}
	if cfg.RecordingFPS <= 0 {
		cfg.RecordingFPS = recorder.DefaultFPS
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}

	c := &Controller{
		cfg:      cfg,
		open:     deps.Open,
		detector: deps.Detector,
		store:    deps.Snapshots,
		rec:      deps.Recorder,
		clock:    deps.Clock,
		stats:    deps.Stats,
		events:   deps.Events,
		alert:    vision.NewClassSet(cfg.AlertClasses...),
		slot:     NewFrameSlot(),
	}
	c.SetConfidenceThreshold(cfg.Threshold)
	return c, nil
}

// Start opens the frame source and starts the worker. It is a no-op unless
// the pipeline is idle. The worker runs until Stop, the end of the stream,
// or the cancellation of ctx. Counters carry over from earlier sessions.
func (c *Controller) Start(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.State() != Idle {
		return nil
	}
	// A self-terminated worker may still be finishing its teardown.
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last != nil {
		<-last.done
	}

	src, err := c.open(c.cfg.SourceID)
	if err != nil {
		logf("failed to open source %q: %v", c.cfg.SourceID, err)
		if errors.Is(err, capture.ErrCameraUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", capture.ErrCameraUnavailable, err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	s := &session{
		id:      uuid.NewString(),
		source:  src,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		cancel:  cancel,
		started: c.clock.Now(),
	}
	c.stats.Reset()
	c.fps.Store(math.Float64bits(0))

	c.mu.Lock()
	c.sess = s
	c.last = s
	c.state.Store(int32(Running))
	c.mu.Unlock()

	size := src.Size()
	logf("session %s started on %q (%dx%d)", s.id, c.cfg.SourceID, size.X, size.Y)
	c.emitStatus(Running, "started")

	go c.run(workerCtx, s)
	return nil
}

// Stop cancels the worker and waits for it to release the frame source and
// recorder. It is a no-op while idle and may be called repeatedly.
func (c *Controller) Stop() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	close(s.stopCh)
	s.cancel()
	<-s.done
	return nil
}

// ToggleRecording flips between Running and Recording. Entering Recording
// opens the recorder at the configured path with the capture size; leaving
// it closes the recording.
func (c *Controller) ToggleRecording() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	switch State(c.state.Load()) {
	case Idle:
		c.mu.Unlock()
		return ErrNotRunning

	case Running:
		size := c.sess.source.Size()
		if err := c.rec.Open(c.cfg.RecordingPath, c.cfg.RecordingFPS, size); err != nil {
			c.mu.Unlock()
			logf("failed to start recording: %v", err)
			if errors.Is(err, recorder.ErrRecorderUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %v", recorder.ErrRecorderUnavailable, err)
		}
		c.state.Store(int32(Recording))
		c.mu.Unlock()
		logf("recording to %s at %.0f fps", c.cfg.RecordingPath, c.cfg.RecordingFPS)
		c.emitStatus(Recording, "recording started")
		return nil

	default: // Recording
		frames := c.rec.Frames()
		err := c.rec.Close()
		c.state.Store(int32(Running))
		c.mu.Unlock()
		if err != nil {
			logf("failed to finalise recording: %v", err)
		} else {
			logf("recording stopped after %d frames", frames)
		}
		c.emitStatus(Running, "recording stopped")
		return err
	}
}

// SetConfidenceThreshold clamps v to [0.1, 1.0], stores it for the next
// frame and returns the effective value.
func (c *Controller) SetConfidenceThreshold(v float64) float64 {
	v = vision.ClampThreshold(v)
	c.threshold.Store(math.Float64bits(v))
	return v
}

// ConfidenceThreshold returns the current threshold.
func (c *Controller) ConfidenceThreshold() float64 {
	return math.Float64frombits(c.threshold.Load())
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// TotalDetections returns the number of retained detections since the
// process started.
func (c *Controller) TotalDetections() uint64 {
	return c.total.Load()
}

// FrameRate returns the most recent instantaneous frame rate.
func (c *Controller) FrameRate() float64 {
	return math.Float64frombits(c.fps.Load())
}

// RecentSnapshots returns up to three snapshot records, newest first.
func (c *Controller) RecentSnapshots() []snapshot.Record {
	return c.recent.List()
}

// LatestFrame returns the slot holding the most recent overlaid frame.
func (c *Controller) LatestFrame() *FrameSlot {
	return c.slot
}

// FrameSeries returns the per-frame rate and inference latency (ms) of the
// current or most recent session.
func (c *Controller) FrameSeries() (fps, latencyMs []float64) {
	return c.stats.Series(), c.stats.LatencySeries()
}

// Subscribe registers for pipeline events.
func (c *Controller) Subscribe() (string, <-chan Event) {
	return c.events.Subscribe()
}

// Unsubscribe cancels a subscription.
func (c *Controller) Unsubscribe(id string) {
	c.events.Unsubscribe(id)
}

// Log returns up to n of the most recent detection log entries, oldest
// first. n <= 0 returns all retained entries.
func (c *Controller) Log(n int) []vision.LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	lines := c.logLines
	if n > 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	out := make([]vision.LogEntry, len(lines))
	copy(out, lines)
	return out
}

// Session returns the ID of the running session, or "" while idle.
func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Close stops the pipeline and closes every event subscription.
func (c *Controller) Close() error {
	err := c.Stop()
	c.events.Close()
	return err
}

// Status is a point-in-time view of the pipeline for consumers.
type Status struct {
	State               string            `json:"state"`
	Session             string            `json:"session,omitempty"`
	Source              string            `json:"source"`
	ConfidenceThreshold float64           `json:"confidence_threshold"`
	TotalDetections     uint64            `json:"total_detections"`
	FrameRate           float64           `json:"frame_rate"`
	FramesProcessed     uint64            `json:"frames_processed"`
	FramesDropped       uint64            `json:"frames_dropped"`
	DetectionFailures   uint64            `json:"detection_failures"`
	RecorderFailures    uint64            `json:"recorder_failures"`
	SnapshotFailures    uint64            `json:"snapshot_failures"`
	EventsDropped       uint64            `json:"events_dropped"`
	RecordingPath       string            `json:"recording_path,omitempty"`
	RecordedFrames      int               `json:"recorded_frames,omitempty"`
	RecentSnapshots     []snapshot.Record `json:"recent_snapshots"`
	Stats               metrics.Summary   `json:"stats"`
}

// Status collects the current counters.
func (c *Controller) Status() Status {
	st := Status{
		State:               c.State().String(),
		Session:             c.Session(),
		Source:              c.cfg.SourceID,
		ConfidenceThreshold: c.ConfidenceThreshold(),
		TotalDetections:     c.TotalDetections(),
		FrameRate:           c.FrameRate(),
		FramesProcessed:     c.framesProcessed.Load(),
		FramesDropped:       c.slot.Drops(),
		DetectionFailures:   c.detectionFailures.Load(),
		RecorderFailures:    c.recorderFailures.Load(),
		SnapshotFailures:    c.snapshotFailures.Load(),
		EventsDropped:       c.events.Dropped(),
		RecentSnapshots:     c.RecentSnapshots(),
		Stats:               c.stats.Summary(),
	}
	if c.rec.IsOpen() {
		st.RecordingPath = c.rec.Path()
		st.RecordedFrames = c.rec.Frames()
	}
	return st
}

func (c *Controller) emitStatus(s State, reason string) {
	c.events.Publish(Event{
		Kind:   EventStatus,
		Time:   c.clock.Now(),
		State:  s.String(),
		Reason: reason,
	})
}

func (c *Controller) emitError(msg string) {
	c.events.Publish(Event{
		Kind:    EventError,
		Time:    c.clock.Now(),
		Message: msg,
	})
}
