package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/banshee-data/alertcam/internal/capture"
	"github.com/banshee-data/alertcam/internal/metrics"
	"github.com/banshee-data/alertcam/internal/overlay"
	"github.com/banshee-data/alertcam/internal/vision"
)

// run is the worker goroutine. It exits on Stop, on context cancellation
// or when the source stops yielding frames, and always tears down.
func (c *Controller) run(ctx context.Context, s *session) {
	reason := "stopped"
	defer func() { c.teardown(s, reason) }()

	var prev time.Time
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			if !stopped(s) {
				reason = "cancelled"
			}
			return
		default:
		}

		frame, err := s.source.Read()
		if err != nil {
			if stopped(s) {
				return
			}
			if errors.Is(err, capture.ErrEndOfStream) {
				reason = "end of stream"
			} else {
				reason = fmt.Sprintf("frame read failed: %v", err)
			}
			logf("session %s: %s", s.id, reason)
			return
		}

		prev = c.processFrame(ctx, frame, prev)
	}
}

// processFrame runs one iteration of the loop on frame and returns the
// timestamp to use as the previous one for the next frame. A detection
// failure skips the frame entirely.
func (c *Controller) processFrame(ctx context.Context, frame vision.Frame, prev time.Time) time.Time {
	threshold := c.ConfidenceThreshold()

	ts := c.clock.Now()
	dets, err := c.detector.Predict(ctx, frame, c.cfg.InferenceSize, threshold)
	inference := c.clock.Since(ts)
	if err != nil {
		if ctx.Err() != nil {
			return prev
		}
		c.detectionFailures.Add(1)
		logf("detection failed, skipping frame: %v", err)
		c.emitError(fmt.Sprintf("detection failed: %v", err))
		return prev
	}

	retained := vision.Filter(dets, threshold)

	out := vision.CloneFrame(frame)
	for _, d := range retained {
		overlay.DrawDetection(out, d)
		c.appendLog(vision.LogEntry{Time: ts, ClassName: d.ClassName, Confidence: d.Confidence})
	}
	c.total.Add(uint64(len(retained)))

	for _, d := range retained {
		if !c.alert.Contains(d.ClassName) {
			continue
		}
		rec, err := c.store.Save(out, d.ClassName)
		if err != nil {
			c.snapshotFailures.Add(1)
			logf("failed to save %s snapshot: %v", d.ClassName, err)
			c.emitError(err.Error())
			continue
		}
		c.recent.Push(rec)
		logf("saved %s snapshot to %s", d.ClassName, rec.Path)
		c.events.Publish(Event{Kind: EventSnapshot, Time: rec.Timestamp, Class: rec.ClassName, Snapshot: &rec})
	}

	fps := 0.0
	if !prev.IsZero() {
		if dt := ts.Sub(prev).Seconds(); dt > 0 {
			fps = 1 / dt
		}
	}
	c.fps.Store(math.Float64bits(fps))
	overlay.DrawFPS(out, fps)
	c.stats.Observe(fps, inference)

	c.mu.Lock()
	var recErr error
	if c.State() == Recording {
		recErr = c.rec.Write(out)
	}
	c.mu.Unlock()
	if recErr != nil {
		c.recorderFailures.Add(1)
		logf("recording write failed: %v", recErr)
		c.emitError(fmt.Sprintf("recording write failed: %v", recErr))
	}

	c.slot.Publish(out)
	c.framesProcessed.Add(1)
	return ts
}

func stopped(s *session) bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (c *Controller) appendLog(e vision.LogEntry) {
	c.logMu.Lock()
	c.logLines = append(c.logLines, e)
	if len(c.logLines) > maxLogLines {
		c.logLines = append(c.logLines[:0], c.logLines[len(c.logLines)-maxLogLines:]...)
	}
	c.logMu.Unlock()

	c.events.Publish(Event{
		Kind:       EventLog,
		Time:       e.Time,
		Class:      e.ClassName,
		Confidence: e.Confidence,
		Line:       e.String(),
	})
}

// teardown closes the recorder before releasing the frame source, returns
// the pipeline to Idle and reports the transition once.
func (c *Controller) teardown(s *session, reason string) {
	s.cancel()

	c.mu.Lock()
	if c.rec.IsOpen() {
		if err := c.rec.Close(); err != nil {
			logf("failed to finalise recording: %v", err)
		}
	}
	if err := s.source.Close(); err != nil {
		logf("failed to release source: %v", err)
	}
	c.state.Store(int32(Idle))
	c.sess = nil
	c.mu.Unlock()

	series := c.stats.Series()
	logf("session %s ended (%s) after %d frames", s.id, reason, len(series))
	c.emitStatus(Idle, reason)

	if dir := c.cfg.SessionPlotDir; dir != "" && len(series) > 0 {
		path := filepath.Join(dir, fmt.Sprintf("session_%s.png", s.id))
		if err := metrics.WriteSessionPlot(path, "Session "+s.id, series); err != nil {
			logf("failed to write session plot: %v", err)
		}
	}
	close(s.done)
}
