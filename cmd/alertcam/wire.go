package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/alertcam/internal/capture"
	"github.com/banshee-data/alertcam/internal/capture/camera"
	"github.com/banshee-data/alertcam/internal/config"
	"github.com/banshee-data/alertcam/internal/detect"
	"github.com/banshee-data/alertcam/internal/fsutil"
	"github.com/banshee-data/alertcam/internal/httputil"
	"github.com/banshee-data/alertcam/internal/metrics"
	"github.com/banshee-data/alertcam/internal/pipeline"
	"github.com/banshee-data/alertcam/internal/recorder"
	"github.com/banshee-data/alertcam/internal/recorder/videowriter"
	"github.com/banshee-data/alertcam/internal/snapshot"
	"github.com/banshee-data/alertcam/internal/timeutil"
	"github.com/banshee-data/alertcam/internal/vision"
)

// Source kinds, chosen from the configured source ID.
const (
	sourceCamera = "camera"
	sourceDir    = "dir"
	sourceReplay = "replay"
)

// sourceKind classifies a source ID: a recorded .mjpeg file replays, a
// directory of images plays back in name order, anything else is handed to
// the camera driver (device index or stream URL).
func sourceKind(sourceID string) string {
	if strings.EqualFold(filepath.Ext(sourceID), recorder.MJPEGExtension) {
		return sourceReplay
	}
	if fi, err := os.Stat(sourceID); err == nil && fi.IsDir() {
		return sourceDir
	}
	return sourceCamera
}

func selectOpener(cfg *config.Config, loop bool) capture.Opener {
	switch sourceKind(cfg.GetSource()) {
	case sourceReplay:
		return recorder.ReplayOpener(fsutil.OSFileSystem{}, loop)
	case sourceDir:
		return capture.DirOpener(loop)
	default:
		return camera.Opener(cfg.GetCaptureWidth(), cfg.GetCaptureHeight())
	}
}

// selectSink picks the recording container from the output path. Paths
// ending in .mjpeg use the built-in encoder; everything else goes through
// the platform video writer.
func selectSink(cfg *config.Config) recorder.Opener {
	if strings.EqualFold(filepath.Ext(cfg.GetRecordingPath()), recorder.MJPEGExtension) {
		return recorder.MJPEGOpener(fsutil.OSFileSystem{}, timeutil.RealClock{}, cfg.GetSnapshotQuality())
	}
	return videowriter.Open
}

// devDetector reports one fixed person box so the service can be exercised
// without a model server.
func devDetector() detect.Detector {
	return detect.NewStaticDetector(detect.StaticResult{
		Detections: []vision.Detection{
			{ClassName: "person", Confidence: 0.9, Box: vision.BBox{X1: 40, Y1: 40, X2: 200, Y2: 300}},
		},
	})
}

func selectDetector(cfg *config.Config, dev bool) (detect.Detector, error) {
	if dev {
		return devDetector(), nil
	}
	return detect.NewHTTPDetector(cfg.GetDetectorURL(), httputil.NewStandardClient(cfg.GetDetectorTimeout()))
}

// buildController assembles a pipeline controller from cfg.
func buildController(cfg *config.Config, dev bool) (*pipeline.Controller, *snapshot.Store, error) {
	store, err := snapshot.NewStore(cfg.GetSnapshotDir(), snapshot.WithQuality(cfg.GetSnapshotQuality()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}
	det, err := selectDetector(cfg, dev)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create detector: %w", err)
	}

	ctrl, err := pipeline.New(pipeline.Config{
		SourceID:       cfg.GetSource(),
		InferenceSize:  cfg.GetInferenceSize(),
		Threshold:      cfg.GetConfidenceThreshold(),
		AlertClasses:   cfg.GetAlertClasses(),
		RecordingPath:  cfg.GetRecordingPath(),
		RecordingFPS:   cfg.GetRecordingFPS(),
		SessionPlotDir: cfg.GetSessionPlotDir(),
	}, pipeline.Deps{
		Open:      selectOpener(cfg, dev),
		Detector:  det,
		Snapshots: store,
		Recorder:  recorder.New(selectSink(cfg)),
		Stats:     metrics.NewFrameStats(metrics.DefaultWindow),
	})
	if err != nil {
		return nil, nil, err
	}
	return ctrl, store, nil
}
