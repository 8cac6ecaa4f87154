package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyConfig()

	assert.Equal(t, "0", cfg.GetSource())
	assert.Equal(t, 640, cfg.GetCaptureWidth())
	assert.Equal(t, 480, cfg.GetCaptureHeight())
	assert.Equal(t, "http://localhost:8000/detect", cfg.GetDetectorURL())
	assert.Equal(t, 5*time.Second, cfg.GetDetectorTimeout())
	assert.Equal(t, 320, cfg.GetInferenceSize())
	assert.Equal(t, 0.5, cfg.GetConfidenceThreshold())
	assert.Equal(t, []string{"gun", "knife"}, cfg.GetAlertClasses())
	assert.Equal(t, "detections", cfg.GetSnapshotDir())
	assert.Equal(t, 90, cfg.GetSnapshotQuality())
	assert.Equal(t, "output.mp4", cfg.GetRecordingPath())
	assert.Equal(t, 20.0, cfg.GetRecordingFPS())
	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, "", cfg.GetSessionPlotDir())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "alertcam.json", `{
  "source": "rtsp://cam/stream",
  "confidence_threshold": 0.35,
  "alert_classes": ["Gun", "knife", "rifle"],
  "snapshot_dir": "/var/lib/alertcam/detections",
  "recording_path": "session.mjpeg",
  "detector_timeout": "750ms",
  "inference_size": 640
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "rtsp://cam/stream", cfg.GetSource())
	assert.Equal(t, 0.35, cfg.GetConfidenceThreshold())
	assert.Equal(t, []string{"Gun", "knife", "rifle"}, cfg.GetAlertClasses())
	assert.Equal(t, "/var/lib/alertcam/detections", cfg.GetSnapshotDir())
	assert.Equal(t, "session.mjpeg", cfg.GetRecordingPath())
	assert.Equal(t, 750*time.Millisecond, cfg.GetDetectorTimeout())
	assert.Equal(t, 640, cfg.GetInferenceSize())
	// Omitted fields keep their defaults.
	assert.Equal(t, 20.0, cfg.GetRecordingFPS())
	assert.Equal(t, 640, cfg.GetCaptureWidth())
}

func TestLoadDefaultsFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)

	assert.Equal(t, EmptyConfig().GetConfidenceThreshold(), cfg.GetConfidenceThreshold())
	assert.Equal(t, EmptyConfig().GetAlertClasses(), cfg.GetAlertClasses())
	assert.Equal(t, EmptyConfig().GetRecordingFPS(), cfg.GetRecordingFPS())
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load("/nonexistent/path/to/config.json")
		assert.Error(t, err)
	})

	t.Run("wrong extension", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", "source: 0")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json extension")
	})

	t.Run("invalid json", func(t *testing.T) {
		path := writeConfig(t, "bad.json", `{"confidence_threshold": "high"`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		body := `{"source": "` + strings.Repeat("x", 1024*1024) + `"}`
		path := writeConfig(t, "big.json", body)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("fails validation", func(t *testing.T) {
		path := writeConfig(t, "invalid.json", `{"confidence_threshold": 0.05}`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty", Config{}, false},
		{"threshold lower bound", Config{ConfidenceThreshold: ptrFloat64(0.1)}, false},
		{"threshold upper bound", Config{ConfidenceThreshold: ptrFloat64(1.0)}, false},
		{"threshold too low", Config{ConfidenceThreshold: ptrFloat64(0.09)}, true},
		{"threshold too high", Config{ConfidenceThreshold: ptrFloat64(1.2)}, true},
		{"zero inference size", Config{InferenceSize: ptrInt(0)}, true},
		{"negative width", Config{CaptureWidth: ptrInt(-1)}, true},
		{"zero height", Config{CaptureHeight: ptrInt(0)}, true},
		{"quality out of range", Config{SnapshotQuality: ptrInt(101)}, true},
		{"zero fps", Config{RecordingFPS: ptrFloat64(0)}, true},
		{"bad timeout", Config{DetectorTimeout: ptrString("soon")}, true},
		{"empty alert class", Config{AlertClasses: []string{"gun", " "}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetDetectorTimeoutUnparseable(t *testing.T) {
	cfg := Config{DetectorTimeout: ptrString("later")}
	assert.Equal(t, 5*time.Second, cfg.GetDetectorTimeout())
}

func TestWithOverrides(t *testing.T) {
	base := &Config{Listen: ptrString(":9000"), AlertClasses: []string{"gun"}}

	out := base.WithOverrides("", "")
	assert.Equal(t, ":9000", out.GetListen())
	assert.Equal(t, "0", out.GetSource())

	out = base.WithOverrides(":7000", "testdata/frames")
	assert.Equal(t, ":7000", out.GetListen())
	assert.Equal(t, "testdata/frames", out.GetSource())
	// The original is untouched.
	assert.Equal(t, ":9000", base.GetListen())

	out.AlertClasses[0] = "knife"
	assert.Equal(t, []string{"gun"}, base.AlertClasses)
}
