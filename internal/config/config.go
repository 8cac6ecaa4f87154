package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/alertcam.defaults.json"

// Config is the root configuration for the detection service. Every field
// is optional; the Get* accessors supply the default for anything omitted,
// so partial files are safe.
type Config struct {
	// Capture
	Source        *string `json:"source,omitempty"` // device index ("0") or URL
	CaptureWidth  *int    `json:"capture_width,omitempty"`
	CaptureHeight *int    `json:"capture_height,omitempty"`

	// Detection
	DetectorURL         *string  `json:"detector_url,omitempty"`
	DetectorTimeout     *string  `json:"detector_timeout,omitempty"` // duration string like "5s"
	InferenceSize       *int     `json:"inference_size,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	AlertClasses        []string `json:"alert_classes,omitempty"`

	// Evidence
	SnapshotDir     *string `json:"snapshot_dir,omitempty"`
	SnapshotQuality *int    `json:"snapshot_quality,omitempty"`

	// Recording
	RecordingPath *string  `json:"recording_path,omitempty"`
	RecordingFPS  *float64 `json:"recording_fps,omitempty"`

	// Service
	Listen         *string `json:"listen,omitempty"`
	SessionPlotDir *string `json:"session_plot_dir,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with all fields unset.
func EmptyConfig() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file.
// The file must have a .json extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold != nil {
		if v := *c.ConfidenceThreshold; v < 0.1 || v > 1.0 {
			return fmt.Errorf("confidence_threshold must be between 0.1 and 1.0, got %f", v)
		}
	}

	if c.InferenceSize != nil && *c.InferenceSize <= 0 {
		return fmt.Errorf("inference_size must be positive, got %d", *c.InferenceSize)
	}

	if c.CaptureWidth != nil && *c.CaptureWidth <= 0 {
		return fmt.Errorf("capture_width must be positive, got %d", *c.CaptureWidth)
	}
	if c.CaptureHeight != nil && *c.CaptureHeight <= 0 {
		return fmt.Errorf("capture_height must be positive, got %d", *c.CaptureHeight)
	}

	if c.SnapshotQuality != nil {
		if q := *c.SnapshotQuality; q < 1 || q > 100 {
			return fmt.Errorf("snapshot_quality must be between 1 and 100, got %d", q)
		}
	}

	if c.RecordingFPS != nil && *c.RecordingFPS <= 0 {
		return fmt.Errorf("recording_fps must be positive, got %f", *c.RecordingFPS)
	}

	if c.DetectorTimeout != nil && *c.DetectorTimeout != "" {
		if _, err := time.ParseDuration(*c.DetectorTimeout); err != nil {
			return fmt.Errorf("invalid detector_timeout '%s': %w", *c.DetectorTimeout, err)
		}
	}

	for _, class := range c.AlertClasses {
		if strings.TrimSpace(class) == "" {
			return fmt.Errorf("alert_classes must not contain empty names")
		}
	}

	return nil
}

// GetSource returns the capture source or the default device "0".
func (c *Config) GetSource() string {
	if c.Source == nil || *c.Source == "" {
		return "0"
	}
	return *c.Source
}

// GetCaptureWidth returns the capture width or the default.
func (c *Config) GetCaptureWidth() int {
	if c.CaptureWidth == nil {
		return 640
	}
	return *c.CaptureWidth
}

// GetCaptureHeight returns the capture height or the default.
func (c *Config) GetCaptureHeight() int {
	if c.CaptureHeight == nil {
		return 480
	}
	return *c.CaptureHeight
}

// GetDetectorURL returns the detection service endpoint or the default.
func (c *Config) GetDetectorURL() string {
	if c.DetectorURL == nil || *c.DetectorURL == "" {
		return "http://localhost:8000/detect"
	}
	return *c.DetectorURL
}

// GetDetectorTimeout parses and returns DetectorTimeout as a time.Duration.
func (c *Config) GetDetectorTimeout() time.Duration {
	if c.DetectorTimeout == nil || *c.DetectorTimeout == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.DetectorTimeout)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetInferenceSize returns the model input size or the default.
func (c *Config) GetInferenceSize() int {
	if c.InferenceSize == nil {
		return 320
	}
	return *c.InferenceSize
}

// GetConfidenceThreshold returns the starting threshold or the default.
func (c *Config) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.5
	}
	return *c.ConfidenceThreshold
}

// GetAlertClasses returns the alert classes or the default {gun, knife}.
func (c *Config) GetAlertClasses() []string {
	if len(c.AlertClasses) == 0 {
		return []string{"gun", "knife"}
	}
	out := make([]string, len(c.AlertClasses))
	copy(out, c.AlertClasses)
	return out
}

// GetSnapshotDir returns the snapshot directory or the default.
func (c *Config) GetSnapshotDir() string {
	if c.SnapshotDir == nil || *c.SnapshotDir == "" {
		return "detections"
	}
	return *c.SnapshotDir
}

// GetSnapshotQuality returns the JPEG quality or the default.
func (c *Config) GetSnapshotQuality() int {
	if c.SnapshotQuality == nil {
		return 90
	}
	return *c.SnapshotQuality
}

// GetRecordingPath returns the single recording output path or the default.
func (c *Config) GetRecordingPath() string {
	if c.RecordingPath == nil || *c.RecordingPath == "" {
		return "output.mp4"
	}
	return *c.RecordingPath
}

// GetRecordingFPS returns the recording frame rate or the default.
func (c *Config) GetRecordingFPS() float64 {
	if c.RecordingFPS == nil {
		return 20.0
	}
	return *c.RecordingFPS
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetSessionPlotDir returns the session plot directory; empty disables plots.
func (c *Config) GetSessionPlotDir() string {
	if c.SessionPlotDir == nil {
		return ""
	}
	return *c.SessionPlotDir
}

// WithOverrides returns a copy of c with the non-empty overrides applied.
// Command-line flags use this so that a flag wins over the file.
func (c *Config) WithOverrides(listen, source string) *Config {
	out := *c
	out.AlertClasses = c.GetAlertClasses()
	if listen != "" {
		out.Listen = ptrString(listen)
	}
	if source != "" {
		out.Source = ptrString(source)
	}
	return &out
}
