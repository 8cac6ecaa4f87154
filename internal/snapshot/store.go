// Package snapshot saves evidence images for alert-class detections and
// keeps the short list of the most recent ones.
package snapshot

import (
	"errors"
	"fmt"
	"image/jpeg"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/alertcam/internal/fsutil"
	"github.com/banshee-data/alertcam/internal/security"
	"github.com/banshee-data/alertcam/internal/timeutil"
	"github.com/banshee-data/alertcam/internal/vision"
)

// ErrSnapshotWrite is returned (wrapped) when a snapshot cannot be persisted.
var ErrSnapshotWrite = errors.New("snapshot write failed")

// TimestampLayout is the timestamp portion of a snapshot file name.
const TimestampLayout = "2006-01-02_15-04-05"

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 90

// Record describes one persisted snapshot.
type Record struct {
	Path      string    `json:"path"`
	ClassName string    `json:"class"`
	Timestamp time.Time `json:"timestamp"`
}

// Store writes snapshots into a single directory. Two saves of the same
// class within one wall-clock second share a name; the later one wins.
type Store struct {
	dir     string
	fs      fsutil.FileSystem
	clock   timeutil.Clock
	quality int
}

// Option configures a Store.
type Option func(*Store)

// WithFileSystem replaces the OS filesystem.
func WithFileSystem(fs fsutil.FileSystem) Option {
	return func(s *Store) { s.fs = fs }
}

// WithClock replaces the real clock.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithQuality sets the JPEG quality (1-100). Out-of-range values are ignored.
func WithQuality(q int) Option {
	return func(s *Store) {
		if q >= 1 && q <= 100 {
			s.quality = q
		}
	}
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:     dir,
		fs:      fsutil.OSFileSystem{},
		clock:   timeutil.RealClock{},
		quality: DefaultQuality,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrSnapshotWrite, dir, err)
	}
	return s, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// PathFor returns the file a snapshot of className taken at t is written to.
// The class name is lower-cased and reduced to a single path element.
func (s *Store) PathFor(className string, t time.Time) string {
	class := security.SanitizeFilename(strings.ToLower(className))
	name := fmt.Sprintf("%s_%s.jpg", class, t.Format(TimestampLayout))
	return filepath.Join(s.dir, name)
}

// Save JPEG-encodes frame and writes it under the current timestamp.
func (s *Store) Save(frame vision.Frame, className string) (Record, error) {
	if frame == nil {
		return Record{}, fmt.Errorf("%w: nil frame", ErrSnapshotWrite)
	}
	className = strings.ToLower(className)
	now := s.clock.Now()
	path := s.PathFor(className, now)

	w, err := s.fs.Create(path)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}
	if err := jpeg.Encode(w, frame, &jpeg.Options{Quality: s.quality}); err != nil {
		w.Close()
		return Record{}, fmt.Errorf("%w: encode %s: %v", ErrSnapshotWrite, path, err)
	}
	if err := w.Close(); err != nil {
		return Record{}, fmt.Errorf("%w: close %s: %v", ErrSnapshotWrite, path, err)
	}

	return Record{Path: path, ClassName: className, Timestamp: now}, nil
}
