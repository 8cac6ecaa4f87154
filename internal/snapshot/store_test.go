package snapshot

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alertcam/internal/fsutil"
	"github.com/banshee-data/alertcam/internal/timeutil"
)

var baseTime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func testFrame() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 8), uint8(y * 10), 80, 255})
		}
	}
	return img
}

func newTestStore(t *testing.T) (*Store, *fsutil.MemoryFileSystem, *timeutil.MockClock) {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(baseTime)
	s, err := NewStore("detections", WithFileSystem(mfs), WithClock(clock))
	require.NoError(t, err)
	return s, mfs, clock
}

func TestNewStoreCreatesDir(t *testing.T) {
	_, mfs, _ := newTestStore(t)
	assert.True(t, mfs.Exists("detections"))
}

func TestSaveWritesDecodableJPEG(t *testing.T) {
	s, mfs, _ := newTestStore(t)

	rec, err := s.Save(testFrame(), "Gun")
	require.NoError(t, err)

	want := filepath.Join("detections", "gun_2024-03-09_14-05-07.jpg")
	assert.Equal(t, want, rec.Path)
	assert.Equal(t, "gun", rec.ClassName)
	assert.Equal(t, baseTime, rec.Timestamp)

	data, err := mfs.ReadFile(want)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
}

func TestSaveSameSecondOverwrites(t *testing.T) {
	s, mfs, _ := newTestStore(t)

	first, err := s.Save(testFrame(), "knife")
	require.NoError(t, err)
	second, err := s.Save(image.NewRGBA(image.Rect(0, 0, 8, 8)), "knife")
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Len(t, mfs.Files(), 1)

	data, err := mfs.ReadFile(second.Path)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx(), "later save wins")
}

func TestSaveDistinctSeconds(t *testing.T) {
	s, mfs, clock := newTestStore(t)

	_, err := s.Save(testFrame(), "gun")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.Save(testFrame(), "gun")
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join("detections", "gun_2024-03-09_14-05-07.jpg"),
		filepath.Join("detections", "gun_2024-03-09_14-05-08.jpg"),
	}, mfs.Files())
}

func TestSaveFailureWrapsSentinel(t *testing.T) {
	s, mfs, _ := newTestStore(t)
	mfs.FailWrites(errors.New("disk full"))

	_, err := s.Save(testFrame(), "gun")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSnapshotWrite)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, mfs.Files())
}

func TestSaveNilFrame(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.Save(nil, "gun")
	assert.ErrorIs(t, err, ErrSnapshotWrite)
}

func TestWithQualityIgnoresOutOfRange(t *testing.T) {
	for _, q := range []int{0, -5, 101} {
		s, err := NewStore("d", WithFileSystem(fsutil.NewMemoryFileSystem()), WithQuality(q))
		require.NoError(t, err)
		assert.Equal(t, DefaultQuality, s.quality, "quality %d", q)
	}
	s, err := NewStore("d", WithFileSystem(fsutil.NewMemoryFileSystem()), WithQuality(40))
	require.NoError(t, err)
	assert.Equal(t, 40, s.quality)
}

func TestPathForStaysInsideDir(t *testing.T) {
	s, _, _ := newTestStore(t)
	tests := []struct {
		class string
		want  string
	}{
		{"Cell Phone", "cell_phone_2024-03-09_14-05-07.jpg"},
		{"../../etc/gun", "etc_gun_2024-03-09_14-05-07.jpg"},
		{"", "unknown_2024-03-09_14-05-07.jpg"},
	}
	for _, tt := range tests {
		got := s.PathFor(tt.class, baseTime)
		assert.Equal(t, filepath.Join("detections", tt.want), got, "class %q", tt.class)
		assert.Equal(t, "detections", filepath.Dir(got))
	}
}
