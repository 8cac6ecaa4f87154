package capture

import (
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/alertcam/internal/vision"
)

// DirSource replays the JPEG and PNG files of a directory in lexical order.
// Every file must have the same dimensions as the first.
type DirSource struct {
	mu     sync.Mutex
	files  []string
	next   int
	loop   bool
	size   image.Point
	first  vision.Frame
	closed bool
}

// OpenDir reads the file list of dir and decodes the first image to learn
// the frame size. With loop set, Read restarts at the first file instead of
// returning ErrEndOfStream.
func OpenDir(dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrCameraUnavailable, dir)
	}
	sort.Strings(files)

	first, err := decodeFile(files[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	return &DirSource{
		files: files,
		loop:  loop,
		size:  first.Bounds().Size(),
		first: first,
	}, nil
}

// DirOpener returns an Opener that treats the source ID as a directory.
func DirOpener(loop bool) Opener {
	return func(sourceID string) (FrameSource, error) {
		return OpenDir(sourceID, loop)
	}
}

// Read decodes the next file.
func (d *DirSource) Read() (vision.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("%w: source closed", ErrFrameRead)
	}
	if d.next >= len(d.files) {
		if !d.loop {
			return nil, ErrEndOfStream
		}
		d.next = 0
	}
	i := d.next
	d.next++

	if i == 0 && d.first != nil {
		f := d.first
		d.first = nil
		return f, nil
	}
	f, err := decodeFile(d.files[i])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameRead, err)
	}
	if f.Bounds().Size() != d.size {
		return nil, fmt.Errorf("%w: %s is %v, want %v", ErrFrameRead, d.files[i], f.Bounds().Size(), d.size)
	}
	return f, nil
}

// Size returns the size of the first image.
func (d *DirSource) Size() image.Point { return d.size }

// Close marks the source closed.
func (d *DirSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.first = nil
	return nil
}

func decodeFile(path string) (vision.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return vision.ToFrame(img), nil
}
