package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// exclusive tracks whether a device currently has an open stream.
type exclusive struct {
	mu   sync.Mutex
	busy bool
}

func (e *exclusive) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrDeviceBusy
	}
	e.busy = true
	return nil
}

func (e *exclusive) release() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

// PushDevice is a camera whose frames arrive from elsewhere, typically a
// browser posting captured video frames over HTTP. The open stream buffers a
// few frames in arrival order and drops the oldest when full.
type PushDevice struct {
	lock   exclusive
	mu     sync.Mutex
	stream *pushStream
	depth  int
}

// NewPushDevice creates a device buffering up to depth frames (default 4).
func NewPushDevice(depth int) *PushDevice {
	if depth <= 0 {
		depth = 4
	}
	return &PushDevice{depth: depth}
}

// Open implements Device.
func (d *PushDevice) Open(ctx context.Context, _ Facing) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.lock.acquire(); err != nil {
		return nil, err
	}
	s := &pushStream{dev: d, depth: d.depth}
	d.mu.Lock()
	d.stream = s
	d.mu.Unlock()
	return s, nil
}

// Push queues a frame on the open stream.
func (d *PushDevice) Push(img image.Image) error {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		return ErrNoStream
	}
	return s.push(img)
}

type pushStream struct {
	dev    *PushDevice
	depth  int
	mu     sync.Mutex
	frames []image.Image
	closed bool
}

func (s *pushStream) push(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoStream
	}
	if len(s.frames) == s.depth {
		s.frames = s.frames[1:]
	}
	s.frames = append(s.frames, img)
	return nil
}

func (s *pushStream) ReadFrame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.frames) == 0 {
		return nil, false
	}
	img := s.frames[0]
	s.frames = s.frames[1:]
	return img, true
}

func (s *pushStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.frames = nil
	s.mu.Unlock()

	s.dev.mu.Lock()
	if s.dev.stream == s {
		s.dev.stream = nil
	}
	s.dev.mu.Unlock()
	s.dev.lock.release()
	return nil
}

// SequenceDevice replays a fixed list of frames, optionally looping. It
// stands in for a camera in the CLI and in tests.
type SequenceDevice struct {
	Frames []image.Image
	Loop   bool

	lock   exclusive
	mu     sync.Mutex
	opened int
}

// Open implements Device.
func (d *SequenceDevice) Open(ctx context.Context, _ Facing) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.Frames) == 0 {
		return nil, ErrDeviceUnavailable
	}
	if err := d.lock.acquire(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	return &seqStream{dev: d}, nil
}

// Opened counts successful Open calls.
func (d *SequenceDevice) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// InUse reports whether a stream currently holds the device.
func (d *SequenceDevice) InUse() bool {
	d.lock.mu.Lock()
	defer d.lock.mu.Unlock()
	return d.lock.busy
}

type seqStream struct {
	dev    *SequenceDevice
	mu     sync.Mutex
	next   int
	closed bool
}

func (s *seqStream) ReadFrame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	if s.next >= len(s.dev.Frames) {
		if !s.dev.Loop {
			return nil, false
		}
		s.next = 0
	}
	img := s.dev.Frames[s.next]
	s.next++
	return img, true
}

func (s *seqStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.lock.release()
	return nil
}

// FailingDevice refuses every Open with Err, e.g. ErrPermissionDenied.
type FailingDevice struct {
	Err error
}

// Open implements Device.
func (d FailingDevice) Open(context.Context, Facing) (Stream, error) {
	if d.Err == nil {
		return nil, ErrDeviceUnavailable
	}
	return nil, d.Err
}

// LoadFrames reads every PNG, JPEG and GIF in dir, ordered by file name.
func LoadFrames(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: read frames dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".gif":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, errors.Join(ErrDeviceUnavailable, fmt.Errorf("no frames in %s", dir))
	}
	return frames, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("capture: decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
