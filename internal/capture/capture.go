// Package capture exposes camera-like frame sources as a pull pipeline.
//
// A Device grants at most one open Stream at a time. The Pipeline hands out
// Handles around streams and guarantees that stopping a handle releases the
// device exactly once, however many times it is stopped.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Facing selects the camera.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// ParseFacing defaults to the rear (environment) camera.
func ParseFacing(s string) (Facing, error) {
	switch Facing(strings.ToLower(strings.TrimSpace(s))) {
	case "", FacingEnvironment:
		return FacingEnvironment, nil
	case FacingUser:
		return FacingUser, nil
	}
	return "", fmt.Errorf("capture: unknown facing mode %q", s)
}

var (
	ErrPermissionDenied  = errors.New("capture: camera permission denied")
	ErrDeviceUnavailable = errors.New("capture: no camera available")
	ErrDeviceBusy        = errors.New("capture: camera already in use")
	ErrNoStream          = errors.New("capture: no open stream")
)

// Device is a camera that can be opened for exclusive use.
type Device interface {
	Open(ctx context.Context, facing Facing) (Stream, error)
}

// Stream is a live, non-restartable frame source.
type Stream interface {
	// ReadFrame returns the next frame, or false when none is ready.
	ReadFrame() (image.Image, bool)
	// Close releases the device. Calling it again is a no-op.
	Close() error
}

// Handle is one acquisition of a device.
type Handle struct {
	ID     uint64
	Facing Facing

	stream  Stream
	stopped atomic.Bool
	once    sync.Once
}

// Active reports whether the handle still holds the device.
func (h *Handle) Active() bool {
	return h != nil && !h.stopped.Load()
}

// Pipeline wraps a Device with idempotent start/stop bookkeeping.
type Pipeline struct {
	device Device
	logger *zap.Logger
	nextID atomic.Uint64
	open   atomic.Int64
}

// NewPipeline creates a pipeline over d.
func NewPipeline(d Device, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{device: d, logger: logger}
}

// StartCapture acquires the device. On error no handle exists and nothing
// needs releasing.
func (p *Pipeline) StartCapture(ctx context.Context, facing Facing) (*Handle, error) {
	stream, err := p.device.Open(ctx, facing)
	if err != nil {
		return nil, err
	}
	h := &Handle{ID: p.nextID.Add(1), Facing: facing, stream: stream}
	p.open.Add(1)
	p.logger.Debug("capture started", zap.Uint64("handle", h.ID), zap.String("facing", string(facing)))
	return h, nil
}

// StopCapture releases the device held by h. Nil and already-stopped handles
// are ignored.
func (p *Pipeline) StopCapture(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.stopped.Store(true)
		if err := h.stream.Close(); err != nil {
			p.logger.Warn("capture release failed", zap.Uint64("handle", h.ID), zap.Error(err))
		}
		p.open.Add(-1)
		p.logger.Debug("capture stopped", zap.Uint64("handle", h.ID))
	})
}

// ReadFrame pulls the next frame from an active handle.
func (p *Pipeline) ReadFrame(h *Handle) (image.Image, bool) {
	if !h.Active() {
		return nil, false
	}
	return h.stream.ReadFrame()
}

// Open is the number of handles currently holding a device.
func (p *Pipeline) Open() int {
	return int(p.open.Load())
}
