// Package lookup drives student lookup on the health screen: manual
// selection from the roster, or a camera scan of a student's card.
//
// A Controller owns at most one scan session. The session's frame loop runs
// on its own goroutine; every session gets a new generation number and any
// decode or render result from an older generation is dropped, so a late
// match can never overwrite a newer user action.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealdash/internal/capture"
	"mealdash/internal/identity"
	"mealdash/internal/roster"
)

// State of the lookup state machine. Resolved and Failed are transient: the
// controller passes through them and settles back in Idle.
type State int

const (
	Idle State = iota
	Scanning
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrScanInProgress = errors.New("lookup: scan already in progress")
	ErrClosed         = errors.New("lookup: controller closed")
	ErrUnknownStudent = errors.New("lookup: unknown student")
	ErrScanSuperseded = errors.New("lookup: scan cancelled while the camera was opening")
)

// Snapshot is a copy of the controller's UI state.
type Snapshot struct {
	State       State                 `json:"-"`
	StateName   string                `json:"state"`
	ScanID      string                `json:"scan_id,omitempty"`
	Facing      capture.Facing        `json:"facing,omitempty"`
	Selected    *roster.StudentRecord `json:"selected,omitempty"`
	Card        []byte                `json:"-"`
	CardPending bool                  `json:"card_pending"`
	Error       string                `json:"error,omitempty"`
}

// Transition is delivered to the Listener after each state change. Error is
// set when the transition surfaces a user-visible failure.
type Transition struct {
	From, To State
	ScanID   string
	Outcome  identity.Kind
	Error    string
}

// CardRenderer renders a student's card code as PNG.
type CardRenderer interface {
	Render(ctx context.Context, rec roster.StudentRecord) ([]byte, error)
}

// Options wires a Controller.
type Options struct {
	Pipeline *capture.Pipeline
	Ticks    capture.TickSource
	Decoder  *identity.Decoder
	Roster   roster.Lookup
	Cards    CardRenderer
	Logger   *zap.Logger

	// Listener observes transitions. It runs outside the controller lock.
	Listener func(Transition)
	// OnResolved runs after a scan resolves a student.
	OnResolved func(ctx context.Context, rec roster.StudentRecord, scanID string)
}

// Controller is the lookup state machine for one screen.
type Controller struct {
	opts   Options
	logger *zap.Logger

	base       context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu          sync.Mutex
	state       State
	starting    bool // camera is opening, state still Idle
	gen         uint64
	scanID      string
	facing      capture.Facing
	handle      *capture.Handle
	scanCancel  context.CancelFunc
	selected    *roster.StudentRecord
	cardGen     uint64
	card        []byte
	cardPending bool
	errMsg      string
	closed      bool
}

// New creates an idle controller.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Ticks == nil {
		opts.Ticks = capture.Interval(0)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:       opts,
		logger:     logger,
		base:       base,
		baseCancel: cancel,
	}
}

// Snapshot returns the current UI state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:       c.state,
		StateName:   c.state.String(),
		ScanID:      c.scanID,
		Facing:      c.facing,
		CardPending: c.cardPending,
		Error:       c.errMsg,
	}
	if c.selected != nil {
		rec := *c.selected
		s.Selected = &rec
	}
	if c.card != nil {
		s.Card = append([]byte(nil), c.card...)
	}
	return s
}

// TakeError returns the pending user-visible error and clears it, so each
// failure is shown once.
func (c *Controller) TakeError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.errMsg
	c.errMsg = ""
	return msg
}

// StartScan acquires the camera and starts polling frames. On acquisition
// failure the controller stays Idle, holds no handle, and records the error
// message. The lock is not held while the camera opens; a Cancel, Select or
// Close in that window wins and the fresh capture is released.
func (c *Controller) StartScan(ctx context.Context, facing capture.Facing) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.state == Scanning || c.starting {
		c.mu.Unlock()
		return "", ErrScanInProgress
	}
	c.gen++
	gen := c.gen
	c.starting = true
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	h, err := c.opts.Pipeline.StartCapture(ctx, facing)

	c.mu.Lock()
	c.starting = false
	if c.closed || c.gen != gen {
		closed := c.closed
		c.mu.Unlock()
		if err == nil {
			c.opts.Pipeline.StopCapture(h)
		}
		c.logger.Debug("scan superseded while the camera opened", zap.Bool("closed", closed))
		if closed {
			return "", ErrClosed
		}
		return "", ErrScanSuperseded
	}
	if err != nil {
		c.errMsg = cameraMessage(err)
		msg := c.errMsg
		c.mu.Unlock()
		c.logger.Warn("camera acquisition failed", zap.Error(err))
		c.notify(Transition{From: Idle, To: Idle, Error: msg})
		return "", err
	}

	scanCtx, cancel := context.WithCancel(c.base)
	c.state = Scanning
	c.scanID = uuid.NewString()
	c.facing = facing
	c.handle = h
	c.scanCancel = cancel
	c.errMsg = ""
	scanID := c.scanID
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("scan started", zap.String("scan_id", scanID), zap.String("facing", string(facing)))
	c.notify(Transition{From: Idle, To: Scanning, ScanID: scanID})

	go c.loop(scanCtx, gen, scanID, h)
	return scanID, nil
}

// loop decodes one frame per tick, in capture order, until a terminal
// outcome or cancellation. The camera is released on every exit path.
func (c *Controller) loop(ctx context.Context, gen uint64, scanID string, h *capture.Handle) {
	defer c.wg.Done()
	defer c.opts.Pipeline.StopCapture(h)

	ticks := c.opts.Ticks.Ticks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
		}
		img, ok := c.opts.Pipeline.ReadFrame(h)
		if !ok {
			continue
		}
		res := c.opts.Decoder.Decode(ctx, img)
		if res.Kind == identity.NotFound {
			continue
		}
		c.finish(gen, scanID, res)
		return
	}
}

func (c *Controller) finish(gen uint64, scanID string, res identity.Result) {
	c.mu.Lock()
	if c.gen != gen || c.state != Scanning {
		c.mu.Unlock()
		c.logger.Debug("discarding stale scan result", zap.String("scan_id", scanID), zap.Stringer("outcome", res.Kind))
		return
	}
	c.releaseLocked()

	var events []Transition
	switch {
	case res.Kind == identity.Matched:
		rec := res.Student
		c.selected = &rec
		c.state = Idle
		c.startCardLocked(rec)
		events = append(events,
			Transition{From: Scanning, To: Resolved, ScanID: scanID, Outcome: res.Kind},
			Transition{From: Resolved, To: Idle, ScanID: scanID, Outcome: res.Kind})
	default:
		c.errMsg = res.Message()
		c.state = Idle
		events = append(events,
			Transition{From: Scanning, To: Failed, ScanID: scanID, Outcome: res.Kind, Error: c.errMsg},
			Transition{From: Failed, To: Idle, ScanID: scanID, Outcome: res.Kind})
	}
	c.mu.Unlock()

	if res.Kind == identity.Matched {
		c.logger.Info("scan resolved", zap.String("scan_id", scanID), zap.String("student_id", res.Student.ID))
		if c.opts.OnResolved != nil {
			// The scan context is already cancelled by the release above.
			c.opts.OnResolved(c.base, res.Student, scanID)
		}
	} else {
		c.logger.Warn("scan failed", zap.String("scan_id", scanID), zap.Stringer("outcome", res.Kind), zap.Error(res.Err))
	}
	for _, ev := range events {
		c.notify(ev)
	}
}

// releaseLocked stops the active capture and its loop context.
func (c *Controller) releaseLocked() {
	if c.scanCancel != nil {
		c.scanCancel()
		c.scanCancel = nil
	}
	c.opts.Pipeline.StopCapture(c.handle)
	c.handle = nil
}

// Cancel ends an active scan, or one whose camera is still opening,
// without side effects. It reports whether there was a scan to cancel.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	scanID, ok := c.cancelLocked()
	c.mu.Unlock()

	if ok {
		c.logger.Info("scan cancelled", zap.String("scan_id", scanID))
	}
	if scanID != "" {
		c.notify(Transition{From: Scanning, To: Idle, ScanID: scanID})
	}
	return ok
}

// cancelLocked bumps the generation so no pending decode or camera open can
// land. scanID is set only when a running scan went back to Idle.
func (c *Controller) cancelLocked() (scanID string, ok bool) {
	switch {
	case c.state == Scanning:
		c.gen++
		c.releaseLocked()
		c.state = Idle
		return c.scanID, true
	case c.starting:
		c.gen++
		return "", true
	}
	return "", false
}

// Select picks a student by id without scanning. An active scan is
// cancelled under the same lock that records the choice, so neither its
// result nor a racing StartScan can overwrite it.
func (c *Controller) Select(ctx context.Context, id string) (roster.StudentRecord, error) {
	rec, ok, err := c.opts.Roster.LookupByID(ctx, id)
	if err != nil {
		return roster.StudentRecord{}, err
	}
	if !ok {
		return roster.StudentRecord{}, fmt.Errorf("%w: %s", ErrUnknownStudent, id)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return roster.StudentRecord{}, ErrClosed
	}
	scanID, _ := c.cancelLocked()
	c.selected = &rec
	c.errMsg = ""
	c.startCardLocked(rec)
	c.mu.Unlock()

	if scanID != "" {
		c.logger.Info("scan cancelled by selection", zap.String("scan_id", scanID))
		c.notify(Transition{From: Scanning, To: Idle, ScanID: scanID})
	}
	return rec, nil
}

// Clear drops the selection and its card.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = nil
	c.cardGen++
	c.card = nil
	c.cardPending = false
}

// startCardLocked renders the card for rec in the background. Only the
// latest requested card is kept.
func (c *Controller) startCardLocked(rec roster.StudentRecord) {
	c.cardGen++
	gen := c.cardGen
	c.card = nil
	c.cardPending = true
	if c.opts.Cards == nil {
		c.cardPending = false
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		png, err := c.opts.Cards.Render(c.base, rec)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.cardGen != gen {
			return
		}
		c.cardPending = false
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.errMsg = "Could not generate QR code"
				c.logger.Error("card render failed", zap.String("student_id", rec.ID), zap.Error(err))
			}
			return
		}
		c.card = png
	}()
}

// Close tears the controller down: any scan is stopped, the camera released,
// and background work awaited. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wasScanning := c.state == Scanning
	scanID := c.scanID
	if wasScanning {
		c.gen++
		c.releaseLocked()
		c.state = Idle
	}
	c.cardGen++
	c.mu.Unlock()

	c.baseCancel()
	c.wg.Wait()
	if wasScanning {
		c.notify(Transition{From: Scanning, To: Idle, ScanID: scanID})
	}
}

func (c *Controller) notify(t Transition) {
	if c.opts.Listener != nil {
		c.opts.Listener(t)
	}
}

func cameraMessage(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "Camera access denied. Enable camera permissions and try again."
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "No camera found on this device."
	case errors.Is(err, capture.ErrDeviceBusy):
		return "The camera is already in use."
	}
	return "Could not start the camera."
}
