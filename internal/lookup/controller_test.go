package lookup

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mealdash/internal/capture"
	"mealdash/internal/identity"
	"mealdash/internal/roster"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	events []Transition
}

func (r *recorder) listen(t Transition) {
	r.mu.Lock()
	r.events = append(r.events, t)
	r.mu.Unlock()
}

func (r *recorder) pairs() [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]State, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, [2]State{ev.From, ev.To})
	}
	return out
}

func (r *recorder) settled(n int) func() bool {
	return func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.events) >= n
	}
}

func (r *recorder) errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Error != "" {
			out = append(out, ev.Error)
		}
	}
	return out
}

func blankFrame() image.Image {
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}

func cardFrame(t *testing.T, rec roster.StudentRecord) image.Image {
	t.Helper()
	r, err := identity.NewRenderer(256, "medium")
	require.NoError(t, err)
	img, err := r.Render(identity.Encode(rec))
	require.NoError(t, err)
	return img
}

type harness struct {
	ctrl  *Controller
	ticks *capture.ManualTicks
	rec   *recorder
	pipe  *capture.Pipeline

	mu       sync.Mutex
	resolved []string
}

func newHarness(t *testing.T, dev capture.Device, tweak ...func(*Options)) *harness {
	t.Helper()
	r, err := identity.NewRenderer(128, "low")
	require.NoError(t, err)
	ros := roster.SeedRoster()

	h := &harness{
		ticks: capture.NewManualTicks(),
		rec:   &recorder{},
		pipe:  capture.NewPipeline(dev, nil),
	}
	opts := Options{
		Pipeline: h.pipe,
		Ticks:    h.ticks,
		Decoder:  identity.NewDecoder(ros),
		Roster:   ros,
		Cards:    identity.Cards{Renderer: r},
		Listener: h.rec.listen,
		OnResolved: func(_ context.Context, rec roster.StudentRecord, _ string) {
			h.mu.Lock()
			h.resolved = append(h.resolved, rec.ID)
			h.mu.Unlock()
		},
	}
	for _, f := range tweak {
		f(&opts)
	}
	h.ctrl = New(opts)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) idle() bool {
	return h.ctrl.Snapshot().State == Idle
}

func (h *harness) resolvedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.resolved...)
}

// gate holds a call until the test opens it.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gate) hold(ctx context.Context) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) wait(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(time.Second):
		t.Fatal("gated call never started")
	}
}

func (g *gate) open() {
	g.once.Do(func() { close(g.release) })
}

// gatedRoster blocks lookups, standing in for a slow roster database.
type gatedRoster struct {
	*roster.Memory
	g *gate
}

func (r gatedRoster) LookupByID(ctx context.Context, id string) (roster.StudentRecord, bool, error) {
	if err := r.g.hold(context.WithoutCancel(ctx)); err != nil {
		return roster.StudentRecord{}, false, err
	}
	return r.Memory.LookupByID(ctx, id)
}

// slowCamera blocks Open, standing in for a permission prompt.
type slowCamera struct {
	capture.Device
	g *gate
}

func (d slowCamera) Open(ctx context.Context, facing capture.Facing) (capture.Stream, error) {
	if err := d.g.hold(ctx); err != nil {
		return nil, err
	}
	return d.Device.Open(ctx, facing)
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(time.Second):
		t.Fatal("StartScan did not return")
	}
	return nil
}

func TestStartScan_ResolvesAfterBlankFrames(t *testing.T) {
	priya := roster.Seed()[1]
	frames := []image.Image{blankFrame(), blankFrame(), blankFrame(), blankFrame(), blankFrame(), cardFrame(t, priya)}
	dev := &capture.SequenceDevice{Frames: frames}
	h := newHarness(t, dev)

	scanID, err := h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	require.NoError(t, err)
	assert.NotEmpty(t, scanID)
	assert.Equal(t, Scanning, h.ctrl.Snapshot().State)

	for i := 0; i < len(frames); i++ {
		require.True(t, h.ticks.Tick(), "tick %d", i)
	}

	require.Eventually(t, h.rec.settled(3), time.Second, 5*time.Millisecond)
	snap := h.ctrl.Snapshot()
	require.NotNil(t, snap.Selected)
	assert.Equal(t, "S002", snap.Selected.ID)
	assert.Equal(t, roster.StatusNeedsAttention, snap.Selected.HealthStatus)
	assert.Empty(t, snap.Error)
	assert.False(t, dev.InUse(), "camera released")
	assert.Equal(t, 0, h.pipe.Open())

	assert.Equal(t, [][2]State{{Idle, Scanning}, {Scanning, Resolved}, {Resolved, Idle}}, h.rec.pairs())

	h.mu.Lock()
	assert.Equal(t, []string{"S002"}, h.resolved)
	h.mu.Unlock()

	require.Eventually(t, func() bool {
		s := h.ctrl.Snapshot()
		return !s.CardPending && len(s.Card) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartScan_UnknownStudent(t *testing.T) {
	ghost := roster.StudentRecord{ID: "S999", Name: "Nobody", HealthStatus: roster.StatusGood}
	dev := &capture.SequenceDevice{Frames: []image.Image{cardFrame(t, ghost)}}
	h := newHarness(t, dev)

	_, err := h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	require.NoError(t, err)
	require.True(t, h.ticks.Tick())

	require.Eventually(t, h.rec.settled(3), time.Second, 5*time.Millisecond)
	snap := h.ctrl.Snapshot()
	assert.Nil(t, snap.Selected)
	assert.Equal(t, "Student not found", snap.Error)
	assert.False(t, dev.InUse())
	assert.Equal(t, [][2]State{{Idle, Scanning}, {Scanning, Failed}, {Failed, Idle}}, h.rec.pairs())

	assert.Equal(t, "Student not found", h.ctrl.TakeError())
	assert.Empty(t, h.ctrl.TakeError(), "shown once")

	h.mu.Lock()
	assert.Empty(t, h.resolved)
	h.mu.Unlock()
}

func TestStartScan_MalformedKeepsSelection(t *testing.T) {
	r, err := identity.NewRenderer(256, "medium")
	require.NoError(t, err)
	junk, err := r.Render([]byte("https://example.com/not-a-card"))
	require.NoError(t, err)

	dev := &capture.SequenceDevice{Frames: []image.Image{junk}}
	h := newHarness(t, dev)
	_, err = h.ctrl.Select(context.Background(), "S001")
	require.NoError(t, err)

	_, err = h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	require.NoError(t, err)
	require.True(t, h.ticks.Tick())

	require.Eventually(t, h.idle, time.Second, 5*time.Millisecond)
	snap := h.ctrl.Snapshot()
	require.NotNil(t, snap.Selected)
	assert.Equal(t, "S001", snap.Selected.ID)
	assert.Equal(t, "Invalid QR Code", snap.Error)
}

func TestStartScan_PermissionDenied(t *testing.T) {
	h := newHarness(t, capture.FailingDevice{Err: capture.ErrPermissionDenied})

	_, err := h.ctrl.StartScan(context.Background(), capture.FacingUser)
	assert.ErrorIs(t, err, capture.ErrPermissionDenied)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.Selected)
	assert.Equal(t, 0, h.pipe.Open())
	assert.Len(t, h.rec.errors(), 1)
	assert.Equal(t, [][2]State{{Idle, Idle}}, h.rec.pairs())
	assert.Contains(t, h.ctrl.TakeError(), "Camera access denied")
	assert.Empty(t, h.ctrl.TakeError())
}

func TestStartScan_AlreadyScanning(t *testing.T) {
	dev := &capture.SequenceDevice{Frames: []image.Image{blankFrame()}, Loop: true}
	h := newHarness(t, dev)

	_, err := h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	require.NoError(t, err)
	_, err = h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.Equal(t, 1, dev.Opened())
}

func TestCancel_ReleasesCamera(t *testing.T) {
	dev := &capture.SequenceDevice{Frames: []image.Image{blankFrame()}, Loop: true}
	h := newHarness(t, dev)

	assert.False(t, h.ctrl.Cancel(), "nothing to cancel")

	_, err := h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	require.NoError(t, err)
	require.True(t, h.ticks.Tick())

	assert.True(t, h.ctrl.Cancel())
	assert.False(t, dev.InUse())
	assert.Equal(t, Idle, h.ctrl.Snapshot().State)
	assert.Nil(t, h.ctrl.Snapshot().Selected)
	assert.False(t, h.ctrl.Cancel())

	_, err = h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	require.NoError(t, err, "camera can be reacquired")
	assert.Equal(t, 2, dev.Opened())
}

func TestSelect_SupersedesScan(t *testing.T) {
	rohan := roster.Seed()[0]
	dev := &capture.SequenceDevice{Frames: []image.Image{cardFrame(t, rohan)}, Loop: true}
	h := newHarness(t, dev)

	_, err := h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	require.NoError(t, err)

	rec, err := h.ctrl.Select(context.Background(), "S004")
	require.NoError(t, err)
	assert.Equal(t, "Sneha Verma", rec.Name)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, Idle, snap.State)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, "S004", snap.Selected.ID)
	assert.False(t, dev.InUse())

	_, err = h.ctrl.Select(context.Background(), "S404")
	assert.ErrorIs(t, err, ErrUnknownStudent)
	assert.Equal(t, "S004", h.ctrl.Snapshot().Selected.ID)
}

func TestCancel_DiscardsInFlightMatch(t *testing.T) {
	rohan := roster.Seed()[0]
	dev := &capture.SequenceDevice{Frames: []image.Image{cardFrame(t, rohan)}, Loop: true}
	g := newGate()
	h := newHarness(t, dev, func(o *Options) {
		o.Decoder = identity.NewDecoder(gatedRoster{Memory: roster.SeedRoster(), g: g})
	})
	t.Cleanup(g.open)

	_, err := h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	require.NoError(t, err)
	require.True(t, h.ticks.Tick())
	g.wait(t)

	require.True(t, h.ctrl.Cancel())
	g.open()
	h.ctrl.Close() // waits for the frame loop to deliver its late match

	snap := h.ctrl.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.Selected)
	assert.Empty(t, snap.Error)
	assert.Empty(t, h.ctrl.TakeError())
	assert.Empty(t, h.resolvedIDs())
	assert.Equal(t, [][2]State{{Idle, Scanning}, {Scanning, Idle}}, h.rec.pairs())
	assert.False(t, dev.InUse())
}

func TestSelect_WinsOverInFlightMatch(t *testing.T) {
	rohan := roster.Seed()[0]
	dev := &capture.SequenceDevice{Frames: []image.Image{cardFrame(t, rohan)}, Loop: true}
	g := newGate()
	h := newHarness(t, dev, func(o *Options) {
		o.Decoder = identity.NewDecoder(gatedRoster{Memory: roster.SeedRoster(), g: g})
	})
	t.Cleanup(g.open)

	_, err := h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	require.NoError(t, err)
	require.True(t, h.ticks.Tick())
	g.wait(t)

	_, err = h.ctrl.Select(context.Background(), "S004")
	require.NoError(t, err)
	g.open()
	h.ctrl.Close()

	snap := h.ctrl.Snapshot()
	assert.Equal(t, Idle, snap.State)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, "S004", snap.Selected.ID)
	assert.Empty(t, h.resolvedIDs())
	assert.Equal(t, [][2]State{{Idle, Scanning}, {Scanning, Idle}}, h.rec.pairs())
}

func TestStartScan_CancelWhileCameraOpens(t *testing.T) {
	inner := &capture.SequenceDevice{Frames: []image.Image{blankFrame()}, Loop: true}
	g := newGate()
	h := newHarness(t, slowCamera{Device: inner, g: g})
	t.Cleanup(g.open)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := h.ctrl.StartScan(ctx, capture.FacingEnvironment)
		errc <- err
	}()
	g.wait(t)

	// The lock is free while the camera opens.
	assert.Equal(t, Idle, h.ctrl.Snapshot().State)
	_, err := h.ctrl.StartScan(ctx, capture.FacingEnvironment)
	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.True(t, h.ctrl.Cancel())

	g.open()
	assert.ErrorIs(t, waitErr(t, errc), ErrScanSuperseded)
	assert.Equal(t, Idle, h.ctrl.Snapshot().State)
	assert.False(t, inner.InUse())
	assert.Equal(t, 0, h.pipe.Open())
	assert.Empty(t, h.rec.pairs())

	_, err = h.ctrl.StartScan(ctx, capture.FacingEnvironment)
	require.NoError(t, err, "camera can be reacquired")
	assert.Equal(t, Scanning, h.ctrl.Snapshot().State)
}

func TestSelect_WhileCameraOpens(t *testing.T) {
	inner := &capture.SequenceDevice{Frames: []image.Image{blankFrame()}, Loop: true}
	g := newGate()
	h := newHarness(t, slowCamera{Device: inner, g: g})
	t.Cleanup(g.open)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := h.ctrl.StartScan(ctx, capture.FacingEnvironment)
		errc <- err
	}()
	g.wait(t)

	_, err := h.ctrl.Select(ctx, "S004")
	require.NoError(t, err)
	g.open()
	assert.ErrorIs(t, waitErr(t, errc), ErrScanSuperseded)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, Idle, snap.State)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, "S004", snap.Selected.ID)
	assert.False(t, inner.InUse())
}

func TestClose_WhileCameraOpens(t *testing.T) {
	inner := &capture.SequenceDevice{Frames: []image.Image{blankFrame()}, Loop: true}
	g := newGate()
	h := newHarness(t, slowCamera{Device: inner, g: g})
	t.Cleanup(g.open)

	errc := make(chan error, 1)
	go func() {
		_, err := h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
		errc <- err
	}()
	g.wait(t)

	closed := make(chan struct{})
	go func() {
		h.ctrl.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool {
		_, err := h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
		return errors.Is(err, ErrClosed)
	}, time.Second, time.Millisecond)
	g.open()
	assert.ErrorIs(t, waitErr(t, errc), ErrClosed)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	assert.False(t, inner.InUse())
}

func TestSelect_LatestCardWins(t *testing.T) {
	h := newHarness(t, capture.FailingDevice{})
	ctx := context.Background()

	for _, id := range []string{"S001", "S002", "S003"} {
		_, err := h.ctrl.Select(ctx, id)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return !h.ctrl.Snapshot().CardPending
	}, 2*time.Second, 5*time.Millisecond)

	r, err := identity.NewRenderer(128, "low")
	require.NoError(t, err)
	want, err := identity.Cards{Renderer: r}.Render(ctx, roster.Seed()[2])
	require.NoError(t, err)
	assert.Equal(t, want, h.ctrl.Snapshot().Card)

	h.ctrl.Clear()
	snap := h.ctrl.Snapshot()
	assert.Nil(t, snap.Selected)
	assert.Nil(t, snap.Card)
}

func TestClose_StopsScan(t *testing.T) {
	dev := &capture.SequenceDevice{Frames: []image.Image{blankFrame()}, Loop: true}
	h := newHarness(t, dev)

	_, err := h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	require.NoError(t, err)

	h.ctrl.Close()
	h.ctrl.Close()
	assert.False(t, dev.InUse())
	_, err = h.ctrl.StartScan(context.Background(), capture.FacingEnvironment)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "scanning", Scanning.String())
	assert.Equal(t, "resolved", Resolved.String())
	assert.Equal(t, "failed", Failed.String())
}
