package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"mealdash/internal/roster"
)

// ErrRender is returned when a payload cannot be turned into a code image,
// typically because it exceeds the format's capacity.
var ErrRender = errors.New("identity: render failed")

// DefaultSize is the edge length of a rendered card code in pixels.
const DefaultSize = 256

// Renderer turns payload bytes into a QR raster.
type Renderer struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewRenderer builds a renderer from config values. level is one of
// low, medium, high, highest.
func NewRenderer(size int, level string) (Renderer, error) {
	lvl, err := ParseRecovery(level)
	if err != nil {
		return Renderer{}, err
	}
	if size <= 0 {
		size = DefaultSize
	}
	return Renderer{Size: size, Level: lvl}, nil
}

// ParseRecovery maps a config string to an error-correction level. Empty
// means medium, which survives printing on a laminated card.
func ParseRecovery(level string) (qrcode.RecoveryLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "low", "l":
		return qrcode.Low, nil
	case "", "medium", "m":
		return qrcode.Medium, nil
	case "high", "q":
		return qrcode.High, nil
	case "highest", "h":
		return qrcode.Highest, nil
	}
	return 0, fmt.Errorf("identity: unknown recovery level %q", level)
}

func (r Renderer) size() int {
	if r.Size <= 0 {
		return DefaultSize
	}
	return r.Size
}

// Render produces the code image for payload.
func (r Renderer) Render(payload []byte) (image.Image, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrRender)
	}
	q, err := qrcode.New(string(payload), r.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return q.Image(r.size()), nil
}

// RenderPNG is Render encoded as PNG.
func (r Renderer) RenderPNG(payload []byte) ([]byte, error) {
	img, err := r.Render(payload)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode png: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// RenderContext renders off the caller's goroutine and gives up when ctx is
// done first, so a render for an abandoned request can be dropped.
func (r Renderer) RenderContext(ctx context.Context, payload []byte) ([]byte, error) {
	type result struct {
		png []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := r.RenderPNG(payload)
		ch <- result{data, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.png, res.err
	}
}

// Cards renders student health card codes.
type Cards struct {
	Encoder  Encoder
	Renderer Renderer
}

// Render encodes rec and renders its code as PNG.
func (c Cards) Render(ctx context.Context, rec roster.StudentRecord) ([]byte, error) {
	return c.Renderer.RenderContext(ctx, c.Encoder.Encode(rec))
}
