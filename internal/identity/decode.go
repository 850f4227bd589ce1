package identity

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"

	"mealdash/internal/roster"
)

// Kind classifies one decode attempt.
type Kind int

const (
	// NotFound means no readable code in the frame; the scan keeps polling.
	NotFound Kind = iota
	// Malformed means a code was read but its text is not a payload.
	Malformed
	// UnknownStudent means the payload parsed but names no roster entry.
	UnknownStudent
	// LookupFailed means the roster could not be consulted.
	LookupFailed
	// Matched means the payload resolved to a roster record.
	Matched
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Malformed:
		return "malformed_payload"
	case UnknownStudent:
		return "unknown_student"
	case LookupFailed:
		return "lookup_failed"
	case Matched:
		return "matched"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Terminal reports whether the outcome ends a scan session with an error.
func (k Kind) Terminal() bool {
	return k == Malformed || k == UnknownStudent || k == LookupFailed
}

// Result is the outcome of decoding one frame.
type Result struct {
	Kind    Kind
	Text    string
	Payload Payload
	Student roster.StudentRecord
	Err     error
}

// Message is the user-visible text for terminal outcomes.
func (r Result) Message() string {
	switch r.Kind {
	case Malformed:
		return "Invalid QR Code"
	case UnknownStudent:
		return "Student not found"
	case LookupFailed:
		return "Could not verify student, please try again"
	}
	return ""
}

var errEmptyFrame = errors.New("identity: empty frame")

// Decoder locates a QR code in a raster and resolves its payload against the
// roster.
type Decoder struct {
	roster roster.Lookup
	hints  map[gozxing.DecodeHintType]interface{}
}

// NewDecoder returns a decoder that resolves against l.
func NewDecoder(l roster.Lookup) *Decoder {
	return &Decoder{
		roster: l,
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode never returns an error for an empty or unreadable frame; that is the
// NotFound outcome.
func (d *Decoder) Decode(ctx context.Context, img image.Image) Result {
	text, err := d.read(img)
	if err != nil {
		return Result{Kind: NotFound, Err: err}
	}
	return d.Match(ctx, text)
}

func (d *Decoder) read(img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", errEmptyFrame
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	// QRCodeReader keeps per-call state; one per attempt.
	res, err := zxqr.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		return "", err
	}
	return res.GetText(), nil
}

// Match resolves already-extracted code text. The returned student comes from
// the roster, not from the payload's denormalized copy.
func (d *Decoder) Match(ctx context.Context, text string) Result {
	p, err := ParsePayload([]byte(text))
	if err != nil {
		return Result{Kind: Malformed, Text: text, Err: err}
	}
	rec, ok, err := d.roster.LookupByID(ctx, p.StudentID)
	if err != nil {
		return Result{Kind: LookupFailed, Text: text, Payload: p, Err: err}
	}
	if !ok {
		return Result{Kind: UnknownStudent, Text: text, Payload: p}
	}
	return Result{Kind: Matched, Text: text, Payload: p, Student: rec}
}

// ReadImage decodes an uploaded PNG, JPEG or GIF frame.
func ReadImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("identity: read image: %w", err)
	}
	return img, nil
}
