package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mealdash/internal/identity"
	"mealdash/internal/roster"
)

const maxFrameBytes = 4 << 20

var errUploadTooLarge = errors.New("upload too large")

// readUpload returns the file in form field when the request is multipart,
// otherwise the raw body.
func readUpload(c *gin.Context, field string, limit int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<10)
	var r io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		f, _, err := c.Request.FormFile(field)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, fmt.Errorf("%w: limit %d bytes", errUploadTooLarge, limit)
			}
			return nil, fmt.Errorf("%s field required", field)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, fmt.Errorf("%w: limit %d bytes", errUploadTooLarge, limit)
		}
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit %d bytes", errUploadTooLarge, limit)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", field)
	}
	return data, nil
}

// uploadFailed answers a readUpload error.
func uploadFailed(c *gin.Context, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errUploadTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *handler) listStudents(c *gin.Context) {
	all, err := h.Roster.All(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": all})
}

func (h *handler) student(c *gin.Context) (roster.StudentRecord, bool) {
	rec, ok, err := h.Roster.LookupByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return rec, false
	}
	if !ok {
		h.fail(c, fmt.Errorf("student %s: %w", c.Param("id"), errNotFound))
		return rec, false
	}
	return rec, true
}

func (h *handler) getStudent(c *gin.Context) {
	if rec, ok := h.student(c); ok {
		c.JSON(http.StatusOK, rec)
	}
}

func (h *handler) studentCard(c *gin.Context) {
	rec, ok := h.student(c)
	if !ok {
		return
	}
	png, err := h.Cards.Render(c.Request.Context(), rec)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// decodeFrame runs one decode attempt outside any scan session.
func (h *handler) decodeFrame(c *gin.Context) {
	data, err := readUpload(c, "frame", maxFrameBytes)
	if err != nil {
		uploadFailed(c, err)
		return
	}
	img, err := identity.ReadImage(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "frame must be a JPEG or PNG image"})
		return
	}
	res := h.Decoder.Decode(c.Request.Context(), img)
	h.Metrics.ObserveDecode(res.Kind)

	body := gin.H{"outcome": res.Kind.String()}
	if msg := res.Message(); msg != "" {
		body["error"] = msg
	}
	if res.Kind == identity.Matched {
		body["student"] = res.Student
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) importRoster(c *gin.Context) {
	if h.RosterWriter == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "roster is read-only"})
		return
	}
	data, err := readUpload(c, "file", 10<<20)
	if err != nil {
		uploadFailed(c, err)
		return
	}
	res, err := roster.ImportSpreadsheet(c.Request.Context(), bytes.NewReader(data), h.RosterWriter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
