package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mealdash/internal/aiflow"
	"mealdash/internal/attendance"
	"mealdash/internal/auth"
	"mealdash/internal/capture"
	"mealdash/internal/donation"
	"mealdash/internal/expense"
	"mealdash/internal/hygiene"
	"mealdash/internal/identity"
	"mealdash/internal/lookup"
	"mealdash/internal/roster"
)

var errNotFound = errors.New("not found")

var statusTable = []struct {
	err    error
	status int
}{
	{errNotFound, http.StatusNotFound},
	{lookup.ErrUnknownStudent, http.StatusNotFound},
	{hygiene.ErrNotFound, http.StatusNotFound},
	{donation.ErrNotFound, http.StatusNotFound},
	{lookup.ErrScanInProgress, http.StatusConflict},
	{lookup.ErrScanSuperseded, http.StatusConflict},
	{lookup.ErrClosed, http.StatusGone},
	{capture.ErrNoStream, http.StatusConflict},
	{capture.ErrPermissionDenied, http.StatusServiceUnavailable},
	{capture.ErrDeviceUnavailable, http.StatusServiceUnavailable},
	{auth.ErrBadCredentials, http.StatusUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized},
	{auth.ErrWrongKind, http.StatusUnauthorized},
	{auth.ErrRevoked, http.StatusUnauthorized},
	{aiflow.ErrInvalidInput, http.StatusBadRequest},
	{attendance.ErrMissingField, http.StatusBadRequest},
	{hygiene.ErrInvalidPhoto, http.StatusUnsupportedMediaType},
	{hygiene.ErrTooLarge, http.StatusRequestEntityTooLarge},
	{donation.ErrInvalidOffer, http.StatusBadRequest},
	{expense.ErrInvalidCategory, http.StatusBadRequest},
	{expense.ErrInvalidAmount, http.StatusBadRequest},
	{roster.ErrInvalidRecord, http.StatusBadRequest},
	{roster.ErrBadSpreadsheet, http.StatusBadRequest},
	{roster.ErrReadOnly, http.StatusNotImplemented},
	{identity.ErrRender, http.StatusInternalServerError},
}

func statusFor(err error) int {
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// fail writes {"error": ...}. Server errors are logged and not echoed.
func (h *handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case errors.Is(err, identity.ErrRender):
		msg = "Could not generate QR code"
	case status == http.StatusInternalServerError:
		msg = "internal error"
	}
	if status >= 500 {
		h.logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
