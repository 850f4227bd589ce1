package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mealdash/internal/attendance"
	"mealdash/internal/capture"
	"mealdash/internal/identity"
	"mealdash/internal/lookup"
	"mealdash/internal/metrics"
	"mealdash/internal/roster"
)

// ScanConfig builds the controllers behind HTTP scan sessions.
type ScanConfig struct {
	Roster   roster.Lookup
	Decoder  *identity.Decoder
	Cards    lookup.CardRenderer
	Ticks    capture.TickSource
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	CheckIns *attendance.Service // nil disables check-in on resolve
}

// Factory returns a lookup.Factory. A resolved scan checks the student in
// against the session owner.
func (sc ScanConfig) Factory() lookup.Factory {
	logger := sc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(owner string, dev capture.Device) *lookup.Controller {
		opts := lookup.Options{
			Pipeline: capture.NewPipeline(dev, logger.Named("capture")),
			Ticks:    sc.Ticks,
			Decoder:  sc.Decoder,
			Roster:   sc.Roster,
			Cards:    sc.Cards,
			Logger:   logger.Named("lookup").With(zap.String("owner", owner)),
		}
		if sc.Metrics != nil {
			opts.Listener = sc.Metrics.ObserveTransition
		}
		if sc.CheckIns != nil {
			opts.OnResolved = func(ctx context.Context, rec roster.StudentRecord, scanID string) {
				if _, err := sc.CheckIns.CheckIn(ctx, rec.ID, owner, scanID); err != nil {
					logger.Warn("check-in after scan failed", zap.String("student_id", rec.ID), zap.Error(err))
				}
			}
		}
		return lookup.New(opts)
	}
}

type sessionView struct {
	ID string `json:"session_id"`
	lookup.Snapshot
	CardURL string `json:"card_url,omitempty"`
}

// view reports the session and hands out its pending error once.
func view(s *lookup.Session) sessionView {
	snap := s.Controller.Snapshot()
	snap.Error = s.Controller.TakeError()
	v := sessionView{ID: s.ID, Snapshot: snap}
	if len(snap.Card) > 0 {
		v.CardURL = "/v1/scan/sessions/" + s.ID + "/card.png"
	}
	return v
}

func (h *handler) trackSessions() {
	h.Metrics.ScanSessions.Set(float64(h.Sessions.Len()))
}

// session returns the caller's session; other callers' sessions are 404.
func (h *handler) session(c *gin.Context) (*lookup.Session, bool) {
	s, ok := h.Sessions.Get(c.Param("id"))
	if !ok || s.Owner != subject(c) {
		h.fail(c, fmt.Errorf("scan session: %w", errNotFound))
		return nil, false
	}
	return s, true
}

type scanRequest struct {
	Facing string `json:"facing"`
	// Start defaults to true when creating a session.
	Start *bool `json:"start"`
}

func (r scanRequest) facing() (capture.Facing, error) {
	if r.Facing == "" {
		return capture.FacingEnvironment, nil
	}
	return capture.ParseFacing(r.Facing)
}

func (h *handler) createSession(c *gin.Context) {
	var req scanRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	facing, err := req.facing()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	s := h.Sessions.Create(subject(c))
	h.trackSessions()
	if req.Start == nil || *req.Start {
		if _, err := s.Controller.StartScan(c.Request.Context(), facing); err != nil {
			h.logger.Warn("scan start failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	c.JSON(http.StatusCreated, view(s))
}

func (h *handler) getSession(c *gin.Context) {
	if s, ok := h.session(c); ok {
		c.JSON(http.StatusOK, view(s))
	}
}

func (h *handler) sessionCard(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	snap := s.Controller.Snapshot()
	if len(snap.Card) == 0 {
		status := http.StatusNotFound
		if snap.CardPending {
			status = http.StatusAccepted
		}
		c.JSON(status, gin.H{"error": "no card", "card_pending": snap.CardPending})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", snap.Card)
}

// pushFrame feeds one camera frame to the session's scan.
func (h *handler) pushFrame(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
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
	if err := s.Device.Push(img); err != nil {
		if errors.Is(err, capture.ErrNoStream) {
			c.JSON(http.StatusConflict, gin.H{"error": "no active scan", "state": s.Controller.Snapshot().StateName})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": s.Controller.Snapshot().StateName})
}

func (h *handler) startScan(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req scanRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	facing, err := req.facing()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if _, err := s.Controller.StartScan(c.Request.Context(), facing); err != nil {
		if errors.Is(err, lookup.ErrScanInProgress) || errors.Is(err, lookup.ErrScanSuperseded) || errors.Is(err, lookup.ErrClosed) {
			h.fail(c, err)
			return
		}
		// Camera failures are reported through the session view.
		c.JSON(statusFor(err), view(s))
		return
	}
	c.JSON(http.StatusOK, view(s))
}

func (h *handler) cancelScan(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	cancelled := s.Controller.Cancel()
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled, "state": s.Controller.Snapshot().StateName})
}

func (h *handler) selectStudent(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		StudentID string `json:"studentId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if _, err := s.Controller.Select(c.Request.Context(), req.StudentID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view(s))
}

func (h *handler) deleteSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.Sessions.Remove(s.ID)
	h.trackSessions()
	c.Status(http.StatusNoContent)
}
