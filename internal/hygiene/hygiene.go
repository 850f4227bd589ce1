// Package hygiene stores kitchen photos and their cleanliness assessment.
package hygiene

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealdash/internal/aiflow"
	"mealdash/internal/cloudinary"
	"mealdash/internal/queue"
)

// MaxPhotoBytes caps an uploaded photo.
const MaxPhotoBytes = 5 << 20

// Report statuses.
const (
	StatusPending        = "pending"
	StatusClean          = "clean"
	StatusNeedsAttention = "needs_attention"
	StatusManualReview   = "manual_review"
)

var (
	ErrInvalidPhoto = errors.New("hygiene: photo must be a JPEG or PNG image")
	ErrTooLarge     = fmt.Errorf("hygiene: photo larger than %d bytes", MaxPhotoBytes)
	ErrNotFound     = errors.New("hygiene: report not found")
)

// Report is one submitted kitchen photo.
type Report struct {
	ID          string     `json:"id"`
	Kitchen     string     `json:"kitchen"`
	MIMEType    string     `json:"mimeType"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	Status      string     `json:"status"`
	Cleanliness string     `json:"cleanliness,omitempty"`
	Notice      string     `json:"notice,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	AnalyzedAt  *time.Time `json:"analyzedAt,omitempty"`

	Photo []byte `json:"-"`
}

// Store persists reports.
type Store interface {
	Insert(ctx context.Context, r Report) error
	Get(ctx context.Context, id string, withPhoto bool) (Report, error)
	List(ctx context.Context, limit, offset int) ([]Report, error)
	SetResult(ctx context.Context, id, status, cleanliness, notice string, at time.Time) error
}

// Checker assesses a photo; *aiflow.Runner implements it.
type Checker interface {
	CheckHygiene(ctx context.Context, in aiflow.HygieneInput) (aiflow.Outcome[aiflow.HygieneAssessment], error)
}

// Service accepts photos on the API side and analyses them on the worker
// side.
type Service struct {
	store    Store
	uploader cloudinary.Uploader
	queue    queue.Queue
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a service. uploader may be nil, photos then live only in
// the database.
func NewService(store Store, uploader cloudinary.Uploader, q queue.Queue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, uploader: uploader, queue: q, logger: logger, now: time.Now}
}

// DetectType returns the photo's MIME type if it is an accepted image.
func DetectType(photo []byte) (string, error) {
	if len(photo) == 0 {
		return "", ErrInvalidPhoto
	}
	if len(photo) > MaxPhotoBytes {
		return "", ErrTooLarge
	}
	switch mt := http.DetectContentType(photo); mt {
	case "image/jpeg", "image/png":
		return mt, nil
	default:
		return "", ErrInvalidPhoto
	}
}

// Submit stores a pending report and queues it for analysis.
func (s *Service) Submit(ctx context.Context, photo []byte, kitchen string) (Report, error) {
	mt, err := DetectType(photo)
	if err != nil {
		return Report{}, err
	}
	r := Report{
		ID:        uuid.NewString(),
		Kitchen:   strings.TrimSpace(kitchen),
		MIMEType:  mt,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
		Photo:     photo,
	}
	if s.uploader != nil {
		ext := strings.TrimPrefix(mt, "image/")
		res, err := s.uploader.Upload(ctx, photo, r.ID+"."+ext)
		if err != nil {
			// The bytes are kept in the row, so analysis still works.
			s.logger.Warn("hygiene photo upload failed", zap.String("report", r.ID), zap.Error(err))
		} else {
			r.ImageURL = res.SecureURL
		}
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return Report{}, err
	}
	if err := s.queue.Publish(ctx, queue.Message{Type: queue.TypeHygiene, Body: []byte(r.ID)}); err != nil {
		s.logger.Error("hygiene enqueue failed", zap.String("report", r.ID), zap.Error(err))
		return r, fmt.Errorf("hygiene: enqueue %s: %w", r.ID, err)
	}
	return r, nil
}

// Get returns a report without its photo bytes.
func (s *Service) Get(ctx context.Context, id string) (Report, error) {
	return s.store.Get(ctx, id, false)
}

// List returns the latest reports first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Report, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}

// Analyze runs the cleanliness check for a pending report. Reports already
// analysed are left alone so a redelivered message is harmless.
func (s *Service) Analyze(ctx context.Context, checker Checker, id string) (Report, error) {
	r, err := s.store.Get(ctx, id, true)
	if err != nil {
		return Report{}, err
	}
	if r.Status != StatusPending {
		return r, nil
	}
	out, err := checker.CheckHygiene(ctx, aiflow.HygieneInput{Photo: r.Photo, MIMEType: r.MIMEType})
	if err != nil {
		return Report{}, err
	}

	r.Cleanliness = out.Output.Cleanliness
	r.Notice = out.Notice
	switch {
	case out.Manual:
		r.Status = StatusManualReview
		r.Cleanliness = ""
	case out.Output.Cleanliness == aiflow.Clean:
		r.Status = StatusClean
	default:
		r.Status = StatusNeedsAttention
	}
	at := s.now().UTC()
	r.AnalyzedAt = &at
	if err := s.store.SetResult(ctx, r.ID, r.Status, r.Cleanliness, r.Notice, at); err != nil {
		return Report{}, err
	}
	s.logger.Info("hygiene report analysed", zap.String("report", r.ID), zap.String("status", r.Status))
	r.Photo = nil
	return r, nil
}
