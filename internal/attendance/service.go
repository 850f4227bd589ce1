package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMissingField is returned when student or device is empty.
var ErrMissingField = errors.New("attendance: student and device required")

// CheckIn represents a meal served to a student.
type CheckIn struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"studentId"`
	DeviceID   string    `json:"deviceId"`
	ScanID     string    `json:"scanId,omitempty"`
	ServedOn   time.Time `json:"servedOn"`
	OccurredAt time.Time `json:"occurredAt"`
	Duplicate  bool      `json:"duplicate"`
}

// DayCount is the number of distinct students served on a day.
type DayCount struct {
	Day      time.Time `json:"day"`
	Students int       `json:"students"`
}

// Store persists check-ins.
type Store interface {
	Recent(ctx context.Context, studentID string, since time.Time) (*CheckIn, error)
	Insert(ctx context.Context, c CheckIn) error
	CountsSince(ctx context.Context, from time.Time) ([]DayCount, error)
}

// Service coordinates meal check-ins and deduplication.
type Service struct {
	store        Store
	dedupWindow  time.Duration
	defaultMeals int
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates a service backed by store.
func NewService(store Store, dedupWindow time.Duration, defaultMeals int, logger *zap.Logger) *Service {
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, dedupWindow: dedupWindow, defaultMeals: defaultMeals, logger: logger, now: time.Now}
}

// CheckIn records a meal for studentID. A second scan of the same student
// inside the dedup window returns the earlier check-in marked Duplicate.
func (s *Service) CheckIn(ctx context.Context, studentID, deviceID, scanID string) (CheckIn, error) {
	studentID = strings.TrimSpace(studentID)
	deviceID = strings.TrimSpace(deviceID)
	if studentID == "" || deviceID == "" {
		return CheckIn{}, ErrMissingField
	}
	now := s.now().UTC()
	recent, err := s.store.Recent(ctx, studentID, now.Add(-s.dedupWindow))
	if err != nil {
		return CheckIn{}, err
	}
	if recent != nil {
		recent.Duplicate = true
		return *recent, nil
	}

	c := CheckIn{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		DeviceID:   deviceID,
		ScanID:     scanID,
		ServedOn:   day(now),
		OccurredAt: now,
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return CheckIn{}, err
	}
	s.logger.Debug("meal check-in", zap.String("student", studentID), zap.String("device", deviceID))
	return c, nil
}

// DailyCounts returns one entry per day for the last days days, oldest first,
// with zero-filled gaps.
func (s *Service) DailyCounts(ctx context.Context, days int) ([]DayCount, error) {
	if days <= 0 {
		days = 7
	}
	if days > 366 {
		days = 366
	}
	from := day(s.now().UTC()).AddDate(0, 0, -(days - 1))
	rows, err := s.store.CountsSince(ctx, from)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]int, len(rows))
	for _, r := range rows {
		byDay[r.Day.Format(time.DateOnly)] = r.Students
	}
	out := make([]DayCount, 0, days)
	for i := 0; i < days; i++ {
		d := from.AddDate(0, 0, i)
		out = append(out, DayCount{Day: d, Students: byDay[d.Format(time.DateOnly)]})
	}
	return out, nil
}

// expectedWindow is how many days before today ExpectedMeals averages over.
const expectedWindow = 7

// ExpectedMeals estimates how many students will eat on d: the average of
// the served days in the week before d, raised to the count already served
// on d. The configured default applies only when there is no history.
func (s *Service) ExpectedMeals(ctx context.Context, d time.Time) int {
	today := day(d.UTC())
	rows, err := s.store.CountsSince(ctx, today.AddDate(0, 0, -expectedWindow))
	if err != nil {
		s.logger.Warn("expected meals lookup failed", zap.Error(err))
		return s.defaultMeals
	}
	var total, days, served int
	for _, r := range rows {
		switch {
		case r.Day.Equal(today):
			served = r.Students
		case r.Day.Before(today) && r.Students > 0:
			total += r.Students
			days++
		}
	}
	if days == 0 {
		return max(s.defaultMeals, served)
	}
	avg := (total + days/2) / days
	return max(avg, served)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
