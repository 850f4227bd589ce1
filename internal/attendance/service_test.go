package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	rows []CheckIn
	err  error
}

func (m *memStore) Recent(_ context.Context, studentID string, since time.Time) (*CheckIn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		c := m.rows[i]
		if c.StudentID == studentID && !c.OccurredAt.Before(since) {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) Insert(_ context.Context, c CheckIn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, c)
	return nil
}

func (m *memStore) CountsSince(_ context.Context, from time.Time) ([]DayCount, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[time.Time]map[string]bool{}
	for _, c := range m.rows {
		if c.ServedOn.Before(from) {
			continue
		}
		if seen[c.ServedOn] == nil {
			seen[c.ServedOn] = map[string]bool{}
		}
		seen[c.ServedOn][c.StudentID] = true
	}
	var out []DayCount
	for d, s := range seen {
		out = append(out, DayCount{Day: d, Students: len(s)})
	}
	return out, nil
}

func newTestService(store Store, now *time.Time) *Service {
	s := NewService(store, 5*time.Minute, 415, nil)
	s.now = func() time.Time { return *now }
	return s
}

func TestCheckIn_Dedup(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	store := &memStore{}
	svc := newTestService(store, &now)
	ctx := context.Background()

	first, err := svc.CheckIn(ctx, "S001", "kiosk-1", "scan-1")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, "2024-03-04", first.ServedOn.Format(time.DateOnly))

	now = now.Add(2 * time.Minute)
	again, err := svc.CheckIn(ctx, "S001", "kiosk-2", "")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.ID, again.ID)

	now = now.Add(10 * time.Minute)
	later, err := svc.CheckIn(ctx, "S001", "kiosk-1", "")
	require.NoError(t, err)
	assert.False(t, later.Duplicate)
	assert.Len(t, store.rows, 2)

	_, err = svc.CheckIn(ctx, " ", "kiosk-1", "")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestDailyCounts_FillsGaps(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	store := &memStore{}
	svc := newTestService(store, &now)
	ctx := context.Background()

	_, _ = svc.CheckIn(ctx, "S001", "k", "")
	_, _ = svc.CheckIn(ctx, "S002", "k", "")
	now = now.AddDate(0, 0, -2)
	_, _ = svc.CheckIn(ctx, "S001", "k", "")
	now = now.AddDate(0, 0, 2)

	counts, err := svc.DailyCounts(ctx, 3)
	require.NoError(t, err)
	require.Len(t, counts, 3)
	assert.Equal(t, 1, counts[0].Students)
	assert.Equal(t, 0, counts[1].Students)
	assert.Equal(t, 2, counts[2].Students)
	assert.Equal(t, "2024-03-02", counts[0].Day.Format(time.DateOnly))
}

func TestExpectedMeals(t *testing.T) {
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	store := &memStore{}
	svc := newTestService(store, &now)
	ctx := context.Background()

	assert.Equal(t, 415, svc.ExpectedMeals(ctx, now), "default without history")

	_, _ = svc.CheckIn(ctx, "S001", "k", "")
	_, _ = svc.CheckIn(ctx, "S002", "k", "")
	assert.Equal(t, 415, svc.ExpectedMeals(ctx, now), "the first few check-ins of today do not shrink the estimate")

	store.err = errors.New("db down")
	assert.Equal(t, 415, svc.ExpectedMeals(ctx, now))
}

func TestExpectedMeals_TrailingAverage(t *testing.T) {
	now := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	store := &memStore{}
	svc := newTestService(store, &now)
	ctx := context.Background()

	serve := func(d time.Time, n int) {
		for i := 0; i < n; i++ {
			store.rows = append(store.rows, CheckIn{StudentID: fmt.Sprintf("S%03d", i), ServedOn: day(d)})
		}
	}
	serve(now.AddDate(0, 0, -1), 400)
	serve(now.AddDate(0, 0, -2), 380)
	serve(now.AddDate(0, 0, -3), 0)
	serve(now.AddDate(0, 0, -20), 10) // outside the window
	serve(now, 3)

	assert.Equal(t, 390, svc.ExpectedMeals(ctx, now), "average of served days, ignoring empty days and today")

	for i := 0; i < 450; i++ {
		store.rows = append(store.rows, CheckIn{StudentID: fmt.Sprintf("T%03d", i), ServedOn: day(now)})
	}
	assert.Equal(t, 453, svc.ExpectedMeals(ctx, now), "never below what today already served")
}
