package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"mealdash/internal/attendance"
	"mealdash/internal/donation"
	"mealdash/internal/expense"
	"mealdash/internal/feedback"
	"mealdash/internal/hygiene"
)

type tokenStore struct {
	mu     sync.Mutex
	tokens map[string]bool
}

func (s *tokenStore) UpsertDevice(context.Context, string) error { return nil }

func (s *tokenStore) SaveRefreshToken(_ context.Context, _, token string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = map[string]bool{}
	}
	s.tokens[token] = true
	return nil
}

func (s *tokenStore) ConsumeRefreshToken(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.tokens[token]
	delete(s.tokens, token)
	return live, nil
}

type checkinStore struct {
	mu   sync.Mutex
	rows []attendance.CheckIn
}

func (s *checkinStore) all() []attendance.CheckIn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]attendance.CheckIn(nil), s.rows...)
}

func (s *checkinStore) Recent(_ context.Context, studentID string, since time.Time) (*attendance.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.rows) - 1; i >= 0; i-- {
		if c := s.rows[i]; c.StudentID == studentID && !c.OccurredAt.Before(since) {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *checkinStore) Insert(_ context.Context, c attendance.CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, c)
	return nil
}

func (s *checkinStore) CountsSince(_ context.Context, from time.Time) ([]attendance.DayCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	per := map[time.Time]map[string]bool{}
	for _, c := range s.rows {
		if c.ServedOn.Before(from) {
			continue
		}
		if per[c.ServedOn] == nil {
			per[c.ServedOn] = map[string]bool{}
		}
		per[c.ServedOn][c.StudentID] = true
	}
	var out []attendance.DayCount
	for d, ids := range per {
		out = append(out, attendance.DayCount{Day: d, Students: len(ids)})
	}
	return out, nil
}

type hygieneStore struct {
	mu   sync.Mutex
	rows map[string]hygiene.Report
}

func (s *hygieneStore) Insert(_ context.Context, r hygiene.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = map[string]hygiene.Report{}
	}
	s.rows[r.ID] = r
	return nil
}

func (s *hygieneStore) Get(_ context.Context, id string, withPhoto bool) (hygiene.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return hygiene.Report{}, hygiene.ErrNotFound
	}
	if !withPhoto {
		r.Photo = nil
	}
	return r, nil
}

func (s *hygieneStore) List(_ context.Context, limit, offset int) ([]hygiene.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []hygiene.Report
	for _, r := range s.rows {
		r.Photo = nil
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *hygieneStore) SetResult(context.Context, string, string, string, string, time.Time) error {
	return nil
}

type feedbackStore struct{}

func (feedbackStore) Insert(context.Context, feedback.Entry) error { return nil }

type donationStore struct {
	mu   sync.Mutex
	rows map[string]donation.Offer
}

func (s *donationStore) Insert(_ context.Context, o donation.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = map[string]donation.Offer{}
	}
	s.rows[o.ID] = o
	return nil
}

func (s *donationStore) Get(_ context.Context, id string) (donation.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[id]
	if !ok {
		return donation.Offer{}, donation.ErrNotFound
	}
	return o, nil
}

func (s *donationStore) MarkPublished(context.Context, string, time.Time) error { return nil }

type expenseStore struct {
	mu   sync.Mutex
	rows []expense.Expense
}

func (s *expenseStore) Insert(_ context.Context, e expense.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, e)
	return nil
}

func (s *expenseStore) ListBetween(_ context.Context, from, to time.Time) ([]expense.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []expense.Expense
	for _, e := range s.rows {
		if !e.SpentOn.Before(from) && e.SpentOn.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}
