package roster

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Memory is an in-memory roster. It is seeded at startup and accepts
// spreadsheet imports through Upsert.
type Memory struct {
	mu    sync.RWMutex
	byID  map[string]StudentRecord
	order []string
}

// NewMemory validates the records and builds a roster preserving their order.
func NewMemory(records ...StudentRecord) (*Memory, error) {
	s := &Memory{byID: make(map[string]StudentRecord, len(records))}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byID[rec.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		s.byID[rec.ID] = rec
		s.order = append(s.order, rec.ID)
	}
	return s, nil
}

// Seed returns the fixed roster the dashboard ships with.
func Seed() []StudentRecord {
	return []StudentRecord{
		{ID: "S001", Name: "Rohan Sharma", HealthStatus: StatusGood, Details: "Normal growth and active."},
		{ID: "S002", Name: "Priya Patel", HealthStatus: StatusNeedsAttention, Details: "Slightly underweight. Monitor diet."},
		{ID: "S003", Name: "Amit Singh", HealthStatus: StatusUrgent, Details: "Showing signs of fever and fatigue."},
		{ID: "S004", Name: "Sneha Verma", HealthStatus: StatusGood, Details: "Healthy and meeting all milestones."},
	}
}

// SeedRoster is NewMemory(Seed()...); the seed is known to be valid.
func SeedRoster() *Memory {
	s, err := NewMemory(Seed()...)
	if err != nil {
		panic(err)
	}
	return s
}

type yamlRoster struct {
	Students []struct {
		ID      string `yaml:"id"`
		Name    string `yaml:"name"`
		Status  string `yaml:"status"`
		Details string `yaml:"details"`
	} `yaml:"students"`
}

// ParseYAML reads a roster document of the form
//
//	students:
//	  - {id: S001, name: Rohan Sharma, status: Good, details: ...}
func ParseYAML(data []byte) (*Memory, error) {
	var doc yamlRoster
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("roster: parse yaml: %w", err)
	}
	records := make([]StudentRecord, 0, len(doc.Students))
	for _, s := range doc.Students {
		status, err := ParseHealthStatus(s.Status)
		if err != nil {
			return nil, fmt.Errorf("roster: student %s: %w", s.ID, err)
		}
		records = append(records, StudentRecord{ID: s.ID, Name: s.Name, HealthStatus: status, Details: s.Details})
	}
	return NewMemory(records...)
}

// LoadYAML reads a roster file from disk.
func LoadYAML(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roster: read %s: %w", path, err)
	}
	return ParseYAML(data)
}

// LookupByID implements Lookup.
func (s *Memory) LookupByID(_ context.Context, id string) (StudentRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	return rec, ok, nil
}

// All implements Lookup. The returned slice is a copy.
func (s *Memory) All(_ context.Context) ([]StudentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StudentRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}

// Upsert implements Writer. New ids are appended in arrival order.
func (s *Memory) Upsert(_ context.Context, rec StudentRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.byID[rec.ID] = rec
	return nil
}

// IDs returns the roster ids sorted.
func (s *Memory) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := append([]string(nil), s.order...)
	sort.Strings(ids)
	return ids
}
