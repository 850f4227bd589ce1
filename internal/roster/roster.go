// Package roster holds the authoritative set of known student identities.
//
// The scan core only reads the roster through Lookup. Writers (Postgres
// upserts, spreadsheet import) are administrative paths outside that core.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// HealthStatus is the closed set of health states shown on a student card.
type HealthStatus string

const (
	StatusGood           HealthStatus = "Good"
	StatusNeedsAttention HealthStatus = "Needs Attention"
	StatusUrgent         HealthStatus = "Urgent"
)

var (
	ErrInvalidStatus = errors.New("roster: invalid health status")
	ErrInvalidRecord = errors.New("roster: invalid student record")
	ErrDuplicateID   = errors.New("roster: duplicate student id")
)

// ParseHealthStatus accepts the display form ("Needs Attention") as well as
// the compact form ("NeedsAttention"), case-insensitively.
func ParseHealthStatus(s string) (HealthStatus, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "")) {
	case "good":
		return StatusGood, nil
	case "needsattention":
		return StatusNeedsAttention, nil
	case "urgent":
		return StatusUrgent, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Valid reports whether s is one of the known statuses.
func (s HealthStatus) Valid() bool {
	switch s {
	case StatusGood, StatusNeedsAttention, StatusUrgent:
		return true
	}
	return false
}

// StudentRecord is one roster entry. ID is immutable once assigned.
type StudentRecord struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	HealthStatus HealthStatus `json:"status" yaml:"status"`
	Details      string       `json:"details" yaml:"details"`
}

// Validate checks the fields a record needs before it can be encoded.
func (r StudentRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id required", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name required for %s", ErrInvalidRecord, r.ID)
	}
	if !r.HealthStatus.Valid() {
		return fmt.Errorf("%w: %s has status %q", ErrInvalidRecord, r.ID, r.HealthStatus)
	}
	return nil
}

// Lookup is the read-only roster capability consumed by the scan core.
type Lookup interface {
	// LookupByID returns ok=false when no record has the id.
	LookupByID(ctx context.Context, id string) (rec StudentRecord, ok bool, err error)
	All(ctx context.Context) ([]StudentRecord, error)
}

// Writer persists roster records. Only administrative paths use it.
type Writer interface {
	Upsert(ctx context.Context, rec StudentRecord) error
}
