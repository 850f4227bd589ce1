package roster

import (
	"context"
	"database/sql"
	"errors"
)

// Repository serves the roster from the Postgres students table.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// LookupByID implements Lookup.
func (r *Repository) LookupByID(ctx context.Context, id string) (StudentRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, health_status, details
		FROM students WHERE id = $1
	`, id)
	var rec StudentRecord
	if err := row.Scan(&rec.ID, &rec.Name, &rec.HealthStatus, &rec.Details); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StudentRecord{}, false, nil
		}
		return StudentRecord{}, false, err
	}
	return rec, true, nil
}

// All implements Lookup.
func (r *Repository) All(ctx context.Context) ([]StudentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, health_status, details
		FROM students
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []StudentRecord
	for rows.Next() {
		var rec StudentRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.HealthStatus, &rec.Details); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Upsert creates a student or refreshes its name, status and details.
// The id itself never changes.
func (r *Repository) Upsert(ctx context.Context, rec StudentRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, health_status, details)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			health_status = EXCLUDED.health_status,
			details = EXCLUDED.details,
			updated_at = NOW()
	`, rec.ID, rec.Name, string(rec.HealthStatus), rec.Details)
	return err
}
