package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists check-ins in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Recent returns the latest check-in of studentID at or after since.
func (r *Repository) Recent(ctx context.Context, studentID string, since time.Time) (*CheckIn, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, device_id, scan_id, served_on, occurred_at
		FROM meal_checkins
		WHERE student_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC
		LIMIT 1
	`, studentID, since)
	var c CheckIn
	if err := row.Scan(&c.ID, &c.StudentID, &c.DeviceID, &c.ScanID, &c.ServedOn, &c.OccurredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Insert writes a new check-in.
func (r *Repository) Insert(ctx context.Context, c CheckIn) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO meal_checkins (id, student_id, device_id, scan_id, served_on, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, c.ID, c.StudentID, c.DeviceID, c.ScanID, c.ServedOn, c.OccurredAt)
	return err
}

// CountsSince returns distinct students per day from from onwards.
func (r *Repository) CountsSince(ctx context.Context, from time.Time) ([]DayCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT served_on, COUNT(DISTINCT student_id)
		FROM meal_checkins
		WHERE served_on >= $1
		GROUP BY served_on
		ORDER BY served_on
	`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Students); err != nil {
			return nil, err
		}
		res = append(res, dc)
	}
	return res, rows.Err()
}
