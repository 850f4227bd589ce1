package hygiene

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists reports in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const reportColumns = `id, kitchen, mime_type, image_url, status, cleanliness, notice, created_at, analyzed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner, extra ...any) (Report, error) {
	var r Report
	dest := append([]any{&r.ID, &r.Kitchen, &r.MIMEType, &r.ImageURL, &r.Status, &r.Cleanliness, &r.Notice, &r.CreatedAt, &r.AnalyzedAt}, extra...)
	err := row.Scan(dest...)
	return r, err
}

// Insert writes a new report with its photo.
func (r *Repository) Insert(ctx context.Context, rep Report) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hygiene_reports (id, kitchen, mime_type, image_url, photo, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rep.ID, rep.Kitchen, rep.MIMEType, rep.ImageURL, rep.Photo, rep.Status, rep.CreatedAt)
	return err
}

// Get returns one report, optionally with the photo bytes.
func (r *Repository) Get(ctx context.Context, id string, withPhoto bool) (Report, error) {
	query := `SELECT ` + reportColumns + ` FROM hygiene_reports WHERE id = $1`
	var photo []byte
	var extra []any
	if withPhoto {
		query = `SELECT ` + reportColumns + `, photo FROM hygiene_reports WHERE id = $1`
		extra = append(extra, &photo)
	}
	rep, err := scanReport(r.db.QueryRowContext(ctx, query, id), extra...)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	if err != nil {
		return Report{}, err
	}
	rep.Photo = photo
	return rep, nil
}

// List returns reports newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Report, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reportColumns+` FROM hygiene_reports
		ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// SetResult stores the analysis outcome.
func (r *Repository) SetResult(ctx context.Context, id, status, cleanliness, notice string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE hygiene_reports
		SET status = $2, cleanliness = $3, notice = $4, analyzed_at = $5
		WHERE id = $1
	`, id, status, cleanliness, notice, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
