package expense

import (
	"context"
	"database/sql"
	"time"
)

// Repository persists expenses in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes an expense.
func (r *Repository) Insert(ctx context.Context, e Expense) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (id, category, amount, description, receipt_url, spent_on, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, string(e.Category), e.Amount, e.Description, e.ReceiptURL, e.SpentOn, e.CreatedAt)
	return err
}

// ListBetween returns expenses with from <= spent_on < to, oldest first.
func (r *Repository) ListBetween(ctx context.Context, from, to time.Time) ([]Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, category, amount::float8, description, receipt_url, spent_on, created_at
		FROM expenses
		WHERE spent_on >= $1 AND spent_on < $2
		ORDER BY spent_on, created_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Expense
	for rows.Next() {
		var e Expense
		var cat string
		if err := rows.Scan(&e.ID, &cat, &e.Amount, &e.Description, &e.ReceiptURL, &e.SpentOn, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Category = Category(cat)
		res = append(res, e)
	}
	return res, rows.Err()
}
