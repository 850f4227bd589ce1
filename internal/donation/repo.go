package donation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Repository persists offers in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new offer.
func (r *Repository) Insert(ctx context.Context, o Offer) error {
	charities, err := json.Marshal(o.Charities)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO donations (id, food_item, quantity_kg, message, charities, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, o.ID, o.FoodItem, o.Quantity, o.Message, charities, o.Status, o.CreatedAt)
	return err
}

// Get returns one offer.
func (r *Repository) Get(ctx context.Context, id string) (Offer, error) {
	var o Offer
	var charities []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, food_item, quantity_kg, message, charities, status, created_at, published_at
		FROM donations WHERE id = $1
	`, id).Scan(&o.ID, &o.FoodItem, &o.Quantity, &o.Message, &charities, &o.Status, &o.CreatedAt, &o.PublishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Offer{}, ErrNotFound
	}
	if err != nil {
		return Offer{}, err
	}
	if err := json.Unmarshal(charities, &o.Charities); err != nil {
		return Offer{}, err
	}
	return o, nil
}

// MarkPublished records delivery.
func (r *Repository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE donations SET status = 'published', published_at = $2 WHERE id = $1
	`, id, at)
	return err
}
