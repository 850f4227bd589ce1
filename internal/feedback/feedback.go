// Package feedback records parent feedback with its analysis.
package feedback

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealdash/internal/aiflow"
)

// Entry is stored feedback. Manual marks an analysis the AI could not
// produce; Summary then holds the raw text excerpt.
type Entry struct {
	ID              string        `json:"id"`
	Body            string        `json:"body"`
	Summary         string        `json:"summary"`
	ImpactLevel     aiflow.Impact `json:"impactLevel,omitempty"`
	SuggestedAction string        `json:"suggestedAction,omitempty"`
	Manual          bool          `json:"manual"`
	Notice          string        `json:"notice,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Store persists entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
}

// Analyzer is implemented by *aiflow.Runner.
type Analyzer interface {
	AnalyzeFeedback(ctx context.Context, in aiflow.FeedbackInput) (aiflow.Outcome[aiflow.FeedbackAnalysis], error)
}

// Service analyses and stores feedback.
type Service struct {
	store  Store
	ai     Analyzer
	logger *zap.Logger
}

// NewService creates a service.
func NewService(store Store, ai Analyzer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ai: ai, logger: logger}
}

// Submit analyses body and stores the result. Invalid input is returned as
// aiflow.ErrInvalidInput.
func (s *Service) Submit(ctx context.Context, body string) (Entry, error) {
	out, err := s.ai.AnalyzeFeedback(ctx, aiflow.FeedbackInput{Feedback: body})
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		ID:              uuid.NewString(),
		Body:            body,
		Summary:         out.Output.Summary,
		ImpactLevel:     out.Output.ImpactLevel,
		SuggestedAction: out.Output.SuggestedAction,
		Manual:          out.Manual,
		Notice:          out.Notice,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return Entry{}, err
	}
	if e.Manual {
		s.logger.Info("feedback stored for manual analysis", zap.String("id", e.ID))
	}
	return e, nil
}

// Repository persists entries in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes an entry.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feedback (id, body, summary, impact_level, suggested_action, manual, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.Body, e.Summary, string(e.ImpactLevel), e.SuggestedAction, e.Manual, e.CreatedAt)
	return err
}
