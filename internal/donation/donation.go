// Package donation drafts surplus-food offers and delivers them to NGOs.
package donation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealdash/internal/aiflow"
	"mealdash/internal/notify"
	"mealdash/internal/queue"
)

// Offer statuses.
const (
	StatusQueued    = "queued"
	StatusPublished = "published"
)

var (
	ErrInvalidOffer = errors.New("donation: food item, positive quantity and message required")
	ErrNotFound     = errors.New("donation: offer not found")
)

// Offer is a donation announcement sent to NGOs.
type Offer struct {
	ID          string           `json:"id"`
	FoodItem    string           `json:"foodItem"`
	Quantity    float64          `json:"quantity"`
	Message     string           `json:"message"`
	Charities   []aiflow.Charity `json:"charities"`
	Status      string           `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	PublishedAt *time.Time       `json:"publishedAt,omitempty"`
}

// Validate checks the required fields.
func (o Offer) Validate() error {
	if strings.TrimSpace(o.FoodItem) == "" || o.Quantity <= 0 || strings.TrimSpace(o.Message) == "" {
		return ErrInvalidOffer
	}
	return nil
}

// Store persists offers.
type Store interface {
	Insert(ctx context.Context, o Offer) error
	Get(ctx context.Context, id string) (Offer, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

// Suggester is implemented by *aiflow.Runner.
type Suggester interface {
	SuggestDonation(ctx context.Context, in aiflow.DonationInput) (aiflow.Outcome[aiflow.DonationSuggestion], error)
}

// Service wires suggestion, persistence and delivery.
type Service struct {
	store  Store
	ai     Suggester
	queue  queue.Queue
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a service. ai may be nil on the worker.
func NewService(store Store, ai Suggester, q queue.Queue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ai: ai, queue: q, logger: logger, now: time.Now}
}

// Suggest drafts a message and candidate charities.
func (s *Service) Suggest(ctx context.Context, in aiflow.DonationInput) (aiflow.Outcome[aiflow.DonationSuggestion], error) {
	if s.ai == nil {
		return aiflow.Outcome[aiflow.DonationSuggestion]{}, errors.New("donation: no suggester configured")
	}
	return s.ai.SuggestDonation(ctx, in)
}

// Notify stores the offer and queues it for delivery.
func (s *Service) Notify(ctx context.Context, o Offer) (Offer, error) {
	if err := o.Validate(); err != nil {
		return Offer{}, err
	}
	o.ID = uuid.NewString()
	o.FoodItem = strings.TrimSpace(o.FoodItem)
	o.Status = StatusQueued
	o.CreatedAt = s.now().UTC()
	o.PublishedAt = nil
	if o.Charities == nil {
		o.Charities = []aiflow.Charity{}
	}
	if err := s.store.Insert(ctx, o); err != nil {
		return Offer{}, err
	}
	if err := s.queue.Publish(ctx, queue.Message{Type: queue.TypeDonation, Body: []byte(o.ID)}); err != nil {
		return o, fmt.Errorf("donation: enqueue %s: %w", o.ID, err)
	}
	return o, nil
}

// Deliver publishes a queued offer on topic. Published offers are skipped.
func (s *Service) Deliver(ctx context.Context, n notify.Notifier, topic, id string) error {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status == StatusPublished {
		return nil
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if err := n.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("donation: publish %s: %w", id, err)
	}
	if err := s.store.MarkPublished(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("donation offer published", zap.String("offer", id), zap.String("topic", topic))
	return nil
}
