package donation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealdash/internal/aiflow"
	"mealdash/internal/queue"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]Offer
}

func newMemStore() *memStore { return &memStore{rows: map[string]Offer{}} }

func (m *memStore) Insert(_ context.Context, o Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[o.ID] = o
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return Offer{}, ErrNotFound
	}
	return o, nil
}

func (m *memStore) MarkPublished(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.rows[id]
	o.Status, o.PublishedAt = StatusPublished, &at
	m.rows[id] = o
	return nil
}

type recordingNotifier struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (r *recordingNotifier) Publish(_ context.Context, topic string, payload []byte) error {
	if r.err != nil {
		return r.err
	}
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingNotifier) Close() {}

func TestSuggest(t *testing.T) {
	svc := NewService(newMemStore(), aiflow.NewRunner(&aiflow.Mock{}, time.Second, nil, nil), queue.NewInMemory(1), nil)
	out, err := svc.Suggest(context.Background(), aiflow.DonationInput{FoodItem: "Rice", Quantity: 10})
	require.NoError(t, err)
	assert.Len(t, out.Output.SuggestedCharities, 3)

	_, err = svc.Suggest(context.Background(), aiflow.DonationInput{FoodItem: "Rice"})
	assert.ErrorIs(t, err, aiflow.ErrInvalidInput)
}

func TestNotifyAndDeliver(t *testing.T) {
	store := newMemStore()
	q := queue.NewInMemory(2)
	svc := NewService(store, nil, q, nil)
	ctx := context.Background()

	offer, err := svc.Notify(ctx, Offer{FoodItem: " Khichdi ", Quantity: 12.5, Message: "Pickup by 3pm"})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, offer.Status)
	assert.Equal(t, "Khichdi", offer.FoodItem)
	assert.NotNil(t, offer.Charities)

	n := &recordingNotifier{}
	require.NoError(t, svc.Deliver(ctx, n, "mealdash/donations/offers", offer.ID))
	require.Len(t, n.payloads, 1)
	assert.Equal(t, "mealdash/donations/offers", n.topics[0])
	var sent Offer
	require.NoError(t, json.Unmarshal(n.payloads[0], &sent))
	assert.Equal(t, 12.5, sent.Quantity)

	// Already published: no second message.
	require.NoError(t, svc.Deliver(ctx, n, "mealdash/donations/offers", offer.ID))
	assert.Len(t, n.payloads, 1)
	assert.Equal(t, StatusPublished, store.rows[offer.ID].Status)
}

func TestNotify_Invalid(t *testing.T) {
	svc := NewService(newMemStore(), nil, queue.NewInMemory(1), nil)
	_, err := svc.Notify(context.Background(), Offer{FoodItem: "Rice", Quantity: 0, Message: "x"})
	assert.ErrorIs(t, err, ErrInvalidOffer)
}

func TestDeliver_PublishError(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, queue.NewInMemory(1), nil)
	offer, err := svc.Notify(context.Background(), Offer{FoodItem: "Rice", Quantity: 1, Message: "x"})
	require.NoError(t, err)

	err = svc.Deliver(context.Background(), &recordingNotifier{err: errors.New("broker down")}, "t", offer.ID)
	require.Error(t, err)
	assert.Equal(t, StatusQueued, store.rows[offer.ID].Status)
}
