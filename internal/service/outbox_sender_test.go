package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_catalog/internal/models"
)

type fakeOutboxStore struct {
	pending      []*models.OutboxEvent
	lastExcluded []string
	sent         []string
	failed       []string
	cleaned      int
}

func (f *fakeOutboxStore) GetPending(ctx context.Context, limit int, excludeTypes ...string) ([]*models.OutboxEvent, error) {
	f.lastExcluded = excludeTypes
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeOutboxStore) MarkSent(ctx context.Context, eventID string) error {
	f.sent = append(f.sent, eventID)
	return nil
}

func (f *fakeOutboxStore) MarkFailed(ctx context.Context, eventID string) error {
	f.failed = append(f.failed, eventID)
	return nil
}

func (f *fakeOutboxStore) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	f.cleaned++
	return 3, nil
}

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, payload json.RawMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, routingKey)
	return nil
}

func pendingEvent(id, eventType string) *models.OutboxEvent {
	return &models.OutboxEvent{
		EventID:       id,
		AggregateType: "review",
		AggregateID:   "rv-1",
		Type:          eventType,
		Payload:       json.RawMessage(`{"id":"rv-1"}`),
		Status:        models.OutboxStatusPending,
		CreatedAt:     time.Now().Add(-time.Second),
	}
}

func TestOutboxSender_FlushDelivers(t *testing.T) {
	store := &fakeOutboxStore{pending: []*models.OutboxEvent{
		pendingEvent("e1", models.RKReviewCreated),
		pendingEvent("e2", models.EventReviewModerated),
	}}
	pub := &fakePublisher{}
	s := NewOutboxSender(store, pub, time.Second, 50, 7, nil)

	s.flushOnce(context.Background())

	assert.Equal(t, []string{models.RKReviewCreated, models.RKReviewModerated}, pub.published)
	assert.Equal(t, []string{"e1", "e2"}, store.sent)
	// задания модерации — не для брокера, их разбирает свой воркер
	require.Equal(t, []string{models.EventReviewNeedsModeration}, store.lastExcluded)
}

// Упавшая публикация не теряет строку: она остаётся PENDING со
// счётчиком попыток, следующий проход возьмёт её снова.
func TestOutboxSender_PublishFailureKeepsRow(t *testing.T) {
	store := &fakeOutboxStore{pending: []*models.OutboxEvent{pendingEvent("e1", models.RKReviewCreated)}}
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	s := NewOutboxSender(store, pub, time.Second, 50, 7, nil)

	s.flushOnce(context.Background())

	assert.Empty(t, store.sent)
	assert.Equal(t, []string{"e1"}, store.failed)
}

func TestRoutingKeyFor(t *testing.T) {
	assert.Equal(t, models.RKReviewCreated, routingKeyFor(models.RKReviewCreated))
	assert.Equal(t, models.RKReviewModerated, routingKeyFor(models.EventReviewModerated))
	assert.Equal(t, "custom.event", routingKeyFor("custom.event"))
}

func TestOutboxSender_Cleanup(t *testing.T) {
	store := &fakeOutboxStore{}
	s := NewOutboxSender(store, &fakePublisher{}, time.Second, 50, 7, nil)

	s.cleanupOnce(context.Background())
	assert.Equal(t, 1, store.cleaned)

	// retention выключен — чистка не выполняется
	s2 := NewOutboxSender(store, &fakePublisher{}, time.Second, 50, 0, nil)
	s2.cleanupOnce(context.Background())
	assert.Equal(t, 1, store.cleaned)
}
