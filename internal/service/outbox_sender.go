package service

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"review_catalog/internal/metrics"
	"review_catalog/internal/models"
)

type outboxStore interface {
	GetPending(ctx context.Context, limit int, excludeTypes ...string) ([]*models.OutboxEvent, error)
	MarkSent(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string) error
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload json.RawMessage) error
}

// OutboxSender периодически доставляет накопленные в outbox_event строки в
// брокер. Строки модерации он не трогает — у них свой воркер внутри процесса.
type OutboxSender struct {
	store     outboxStore
	publisher eventPublisher
	interval  time.Duration
	batch     int
	retention int
	logger    *log.Logger
}

func NewOutboxSender(store outboxStore, publisher eventPublisher, interval time.Duration, batch, retentionDays int, logger *log.Logger) *OutboxSender {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	if logger == nil {
		logger = log.Default()
	}
	return &OutboxSender{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		retention: retentionDays,
		logger:    logger,
	}
}

// Start блокируется до отмены контекста. Между проходами спим interval,
// поэтому доставленное событие видно снаружи с задержкой до одного тика.
func (s *OutboxSender) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	s.logger.Printf("[outbox] sender started interval=%s batch=%d", s.interval, s.batch)

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("[outbox] sender stopped")
			return
		case <-ticker.C:
			s.flushOnce(ctx)
		case <-cleanup.C:
			s.cleanupOnce(ctx)
		}
	}
}

func (s *OutboxSender) flushOnce(ctx context.Context) {
	pending, err := s.store.GetPending(ctx, s.batch, models.EventReviewNeedsModeration)
	if err != nil {
		s.logger.Printf("[outbox] fetch pending failed: %v", err)
		return
	}

	for _, ev := range pending {
		s.sendOne(ctx, ev)
	}
}

// sendOne: порядок строгий — сначала доставка, потом отметка SENT. Упавшая
// отметка приведёт к повторной доставке, это допустимо (at-least-once).
func (s *OutboxSender) sendOne(ctx context.Context, ev *models.OutboxEvent) {
	start := time.Now()
	metrics.ObserveOutboxLagSeconds(time.Since(ev.CreatedAt).Seconds())

	if err := s.publisher.Publish(ctx, routingKeyFor(ev.Type), ev.Payload); err != nil {
		s.logger.Printf("[outbox] publish event=%s type=%s failed: %v", ev.EventID, ev.Type, err)
		metrics.IncOutboxRetry()
		if markErr := s.store.MarkFailed(ctx, ev.EventID); markErr != nil {
			s.logger.Printf("[outbox] mark failed event=%s: %v", ev.EventID, markErr)
		}
		return
	}

	if err := s.store.MarkSent(ctx, ev.EventID); err != nil {
		s.logger.Printf("[outbox] mark sent event=%s: %v", ev.EventID, err)
		return
	}

	metrics.IncOutboxSent()
	metrics.ObserveOutboxProcessing(time.Since(start))
}

func (s *OutboxSender) cleanupOnce(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	n, err := s.store.Cleanup(ctx, s.retention)
	if err != nil {
		s.logger.Printf("[outbox] cleanup failed: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("[outbox] cleanup removed %d sent rows", n)
	}
}

// routingKeyFor: доменные ключи resenas.* публикуются как есть, внутренние
// типы модерации транслируются в доменный ключ.
func routingKeyFor(eventType string) string {
	if strings.HasPrefix(eventType, "resenas.") {
		return eventType
	}
	if eventType == models.EventReviewModerated {
		return models.RKReviewModerated
	}
	return eventType
}
