package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"review_catalog/internal/metrics"
	"review_catalog/internal/models"
	"review_catalog/internal/moderation"
)

// Moderator выносит решение по тексту рецензии. Логика решения внешняя,
// процесс лишь применяет вердикт.
type Moderator interface {
	Moderate(ctx context.Context, body string, rating float64) (*moderation.Decision, error)
}

type moderationStore interface {
	PendingModeration(ctx context.Context, limit int) ([]*models.OutboxEvent, error)
	ApplyDecision(ctx context.Context, ev *models.OutboxEvent, status string, score float64, reason string) error
	BumpRetry(ctx context.Context, eventID string) error
}

// ModerationWorker разбирает строки ReviewNeedsModeration.v1 из outbox:
// та же таблица служит и журналом доставки, и очередью заданий.
type ModerationWorker struct {
	store     moderationStore
	moderator Moderator
	interval  time.Duration
	batch     int
	logger    *log.Logger
}

func NewModerationWorker(store moderationStore, moderator Moderator, interval time.Duration, batch int, logger *log.Logger) *ModerationWorker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batch <= 0 {
		batch = 10
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ModerationWorker{store: store, moderator: moderator, interval: interval, batch: batch, logger: logger}
}

func (w *ModerationWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Printf("[moderation] worker started interval=%s batch=%d", w.interval, w.batch)

	for {
		select {
		case <-ctx.Done():
			w.logger.Println("[moderation] worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ModerationWorker) runOnce(ctx context.Context) {
	pending, err := w.store.PendingModeration(ctx, w.batch)
	if err != nil {
		w.logger.Printf("[moderation] fetch pending failed: %v", err)
		return
	}

	for _, ev := range pending {
		if err := w.processOne(ctx, ev); err != nil {
			w.logger.Printf("[moderation] event=%s failed: %v", ev.EventID, err)
			if bumpErr := w.store.BumpRetry(ctx, ev.EventID); bumpErr != nil {
				w.logger.Printf("[moderation] bump retry event=%s: %v", ev.EventID, bumpErr)
			}
		}
	}
}

func (w *ModerationWorker) processOne(ctx context.Context, ev *models.OutboxEvent) error {
	var task struct {
		ReviewID string  `json:"review_id"`
		Body     string  `json:"body"`
		Rating   float64 `json:"rating"`
	}
	if err := json.Unmarshal(ev.Payload, &task); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	if task.ReviewID == "" {
		return fmt.Errorf("task without review_id")
	}

	decision, err := w.moderator.Moderate(ctx, task.Body, task.Rating)
	if err != nil {
		return fmt.Errorf("moderate: %w", err)
	}

	status := models.ReviewStatusRejected
	if decision.Approve {
		status = models.ReviewStatusApproved
	}

	if err := w.store.ApplyDecision(ctx, ev, status, decision.Score, decision.Reason); err != nil {
		return fmt.Errorf("apply decision: %w", err)
	}

	metrics.IncReviewModerated(status)
	w.logger.Printf("[moderation] review=%s status=%s score=%.2f", task.ReviewID, status, decision.Score)
	return nil
}

type moderationReviewStore interface {
	SetModerationTx(ctx context.Context, tx pgx.Tx, id, status string, score float64, reason string) error
}

type moderationOutboxStore interface {
	GetPendingByType(ctx context.Context, eventType string, limit int) ([]*models.OutboxEvent, error)
	MarkSentTx(ctx context.Context, tx pgx.Tx, eventID string) error
	MarkFailed(ctx context.Context, eventID string) error
	EnqueueTx(ctx context.Context, tx pgx.Tx, ev *models.OutboxEvent) error
}

// ModerationStore связывает воркер с репозиториями: вердикт, отметка SENT
// по заданию и исходящее ReviewModerated.v1 пишутся одной транзакцией.
type ModerationStore struct {
	db      txBeginner
	reviews moderationReviewStore
	outbox  moderationOutboxStore
}

func NewModerationStore(db txBeginner, reviews moderationReviewStore, outbox moderationOutboxStore) *ModerationStore {
	return &ModerationStore{db: db, reviews: reviews, outbox: outbox}
}

func (s *ModerationStore) PendingModeration(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	return s.outbox.GetPendingByType(ctx, models.EventReviewNeedsModeration, limit)
}

func (s *ModerationStore) ApplyDecision(ctx context.Context, ev *models.OutboxEvent, status string, score float64, reason string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.reviews.SetModerationTx(ctx, tx, ev.AggregateID, status, score, reason); err != nil {
		return err
	}
	if err := s.outbox.MarkSentTx(ctx, tx, ev.EventID); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"review_id": ev.AggregateID,
		"status":    status,
		"score":     score,
	})
	if err != nil {
		return err
	}
	if err := s.outbox.EnqueueTx(ctx, tx, &models.OutboxEvent{
		AggregateType: "review",
		AggregateID:   ev.AggregateID,
		Type:          models.EventReviewModerated,
		Payload:       payload,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *ModerationStore) BumpRetry(ctx context.Context, eventID string) error {
	return s.outbox.MarkFailed(ctx, eventID)
}
