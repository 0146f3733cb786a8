package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"review_catalog/internal/cache"
	"review_catalog/internal/models"
)

type reviewStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, rv *models.Review) error
	UpdateTx(ctx context.Context, tx pgx.Tx, id string, upd *models.ReviewUpdate) (*models.Review, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, id string) (*models.Review, error)
	Get(ctx context.Context, id string) (*models.Review, error)
	Filter(ctx context.Context, f *models.ReviewFilter) ([]*models.ReviewListItem, int, error)
	ApplyRatingDeltaTx(ctx context.Context, tx pgx.Tx, movieID int64, countDelta int, sumDelta float64) error
}

type outboxEnqueuer interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, ev *models.OutboxEvent) error
}

// ReviewService — синхронный CRUD рецензий. Доменное изменение, агрегат
// рейтинга и outbox-события пишутся одной транзакцией: либо всё, либо ничего.
type ReviewService struct {
	db      txBeginner
	reviews reviewStore
	outbox  outboxEnqueuer
	cache   cache.Cache
	ttl     time.Duration
	logger  *log.Logger
}

func NewReviewService(db txBeginner, reviews reviewStore, outbox outboxEnqueuer, c cache.Cache, ttl time.Duration, logger *log.Logger) *ReviewService {
	if logger == nil {
		logger = log.Default()
	}
	return &ReviewService{db: db, reviews: reviews, outbox: outbox, cache: c, ttl: ttl, logger: logger}
}

func (s *ReviewService) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *ReviewService) Create(ctx context.Context, rv *models.Review) (*models.Review, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.reviews.CreateTx(ctx, tx, rv); err != nil {
			return err
		}
		if err := s.reviews.ApplyRatingDeltaTx(ctx, tx, rv.MovieID, 1, rv.Rating); err != nil {
			return err
		}
		if err := s.enqueueModeration(ctx, tx, rv); err != nil {
			return err
		}
		return s.enqueueDomainEvent(ctx, tx, models.RKReviewCreated, rv)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, rv.ID)
	return rv, nil
}

func (s *ReviewService) Get(ctx context.Context, id string) (*models.Review, error) {
	key := cache.ReviewKey(id)
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var rv models.Review
		if json.Unmarshal(data, &rv) == nil {
			return &rv, nil
		}
	}

	rv, err := s.reviews.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rv); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.Printf("[reviews] cache set failed: %v", err)
		}
	}
	return rv, nil
}

// List читает выдачу через кеш; ключ каждого закешированного списка
// складывается в общий set, чтобы инвалидация сбрасывала их все разом.
func (s *ReviewService) List(ctx context.Context, f *models.ReviewFilter) ([]*models.ReviewListItem, int, error) {
	type listPage struct {
		Items []*models.ReviewListItem `json:"items"`
		Total int                      `json:"total"`
	}

	key := cache.ReviewListKey(f)
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var page listPage
		if json.Unmarshal(data, &page) == nil {
			return page.Items, page.Total, nil
		}
	}

	items, total, err := s.reviews.Filter(ctx, f)
	if err != nil {
		return nil, 0, err
	}

	if data, err := json.Marshal(listPage{Items: items, Total: total}); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err == nil {
			if err := s.cache.SAdd(ctx, cache.ReviewListKeysSet(), key); err != nil {
				s.logger.Printf("[reviews] cache index failed: %v", err)
			}
			_ = s.cache.Expire(ctx, cache.ReviewListKeysSet(), s.ttl)
		}
	}
	return items, total, nil
}

func (s *ReviewService) Update(ctx context.Context, id string, upd *models.ReviewUpdate) (*models.Review, error) {
	var updated *models.Review
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		prev, err := s.reviews.Get(ctx, id)
		if err != nil {
			return err
		}
		prevRating := prev.Rating

		updated, err = s.reviews.UpdateTx(ctx, tx, id, upd)
		if err != nil {
			return err
		}

		if upd.Rating != nil && *upd.Rating != prevRating {
			if err := s.reviews.ApplyRatingDeltaTx(ctx, tx, updated.MovieID, 0, *upd.Rating-prevRating); err != nil {
				return err
			}
		}

		// Правка текста возвращает рецензию на модерацию.
		if err := s.enqueueModeration(ctx, tx, updated); err != nil {
			return err
		}
		return s.enqueueDomainEvent(ctx, tx, models.RKReviewUpdated, updated)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	return updated, nil
}

func (s *ReviewService) Delete(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rv, err := s.reviews.DeleteTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.reviews.ApplyRatingDeltaTx(ctx, tx, rv.MovieID, -1, -rv.Rating); err != nil {
			return err
		}
		return s.enqueueDomainEvent(ctx, tx, models.RKReviewDeleted, rv)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, id)
	return nil
}

func (s *ReviewService) enqueueModeration(ctx context.Context, tx pgx.Tx, rv *models.Review) error {
	payload, err := json.Marshal(map[string]any{
		"review_id": rv.ID,
		"body":      rv.Body,
		"rating":    rv.Rating,
	})
	if err != nil {
		return err
	}
	return s.outbox.EnqueueTx(ctx, tx, &models.OutboxEvent{
		AggregateType: "review",
		AggregateID:   rv.ID,
		Type:          models.EventReviewNeedsModeration,
		Payload:       payload,
	})
}

func (s *ReviewService) enqueueDomainEvent(ctx context.Context, tx pgx.Tx, eventType string, rv *models.Review) error {
	payload, err := json.Marshal(map[string]any{
		"event":        eventType,
		"id":           rv.ID,
		"movie_id":     rv.MovieID,
		"user_id":      rv.UserID,
		"title":        rv.Title,
		"body":         rv.Body,
		"rating":       rv.Rating,
		"has_spoilers": rv.HasSpoilers,
		"tags":         rv.Tags,
		"created_at":   rv.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return s.outbox.EnqueueTx(ctx, tx, &models.OutboxEvent{
		AggregateType: "review",
		AggregateID:   rv.ID,
		Type:          eventType,
		Payload:       payload,
	})
}

func (s *ReviewService) invalidate(ctx context.Context, reviewID string) {
	if err := s.cache.Del(ctx, cache.ReviewKey(reviewID)); err != nil {
		s.logger.Printf("[reviews] cache del failed: %v", err)
	}
	keys, err := s.cache.SMembers(ctx, cache.ReviewListKeysSet())
	if err != nil {
		s.logger.Printf("[reviews] cache index read failed: %v", err)
		return
	}
	if len(keys) > 0 {
		keys = append(keys, cache.ReviewListKeysSet())
		if err := s.cache.Del(ctx, keys...); err != nil {
			s.logger.Printf("[reviews] cache del failed: %v", err)
		}
	}
}
