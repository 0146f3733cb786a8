package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"review_catalog/internal/events"
	"review_catalog/internal/metrics"
	"review_catalog/internal/models"
)

// HandleSocialEvent принимает весь префикс social.*, но применяет только
// лайки на рецензии. Ключи сравниваются точно: комментарии, репосты и
// прочие social.* подтверждаются как нерелевантные.
func (p *EventProcessor) HandleSocialEvent(ctx context.Context, routingKey string, env *events.Envelope) (string, error) {
	created := routingKey == "social.megusta.creado" || routingKey == "like.created"
	deleted := routingKey == "social.megusta.borrado" || routingKey == "like.deleted"
	if !created && !deleted {
		return events.IgnoredOutcome(routingKey), nil
	}

	like := events.NormalizeLike(env.Data, env.ID)
	if !like.IsReviewTarget() {
		return "IGNORED_SOCIAL_NOT_REVIEW", nil
	}
	if like.ReviewID == "" {
		p.logger.Printf("[events] key=%s skipped: no review id in like payload", routingKey)
		return "SKIP_LIKE_INVALID", nil
	}

	if created {
		return p.handleLikeCreated(ctx, env, like)
	}
	return p.handleLikeDeleted(ctx, env, like)
}

func (p *EventProcessor) handleLikeCreated(ctx context.Context, env *events.Envelope, like *events.LikeEvent) (string, error) {
	return p.runDeduped(ctx, env, func(tx pgx.Tx) (string, error) {
		rec := &models.LikeRecord{
			LikeID:    like.LikeID,
			ReviewID:  like.ReviewID,
			UserID:    like.UserID,
			CreatedAt: like.CreatedAt,
			RawEvent:  env.Raw,
		}
		if err := p.likes.InsertTx(ctx, tx, rec); err != nil {
			return "", err
		}
		metrics.IncCacheRow("like", "insert")
		return "LIKE_CREATED", nil
	})
}

func (p *EventProcessor) handleLikeDeleted(ctx context.Context, env *events.Envelope, like *events.LikeEvent) (string, error) {
	return p.runDeduped(ctx, env, func(tx pgx.Tx) (string, error) {
		var (
			n   int64
			err error
		)
		if like.LikeID != nil {
			n, err = p.likes.DeleteByLikeIDTx(ctx, tx, *like.LikeID)
		} else {
			// Старый продюсер не знает id лайка: снимаем последний по рецензии.
			n, err = p.likes.DeleteLatestByReviewTx(ctx, tx, like.ReviewID)
		}
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "SKIP_LIKE_NOT_FOUND", nil
		}
		metrics.IncCacheRow("like", "delete")
		return "LIKE_DELETED", nil
	})
}
