package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"review_catalog/internal/models"
)

type LikeCacheRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewLikeCacheRepository(db *pgxpool.Pool) *LikeCacheRepository {
	return &LikeCacheRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// InsertTx добавляет лайк. С like_id вставка идемпотентна (повтор события —
// no-op), без него остаётся at-least-once от старого продюсера.
func (r *LikeCacheRepository) InsertTx(ctx context.Context, tx pgx.Tx, like *models.LikeRecord) error {
	if like == nil {
		return fmt.Errorf("like is nil")
	}
	if like.ReviewID == "" {
		return fmt.Errorf("review_id is empty")
	}

	q := r.sb.
		Insert("likes_cache").
		Columns("like_id", "review_id", "user_id", "created_at", "raw_event").
		Values(like.LikeID, like.ReviewID, like.UserID, like.CreatedAt, like.RawEvent)

	if like.LikeID != nil {
		q = q.Suffix("ON CONFLICT (like_id) DO NOTHING")
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert like sql: %w", err)
	}

	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert like: %w", MapConstraintError(err))
	}

	return nil
}

func (r *LikeCacheRepository) DeleteByLikeIDTx(ctx context.Context, tx pgx.Tx, likeID string) (int64, error) {
	if likeID == "" {
		return 0, fmt.Errorf("like_id is empty")
	}

	q := r.sb.Delete("likes_cache").Where(sq.Eq{"like_id": likeID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete like sql: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("delete like: %w", err)
	}

	return tag.RowsAffected(), nil
}

// DeleteLatestByReviewTx снимает последний лайк рецензии. Старый социальный
// продюсер не шлёт like_id, так что точнее адресовать нечем.
func (r *LikeCacheRepository) DeleteLatestByReviewTx(ctx context.Context, tx pgx.Tx, reviewID string) (int64, error) {
	if reviewID == "" {
		return 0, fmt.Errorf("review_id is empty")
	}

	const sqlStr = `
DELETE FROM likes_cache
WHERE ctid IN (
	SELECT ctid
	FROM likes_cache
	WHERE review_id = $1
	ORDER BY created_at DESC
	LIMIT 1
)`

	tag, err := tx.Exec(ctx, sqlStr, reviewID)
	if err != nil {
		return 0, fmt.Errorf("delete latest like: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *LikeCacheRepository) CountByReview(ctx context.Context, reviewID string) (int64, error) {
	q := r.sb.
		Select("COUNT(*)").
		From("likes_cache").
		Where(sq.Eq{"review_id": reviewID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count likes sql: %w", err)
	}

	var n int64
	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}

	return n, nil
}
