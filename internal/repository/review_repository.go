package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"review_catalog/internal/models"
)

var reviewColumns = []string{
	"id",
	"movie_id",
	"user_id",
	"title",
	"body",
	"rating",
	"has_spoilers",
	"tags",
	"status",
	"is_active",
	"edit_count",
	"moderated_at",
	"moderation_label",
	"moderation_score",
	"moderation_reason",
	"created_at",
	"updated_at",
}

type ReviewRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewReviewRepository(db *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func scanReview(row pgx.Row, rv *models.Review) error {
	return row.Scan(
		&rv.ID,
		&rv.MovieID,
		&rv.UserID,
		&rv.Title,
		&rv.Body,
		&rv.Rating,
		&rv.HasSpoilers,
		&rv.Tags,
		&rv.Status,
		&rv.IsActive,
		&rv.EditCount,
		&rv.ModeratedAt,
		&rv.ModerationLabel,
		&rv.ModerationScore,
		&rv.ModerationReason,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	)
}

func (r *ReviewRepository) CreateTx(ctx context.Context, tx pgx.Tx, rv *models.Review) error {
	if rv == nil {
		return fmt.Errorf("review is nil")
	}
	if rv.MovieID <= 0 || rv.UserID <= 0 {
		return fmt.Errorf("movie_id and user_id are required")
	}
	if rv.Body == "" {
		return fmt.Errorf("body is empty")
	}

	q := r.sb.
		Insert("reviews").
		Columns("movie_id", "user_id", "title", "body", "rating", "has_spoilers", "tags").
		Values(rv.MovieID, rv.UserID, rv.Title, rv.Body, rv.Rating, rv.HasSpoilers, rv.Tags).
		Suffix("RETURNING id, status, is_active, edit_count, created_at, updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build create review sql: %w", err)
	}

	err = tx.QueryRow(ctx, sqlStr, args...).Scan(
		&rv.ID,
		&rv.Status,
		&rv.IsActive,
		&rv.EditCount,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create review: %w", MapConstraintError(err))
	}

	return nil
}

// UpdateTx — частичное обновление через COALESCE, возвращает итоговую строку.
func (r *ReviewRepository) UpdateTx(ctx context.Context, tx pgx.Tx, id string, upd *models.ReviewUpdate) (*models.Review, error) {
	if id == "" {
		return nil, fmt.Errorf("review id is empty")
	}
	if upd == nil {
		return nil, fmt.Errorf("review update is nil")
	}

	q := r.sb.
		Update("reviews").
		Set("title", sq.Expr("COALESCE(?::text, title)", upd.Title)).
		Set("body", sq.Expr("COALESCE(?::text, body)", upd.Body)).
		Set("rating", sq.Expr("COALESCE(?::numeric, rating)", upd.Rating)).
		Set("has_spoilers", sq.Expr("COALESCE(?::boolean, has_spoilers)", upd.HasSpoilers)).
		Set("tags", sq.Expr("COALESCE(?::text[], tags)", upd.Tags)).
		Set("status", models.ReviewStatusPending). // правка отправляет рецензию на повторную модерацию
		Set("edit_count", sq.Expr("edit_count + 1")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + joinColumns(reviewColumns))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update review sql: %w", err)
	}

	var rv models.Review
	if err := scanReview(tx.QueryRow(ctx, sqlStr, args...), &rv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update review: %w", MapConstraintError(err))
	}

	return &rv, nil
}

// DeleteTx возвращает удалённую строку: она нужна для пересчёта агрегата
// и исходящего события.
func (r *ReviewRepository) DeleteTx(ctx context.Context, tx pgx.Tx, id string) (*models.Review, error) {
	if id == "" {
		return nil, fmt.Errorf("review id is empty")
	}

	q := r.sb.
		Delete("reviews").
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + joinColumns(reviewColumns))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete review sql: %w", err)
	}

	var rv models.Review
	if err := scanReview(tx.QueryRow(ctx, sqlStr, args...), &rv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete review: %w", err)
	}

	return &rv, nil
}

func (r *ReviewRepository) Get(ctx context.Context, id string) (*models.Review, error) {
	if id == "" {
		return nil, fmt.Errorf("review id is empty")
	}

	q := r.sb.
		Select(reviewColumns...).
		From("reviews").
		Where(sq.Eq{"id": id}).
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get review sql: %w", err)
	}

	var rv models.Review
	if err := scanReview(r.db.QueryRow(ctx, sqlStr, args...), &rv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get review: %w", err)
	}

	return &rv, nil
}

// Filter — выборка с количеством лайков из likes_cache и общим счётчиком
// через оконную функцию, чтобы не делать второй запрос.
func (r *ReviewRepository) Filter(ctx context.Context, f *models.ReviewFilter) ([]*models.ReviewListItem, int, error) {
	if f == nil {
		f = &models.ReviewFilter{}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	cols := make([]string, 0, len(reviewColumns)+2)
	for _, c := range reviewColumns {
		cols = append(cols, "r."+c)
	}
	cols = append(cols,
		"COALESCE(l.likes_count, 0) AS likes_count",
		"COUNT(*) OVER() AS total_count",
	)

	q := r.sb.
		Select(cols...).
		From("reviews r").
		LeftJoin(`(
			SELECT review_id, COUNT(*) AS likes_count
			FROM likes_cache
			GROUP BY review_id
		) l ON l.review_id = r.id::text`).
		OrderBy("r.created_at DESC", "r.id DESC").
		Limit(uint64(limit))

	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	if f.MovieID != nil {
		q = q.Where(sq.Eq{"r.movie_id": *f.MovieID})
	}
	if f.UserID != nil {
		q = q.Where(sq.Eq{"r.user_id": *f.UserID})
	}
	if f.MinRating != nil {
		q = q.Where(sq.GtOrEq{"r.rating": *f.MinRating})
	}
	if f.MaxRating != nil {
		q = q.Where(sq.LtOrEq{"r.rating": *f.MaxRating})
	}
	if f.HasSpoilers != nil {
		q = q.Where(sq.Eq{"r.has_spoilers": *f.HasSpoilers})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"r.status": f.Status})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build filter reviews sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	items := make([]*models.ReviewListItem, 0, limit)
	total := 0

	for rows.Next() {
		var it models.ReviewListItem
		if err := rows.Scan(
			&it.ID,
			&it.MovieID,
			&it.UserID,
			&it.Title,
			&it.Body,
			&it.Rating,
			&it.HasSpoilers,
			&it.Tags,
			&it.Status,
			&it.IsActive,
			&it.EditCount,
			&it.ModeratedAt,
			&it.ModerationLabel,
			&it.ModerationScore,
			&it.ModerationReason,
			&it.CreatedAt,
			&it.UpdatedAt,
			&it.LikesCount,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan review row: %w", err)
		}
		items = append(items, &it)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate review rows: %w", err)
	}

	return items, total, nil
}

// SetModerationTx записывает вердикт модерации.
func (r *ReviewRepository) SetModerationTx(ctx context.Context, tx pgx.Tx, id, status string, score float64, reason string) error {
	if id == "" {
		return fmt.Errorf("review id is empty")
	}
	if status != models.ReviewStatusApproved && status != models.ReviewStatusRejected {
		return fmt.Errorf("invalid moderation status: %s", status)
	}

	q := r.sb.
		Update("reviews").
		Set("status", status).
		Set("moderated_at", sq.Expr("NOW()")).
		Set("moderation_label", status).
		Set("moderation_score", score).
		Set("moderation_reason", reason).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set moderation sql: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("set moderation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SetActiveByMovieTx скрывает/показывает рецензии вслед за статусом фильма.
func (r *ReviewRepository) SetActiveByMovieTx(ctx context.Context, tx pgx.Tx, movieID int64, active bool) (int64, error) {
	if movieID <= 0 {
		return 0, fmt.Errorf("movie_id is invalid")
	}

	q := r.sb.
		Update("reviews").
		Set("is_active", active).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"movie_id": movieID}).
		Where(sq.NotEq{"is_active": active})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build set reviews active sql: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("set reviews active: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ApplyRatingDeltaTx поддерживает агрегат movie_rating_agg инкрементально,
// в одной транзакции с изменением рецензии.
func (r *ReviewRepository) ApplyRatingDeltaTx(ctx context.Context, tx pgx.Tx, movieID int64, countDelta int, sumDelta float64) error {
	if movieID <= 0 {
		return fmt.Errorf("movie_id is invalid")
	}

	const sqlStr = `
INSERT INTO movie_rating_agg (movie_id, rating_count, sum_rating, recalculated_at)
VALUES ($1, GREATEST($2, 0), GREATEST($3, 0), NOW())
ON CONFLICT (movie_id) DO UPDATE SET
	rating_count    = GREATEST(movie_rating_agg.rating_count + $2, 0),
	sum_rating      = GREATEST(movie_rating_agg.sum_rating + $3, 0),
	recalculated_at = NOW()`

	if _, err := tx.Exec(ctx, sqlStr, movieID, countDelta, sumDelta); err != nil {
		return fmt.Errorf("apply rating delta: %w", err)
	}

	return nil
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
