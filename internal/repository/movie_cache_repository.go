package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"review_catalog/internal/models"
)

type MovieCacheRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewMovieCacheRepository(db *pgxpool.Pool) *MovieCacheRepository {
	return &MovieCacheRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// ReplaceTx — событие создания: каталог прислал полный снимок, перезаписываем
// все поля и включаем фильм.
func (r *MovieCacheRepository) ReplaceTx(ctx context.Context, tx pgx.Tx, snap *models.MovieSnapshot) error {
	if err := validateMovieSnapshot(snap); err != nil {
		return err
	}

	sqlStr, args, err := r.replaceQuery(snap).ToSql()
	if err != nil {
		return fmt.Errorf("build replace movie sql: %w", err)
	}

	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("replace movie cache: %w", MapConstraintError(err))
	}

	return nil
}

// MergeTx — частичное обновление: не пришло — не трогаем.
func (r *MovieCacheRepository) MergeTx(ctx context.Context, tx pgx.Tx, snap *models.MovieSnapshot) error {
	if err := validateMovieSnapshot(snap); err != nil {
		return err
	}

	sqlStr, args, err := r.mergeQuery(snap).ToSql()
	if err != nil {
		return fmt.Errorf("build merge movie sql: %w", err)
	}

	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("merge movie cache: %w", MapConstraintError(err))
	}

	return nil
}

func (r *MovieCacheRepository) replaceQuery(snap *models.MovieSnapshot) sq.InsertBuilder {
	return r.movieInsert(snap).
		Suffix(`
ON CONFLICT (movie_id) DO UPDATE SET
	title        = EXCLUDED.title,
	year         = EXCLUDED.year,
	genre        = EXCLUDED.genre,
	director     = EXCLUDED.director,
	duration     = EXCLUDED.duration,
	poster_url   = EXCLUDED.poster_url,
	description  = EXCLUDED.description,
	release_date = EXCLUDED.release_date,
	is_active    = TRUE,
	updated_at   = NOW()
`)
}

func (r *MovieCacheRepository) mergeQuery(snap *models.MovieSnapshot) sq.InsertBuilder {
	return r.movieInsert(snap).
		Suffix(`
ON CONFLICT (movie_id) DO UPDATE SET
	title        = COALESCE(EXCLUDED.title, movies_cache.title),
	year         = COALESCE(EXCLUDED.year, movies_cache.year),
	genre        = COALESCE(EXCLUDED.genre, movies_cache.genre),
	director     = COALESCE(EXCLUDED.director, movies_cache.director),
	duration     = COALESCE(EXCLUDED.duration, movies_cache.duration),
	poster_url   = COALESCE(EXCLUDED.poster_url, movies_cache.poster_url),
	description  = COALESCE(EXCLUDED.description, movies_cache.description),
	release_date = COALESCE(EXCLUDED.release_date, movies_cache.release_date),
	is_active    = COALESCE(?::boolean, movies_cache.is_active),
	updated_at   = NOW()
`, snap.IsActive)
}

func (r *MovieCacheRepository) movieInsert(snap *models.MovieSnapshot) sq.InsertBuilder {
	return r.sb.
		Insert("movies_cache").
		Columns(
			"movie_id",
			"title",
			"year",
			"genre",
			"director",
			"duration",
			"poster_url",
			"description",
			"release_date",
			"is_active",
			"updated_at",
		).
		Values(
			snap.MovieID,
			snap.Title,
			snap.Year,
			snap.Genre,
			snap.Director,
			snap.Duration,
			snap.PosterURL,
			snap.Description,
			snap.ReleaseDate,
			sq.Expr("COALESCE(?::boolean, TRUE)", snap.IsActive),
			sq.Expr("NOW()"),
		)
}

// SetActiveTx — мягкое удаление/восстановление фильма.
func (r *MovieCacheRepository) SetActiveTx(ctx context.Context, tx pgx.Tx, movieID int64, active bool) (int64, error) {
	if movieID <= 0 {
		return 0, fmt.Errorf("movie_id is invalid")
	}

	q := r.sb.
		Update("movies_cache").
		Set("is_active", active).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"movie_id": movieID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build set movie active sql: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("set movie active: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *MovieCacheRepository) Get(ctx context.Context, movieID int64) (*models.MovieCache, error) {
	q := r.sb.
		Select(
			"movie_id",
			"title",
			"year",
			"genre",
			"director",
			"duration",
			"poster_url",
			"description",
			"release_date",
			"is_active",
			"updated_at",
		).
		From("movies_cache").
		Where(sq.Eq{"movie_id": movieID}).
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get movie sql: %w", err)
	}

	var m models.MovieCache
	err = r.db.QueryRow(ctx, sqlStr, args...).Scan(
		&m.MovieID,
		&m.Title,
		&m.Year,
		&m.Genre,
		&m.Director,
		&m.Duration,
		&m.PosterURL,
		&m.Description,
		&m.ReleaseDate,
		&m.IsActive,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get movie cache: %w", err)
	}

	return &m, nil
}

func validateMovieSnapshot(snap *models.MovieSnapshot) error {
	if snap == nil {
		return fmt.Errorf("movie snapshot is nil")
	}
	if snap.MovieID <= 0 {
		return fmt.Errorf("movie_id is invalid")
	}
	return nil
}
