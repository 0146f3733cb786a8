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

type UserCacheRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewUserCacheRepository(db *pgxpool.Pool) *UserCacheRepository {
	return &UserCacheRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Слияние делается на стороне БД (COALESCE в ON CONFLICT), а не read-modify-write
// в коде — иначе параллельные обработчики одного user_id теряют обновления.
const userUpsertGuarded = `
ON CONFLICT (user_id) DO UPDATE SET
	role = CASE
		WHEN users_cache.role IN ('admin', 'moderator') THEN users_cache.role
		ELSE COALESCE(?::text, users_cache.role)
	END,
	permissions = COALESCE(?::text[], users_cache.permissions),
	is_active   = COALESCE(?::boolean, users_cache.is_active),
	name        = COALESCE(EXCLUDED.name, users_cache.name),
	last_name   = COALESCE(EXCLUDED.last_name, users_cache.last_name),
	full_name   = COALESCE(EXCLUDED.full_name, users_cache.full_name),
	email       = COALESCE(EXCLUDED.email, users_cache.email),
	image_url   = COALESCE(EXCLUDED.image_url, users_cache.image_url),
	updated_at  = NOW()
`

const userUpsertExplicit = `
ON CONFLICT (user_id) DO UPDATE SET
	role        = COALESCE(?::text, users_cache.role),
	permissions = ?::text[],
	is_active   = COALESCE(?::boolean, users_cache.is_active),
	name        = COALESCE(EXCLUDED.name, users_cache.name),
	last_name   = COALESCE(EXCLUDED.last_name, users_cache.last_name),
	full_name   = COALESCE(EXCLUDED.full_name, users_cache.full_name),
	email       = COALESCE(EXCLUDED.email, users_cache.email),
	image_url   = COALESCE(EXCLUDED.image_url, users_cache.image_url),
	updated_at  = NOW()
`

// UpsertTx записывает снимок в users_cache. Отсутствующие поля не затирают
// существующие. explicitRole=true только для событий, явно меняющих роль или
// права: обычное обновление профиля не может понизить admin/moderator.
func (r *UserCacheRepository) UpsertTx(ctx context.Context, tx pgx.Tx, snap *models.UserSnapshot, explicitRole bool) error {
	if snap == nil {
		return fmt.Errorf("user snapshot is nil")
	}
	if snap.UserID <= 0 {
		return fmt.Errorf("user_id is invalid")
	}

	sqlStr, args, err := r.upsertQuery(snap, explicitRole).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert user sql: %w", err)
	}

	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert user cache: %w", MapConstraintError(err))
	}

	return nil
}

func (r *UserCacheRepository) upsertQuery(snap *models.UserSnapshot, explicitRole bool) sq.InsertBuilder {
	conflict := userUpsertGuarded
	if explicitRole {
		conflict = userUpsertExplicit
	}

	return r.sb.
		Insert("users_cache").
		Columns(
			"user_id",
			"role",
			"permissions",
			"is_active",
			"name",
			"last_name",
			"full_name",
			"email",
			"image_url",
			"updated_at",
		).
		Values(
			snap.UserID,
			sq.Expr("COALESCE(?::text, 'user')", snap.Role),
			snap.Permissions,
			sq.Expr("COALESCE(?::boolean, TRUE)", snap.IsActive),
			snap.Name,
			snap.LastName,
			snap.FullName,
			snap.Email,
			snap.ImageURL,
			sq.Expr("NOW()"),
		).
		Suffix(conflict, snap.Role, snap.Permissions, snap.IsActive)
}

// SetActiveTx — мягкая активация/деактивация. Строка не удаляется, чтобы
// рецензии деактивированного пользователя оставались разрешимыми.
func (r *UserCacheRepository) SetActiveTx(ctx context.Context, tx pgx.Tx, userID int64, active bool) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("user_id is invalid")
	}

	q := r.sb.
		Update("users_cache").
		Set("is_active", active).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"user_id": userID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build set user active sql: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("set user active: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *UserCacheRepository) Get(ctx context.Context, userID int64) (*models.UserCache, error) {
	q := r.sb.
		Select(
			"user_id",
			"role",
			"permissions",
			"is_active",
			"name",
			"last_name",
			"full_name",
			"email",
			"image_url",
			"updated_at",
		).
		From("users_cache").
		Where(sq.Eq{"user_id": userID}).
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get user sql: %w", err)
	}

	var u models.UserCache
	err = r.db.QueryRow(ctx, sqlStr, args...).Scan(
		&u.UserID,
		&u.Role,
		&u.Permissions,
		&u.IsActive,
		&u.Name,
		&u.LastName,
		&u.FullName,
		&u.Email,
		&u.ImageURL,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user cache: %w", err)
	}

	return &u, nil
}
