package repository

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"review_catalog/internal/models"
)

type OutboxRepository struct {
	db         *pgxpool.Pool
	sb         sq.StatementBuilderType
	maxRetries int
}

// maxRetries — операторский предел: строки с превышенным retry_count остаются
// PENDING, но перестают выбираться. 0 — ретраи без ограничения.
func NewOutboxRepository(db *pgxpool.Pool, maxRetries int) *OutboxRepository {
	return &OutboxRepository{
		db:         db,
		sb:         sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		maxRetries: maxRetries,
	}
}

// EnqueueTx сохраняет событие в outbox в транзакции вызывающего:
// факт и сообщение о факте коммитятся вместе.
func (r *OutboxRepository) EnqueueTx(ctx context.Context, tx pgx.Tx, ev *models.OutboxEvent) error {
	if ev == nil {
		return fmt.Errorf("outbox event is nil")
	}
	if ev.Type == "" {
		return fmt.Errorf("event type is empty")
	}
	if ev.AggregateType == "" || ev.AggregateID == "" {
		return fmt.Errorf("aggregate is empty")
	}
	if len(ev.Payload) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if !json.Valid(ev.Payload) {
		return fmt.Errorf("payload is not valid json")
	}

	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}

	q := r.sb.
		Insert("outbox_event").
		Columns("event_id", "aggregate_type", "aggregate_id", "type", "payload", "status", "retry_count").
		Values(ev.EventID, ev.AggregateType, ev.AggregateID, ev.Type, ev.Payload, models.OutboxStatusPending, 0).
		Suffix("RETURNING created_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build outbox insert: %w", err)
	}

	if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&ev.CreatedAt); err != nil {
		return fmt.Errorf("insert outbox event: %w", MapConstraintError(err))
	}

	ev.Status = models.OutboxStatusPending
	ev.RetryCount = 0
	ev.SentAt = nil
	return nil
}

// GetPending возвращает старейшие PENDING-события, кроме исключённых типов
// (их забирает локальный воркер, а не внешняя доставка).
func (r *OutboxRepository) GetPending(ctx context.Context, limit int, excludeTypes ...string) ([]*models.OutboxEvent, error) {
	q := r.pendingQuery(limit)
	if len(excludeTypes) > 0 {
		q = q.Where(sq.NotEq{"type": excludeTypes})
	}
	return r.queryEvents(ctx, q)
}

// GetPendingByType — выборка для локального воркера модерации.
func (r *OutboxRepository) GetPendingByType(ctx context.Context, eventType string, limit int) ([]*models.OutboxEvent, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event type is empty")
	}
	return r.queryEvents(ctx, r.pendingQuery(limit).Where(sq.Eq{"type": eventType}))
}

func (r *OutboxRepository) pendingQuery(limit int) sq.SelectBuilder {
	if limit <= 0 {
		limit = 100
	}
	q := r.sb.
		Select("event_id", "aggregate_type", "aggregate_id", "type", "payload", "status", "retry_count", "created_at", "sent_at").
		From("outbox_event").
		Where(sq.Eq{"status": models.OutboxStatusPending}).
		OrderBy("created_at ASC", "event_id ASC").
		Limit(uint64(limit))
	if r.maxRetries > 0 {
		q = q.Where(sq.Lt{"retry_count": r.maxRetries})
	}
	return q
}

func (r *OutboxRepository) queryEvents(ctx context.Context, q sq.SelectBuilder) ([]*models.OutboxEvent, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build outbox select: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox pending: %w", err)
	}
	defer rows.Close()

	res := make([]*models.OutboxEvent, 0)
	for rows.Next() {
		var ev models.OutboxEvent
		if err := rows.Scan(
			&ev.EventID,
			&ev.AggregateType,
			&ev.AggregateID,
			&ev.Type,
			&ev.Payload,
			&ev.Status,
			&ev.RetryCount,
			&ev.CreatedAt,
			&ev.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		res = append(res, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return res, nil
}

// MarkSent помечает событие доставленным.
func (r *OutboxRepository) MarkSent(ctx context.Context, eventID string) error {
	return r.markSent(ctx, r.db, eventID)
}

// MarkSentTx — то же в транзакции вызывающего (воркер модерации помечает
// строку вместе с вердиктом и новым событием).
func (r *OutboxRepository) MarkSentTx(ctx context.Context, tx pgx.Tx, eventID string) error {
	return r.markSent(ctx, tx, eventID)
}

// execer покрывает и пул, и транзакцию.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (r *OutboxRepository) markSent(ctx context.Context, db execer, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event_id is empty")
	}

	q := r.sb.
		Update("outbox_event").
		Set("status", models.OutboxStatusSent).
		Set("sent_at", sq.Expr("NOW()")).
		Where(sq.Eq{"event_id": eventID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build outbox mark sent: %w", err)
	}

	tag, err := db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed увеличивает счётчик попыток. Статус остаётся PENDING,
// строка никогда не удаляется из-за ошибки доставки.
func (r *OutboxRepository) MarkFailed(ctx context.Context, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event_id is empty")
	}

	q := r.sb.
		Update("outbox_event").
		Set("retry_count", sq.Expr("retry_count + 1")).
		Where(sq.Eq{"event_id": eventID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build outbox mark failed: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cleanup удаляет отправленные события старше retentionDays.
func (r *OutboxRepository) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	q := r.sb.
		Delete("outbox_event").
		Where(sq.Eq{"status": models.OutboxStatusSent}).
		Where(sq.Expr("created_at < NOW() - (? * INTERVAL '1 day')", retentionDays))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build outbox cleanup: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}

	return tag.RowsAffected(), nil
}

// CountByStatus — для метрик и отладочной ручки.
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM outbox_event GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outbox by status: %w", err)
	}
	defer rows.Close()

	res := make(map[string]int64)
	for rows.Next() {
		var status string
		var cnt int64
		if err := rows.Scan(&status, &cnt); err != nil {
			return nil, fmt.Errorf("scan outbox count: %w", err)
		}
		res[status] = cnt
	}

	return res, rows.Err()
}
