package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

type DedupRepository struct {
	sb sq.StatementBuilderType
}

func NewDedupRepository() *DedupRepository {
	return &DedupRepository{
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Acquire пытается занять пару (trace_id, consumer) в транзакции вызывающего.
// true — мы первые, false — событие этим консьюмером уже применено.
// Пустой traceID дедуп не защищает: обрабатываем как at-least-once.
// Запись фиксируется тем же коммитом, что и побочный эффект, поэтому
// "занято без применения" после падения невозможно.
func (r *DedupRepository) Acquire(ctx context.Context, tx pgx.Tx, traceID, consumer string) (bool, error) {
	if traceID == "" {
		return true, nil
	}
	if consumer == "" {
		return false, fmt.Errorf("consumer name is empty")
	}

	q := r.sb.
		Insert("event_dedup").
		Columns("trace_id", "consumer").
		Values(traceID, consumer).
		Suffix("ON CONFLICT DO NOTHING")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build dedup insert: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("insert dedup record: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
