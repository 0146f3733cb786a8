package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")

	// Таксономия нарушений ограничений БД для синхронных вызовов.
	// В асинхронном пути консьюмера они просто откатывают транзакцию.
	ErrConflict     = errors.New("conflict")          // 23505 unique
	ErrBadReference = errors.New("bad reference")     // 23503 foreign key
	ErrMissingField = errors.New("missing field")     // 23502 not null
	ErrConstraint   = errors.New("constraint failed") // 23514 check
)

// MapConstraintError переводит коды postgres в сентинелы таксономии,
// остальные ошибки возвращает как есть.
func MapConstraintError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	case "23503":
		return fmt.Errorf("%w: %s", ErrBadReference, pgErr.ConstraintName)
	case "23502":
		return fmt.Errorf("%w: %s", ErrMissingField, pgErr.ColumnName)
	case "23514":
		return fmt.Errorf("%w: %s", ErrConstraint, pgErr.ConstraintName)
	}
	return err
}
