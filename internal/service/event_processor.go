package service

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"review_catalog/internal/events"
	"review_catalog/internal/metrics"
	"review_catalog/internal/models"
)

const (
	outcomeDuplicate = "DUPLICATE_SKIPPED"
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type dedupStore interface {
	Acquire(ctx context.Context, tx pgx.Tx, traceID, consumer string) (bool, error)
}

type userStore interface {
	UpsertTx(ctx context.Context, tx pgx.Tx, snap *models.UserSnapshot, explicitRole bool) error
	SetActiveTx(ctx context.Context, tx pgx.Tx, userID int64, active bool) (int64, error)
}

type movieStore interface {
	ReplaceTx(ctx context.Context, tx pgx.Tx, snap *models.MovieSnapshot) error
	MergeTx(ctx context.Context, tx pgx.Tx, snap *models.MovieSnapshot) error
	SetActiveTx(ctx context.Context, tx pgx.Tx, movieID int64, active bool) (int64, error)
}

type likeStore interface {
	InsertTx(ctx context.Context, tx pgx.Tx, like *models.LikeRecord) error
	DeleteByLikeIDTx(ctx context.Context, tx pgx.Tx, likeID string) (int64, error)
	DeleteLatestByReviewTx(ctx context.Context, tx pgx.Tx, reviewID string) (int64, error)
}

type reviewCascadeStore interface {
	SetActiveByMovieTx(ctx context.Context, tx pgx.Tx, movieID int64, active bool) (int64, error)
}

// EventProcessor применяет входящие события к локальным кешам. Каждое
// событие обрабатывается в одной транзакции вместе с записью дедупликации,
// поэтому "применено" и "учтено как обработанное" неотделимы друг от друга.
type EventProcessor struct {
	db           txBeginner
	dedup        dedupStore
	users        userStore
	movies       movieStore
	likes        likeStore
	reviews      reviewCascadeStore
	consumerName string
	logger       *log.Logger
}

func NewEventProcessor(db txBeginner, dedup dedupStore, users userStore, movies movieStore, likes likeStore, reviews reviewCascadeStore, consumerName string, logger *log.Logger) *EventProcessor {
	if logger == nil {
		logger = log.Default()
	}
	return &EventProcessor{
		db:           db,
		dedup:        dedup,
		users:        users,
		movies:       movies,
		likes:        likes,
		reviews:      reviews,
		consumerName: consumerName,
		logger:       logger,
	}
}

// Router собирает таблицу маршрутизации: испаноязычные ключи старого
// продюсера и канонические user.*/like.* нового живут бок о бок.
func (p *EventProcessor) Router() *events.Router {
	r := events.NewRouter()

	r.Handle("usuarios.usuario.creado", p.HandleUserCreated)
	r.Handle("user.created", p.HandleUserCreated)

	r.Handle("usuarios.usuario.actualizado", p.HandleUserUpdated)
	r.Handle("user.updated.profile", p.HandleUserUpdated)
	r.Handle("user.updated.role", p.HandleUserUpdated)
	r.Handle("user.updated.permissions", p.HandleUserUpdated)

	r.Handle("usuarios.usuario.eliminado", p.HandleUserDeleted)
	r.Handle("user.deleted", p.HandleUserDeleted)
	r.Handle("user.deactivated", p.HandleUserDeleted)

	r.Handle("usuarios.usuario.reactivado", p.HandleUserReactivated)
	r.Handle("user.activated", p.HandleUserReactivated)

	r.HandlePrefix("usuarios.sesion.", p.HandleUserSession)

	r.Handle("peliculas.pelicula.creada", p.HandleMovieCreated)
	r.Handle("peliculas.pelicula.actualizada", p.HandleMovieUpdated)
	r.Handle("peliculas.pelicula.borrada", p.HandleMovieDeleted)

	r.HandlePrefix("social.", p.HandleSocialEvent)
	r.Handle("like.created", p.HandleSocialEvent)
	r.Handle("like.deleted", p.HandleSocialEvent)

	return r
}

// withTx оборачивает fn в транзакцию. Rollback после Commit безопасен.
func (p *EventProcessor) withTx(ctx context.Context, fn func(tx pgx.Tx) (string, error)) (string, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	outcome, err := fn(tx)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return outcome, nil
}

// runDeduped исполняет fn в транзакции только если trace_id события ещё
// не отмечен этим консьюмером. Отметка пишется той же транзакцией:
// упавший обработчик откатит и её, событие можно доставить повторно.
func (p *EventProcessor) runDeduped(ctx context.Context, env *events.Envelope, fn func(tx pgx.Tx) (string, error)) (string, error) {
	return p.withTx(ctx, func(tx pgx.Tx) (string, error) {
		acquired, err := p.dedup.Acquire(ctx, tx, env.Meta.TraceID, p.consumerName)
		if err != nil {
			return "", fmt.Errorf("dedup acquire: %w", err)
		}
		if !acquired {
			p.logger.Printf("[events] duplicate trace_id=%s consumer=%s", env.Meta.TraceID, p.consumerName)
			metrics.IncDedupDuplicate(p.consumerName)
			return outcomeDuplicate, nil
		}
		return fn(tx)
	})
}
