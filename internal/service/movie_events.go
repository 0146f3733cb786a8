package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"review_catalog/internal/events"
	"review_catalog/internal/metrics"
)

func (p *EventProcessor) HandleMovieCreated(ctx context.Context, routingKey string, env *events.Envelope) (string, error) {
	snap := events.NormalizeMovie(env.Data)
	if snap == nil || snap.Title == nil {
		p.logger.Printf("[events] key=%s skipped: incomplete movie payload", routingKey)
		return "SKIP_MOVIE_INVALID", nil
	}

	return p.runDeduped(ctx, env, func(tx pgx.Tx) (string, error) {
		// Создание — авторитетный снимок каталога: перезаписываем строку
		// целиком, а не сливаем по полям.
		if err := p.movies.ReplaceTx(ctx, tx, snap); err != nil {
			return "", err
		}
		metrics.IncCacheRow("movie", "replace")
		return "MOVIE_CREATED", nil
	})
}

func (p *EventProcessor) HandleMovieUpdated(ctx context.Context, routingKey string, env *events.Envelope) (string, error) {
	snap := events.NormalizeMovie(env.Data)
	if snap == nil {
		p.logger.Printf("[events] key=%s skipped: no movie id", routingKey)
		return "SKIP_MOVIE_NO_ID", nil
	}

	return p.runDeduped(ctx, env, func(tx pgx.Tx) (string, error) {
		if err := p.movies.MergeTx(ctx, tx, snap); err != nil {
			return "", err
		}
		// Смена активности фильма каскадом скрывает или возвращает его рецензии.
		if snap.IsActive != nil {
			if _, err := p.reviews.SetActiveByMovieTx(ctx, tx, snap.MovieID, *snap.IsActive); err != nil {
				return "", err
			}
		}
		metrics.IncCacheRow("movie", "merge")
		return "MOVIE_UPDATED", nil
	})
}

func (p *EventProcessor) HandleMovieDeleted(ctx context.Context, routingKey string, env *events.Envelope) (string, error) {
	snap := events.NormalizeMovie(env.Data)
	if snap == nil {
		p.logger.Printf("[events] key=%s skipped: no movie id", routingKey)
		return "SKIP_MOVIE_NO_ID", nil
	}

	return p.runDeduped(ctx, env, func(tx pgx.Tx) (string, error) {
		if _, err := p.movies.SetActiveTx(ctx, tx, snap.MovieID, false); err != nil {
			return "", err
		}
		if _, err := p.reviews.SetActiveByMovieTx(ctx, tx, snap.MovieID, false); err != nil {
			return "", err
		}
		metrics.IncCacheRow("movie", "deactivate")
		return "MOVIE_DELETED", nil
	})
}
