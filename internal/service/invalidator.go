package service

import (
	"context"
	"log"
	"strings"

	"review_catalog/internal/cache"
	"review_catalog/internal/events"
)

// NewCacheInvalidator возвращает колбэк, сбрасывающий ключи Redis после
// успешно применённого события. Ошибки здесь только логируются: кеш с TTL
// рано или поздно сойдётся и без инвалидации.
func NewCacheInvalidator(c cache.Cache, logger *log.Logger) func(ctx context.Context, routingKey string, body []byte) {
	if logger == nil {
		logger = log.Default()
	}

	return func(ctx context.Context, routingKey string, body []byte) {
		env, err := events.Decode(body)
		if err != nil {
			return
		}

		var keys []string

		switch {
		case strings.HasPrefix(routingKey, "usuarios.usuario.") || strings.HasPrefix(routingKey, "user."):
			if snap := events.NormalizeUser(env.Data); snap != nil {
				keys = append(keys, cache.UserKey(snap.UserID))
			}
		case strings.HasPrefix(routingKey, "peliculas."):
			if snap := events.NormalizeMovie(env.Data); snap != nil {
				keys = append(keys, cache.MovieKey(snap.MovieID))
			}
		case strings.HasPrefix(routingKey, "social.") || strings.HasPrefix(routingKey, "like."):
			if like := events.NormalizeLike(env.Data, env.ID); like.ReviewID != "" {
				keys = append(keys, cache.ReviewKey(like.ReviewID))
			}
		default:
			return
		}

		// Списки зависят от всех сущностей сразу, сбрасываем их целиком.
		if listKeys, err := c.SMembers(ctx, cache.ReviewListKeysSet()); err == nil && len(listKeys) > 0 {
			keys = append(keys, listKeys...)
			keys = append(keys, cache.ReviewListKeysSet())
		}

		if len(keys) == 0 {
			return
		}
		if err := c.Del(ctx, keys...); err != nil {
			logger.Printf("[cache] invalidate key=%s failed: %v", routingKey, err)
		}
	}
}
