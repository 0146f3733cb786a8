package service

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"review_catalog/internal/events"
	"review_catalog/internal/metrics"
	"review_catalog/internal/models"
)

// isExplicitRoleKey: только события о смене роли/прав несут авторитетное
// значение роли. Для остальных действует защита от понижения привилегий.
func isExplicitRoleKey(key string) bool {
	return key == "user.updated.role" || key == "user.updated.permissions"
}

func (p *EventProcessor) HandleUserCreated(ctx context.Context, routingKey string, env *events.Envelope) (string, error) {
	snap := events.NormalizeUser(env.Data)
	if snap == nil {
		p.logger.Printf("[events] key=%s skipped: no user id", routingKey)
		return "SKIP_USER_NO_ID", nil
	}

	// У нового пользователя недостающие поля получают явные значения
	// по умолчанию, а не остаются "неизвестными".
	if snap.Role == nil {
		role := models.RoleUser
		snap.Role = &role
	}
	if snap.IsActive == nil {
		active := true
		snap.IsActive = &active
	}

	return p.runDeduped(ctx, env, func(tx pgx.Tx) (string, error) {
		if err := p.users.UpsertTx(ctx, tx, snap, false); err != nil {
			return "", err
		}
		metrics.IncCacheRow("user", "upsert")
		return "USER_UPSERTED", nil
	})
}

func (p *EventProcessor) HandleUserUpdated(ctx context.Context, routingKey string, env *events.Envelope) (string, error) {
	snap := events.NormalizeUser(env.Data)
	if snap == nil {
		p.logger.Printf("[events] key=%s skipped: no user id", routingKey)
		return "SKIP_USER_NO_ID", nil
	}

	explicitRole := isExplicitRoleKey(routingKey)

	return p.runDeduped(ctx, env, func(tx pgx.Tx) (string, error) {
		if err := p.users.UpsertTx(ctx, tx, snap, explicitRole); err != nil {
			return "", err
		}
		metrics.IncCacheRow("user", "update")
		return "USER_UPDATED", nil
	})
}

func (p *EventProcessor) HandleUserDeleted(ctx context.Context, routingKey string, env *events.Envelope) (string, error) {
	snap := events.NormalizeUser(env.Data)
	if snap == nil {
		p.logger.Printf("[events] key=%s skipped: no user id", routingKey)
		return "SKIP_USER_NO_ID", nil
	}

	return p.runDeduped(ctx, env, func(tx pgx.Tx) (string, error) {
		// Мягкая деактивация: строка кеша остаётся, история читаема.
		if _, err := p.users.SetActiveTx(ctx, tx, snap.UserID, false); err != nil {
			return "", err
		}
		metrics.IncCacheRow("user", "deactivate")
		return "USER_DEACTIVATED", nil
	})
}

func (p *EventProcessor) HandleUserReactivated(ctx context.Context, routingKey string, env *events.Envelope) (string, error) {
	snap := events.NormalizeUser(env.Data)
	if snap == nil {
		p.logger.Printf("[events] key=%s skipped: no user id", routingKey)
		return "SKIP_USER_NO_ID", nil
	}

	return p.runDeduped(ctx, env, func(tx pgx.Tx) (string, error) {
		if _, err := p.users.SetActiveTx(ctx, tx, snap.UserID, true); err != nil {
			return "", err
		}
		metrics.IncCacheRow("user", "reactivate")
		return "USER_REACTIVATED", nil
	})
}

// HandleUserSession: события сессий нам не нужны, но очередь общая —
// подтверждаем и помечаем исход по последнему сегменту ключа.
func (p *EventProcessor) HandleUserSession(ctx context.Context, routingKey string, env *events.Envelope) (string, error) {
	parts := strings.Split(routingKey, ".")
	kind := parts[len(parts)-1]
	return "USER_SESSION_" + strings.ToUpper(kind), nil
}
