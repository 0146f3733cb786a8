package cache

import (
	"context"
	"time"
)

// Cache хранит сериализованные отзывы и списки выдачи. Отсутствие
// ключа не является ошибкой: Get возвращает ok=false.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Close() error
}
