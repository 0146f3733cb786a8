package events

import (
	"context"
	"strings"
)

// HandlerFunc обрабатывает одно событие. Возвращаемая строка — исход
// (USER_UPSERTED, SKIP_LIKE_INVALID, ...), ошибка ведёт к reject сообщения.
type HandlerFunc func(ctx context.Context, routingKey string, env *Envelope) (string, error)

type prefixRoute struct {
	prefix  string
	handler HandlerFunc
}

// Router сопоставляет routing key с обработчиком: сначала точное совпадение,
// потом префиксы. Неизвестный ключ — не ошибка, событие просто не для нас.
type Router struct {
	exact    map[string]HandlerFunc
	prefixes []prefixRoute
}

func NewRouter() *Router {
	return &Router{exact: make(map[string]HandlerFunc)}
}

func (r *Router) Handle(key string, h HandlerFunc) {
	r.exact[key] = h
}

// HandlePrefix регистрирует обработчик для целого домена ("social.").
// Префиксы проверяются в порядке регистрации.
func (r *Router) HandlePrefix(prefix string, h HandlerFunc) {
	r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, handler: h})
}

// Dispatch декодирует тело и вызывает обработчик. Ключ берётся из брокера,
// а если по нему ничего не нашлось — из type/event в самом конверте
// (старые продюсеры шлют в очередь напрямую, без routing key).
func (r *Router) Dispatch(ctx context.Context, routingKey string, body []byte) (string, error) {
	env, err := Decode(body)
	if err != nil {
		return "", err
	}

	key := routingKey
	h := r.resolve(key)
	if h == nil && env.Type != "" && env.Type != key {
		if alt := r.resolve(env.Type); alt != nil {
			key = env.Type
			h = alt
		}
	}
	if h == nil {
		return IgnoredOutcome(key), nil
	}

	return h(ctx, key, env)
}

func (r *Router) resolve(key string) HandlerFunc {
	if key == "" {
		return nil
	}
	if h, ok := r.exact[key]; ok {
		return h
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(key, p.prefix) {
			return p.handler
		}
	}
	return nil
}

// IgnoredOutcome — исход для нерелевантного ключа, сообщение будет ack-нуто.
func IgnoredOutcome(key string) string {
	if key == "" {
		key = "unknown"
	}
	return "IGNORED_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
