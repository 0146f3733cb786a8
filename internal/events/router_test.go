package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_ExactMatch(t *testing.T) {
	r := NewRouter()
	r.Handle("usuarios.usuario.creado", func(ctx context.Context, key string, env *Envelope) (string, error) {
		return "USER_UPSERTED", nil
	})

	outcome, err := r.Dispatch(context.Background(), "usuarios.usuario.creado", []byte(`{"data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "USER_UPSERTED", outcome)
}

func TestRouter_PrefixMatch(t *testing.T) {
	r := NewRouter()
	r.HandlePrefix("usuarios.sesion.", func(ctx context.Context, key string, env *Envelope) (string, error) {
		return "SESSION", nil
	})

	outcome, err := r.Dispatch(context.Background(), "usuarios.sesion.iniciada", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "SESSION", outcome)
}

func TestRouter_ExactWinsOverPrefix(t *testing.T) {
	r := NewRouter()
	r.HandlePrefix("social.", func(ctx context.Context, key string, env *Envelope) (string, error) {
		return "PREFIX", nil
	})
	r.Handle("social.megusta.creado", func(ctx context.Context, key string, env *Envelope) (string, error) {
		return "EXACT", nil
	})

	outcome, err := r.Dispatch(context.Background(), "social.megusta.creado", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "EXACT", outcome)
}

// Незарегистрированный ключ — не ошибка: событие подтверждается как
// нерелевантное, каким бы ключ ни был.
func TestRouter_UnknownKeyIgnored(t *testing.T) {
	r := NewRouter()

	outcome, err := r.Dispatch(context.Background(), "pagos.cargo.creado", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "IGNORED_PAGOS_CARGO_CREADO", outcome)
}

func TestRouter_TypeFallbackWhenKeyUnknown(t *testing.T) {
	r := NewRouter()
	r.Handle("user.created", func(ctx context.Context, key string, env *Envelope) (string, error) {
		return "BY_TYPE", nil
	})

	// ключ брокера ничего не значит, но внутри конверта лежит известный type
	outcome, err := r.Dispatch(context.Background(), "core.ratings.queue", []byte(`{"type":"user.created","data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "BY_TYPE", outcome)
}

func TestRouter_HandlerErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	r := NewRouter()
	r.Handle("user.created", func(ctx context.Context, key string, env *Envelope) (string, error) {
		return "", boom
	})

	_, err := r.Dispatch(context.Background(), "user.created", []byte(`{}`))
	require.ErrorIs(t, err, boom)
}

func TestRouter_MalformedBodyFails(t *testing.T) {
	r := NewRouter()
	r.Handle("user.created", func(ctx context.Context, key string, env *Envelope) (string, error) {
		return "OK", nil
	})

	_, err := r.Dispatch(context.Background(), "user.created", []byte(`not json at all`))
	require.Error(t, err)
}

func TestIgnoredOutcome(t *testing.T) {
	assert.Equal(t, "IGNORED_SOCIAL_COMPARTIDO", IgnoredOutcome("social.compartido"))
}
