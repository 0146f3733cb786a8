package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUser_SpanishSynonyms(t *testing.T) {
	snap := NormalizeUser(map[string]any{
		"idUsuario": float64(7),
		"nombre":    "Juan Perez",
		"correo":    "juan@example.com",
		"imagen":    "https://cdn/img.png",
		"rol":       "user",
		"activo":    true,
	})
	require.NotNil(t, snap)

	assert.Equal(t, int64(7), snap.UserID)
	require.NotNil(t, snap.FullName)
	assert.Equal(t, "Juan Perez", *snap.FullName)
	require.NotNil(t, snap.Name)
	assert.Equal(t, "Juan", *snap.Name)
	require.NotNil(t, snap.LastName)
	assert.Equal(t, "Perez", *snap.LastName)
	require.NotNil(t, snap.Email)
	assert.Equal(t, "juan@example.com", *snap.Email)
	require.NotNil(t, snap.IsActive)
	assert.True(t, *snap.IsActive)
}

func TestNormalizeUser_NoID(t *testing.T) {
	assert.Nil(t, NormalizeUser(map[string]any{"nombre": "sin id"}))
}

func TestNormalizeUser_NumericStringID(t *testing.T) {
	snap := NormalizeUser(map[string]any{"user_id": "187"})
	require.NotNil(t, snap)
	assert.Equal(t, int64(187), snap.UserID)
}

// Права достаются только admin/moderator: событие с ролью user и списком
// permissions приходит от продюсера, который их не чистит.
func TestNormalizeUser_PermissionsDroppedForPlainUser(t *testing.T) {
	snap := NormalizeUser(map[string]any{
		"user_id":     float64(1),
		"role":        "user",
		"permissions": []any{"reviews:delete"},
	})
	require.NotNil(t, snap)
	assert.Nil(t, snap.Permissions)
}

func TestNormalizeUser_PermissionsKeptForModerator(t *testing.T) {
	snap := NormalizeUser(map[string]any{
		"user_id":     float64(1),
		"role":        "moderator",
		"permissions": []any{"reviews:moderate", "reviews:delete"},
	})
	require.NotNil(t, snap)
	assert.Equal(t, []string{"reviews:moderate", "reviews:delete"}, snap.Permissions)
}

func TestSplitFullName(t *testing.T) {
	name, last := SplitFullName("Maria del Carmen Ruiz")
	require.NotNil(t, name)
	require.NotNil(t, last)
	assert.Equal(t, "Maria", *name)
	assert.Equal(t, "del Carmen Ruiz", *last)

	name, last = SplitFullName("Cher")
	require.NotNil(t, name)
	assert.Equal(t, "Cher", *name)
	assert.Nil(t, last)

	name, last = SplitFullName("   ")
	assert.Nil(t, name)
	assert.Nil(t, last)
}

func TestNormalizeMovie_WrappedAndDerived(t *testing.T) {
	snap := NormalizeMovie(map[string]any{
		"movie": map[string]any{
			"id":              float64(42),
			"titulo":          "La Pelicula",
			"sinopsis":        "Una historia",
			"fechaEstreno":    "2023-06-15",
			"duracionMinutos": float64(127),
			"generos":         []any{"drama", "thriller"},
			"director":        map[string]any{"nombre": "Ana Torres"},
		},
	})
	require.NotNil(t, snap)

	assert.Equal(t, int64(42), snap.MovieID)
	require.NotNil(t, snap.Title)
	assert.Equal(t, "La Pelicula", *snap.Title)
	require.NotNil(t, snap.Year)
	assert.Equal(t, 2023, *snap.Year)
	require.NotNil(t, snap.ReleaseDate)
	assert.Equal(t, time.June, snap.ReleaseDate.Month())
	require.NotNil(t, snap.Duration)
	assert.Equal(t, 127, *snap.Duration)
	require.NotNil(t, snap.Genre)
	assert.Equal(t, "drama, thriller", *snap.Genre)
	require.NotNil(t, snap.Director)
	assert.Equal(t, "Ana Torres", *snap.Director)
}

func TestNormalizeMovie_NoID(t *testing.T) {
	assert.Nil(t, NormalizeMovie(map[string]any{"titulo": "sin id"}))
}

func TestNormalizeLike_NewProducer(t *testing.T) {
	lk := NormalizeLike(map[string]any{
		"like_id":   "lk-9",
		"reviewId":  "rv-1",
		"userId":    "7",
		"timestamp": "2024-01-02T10:00:00Z",
	}, "msg-1")

	require.NotNil(t, lk.LikeID)
	assert.Equal(t, "lk-9", *lk.LikeID)
	assert.Equal(t, "rv-1", lk.ReviewID)
	require.NotNil(t, lk.UserID)
	assert.Equal(t, "7", *lk.UserID)
	assert.Equal(t, 2024, lk.CreatedAt.Year())
	assert.True(t, lk.IsReviewTarget())
}

// Старый продюсер кладёт идентификатор рецензии в id; он не должен
// превратиться заодно и в like_id.
func TestNormalizeLike_LegacyIDNotDoubleCounted(t *testing.T) {
	lk := NormalizeLike(map[string]any{"id": "rv-1", "idPublicacion": "rv-1"}, "")

	assert.Equal(t, "rv-1", lk.ReviewID)
	assert.Nil(t, lk.LikeID)
}

// У плоского конверта (без обёртки data) id сообщения лежит рядом с полезной
// нагрузкой и не должен проскочить в like_id.
func TestNormalizeLike_EnvelopeIDNotTakenAsLikeID(t *testing.T) {
	env, err := Decode([]byte(`{"id":"msg-7f3a","type":"social.megusta.borrado","target_id":"rv-1"}`))
	require.NoError(t, err)

	lk := NormalizeLike(env.Data, env.ID)

	assert.Equal(t, "rv-1", lk.ReviewID)
	assert.Nil(t, lk.LikeID)
}

func TestNormalizeLike_TargetType(t *testing.T) {
	lk := NormalizeLike(map[string]any{
		"target_id":   "c-5",
		"target_type": "comment",
	}, "")
	assert.False(t, lk.IsReviewTarget())
}
