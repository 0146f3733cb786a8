package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_catalog/internal/events"
	"review_catalog/internal/models"
)

func mustDecode(t *testing.T, body []byte) *events.Envelope {
	t.Helper()
	env, err := events.Decode(body)
	require.NoError(t, err)
	return env
}

// fakeTx подменяет только используемые методы pgx.Tx, остальное — паника
// через встроенный nil-интерфейс, что само по себе полезная проверка.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { t.rolledBack = true; return nil }

type fakeDB struct {
	txs []*fakeTx
}

func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	d.txs = append(d.txs, tx)
	return tx, nil
}

type fakeDedup struct {
	seen map[string]bool
}

func (f *fakeDedup) Acquire(ctx context.Context, tx pgx.Tx, traceID, consumer string) (bool, error) {
	if traceID == "" {
		return true, nil
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := traceID + "|" + consumer
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeUserStore struct {
	upserts     []*models.UserSnapshot
	explicit    []bool
	deactivated []int64
	reactivated []int64
	upsertErr   error
}

func (f *fakeUserStore) UpsertTx(ctx context.Context, tx pgx.Tx, snap *models.UserSnapshot, explicitRole bool) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, snap)
	f.explicit = append(f.explicit, explicitRole)
	return nil
}

func (f *fakeUserStore) SetActiveTx(ctx context.Context, tx pgx.Tx, userID int64, active bool) (int64, error) {
	if active {
		f.reactivated = append(f.reactivated, userID)
	} else {
		f.deactivated = append(f.deactivated, userID)
	}
	return 1, nil
}

type fakeMovieStore struct {
	replaced    []*models.MovieSnapshot
	merged      []*models.MovieSnapshot
	deactivated []int64
}

func (f *fakeMovieStore) ReplaceTx(ctx context.Context, tx pgx.Tx, snap *models.MovieSnapshot) error {
	f.replaced = append(f.replaced, snap)
	return nil
}

func (f *fakeMovieStore) MergeTx(ctx context.Context, tx pgx.Tx, snap *models.MovieSnapshot) error {
	f.merged = append(f.merged, snap)
	return nil
}

func (f *fakeMovieStore) SetActiveTx(ctx context.Context, tx pgx.Tx, movieID int64, active bool) (int64, error) {
	f.deactivated = append(f.deactivated, movieID)
	return 1, nil
}

type fakeLikeStore struct {
	inserted        []*models.LikeRecord
	deletedByID     []string
	deletedByReview []string
	deleteCount     int64
}

func (f *fakeLikeStore) InsertTx(ctx context.Context, tx pgx.Tx, like *models.LikeRecord) error {
	f.inserted = append(f.inserted, like)
	return nil
}

func (f *fakeLikeStore) DeleteByLikeIDTx(ctx context.Context, tx pgx.Tx, likeID string) (int64, error) {
	f.deletedByID = append(f.deletedByID, likeID)
	return f.deleteCount, nil
}

func (f *fakeLikeStore) DeleteLatestByReviewTx(ctx context.Context, tx pgx.Tx, reviewID string) (int64, error) {
	f.deletedByReview = append(f.deletedByReview, reviewID)
	return f.deleteCount, nil
}

type fakeReviewCascade struct {
	cascades map[int64]bool
}

func (f *fakeReviewCascade) SetActiveByMovieTx(ctx context.Context, tx pgx.Tx, movieID int64, active bool) (int64, error) {
	if f.cascades == nil {
		f.cascades = map[int64]bool{}
	}
	f.cascades[movieID] = active
	return 1, nil
}

type processorFixture struct {
	db      *fakeDB
	dedup   *fakeDedup
	users   *fakeUserStore
	movies  *fakeMovieStore
	likes   *fakeLikeStore
	reviews *fakeReviewCascade
	p       *EventProcessor
}

func newFixture() *processorFixture {
	f := &processorFixture{
		db:      &fakeDB{},
		dedup:   &fakeDedup{},
		users:   &fakeUserStore{},
		movies:  &fakeMovieStore{},
		likes:   &fakeLikeStore{},
		reviews: &fakeReviewCascade{},
	}
	f.p = NewEventProcessor(f.db, f.dedup, f.users, f.movies, f.likes, f.reviews, "reviews.core.consumer", nil)
	return f
}

func TestUserCreated_DefaultsApplied(t *testing.T) {
	f := newFixture()

	body := []byte(`{"type":"usuarios.usuario.creado","data":{"user_id":"187","nombre":"Juan Perez"},"meta":{"trace_id":"t1"}}`)
	outcome, err := f.p.Router().Dispatch(context.Background(), "usuarios.usuario.creado", body)
	require.NoError(t, err)
	assert.Equal(t, "USER_UPSERTED", outcome)

	require.Len(t, f.users.upserts, 1)
	snap := f.users.upserts[0]
	assert.Equal(t, int64(187), snap.UserID)
	require.NotNil(t, snap.Name)
	assert.Equal(t, "Juan", *snap.Name)
	require.NotNil(t, snap.LastName)
	assert.Equal(t, "Perez", *snap.LastName)
	require.NotNil(t, snap.Role)
	assert.Equal(t, models.RoleUser, *snap.Role)
	require.NotNil(t, snap.IsActive)
	assert.True(t, *snap.IsActive)
	assert.False(t, f.users.explicit[0])

	require.Len(t, f.db.txs, 1)
	assert.True(t, f.db.txs[0].committed)
}

func TestUserCreated_RedeliverySkipped(t *testing.T) {
	f := newFixture()
	body := []byte(`{"data":{"user_id":187},"meta":{"trace_id":"t1"}}`)

	outcome, err := f.p.HandleUserCreated(context.Background(), "usuarios.usuario.creado", mustDecode(t, body))
	require.NoError(t, err)
	assert.Equal(t, "USER_UPSERTED", outcome)

	outcome, err = f.p.HandleUserCreated(context.Background(), "usuarios.usuario.creado", mustDecode(t, body))
	require.NoError(t, err)
	assert.Equal(t, "DUPLICATE_SKIPPED", outcome)

	// повторная доставка не дала второй записи
	assert.Len(t, f.users.upserts, 1)
}

func TestUserDeactivation_AfterCreate(t *testing.T) {
	f := newFixture()

	_, err := f.p.HandleUserCreated(context.Background(), "usuarios.usuario.creado",
		mustDecode(t, []byte(`{"data":{"user_id":187,"nombre":"Juan Perez"},"meta":{"trace_id":"t1"}}`)))
	require.NoError(t, err)

	outcome, err := f.p.HandleUserDeleted(context.Background(), "usuarios.usuario.eliminado",
		mustDecode(t, []byte(`{"data":{"user_id":187},"meta":{"trace_id":"t2"}}`)))
	require.NoError(t, err)
	assert.Equal(t, "USER_DEACTIVATED", outcome)
	assert.Equal(t, []int64{187}, f.users.deactivated)
}

func TestUserUpdated_ExplicitRoleOnlyForRoleKeys(t *testing.T) {
	f := newFixture()
	r := f.p.Router()

	_, err := r.Dispatch(context.Background(), "user.updated.profile", []byte(`{"data":{"user_id":1,"role":"user"}}`))
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), "user.updated.role", []byte(`{"data":{"user_id":1,"role":"user"}}`))
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), "user.updated.permissions", []byte(`{"data":{"user_id":1,"role":"moderator"}}`))
	require.NoError(t, err)

	require.Equal(t, []bool{false, true, true}, f.users.explicit)
}

func TestUserEvent_MissingID_SkippedAndAcked(t *testing.T) {
	f := newFixture()

	outcome, err := f.p.HandleUserUpdated(context.Background(), "user.updated.profile",
		mustDecode(t, []byte(`{"data":{"nombre":"sin id"}}`)))
	require.NoError(t, err)
	assert.Equal(t, "SKIP_USER_NO_ID", outcome)

	// логически невалидное событие не открывает транзакцию
	assert.Empty(t, f.db.txs)
	assert.Empty(t, f.users.upserts)
}

func TestUserSession_Acknowledged(t *testing.T) {
	f := newFixture()

	outcome, err := f.p.Router().Dispatch(context.Background(), "usuarios.sesion.iniciada", []byte(`{"data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "USER_SESSION_INICIADA", outcome)
	assert.Empty(t, f.db.txs)
}

func TestUserEvent_StoreErrorRollsBack(t *testing.T) {
	f := newFixture()
	f.users.upsertErr = errors.New("deadlock")

	_, err := f.p.HandleUserCreated(context.Background(), "usuarios.usuario.creado",
		mustDecode(t, []byte(`{"data":{"user_id":1},"meta":{"trace_id":"t1"}}`)))
	require.Error(t, err)

	require.Len(t, f.db.txs, 1)
	assert.False(t, f.db.txs[0].committed)
	assert.True(t, f.db.txs[0].rolledBack)
}

func TestMovieCreated_Replaces(t *testing.T) {
	f := newFixture()

	outcome, err := f.p.Router().Dispatch(context.Background(), "peliculas.pelicula.creada",
		[]byte(`{"data":{"movie":{"id":42,"titulo":"La Pelicula"}},"meta":{"trace_id":"m1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "MOVIE_CREATED", outcome)
	require.Len(t, f.movies.replaced, 1)
	assert.Equal(t, int64(42), f.movies.replaced[0].MovieID)
}

func TestMovieCreated_WithoutTitleSkipped(t *testing.T) {
	f := newFixture()

	outcome, err := f.p.HandleMovieCreated(context.Background(), "peliculas.pelicula.creada",
		mustDecode(t, []byte(`{"data":{"id":42}}`)))
	require.NoError(t, err)
	assert.Equal(t, "SKIP_MOVIE_INVALID", outcome)
	assert.Empty(t, f.movies.replaced)
}

func TestMovieDeleted_CascadesToReviews(t *testing.T) {
	f := newFixture()

	outcome, err := f.p.HandleMovieDeleted(context.Background(), "peliculas.pelicula.borrada",
		mustDecode(t, []byte(`{"data":{"id":42},"meta":{"trace_id":"m2"}}`)))
	require.NoError(t, err)
	assert.Equal(t, "MOVIE_DELETED", outcome)
	assert.Equal(t, []int64{42}, f.movies.deactivated)
	assert.Equal(t, map[int64]bool{42: false}, f.reviews.cascades)
}

func TestMovieUpdated_ActivityFlagCascades(t *testing.T) {
	f := newFixture()

	_, err := f.p.HandleMovieUpdated(context.Background(), "peliculas.pelicula.actualizada",
		mustDecode(t, []byte(`{"data":{"id":42,"activa":true}}`)))
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{42: true}, f.reviews.cascades)

	// без флага активности каскада нет
	f2 := newFixture()
	_, err = f2.p.HandleMovieUpdated(context.Background(), "peliculas.pelicula.actualizada",
		mustDecode(t, []byte(`{"data":{"id":42,"titulo":"Nueva"}}`)))
	require.NoError(t, err)
	assert.Empty(t, f2.reviews.cascades)
}

func TestSocialLike_Created(t *testing.T) {
	f := newFixture()

	outcome, err := f.p.Router().Dispatch(context.Background(), "social.megusta.creado",
		[]byte(`{"data":{"like_id":"lk-1","reviewId":"rv-1","userId":"7"},"meta":{"trace_id":"s1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "LIKE_CREATED", outcome)
	require.Len(t, f.likes.inserted, 1)
	assert.Equal(t, "rv-1", f.likes.inserted[0].ReviewID)
}

func TestSocialLike_NonReviewTargetIgnored(t *testing.T) {
	f := newFixture()

	outcome, err := f.p.HandleSocialEvent(context.Background(), "social.megusta.creado",
		mustDecode(t, []byte(`{"data":{"target_id":"c-5","target_type":"comment"}}`)))
	require.NoError(t, err)
	assert.Equal(t, "IGNORED_SOCIAL_NOT_REVIEW", outcome)
	assert.Empty(t, f.likes.inserted)
}

func TestSocialLike_OtherSocialKeysIgnored(t *testing.T) {
	f := newFixture()

	outcome, err := f.p.Router().Dispatch(context.Background(), "social.comentario.creado", []byte(`{"data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "IGNORED_SOCIAL_COMENTARIO_CREADO", outcome)
}

// Комментарий к рецензии несёт её идентификатор, но лайком от этого
// не становится: чужой social.*-ключ не должен породить строку в likes_cache.
func TestSocialComment_WithReviewIDNotInsertedAsLike(t *testing.T) {
	f := newFixture()

	outcome, err := f.p.Router().Dispatch(context.Background(), "social.comentario.creado",
		[]byte(`{"data":{"reviewId":"rv-1","userId":"7","comment":"hola"},"meta":{"trace_id":"c1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "IGNORED_SOCIAL_COMENTARIO_CREADO", outcome)
	assert.Empty(t, f.likes.inserted)
	assert.Empty(t, f.db.txs)

	outcome, err = f.p.Router().Dispatch(context.Background(), "social.publicacion.borrado",
		[]byte(`{"data":{"idPublicacion":"rv-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "IGNORED_SOCIAL_PUBLICACION_BORRADO", outcome)
	assert.Empty(t, f.likes.deletedByReview)
}

func TestSocialLike_DeletedByID(t *testing.T) {
	f := newFixture()
	f.likes.deleteCount = 1

	outcome, err := f.p.HandleSocialEvent(context.Background(), "like.deleted",
		mustDecode(t, []byte(`{"data":{"like_id":"lk-1","reviewId":"rv-1"}}`)))
	require.NoError(t, err)
	assert.Equal(t, "LIKE_DELETED", outcome)
	assert.Equal(t, []string{"lk-1"}, f.likes.deletedByID)
	assert.Empty(t, f.likes.deletedByReview)
}

// Плоский конверт без обёртки data: id сообщения не должен уйти в
// DeleteByLikeIDTx вместо удаления последнего лайка рецензии.
func TestSocialLike_FlatEnvelopeDeleteByReview(t *testing.T) {
	f := newFixture()
	f.likes.deleteCount = 1

	outcome, err := f.p.Router().Dispatch(context.Background(), "social.megusta.borrado",
		[]byte(`{"id":"msg-7f3a","type":"social.megusta.borrado","target_id":"rv-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "LIKE_DELETED", outcome)
	assert.Empty(t, f.likes.deletedByID)
	assert.Equal(t, []string{"rv-1"}, f.likes.deletedByReview)
}

// Старый продюсер не знает id лайка: удаляется последний лайк рецензии.
func TestSocialLike_LegacyDeleteByReview(t *testing.T) {
	f := newFixture()
	f.likes.deleteCount = 1

	outcome, err := f.p.HandleSocialEvent(context.Background(), "social.megusta.borrado",
		mustDecode(t, []byte(`{"data":{"idPublicacion":"rv-1"}}`)))
	require.NoError(t, err)
	assert.Equal(t, "LIKE_DELETED", outcome)
	assert.Equal(t, []string{"rv-1"}, f.likes.deletedByReview)
}

func TestSocialLike_DeleteMissingRow(t *testing.T) {
	f := newFixture()
	f.likes.deleteCount = 0

	outcome, err := f.p.HandleSocialEvent(context.Background(), "like.deleted",
		mustDecode(t, []byte(`{"data":{"like_id":"lk-404","reviewId":"rv-1"}}`)))
	require.NoError(t, err)
	assert.Equal(t, "SKIP_LIKE_NOT_FOUND", outcome)
}

func TestSocialLike_NoReviewID(t *testing.T) {
	f := newFixture()

	outcome, err := f.p.HandleSocialEvent(context.Background(), "social.megusta.creado",
		mustDecode(t, []byte(`{"data":{"userId":"7"}}`)))
	require.NoError(t, err)
	assert.Equal(t, "SKIP_LIKE_INVALID", outcome)
}

// Событие без trace_id обрабатывается всегда: дедупликация невозможна.
func TestNoTraceID_AlwaysApplied(t *testing.T) {
	f := newFixture()
	body := []byte(`{"data":{"user_id":1}}`)

	for i := 0; i < 2; i++ {
		outcome, err := f.p.HandleUserCreated(context.Background(), "user.created", mustDecode(t, body))
		require.NoError(t, err)
		assert.Equal(t, "USER_UPSERTED", outcome)
	}
	assert.Len(t, f.users.upserts, 2)
}
