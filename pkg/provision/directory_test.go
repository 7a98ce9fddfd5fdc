package provision

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rlsbridge/pkg/identity"
)

var userColumns = []string{
	"id", "aud", "role", "email", "email_confirmed_at",
	"raw_user_meta_data", "raw_app_meta_data", "created_at", "updated_at",
}

func TestPostgresDirectory_GetUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewPostgresDirectory(db, "")
	id := identity.MustMap("user_test_123")
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "auth"."users"`)).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(
			id.String(), "authenticated", "authenticated", "alice@example.com", now,
			[]byte(`{"external_subject":"user_test_123"}`), []byte(`{"provider":"rlsbridge"}`), now, now,
		))

	user, err := dir.GetUser(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	require.NotNil(t, user.EmailConfirmedAt)
	assert.Equal(t, "user_test_123", user.UserMetadata["external_subject"])
	assert.Equal(t, "rlsbridge", user.AppMetadata["provider"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectory_GetUser_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewPostgresDirectory(db, "")
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(userColumns))

	_, err = dir.GetUser(context.Background(), identity.MustMap("nobody"))
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPostgresDirectory_GetUser_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewPostgresDirectory(db, "")
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	_, err = dir.GetUser(context.Background(), identity.MustMap("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserNotFound)
}

func TestPostgresDirectory_CreateUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewPostgresDirectory(db, "public.app_users")
	id := identity.MustMap("user_new")
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "public"."app_users"`)).
		WithArgs(id.String(), "authenticated", "authenticated", "new@example.com", nil,
			[]byte(`{}`), []byte(`{"provider":"rlsbridge"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	user := &User{
		ID:          id,
		Aud:         "authenticated",
		Role:        "authenticated",
		Email:       "new@example.com",
		AppMetadata: map[string]interface{}{"provider": "rlsbridge"},
	}
	require.NoError(t, dir.CreateUser(context.Background(), user))
	assert.Equal(t, now, user.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectory_CreateUser_Conflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewPostgresDirectory(db, "")
	mock.ExpectQuery("INSERT INTO").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint \"users_pkey\""})

	err = dir.CreateUser(context.Background(), &User{ID: identity.MustMap("dup")})
	assert.ErrorIs(t, err, ErrUserExists)

	mock.ExpectQuery("INSERT INTO").WillReturnError(&pq.Error{Code: "42501", Message: "permission denied"})
	err = dir.CreateUser(context.Background(), &User{ID: identity.MustMap("dup")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserExists)
}

func TestQuoteQualified(t *testing.T) {
	assert.Equal(t, `"auth"."users"`, quoteQualified("auth.users"))
	assert.Equal(t, `"users"`, quoteQualified("users"))
	assert.Equal(t, `"we""ird"`, quoteQualified(`we"ird`))
}
