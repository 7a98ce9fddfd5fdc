package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rlsbridge/pkg/cache"
	"github.com/platinummonkey/rlsbridge/pkg/identity"
)

var testSecret = []byte("super-secret-jwt-token-with-at-least-32-characters-long")

func TestNewMinter_RequiresSecret(t *testing.T) {
	_, err := NewMinter(nil)
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = NewMinter([]byte{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestMinter_Mint(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := NewMinter(testSecret, WithIssuer("https://abc.supabase.co/auth/v1"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	id := identity.MustMap("user_test_123")
	tok, err := m.Mint(id, "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, id, tok.Subject)
	assert.Equal(t, now, tok.IssuedAt)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)
	assert.Equal(t, time.Hour, tok.ExpiresIn(now))
	assert.Len(t, strings.Split(tok.AccessToken, "."), 3)

	claims, err := m.ParseMinted(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id.String(), claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{AuthenticatedAudience}, claims.Audience)
	assert.Equal(t, AuthenticatedRole, claims.Role)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, ProviderName, claims.AppMetadata["provider"])
	assert.Equal(t, int64(3600), claims.ExpiresAt.Unix()-claims.IssuedAt.Unix())
}

func TestMinter_HS256Header(t *testing.T) {
	m, err := NewMinter(testSecret)
	require.NoError(t, err)

	tok, err := m.Mint(uuid.New(), "")
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, &PlatformClaims{})
	require.NoError(t, err)
	assert.Equal(t, "HS256", parsed.Header["alg"])
}

func TestMinter_ParseMinted_Rejects(t *testing.T) {
	now := time.Now()
	m, err := NewMinter(testSecret, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	other, err := NewMinter([]byte("a-completely-different-secret-value"))
	require.NoError(t, err)

	tok, err := other.Mint(uuid.New(), "")
	require.NoError(t, err)
	_, err = m.ParseMinted(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidMintedToken)

	tok, err = m.Mint(uuid.New(), "")
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)
	_, err = m.ParseMinted(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidMintedToken)

	_, err = m.Mint(uuid.Nil, "")
	assert.Error(t, err)
}

func TestTokenCache(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	m, err := NewMinter(testSecret, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	tc := NewTokenCache(cache.NewMemoryStore(cache.DefaultConfig()), 0)
	tc.now = func() time.Time { return now }

	alice := identity.MustMap("user_alice")
	bob := identity.MustMap("user_bob")

	got, err := tc.Get(ctx, alice, "user_alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	tok, err := m.Mint(alice, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, tc.Put(ctx, tok, "user_alice"))

	got, err = tc.Get(ctx, alice, "user_alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tok.AccessToken, got.AccessToken)
	assert.Equal(t, alice, got.Subject)
	assert.Equal(t, "alice@example.com", got.Email)

	// Never served for a different id or a mismatched subject
	got, err = tc.Get(ctx, bob, "user_bob")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = tc.Get(ctx, alice, "user_bob")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = tc.Get(ctx, alice, "user_alice")
	require.NoError(t, err)
	assert.Nil(t, got, "mismatched lookup evicts the entry")
}

func TestTokenCache_MinRemainingLifetime(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	m, err := NewMinter(testSecret, WithLifetime(4*time.Minute), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	tc := NewTokenCache(cache.NewMemoryStore(cache.DefaultConfig()), time.Minute)
	tc.now = func() time.Time { return now }

	id := identity.MustMap("user_short")
	tok, err := m.Mint(id, "")
	require.NoError(t, err)
	require.NoError(t, tc.Put(ctx, tok, "user_short"))

	got, err := tc.Get(ctx, id, "user_short")
	require.NoError(t, err)
	assert.Nil(t, got)
}
