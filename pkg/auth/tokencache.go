package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/rlsbridge/pkg/cache"
)

const (
	// DefaultTokenCacheTTL is how long a minted token is reused
	DefaultTokenCacheTTL = 55 * time.Second
	// MinRemainingLifetime is the least lifetime a cached token may have when handed out
	MinRemainingLifetime = 5 * time.Minute
)

type cachedToken struct {
	AccessToken     string    `json:"access_token"`
	ExternalSubject string    `json:"external_subject"`
	Email           string    `json:"email"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// TokenCache reuses minted tokens for a short time to absorb polling clients.
// Entries are keyed by internal id only and also record the external
// subject, which must match on lookup.
type TokenCache struct {
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewTokenCache creates a token cache over store. A zero ttl uses DefaultTokenCacheTTL.
func NewTokenCache(store cache.Store, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = DefaultTokenCacheTTL
	}
	return &TokenCache{store: store, ttl: ttl, now: time.Now}
}

func tokenCacheKey(internalID uuid.UUID) string {
	return "token:" + internalID.String()
}

// Get returns a cached token for internalID, or nil on a miss
func (c *TokenCache) Get(ctx context.Context, internalID uuid.UUID, externalSubject string) (*MintedToken, error) {
	raw, ok, err := c.store.Get(ctx, tokenCacheKey(internalID))
	if err != nil || !ok {
		return nil, err
	}

	var entry cachedToken
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = c.store.Evict(ctx, tokenCacheKey(internalID))
		return nil, fmt.Errorf("corrupt token cache entry: %w", err)
	}

	if entry.ExternalSubject != externalSubject {
		_ = c.store.Evict(ctx, tokenCacheKey(internalID))
		return nil, nil
	}
	if entry.ExpiresAt.Sub(c.now()) < MinRemainingLifetime {
		return nil, nil
	}

	return &MintedToken{
		AccessToken: entry.AccessToken,
		Subject:     internalID,
		Email:       entry.Email,
		IssuedAt:    entry.IssuedAt,
		ExpiresAt:   entry.ExpiresAt,
	}, nil
}

// Put stores token for its subject
func (c *TokenCache) Put(ctx context.Context, token *MintedToken, externalSubject string) error {
	raw, err := json.Marshal(cachedToken{
		AccessToken:     token.AccessToken,
		ExternalSubject: externalSubject,
		Email:           token.Email,
		IssuedAt:        token.IssuedAt,
		ExpiresAt:       token.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode token cache entry: %w", err)
	}
	return c.store.Set(ctx, tokenCacheKey(token.Subject), raw, c.ttl)
}

// Evict drops any cached token for internalID
func (c *TokenCache) Evict(ctx context.Context, internalID uuid.UUID) error {
	return c.store.Evict(ctx, tokenCacheKey(internalID))
}
