package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// AuthenticatedAudience is the audience and role every minted token carries
	AuthenticatedAudience = "authenticated"
	// AuthenticatedRole is the database role the platform switches to for minted tokens
	AuthenticatedRole = "authenticated"
	// DefaultTokenLifetime is how long a minted token is valid
	DefaultTokenLifetime = time.Hour
	// ProviderName is recorded in app_metadata of minted tokens and created users
	ProviderName = "rlsbridge"
)

var (
	// ErrMissingSecret is returned when no signing secret is configured
	ErrMissingSecret = errors.New("auth: signing secret is required")
	// ErrInvalidMintedToken is returned by ParseMinted for tokens this minter did not issue
	ErrInvalidMintedToken = errors.New("auth: invalid minted token")
)

// PlatformClaims is the claim set understood by the data platform
type PlatformClaims struct {
	Email       string                 `json:"email,omitempty"`
	Role        string                 `json:"role"`
	AppMetadata map[string]interface{} `json:"app_metadata,omitempty"`
	jwt.RegisteredClaims
}

// MintedToken is a signed platform token
type MintedToken struct {
	AccessToken string
	Subject     uuid.UUID
	// Email is the email claim carried by the token
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiresIn returns the lifetime remaining at now
func (t *MintedToken) ExpiresIn(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// MinterOption configures a Minter
type MinterOption func(*Minter)

// WithIssuer sets the iss claim
func WithIssuer(issuer string) MinterOption {
	return func(m *Minter) {
		m.issuer = issuer
	}
}

// WithLifetime overrides DefaultTokenLifetime
func WithLifetime(d time.Duration) MinterOption {
	return func(m *Minter) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) MinterOption {
	return func(m *Minter) {
		m.now = now
	}
}

// Minter signs HS256 tokens for internal user ids. It is stateless and safe
// for concurrent use.
type Minter struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

// NewMinter creates a minter. An empty secret is a startup error.
func NewMinter(secret []byte, opts ...MinterOption) (*Minter, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}

	m := &Minter{
		secret:   append([]byte(nil), secret...),
		lifetime: DefaultTokenLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Mint issues a token for internalID
func (m *Minter) Mint(internalID uuid.UUID, email string) (*MintedToken, error) {
	if internalID == uuid.Nil {
		return nil, fmt.Errorf("auth: cannot mint for nil id")
	}

	// JWT times have second precision
	issuedAt := m.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(m.lifetime)

	claims := PlatformClaims{
		Email: email,
		Role:  AuthenticatedRole,
		AppMetadata: map[string]interface{}{
			"provider": ProviderName,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   internalID.String(),
			Audience:  jwt.ClaimStrings{AuthenticatedAudience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &MintedToken{
		AccessToken: signed,
		Subject:     internalID,
		Email:       email,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}, nil
}

// ParseMinted validates a token produced by Mint and returns its claims
func (m *Minter) ParseMinted(tokenString string) (*PlatformClaims, error) {
	claims := &PlatformClaims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AuthenticatedAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMintedToken, err)
	}
	if !token.Valid || claims.Role != AuthenticatedRole {
		return nil, ErrInvalidMintedToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("%w: subject is not a uuid", ErrInvalidMintedToken)
	}

	return claims, nil
}
