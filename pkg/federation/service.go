package federation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/rlsbridge/pkg/auth"
	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/identity"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
	"github.com/platinummonkey/rlsbridge/pkg/provision"
)

// TokenTypeBearer is the token type reported with every session
const TokenTypeBearer = "bearer"

// Provisioner ensures a platform user exists for an internal id
type Provisioner interface {
	EnsureUser(ctx context.Context, internalID uuid.UUID, claims *auth.VerifiedClaims) (*provision.Result, error)
}

// Minter signs platform tokens
type Minter interface {
	Mint(internalID uuid.UUID, email string) (*auth.MintedToken, error)
}

// SessionUser identifies who a session belongs to
type SessionUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email,omitempty"`
}

// Session is the result of a successful federation. There is no refresh
// token; clients federate again when the access token nears expiry.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken *string     `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         SessionUser `json:"user"`
	// Cached is true when the token was reused rather than freshly minted
	Cached bool `json:"-"`
}

// Service exchanges identity provider tokens for platform sessions
type Service struct {
	verifier    auth.Verifier
	provisioner Provisioner
	minter      Minter
	tokens      *auth.TokenCache
	metrics     *observability.Metrics
	now         func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithTokenCache reuses recently minted tokens
func WithTokenCache(tokens *auth.TokenCache) Option {
	return func(s *Service) {
		s.tokens = tokens
	}
}

// WithMetrics records federation outcomes and stage latencies
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a federation service
func NewService(verifier auth.Verifier, provisioner Provisioner, minter Minter, opts ...Option) *Service {
	s := &Service{
		verifier:    verifier,
		provisioner: provisioner,
		minter:      minter,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize verifies externalToken and returns its claims. It is the gate in
// front of every privileged operation.
func (s *Service) Authorize(ctx context.Context, externalToken string) (*auth.VerifiedClaims, error) {
	externalToken = strings.TrimSpace(externalToken)
	if externalToken == "" {
		return nil, errcode.New(errcode.InvalidBody, "externalToken is required")
	}

	start := time.Now()
	claims, err := s.verifier.Verify(ctx, externalToken)
	s.metrics.ObserveStage("verify", start)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Federate verifies externalToken, provisions the mapped user if needed and
// returns a platform session for it.
//
// Verification completes before anything else runs, and the user exists
// before a token naming it is returned. A cached token is only reused for
// the same external subject.
func (s *Service) Federate(ctx context.Context, externalToken string) (session *Session, err error) {
	ctx, span := observability.StartSpan(ctx, "federation.Federate")
	defer func() {
		observability.EndSpan(span, err)
		s.recordOutcome(err)
	}()

	claims, err := s.Authorize(ctx, externalToken)
	if err != nil {
		return nil, err
	}

	internalID, err := identity.Map(claims.Subject)
	if err != nil {
		return nil, errcode.Wrap(errcode.JWTInvalid, "token subject cannot be mapped", err)
	}
	span.SetAttributes(attribute.String("rlsbridge.user_id", internalID.String()))

	logger := observability.FromContext(ctx).WithField("user_id", internalID.String())
	ctx = observability.WithUserID(ctx, internalID.String())

	if cached := s.cachedToken(ctx, logger, internalID, claims.Subject); cached != nil {
		return s.session(cached, cached.Email, true), nil
	}

	start := time.Now()
	result, err := s.provisioner.EnsureUser(ctx, internalID, claims)
	s.metrics.ObserveStage("provision", start)
	if err != nil {
		logger.WithError(err).Error("user provisioning failed")
		return nil, err
	}

	start = time.Now()
	token, err := s.minter.Mint(internalID, result.User.Email)
	s.metrics.ObserveStage("mint", start)
	if err != nil {
		logger.WithError(err).Error("token minting failed")
		return nil, errcode.Wrap(errcode.SessionCreateFailed, "failed to create session", err)
	}

	if s.tokens != nil {
		if err := s.tokens.Put(ctx, token, claims.Subject); err != nil {
			logger.WithError(err).Warn("failed to cache minted token")
		}
	}

	logger.WithField("outcome", string(result.Outcome)).Debug("federated")
	return s.session(token, result.User.Email, false), nil
}

func (s *Service) cachedToken(ctx context.Context, logger *observability.Logger, internalID uuid.UUID, subject string) *auth.MintedToken {
	if s.tokens == nil {
		return nil
	}

	token, err := s.tokens.Get(ctx, internalID, subject)
	switch {
	case err != nil:
		logger.WithError(err).Warn("token cache lookup failed")
		s.recordCache("error")
		return nil
	case token == nil:
		s.recordCache("miss")
		return nil
	}
	s.recordCache("hit")
	return token
}

func (s *Service) session(token *auth.MintedToken, email string, cached bool) *Session {
	return &Session{
		AccessToken: token.AccessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(token.ExpiresIn(s.now()).Seconds()),
		ExpiresAt:   token.ExpiresAt.Unix(),
		User:        SessionUser{ID: token.Subject, Email: email},
		Cached:      cached,
	}
}

func (s *Service) recordCache(result string) {
	if s.metrics != nil {
		s.metrics.TokenCacheTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) recordOutcome(err error) {
	if s.metrics == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = string(errcode.CodeOf(err))
	}
	s.metrics.FederationTotal.WithLabelValues(code).Inc()
}
