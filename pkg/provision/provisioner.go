package provision

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/rlsbridge/pkg/auth"
	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/identity"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
)

// Outcome describes what EnsureUser did
type Outcome string

const (
	OutcomeExisting Outcome = "existing"
	OutcomeCreated  Outcome = "created"
	OutcomeRaced    Outcome = "raced"
)

// Result is returned by EnsureUser
type Result struct {
	User    *User
	Outcome Outcome
}

// Provisioner creates platform users on first federation
type Provisioner struct {
	directory  Directory
	emailRules []identity.EmailRule
	metrics    *observability.Metrics
	now        func() time.Time
}

// Option configures a Provisioner
type Option func(*Provisioner)

// WithEmailRules overrides the claim rules used to pick an email address
func WithEmailRules(rules ...identity.EmailRule) Option {
	return func(p *Provisioner) {
		p.emailRules = rules
	}
}

// WithMetrics records provisioning outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Provisioner) {
		p.metrics = m
	}
}

// NewProvisioner creates a provisioner over directory
func NewProvisioner(directory Directory, opts ...Option) *Provisioner {
	p := &Provisioner{
		directory:  directory,
		emailRules: identity.DefaultEmailRules,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureUser returns the user for internalID, creating it if absent.
//
// Existing users are returned unchanged. A create that loses a race with a
// concurrent request is resolved by reading the winner's record. Nothing is
// retried beyond that single re-check.
func (p *Provisioner) EnsureUser(ctx context.Context, internalID uuid.UUID, claims *auth.VerifiedClaims) (*Result, error) {
	logger := observability.FromContext(ctx).WithField("user_id", internalID.String())

	user, err := p.directory.GetUser(ctx, internalID)
	if err == nil {
		p.record(OutcomeExisting)
		return &Result{User: user, Outcome: OutcomeExisting}, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, errcode.Wrap(errcode.UserCreateFailed, "failed to look up user", err)
	}

	user = p.newUser(internalID, claims)
	err = p.directory.CreateUser(ctx, user)
	if err == nil {
		logger.WithField("placeholder_email", user.EmailConfirmedAt == nil).Info("provisioned user")
		p.record(OutcomeCreated)
		return &Result{User: user, Outcome: OutcomeCreated}, nil
	}
	if !errors.Is(err, ErrUserExists) {
		return nil, errcode.Wrap(errcode.UserCreateFailed, "failed to create user", err)
	}

	existing, recheckErr := p.directory.GetUser(ctx, internalID)
	if recheckErr != nil {
		logger.WithError(recheckErr).Warn("user create conflicted but re-check failed")
		return nil, errcode.Wrap(errcode.UserCreateFailed, "user create conflicted and re-check failed", recheckErr)
	}

	logger.Debug("user created concurrently")
	p.record(OutcomeRaced)
	return &Result{User: existing, Outcome: OutcomeRaced}, nil
}

func (p *Provisioner) newUser(internalID uuid.UUID, claims *auth.VerifiedClaims) *User {
	user := &User{
		ID:   internalID,
		Aud:  auth.AuthenticatedAudience,
		Role: auth.AuthenticatedRole,
		UserMetadata: map[string]interface{}{
			"external_subject": claims.Subject,
			"external_issuer":  claims.Issuer,
		},
		AppMetadata: map[string]interface{}{
			"provider":  auth.ProviderName,
			"providers": []string{auth.ProviderName},
		},
	}

	if email, ok := identity.ExtractEmail(claims.Raw, p.emailRules...); ok {
		user.Email = email
		confirmed := p.now().UTC()
		user.EmailConfirmedAt = &confirmed
	} else {
		user.Email = identity.PlaceholderEmail(claims.Subject)
	}

	return user
}

func (p *Provisioner) record(outcome Outcome) {
	if p.metrics != nil {
		p.metrics.UsersProvisioned.WithLabelValues(string(outcome)).Inc()
	}
}
