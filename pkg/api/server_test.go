package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rlsbridge/pkg/auth"
	"github.com/platinummonkey/rlsbridge/pkg/cache"
	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/federation"
	"github.com/platinummonkey/rlsbridge/pkg/identity"
	"github.com/platinummonkey/rlsbridge/pkg/middleware"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
	"github.com/platinummonkey/rlsbridge/pkg/schema"
)

// stubBridge accepts tokens of the form "valid:<sub>"
type stubBridge struct {
	federateErr error
	calls       int
}

func (b *stubBridge) Authorize(ctx context.Context, token string) (*auth.VerifiedClaims, error) {
	b.calls++
	if strings.HasPrefix(token, "valid:") {
		return &auth.VerifiedClaims{Subject: strings.TrimPrefix(token, "valid:")}, nil
	}
	if token == "wrong-issuer" {
		return nil, errcode.New(errcode.JWTIssuerInvalid, "issuer mismatch")
	}
	return nil, errcode.New(errcode.JWTInvalid, "malformed token")
}

func (b *stubBridge) Federate(ctx context.Context, token string) (*federation.Session, error) {
	claims, err := b.Authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	if b.federateErr != nil {
		return nil, b.federateErr
	}
	return &federation.Session{
		AccessToken: "minted." + claims.Subject,
		TokenType:   federation.TokenTypeBearer,
		ExpiresIn:   3600,
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
		User:        federation.SessionUser{ID: identity.MustMap(claims.Subject)},
	}, nil
}

type stubBootstrapper struct {
	installed bool
	err       error
}

func (b *stubBootstrapper) Install(ctx context.Context) (*schema.InstallResult, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.installed {
		return &schema.InstallResult{AlreadyInitialized: true}, nil
	}
	b.installed = true
	return &schema.InstallResult{Bootstrapped: true, Created: []string{"table:profiles"}}, nil
}

func (b *stubBootstrapper) Status(ctx context.Context) (*schema.ReadinessReport, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &schema.ReadinessReport{
		Ready:   b.installed,
		Tables:  map[string]schema.TableStatus{"profiles": {Exists: b.installed}},
		Indexes: map[string]bool{"projects_owner_id_idx": b.installed},
	}, nil
}

func newTestServer(t *testing.T, mutate ...func(*Config)) (*Server, *stubBridge, *stubBootstrapper) {
	t.Helper()
	bridge := &stubBridge{}
	boot := &stubBootstrapper{}
	config := Config{
		Federator:    bridge,
		Authorizer:   bridge,
		Bootstrapper: boot,
		Logger:       observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}),
	}
	for _, m := range mutate {
		m(&config)
	}
	return NewServer(config), bridge, boot
}

func post(t *testing.T, h http.Handler, path string, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestFederate_Success(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/federate", "/functions/v1/federate"} {
		t.Run(path, func(t *testing.T) {
			rec, resp := post(t, srv, path, `{"externalToken":"valid:user_test_123"}`)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, resp.Success)
			require.NotNil(t, resp.Session)
			assert.Equal(t, "minted.user_test_123", resp.Session.AccessToken)
			assert.Equal(t, identity.MustMap("user_test_123"), resp.Session.User.ID)
			assert.Empty(t, resp.Code)
		})
	}
}

func TestFederate_RefreshTokenIsExplicitNull(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/federate", strings.NewReader(`{"externalToken":"valid:u"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	session := raw["session"]
	require.Contains(t, session, "refresh_token")
	assert.Nil(t, session["refresh_token"])
}

func TestFederate_Failures(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*stubBridge)
		wantStatus int
		wantCode   errcode.Code
	}{
		{"malformed json", `{"externalToken":`, nil, http.StatusBadRequest, errcode.InvalidBody},
		{"empty body", ``, nil, http.StatusBadRequest, errcode.InvalidBody},
		{"missing token", `{}`, nil, http.StatusBadRequest, errcode.InvalidBody},
		{"blank token", `{"externalToken":"   "}`, nil, http.StatusBadRequest, errcode.InvalidBody},
		{"invalid token", `{"externalToken":"garbage"}`, nil, http.StatusUnauthorized, errcode.JWTInvalid},
		{"issuer mismatch reported as invalid", `{"externalToken":"wrong-issuer"}`, nil, http.StatusUnauthorized, errcode.JWTInvalid},
		{
			name: "provisioning failure",
			body: `{"externalToken":"valid:u"}`,
			setup: func(b *stubBridge) {
				b.federateErr = errcode.Wrap(errcode.UserCreateFailed, "failed to create user", errors.New("permission denied"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   errcode.UserCreateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, bridge, _ := newTestServer(t)
			if tt.setup != nil {
				tt.setup(bridge)
			}

			rec, resp := post(t, srv, "/federate", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Error)
			assert.Nil(t, resp.Session)
		})
	}
}

func TestFederate_IssuerMismatchIndistinguishable(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, a := post(t, srv, "/federate", `{"externalToken":"garbage"}`)
	_, b := post(t, srv, "/federate", `{"externalToken":"wrong-issuer"}`)
	assert.Equal(t, a, b)
}

func TestFederate_BodyTooLarge(t *testing.T) {
	srv, bridge, _ := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 32 })

	body := `{"externalToken":"valid:` + strings.Repeat("x", 64) + `"}`
	rec, resp := post(t, srv, "/federate", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errcode.InvalidBody, resp.Code)
	assert.Equal(t, 0, bridge.calls)
}

func TestEnvMissing(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *Config) {
		c.Federator = nil
		c.Bootstrapper = nil
		c.MissingFederation = []string{"RLSBRIDGE_JWT_SECRET"}
		c.MissingBootstrap = []string{"RLSBRIDGE_DATABASE_URL"}
	})

	rec, resp := post(t, srv, "/federate", `{"externalToken":"valid:u"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, errcode.EnvMissing, resp.Code)
	assert.Contains(t, resp.Error, "RLSBRIDGE_JWT_SECRET")

	for _, path := range []string{"/bootstrap", "/status"} {
		rec, resp = post(t, srv, path, `{"externalToken":"valid:u"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.Equal(t, errcode.EnvMissing, resp.Code, path)
		assert.Contains(t, resp.Error, "RLSBRIDGE_DATABASE_URL", path)
	}
}

func TestBootstrap(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, resp := post(t, srv, "/bootstrap", `{"externalToken":"valid:operator"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.True(t, resp.Bootstrapped)
	assert.False(t, resp.AlreadyInitialized)

	rec, resp = post(t, srv, "/bootstrap", `{"externalToken":"valid:operator"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Bootstrapped)
	assert.True(t, resp.AlreadyInitialized)
}

func TestBootstrap_RequiresVerifiedCaller(t *testing.T) {
	srv, _, boot := newTestServer(t)

	rec, resp := post(t, srv, "/bootstrap", `{"externalToken":"garbage"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, errcode.JWTInvalid, resp.Code)
	assert.False(t, boot.installed)
}

func TestBootstrap_FailureIsRedacted(t *testing.T) {
	srv, _, boot := newTestServer(t, func(c *Config) { c.Secrets = []string{"hunter2"} })
	boot.err = errcode.Wrap(errcode.BootstrapFailed, "failed to create table profiles",
		errors.New(`connect to postgres://admin:hunter2@db failed`))

	rec, resp := post(t, srv, "/bootstrap", `{"externalToken":"valid:operator"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, errcode.BootstrapFailed, resp.Code)
	assert.NotContains(t, resp.Error, "hunter2")
	assert.Contains(t, resp.Error, "failed to create table profiles")
}

func TestStatus(t *testing.T) {
	srv, _, boot := newTestServer(t)

	_, resp := post(t, srv, "/status", `{"externalToken":"valid:operator"}`)
	require.NotNil(t, resp.Status)
	assert.True(t, resp.Success)
	assert.False(t, resp.Status.Ready)

	boot.installed = true
	_, resp = post(t, srv, "/functions/v1/status", `{"externalToken":"valid:operator"}`)
	require.NotNil(t, resp.Status)
	assert.True(t, resp.Status.Ready)
}

func TestStatus_RPCMissing(t *testing.T) {
	srv, _, boot := newTestServer(t)
	boot.err = errcode.New(errcode.BootstrapRPCMissing, "public.rlsbridge_status() is not installed")

	rec, resp := post(t, srv, "/status", `{"externalToken":"valid:operator"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, errcode.BootstrapRPCMissing, resp.Code)
	assert.Nil(t, resp.Status)
}

func TestCORSPreflight(t *testing.T) {
	srv, bridge, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/federate", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "authorization")
	assert.Equal(t, 0, bridge.calls)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/federate", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit_RejectsBeforeVerification(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	limiter := middleware.NewRateLimiter(cache.NewMemoryStore(cache.DefaultConfig()), &middleware.RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	})
	srv, bridge, _ := newTestServer(t, func(c *Config) {
		c.RateLimiter = middleware.NewRateLimitMiddleware(limiter, metrics)
		c.Metrics = metrics
	})

	for i := 0; i < 2; i++ {
		rec, _ := post(t, srv, "/federate", `{"externalToken":"valid:u"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec, resp := post(t, srv, "/federate", `{"externalToken":"valid:u"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, errcode.RateLimited, resp.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, bridge.calls)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, _ := post(t, srv, "/federate", `{"externalToken":"valid:u"}`)
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestMetricsAndHealthRoutes(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	srv, _, _ := newTestServer(t, func(c *Config) {
		c.Metrics = metrics
		c.Registry = registry
		c.Health = observability.NewHealthChecker(nil, nil)
	})

	post(t, srv, "/federate", `{"externalToken":"valid:u"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rlsbridge_http_requests_total")

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
