package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/rlsbridge/pkg/auth"
	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/federation"
	"github.com/platinummonkey/rlsbridge/pkg/httputil"
	"github.com/platinummonkey/rlsbridge/pkg/middleware"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
	"github.com/platinummonkey/rlsbridge/pkg/schema"
)

// FunctionsPrefix is the path prefix used by edge-function style deployments
const FunctionsPrefix = "/functions/v1"

// Endpoint names
const (
	EndpointFederate  = "federate"
	EndpointBootstrap = "bootstrap"
	EndpointStatus    = "status"
)

// DefaultMaxBodyBytes bounds request bodies when Config.MaxBodyBytes is unset
const DefaultMaxBodyBytes = 64 * 1024

// Federator exchanges identity provider tokens for sessions
type Federator interface {
	Federate(ctx context.Context, externalToken string) (*federation.Session, error)
}

// Authorizer verifies the caller of a privileged endpoint
type Authorizer interface {
	Authorize(ctx context.Context, externalToken string) (*auth.VerifiedClaims, error)
}

// Config wires a Server. A nil Federator, Authorizer or Bootstrapper puts
// the endpoints that need it into env_missing mode.
type Config struct {
	Federator    Federator
	Authorizer   Authorizer
	Bootstrapper schema.Bootstrapper

	// MissingFederation and MissingBootstrap name the unset settings, for the env_missing message
	MissingFederation []string
	MissingBootstrap  []string

	RateLimiter  *middleware.RateLimitMiddleware
	CORS         httputil.CORSConfig
	MaxBodyBytes int64

	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Health   *observability.HealthChecker

	// Secrets are redacted from every error message
	Secrets []string
}

// Server serves the federation, bootstrap and status endpoints
type Server struct {
	config  Config
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(config.CORS.AllowedOrigins) == 0 {
		config.CORS = httputil.DefaultCORSConfig()
	}

	s := &Server{
		config: config,
		router: mux.NewRouter(),
	}
	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(config.Logger),
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(config.CORS),
	)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)

	if s.config.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.config.Metrics))
	}

	bridge := s.router.NewRoute().Subrouter()
	if s.config.RateLimiter != nil {
		bridge.Use(s.config.RateLimiter.Handler)
	}
	bridge.Use(httputil.MaxBytesMiddleware(s.config.MaxBodyBytes))

	endpoints := map[string]http.HandlerFunc{
		EndpointFederate:  s.federate,
		EndpointBootstrap: s.bootstrap,
		EndpointStatus:    s.status,
	}
	for name, handler := range endpoints {
		h := observability.InstrumentHandler(handler, "rlsbridge."+name)
		for _, path := range []string{"/" + name, FunctionsPrefix + "/" + name} {
			bridge.Handle(path, h).Methods(http.MethodPost, http.MethodOptions)
		}
	}

	if s.config.Health != nil {
		observability.RegisterHealthRoutes(s.router, s.config.Health)
	}
	if s.config.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.config.Registry)).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteFailure(w, errcode.MethodNotAllowed, r.Method+" is not supported")
}

func (s *Server) envMissing(w http.ResponseWriter, r *http.Request, missing []string) {
	observability.FromContext(r.Context()).
		WithField("missing", strings.Join(missing, ",")).
		Error("request refused, server configuration incomplete")
	message := "server configuration is incomplete"
	if len(missing) > 0 {
		message += ": " + strings.Join(missing, ", ") + " not set"
	}
	httputil.WriteFailure(w, errcode.EnvMissing, message)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errcode.CodeOf(err)
	entry := observability.FromContext(r.Context()).WithField("code", string(code))
	if code.HTTPStatus() >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	httputil.WriteError(w, err, s.config.Secrets...)
}
