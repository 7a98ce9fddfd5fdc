package api

import (
	"net/http"

	"github.com/platinummonkey/rlsbridge/pkg/httputil"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
)

// federate handles POST /federate
func (s *Server) federate(w http.ResponseWriter, r *http.Request) {
	if s.config.Federator == nil {
		s.envMissing(w, r, s.config.MissingFederation)
		return
	}

	var req TokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.ExternalToken, "externalToken") {
		return
	}

	session, err := s.config.Federator.Federate(r.Context(), req.ExternalToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).
		WithField("user_id", session.User.ID.String()).
		WithField("cached", session.Cached).
		Info("session issued")
	httputil.WriteSuccess(w, SessionResponse(session))
}

// bootstrap handles POST /bootstrap
func (s *Server) bootstrap(w http.ResponseWriter, r *http.Request) {
	if s.config.Authorizer == nil || s.config.Bootstrapper == nil {
		s.envMissing(w, r, s.config.MissingBootstrap)
		return
	}

	var req TokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	claims, err := s.config.Authorizer.Authorize(r.Context(), req.ExternalToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.config.Bootstrapper.Install(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"subject":      claims.Subject,
		"bootstrapped": result.Bootstrapped,
		"created":      len(result.Created),
	}).Info("bootstrap completed")
	httputil.WriteSuccess(w, InstallResponse(result))
}

// status handles POST /status
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if s.config.Authorizer == nil || s.config.Bootstrapper == nil {
		s.envMissing(w, r, s.config.MissingBootstrap)
		return
	}

	var req TokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if _, err := s.config.Authorizer.Authorize(r.Context(), req.ExternalToken); err != nil {
		s.writeError(w, r, err)
		return
	}

	report, err := s.config.Bootstrapper.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, StatusResponse(report))
}
