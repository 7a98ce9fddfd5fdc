package api

import (
	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/federation"
	"github.com/platinummonkey/rlsbridge/pkg/schema"
)

// TokenRequest is the body accepted by every bridge endpoint
type TokenRequest struct {
	ExternalToken string `json:"externalToken"`
}

// Response is the envelope returned by every bridge endpoint. Success
// selects which of the remaining fields are meaningful: on failure only
// Code and Error are set, on success at most one payload field is.
type Response struct {
	Success bool         `json:"success"`
	Code    errcode.Code `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`

	Session            *federation.Session     `json:"session,omitempty"`
	Bootstrapped       bool                    `json:"bootstrapped,omitempty"`
	AlreadyInitialized bool                    `json:"already_initialized,omitempty"`
	Status             *schema.ReadinessReport `json:"status,omitempty"`
}

// SessionResponse wraps a federated session
func SessionResponse(session *federation.Session) Response {
	return Response{Success: true, Session: session}
}

// InstallResponse reports the outcome of a bootstrap
func InstallResponse(result *schema.InstallResult) Response {
	if result.Bootstrapped {
		return Response{Success: true, Bootstrapped: true}
	}
	return Response{Success: true, AlreadyInitialized: true}
}

// StatusResponse wraps a readiness report
func StatusResponse(report *schema.ReadinessReport) Response {
	return Response{Success: true, Status: report}
}
