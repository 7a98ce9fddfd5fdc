// Package api serves the rlsbridge HTTP endpoints.
//
// # Overview
//
// Three endpoints accept a JSON body of the form {"externalToken": "..."}:
//
//	POST /federate    exchange an identity provider token for a platform session
//	POST /bootstrap   install the RLS schema (verified callers only)
//	POST /status      report schema readiness (verified callers only)
//
// Each is also mounted under /functions/v1/ so clients written against an
// edge-function layout work unchanged. OPTIONS on any path answers the CORS
// preflight with 204.
//
// # Responses
//
// Every response is a Response envelope:
//
//	{"success": true, "session": {"access_token": "...", "refresh_token": null, ...}}
//	{"success": true, "bootstrapped": true}
//	{"success": true, "already_initialized": true}
//	{"success": true, "status": {"ready": true, "tables": {...}, "indexes": {...}}}
//	{"success": false, "code": "jwt_invalid", "error": "invalid token"}
//
// The HTTP status follows the code. Verification failures are reported as
// jwt_invalid whichever check failed.
//
// # Degraded Mode
//
// A server started without the settings an endpoint needs still serves the
// others. The affected endpoints answer env_missing naming the unset
// variables, never their values.
//
// # Middleware
//
// Requests pass through request id, logging, panic recovery and CORS. The
// bridge endpoints additionally pass the per-address rate limiter before any
// body is read or token verified.
package api
