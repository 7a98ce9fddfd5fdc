// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Responses
//
// Failures share one shape, {success:false, code, error}, with the status
// derived from the code:
//
//	httputil.WriteFailure(w, errcode.InvalidBody, "externalToken is required")
//	httputil.WriteError(w, err, secret)
//
// # Request Parsing
//
//	var req FederateRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.CORSMiddleware(httputil.DefaultCORSConfig()),
//		httputil.MaxBytesMiddleware(64*1024),
//	)
//
// # Related Packages
//
//   - pkg/middleware: rate limiting
package httputil
