// Package middleware provides the rate limiting middleware that guards the
// federation endpoints.
//
// Callers are keyed by address and counted in fixed windows held in a
// cache.Counter:
//
//	limiter := middleware.NewRateLimiter(store, middleware.DefaultRateLimitConfig())
//	router.Use(middleware.NewRateLimitMiddleware(limiter, metrics).Handler)
//
// Rejection happens before the body is read, so abusive retries never reach
// token verification. If the counter is unreachable requests are allowed.
package middleware
