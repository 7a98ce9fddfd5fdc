package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rlsbridge/pkg/cache"
	"github.com/platinummonkey/rlsbridge/pkg/contextkeys"
	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/httputil"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// TrustForwardedHeaders keys on X-Forwarded-For / X-Real-IP when set.
	// Only enable it behind proxies that append to X-Forwarded-For.
	TrustForwardedHeaders bool
	// TrustedProxies is the number of proxies in front of the server. The
	// caller is the hop that many entries from the right of X-Forwarded-For.
	TrustedProxies int
}

// DefaultRateLimitConfig returns default rate limit settings: 10 attempts per minute per address
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow:     10,
		WindowDuration:        time.Minute,
		TrustForwardedHeaders: false,
		TrustedProxies:        1,
	}
}

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetIn is the time until the current window ends
	ResetIn time.Duration
}

// RateLimiter is a fixed-window counter per key. The counter lives in a
// cache.Counter, so windows are process-local with the memory backend and
// shared across instances with Redis.
type RateLimiter struct {
	config  *RateLimitConfig
	counter cache.Counter
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(counter cache.Counter, config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{config: config, counter: counter}
}

// Allow counts a request for key. On a counter error the request is allowed
// and the error returned.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	d := Decision{Allowed: true, Limit: rl.config.RequestsPerWindow, Remaining: rl.config.RequestsPerWindow, ResetIn: rl.config.WindowDuration}

	count, ttl, err := rl.counter.Incr(ctx, key, rl.config.WindowDuration)
	if err != nil {
		return d, fmt.Errorf("rate limit counter: %w", err)
	}

	if ttl > 0 {
		d.ResetIn = ttl
	}
	d.Remaining = rl.config.RequestsPerWindow - int(count)
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.Allowed = count <= int64(rl.config.RequestsPerWindow)
	return d, nil
}

// trustedHops is the number of X-Forwarded-For entries appended by our own
// proxies, or 0 when forwarded headers are ignored
func (c *RateLimitConfig) trustedHops() int {
	if !c.TrustForwardedHeaders {
		return 0
	}
	if c.TrustedProxies < 1 {
		return 1
	}
	return c.TrustedProxies
}

// RateLimitMiddleware rejects callers that exceed the limit before the
// request body is read
type RateLimitMiddleware struct {
	limiter *RateLimiter
	metrics *observability.Metrics
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter *RateLimiter, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, metrics: metrics}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, m.limiter.config.trustedHops())
		ctx := contextkeys.WithClientIP(r.Context(), ip)
		r = r.WithContext(ctx)

		decision, err := m.limiter.Allow(ctx, "ip:"+ip)
		if err != nil {
			// Fail open: a counter outage must not take federation down with it
			observability.FromContext(ctx).WithError(err).Warn("rate limiter unavailable, allowing request")
			if m.metrics != nil {
				m.metrics.RateLimitErrorsTotal.Inc()
			}
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, decision)

		if !decision.Allowed {
			m.rateLimitExceeded(w, r, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(d.ResetIn).Unix()))
}

func (m *RateLimitMiddleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, d Decision) {
	retryAfter := int(d.ResetIn.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	if m.metrics != nil {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.metrics.RateLimitedTotal.WithLabelValues(route).Inc()
	}

	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	httputil.WriteFailure(w, errcode.RateLimited,
		fmt.Sprintf("too many requests, retry in %d seconds", retryAfter))
}

// ClientIP returns the caller address. With trustedProxies > 0 it is the
// X-Forwarded-For entry trustedProxies hops from the right, since entries to
// the left of it were supplied by the caller. X-Real-IP is used when no
// X-Forwarded-For is present. Otherwise, and when the chain is shorter than
// trustedProxies, the connection's remote host is used.
func ClientIP(r *http.Request, trustedProxies int) string {
	if trustedProxies > 0 {
		if forwarded := r.Header.Values("X-Forwarded-For"); len(forwarded) > 0 {
			var hops []string
			for _, line := range forwarded {
				for _, hop := range strings.Split(line, ",") {
					hops = append(hops, strings.TrimSpace(hop))
				}
			}
			if len(hops) >= trustedProxies {
				if hop := hops[len(hops)-trustedProxies]; hop != "" {
					return hop
				}
			}
			return remoteHost(r)
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
