package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Federation metrics
	FederationTotal      *prometheus.CounterVec
	FederationStageTime  *prometheus.HistogramVec
	TokenCacheTotal      *prometheus.CounterVec
	UsersProvisioned     *prometheus.CounterVec
	RateLimitedTotal     *prometheus.CounterVec
	RateLimitErrorsTotal prometheus.Counter

	// Installer metrics
	SchemaObjectsCreated *prometheus.CounterVec
	BootstrapTotal       *prometheus.CounterVec

	// Diagnostics metrics
	ProbeDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlsbridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlsbridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		FederationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlsbridge_federation_total",
				Help: "Federation attempts by outcome code",
			},
			[]string{"code"},
		),
		FederationStageTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlsbridge_federation_stage_duration_seconds",
				Help:    "Time spent in each federation stage",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
			},
			[]string{"stage"},
		),
		TokenCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlsbridge_token_cache_total",
				Help: "Minted token cache lookups",
			},
			[]string{"result"},
		),
		UsersProvisioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlsbridge_users_provisioned_total",
				Help: "User provisioning results",
			},
			[]string{"result"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlsbridge_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		RateLimitErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rlsbridge_rate_limit_errors_total",
				Help: "Rate limit counter failures (requests allowed)",
			},
		),

		SchemaObjectsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlsbridge_schema_objects_created_total",
				Help: "Database objects created by the installer",
			},
			[]string{"kind"},
		),
		BootstrapTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlsbridge_bootstrap_total",
				Help: "Bootstrap runs by outcome",
			},
			[]string{"outcome"},
		),

		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlsbridge_probe_duration_seconds",
				Help:    "Diagnostic probe latency",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3},
			},
			[]string{"probe", "kind"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FederationTotal,
		m.FederationStageTime,
		m.TokenCacheTotal,
		m.UsersProvisioned,
		m.RateLimitedTotal,
		m.RateLimitErrorsTotal,
		m.SchemaObjectsCreated,
		m.BootstrapTotal,
		m.ProbeDuration,
	)

	return m
}

// ObserveStage records the duration of a federation stage started at start
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.FederationStageTime.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Routes are labelled by their template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
