// Package observability provides structured logging, Prometheus metrics,
// health checks, and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.AddSecrets(cfg.Token.Secret, cfg.Platform.ServiceRoleKey)
//	logger.WithField("user_id", id).Info("user provisioned")
//
// Request-scoped loggers carry the request id:
//
//	observability.FromContext(r.Context()).WithError(err).Warn("verification failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.FederationTotal.WithLabelValues("ok").Inc()
//	defer metrics.ObserveStage("mint", time.Now())
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient).WithJWKS(jwksURL, nil)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:  true,
//		Endpoint: "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
