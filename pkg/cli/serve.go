package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/rlsbridge/pkg/api"
	"github.com/platinummonkey/rlsbridge/pkg/auth"
	"github.com/platinummonkey/rlsbridge/pkg/cache"
	"github.com/platinummonkey/rlsbridge/pkg/config"
	"github.com/platinummonkey/rlsbridge/pkg/federation"
	"github.com/platinummonkey/rlsbridge/pkg/httputil"
	"github.com/platinummonkey/rlsbridge/pkg/middleware"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
	"github.com/platinummonkey/rlsbridge/pkg/provision"
	"github.com/platinummonkey/rlsbridge/pkg/schema"
	"github.com/platinummonkey/rlsbridge/pkg/storage/postgres"
)

// jwksFetchTimeout bounds one key set download
const jwksFetchTimeout = 10 * time.Second

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the federate, bootstrap and status endpoints",
		Long: `Run the HTTP server. Endpoints whose settings are missing still answer,
with an env_missing error naming the unset variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	otelCfg := cfg.Observability.OTel
	otelCfg.ServiceVersion = Version
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	deps, err := buildServer(ctx, cfg, logger)
	if err != nil {
		_ = observability.ShutdownOTel(context.Background(), providers, logger)
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      deps.server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	for name, fn := range deps.closers {
		shutdown.RegisterShutdownFunc(name, fn)
	}
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":           httpServer.Addr,
			"federation":     len(deps.missingFederation) == 0,
			"bootstrap":      len(deps.missingBootstrap) == 0,
			"bootstrap_mode": string(cfg.Database.BootstrapMode),
			"cache":          cfg.Cache.Backend,
		}).Info("rlsbridge listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(ctx)
}

// serverDeps is the assembled server plus what must be released on shutdown
type serverDeps struct {
	server            *api.Server
	closers           map[string]observability.ShutdownFunc
	missingFederation []string
	missingBootstrap  []string
}

// buildServer wires every component the configuration allows. Components
// whose settings are missing are left nil so their endpoints answer
// env_missing instead of failing startup.
func buildServer(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*serverDeps, error) {
	deps := &serverDeps{
		closers:           map[string]observability.ShutdownFunc{},
		missingFederation: cfg.MissingForFederation(),
		missingBootstrap:  cfg.MissingForBootstrap(),
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	var db *sql.DB
	if cfg.Database.URL != "" {
		conn := postgres.DefaultConnectionConfig(cfg.Database.URL)
		conn.MaxConns = cfg.Database.MaxConns
		conn.Timeout = cfg.Database.Timeout
		var err error
		db, err = postgres.Open(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		deps.closers["database"] = func(context.Context) error { return db.Close() }
	}

	store, counter, redisClient, err := buildCache(ctx, cfg.Cache)
	if err != nil {
		deps.close(logger)
		return nil, err
	}
	if redisClient != nil {
		deps.closers["redis"] = func(context.Context) error { return redisClient.Close() }
	}

	limiter := middleware.NewRateLimiter(counter, &middleware.RateLimitConfig{
		RequestsPerWindow:     cfg.RateLimit.Requests,
		WindowDuration:        cfg.RateLimit.Window,
		TrustForwardedHeaders: cfg.RateLimit.TrustProxied,
		TrustedProxies:        cfg.RateLimit.TrustedProxies,
	})

	apiConfig := api.Config{
		MissingFederation: deps.missingFederation,
		MissingBootstrap:  deps.missingBootstrap,
		RateLimiter:       middleware.NewRateLimitMiddleware(limiter, metrics),
		CORS:              httputil.DefaultCORSConfig(),
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		Logger:            logger,
		Metrics:           metrics,
		Registry:          registry,
		Secrets:           cfg.Secrets(),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		apiConfig.CORS.AllowedOrigins = cfg.Server.CORSOrigins
	}

	jwksClient := observability.InstrumentedClient(jwksFetchTimeout)
	health := observability.NewHealthChecker(db, redisClient).WithVersion(Version)

	if cfg.Identity.Issuer != "" && cfg.Identity.Audience != "" {
		verifier, err := auth.NewJWKSVerifier(auth.VerifierConfig{
			Issuer:     cfg.Identity.Issuer,
			Audience:   cfg.Identity.Audience,
			JWKSURL:    cfg.Identity.JWKSURL,
			HTTPClient: jwksClient,
		})
		if err != nil {
			deps.close(logger)
			return nil, fmt.Errorf("failed to create token verifier: %w", err)
		}
		health = health.WithJWKS(verifier.JWKSURL(), jwksClient)

		var (
			provisioner federation.Provisioner
			minter      federation.Minter
			opts        = []federation.Option{federation.WithMetrics(metrics)}
		)
		if len(deps.missingFederation) == 0 {
			m, err := auth.NewMinter([]byte(cfg.Token.Secret),
				auth.WithIssuer(cfg.Token.Issuer),
				auth.WithLifetime(cfg.Token.Lifetime))
			if err != nil {
				deps.close(logger)
				return nil, fmt.Errorf("failed to create token minter: %w", err)
			}
			minter = m
			provisioner = provision.NewProvisioner(
				provision.NewPostgresDirectory(db, cfg.Database.UsersTable),
				provision.WithMetrics(metrics))
			if cfg.Token.CacheTTL > 0 {
				opts = append(opts, federation.WithTokenCache(auth.NewTokenCache(store, cfg.Token.CacheTTL)))
			}
		}

		service := federation.NewService(verifier, provisioner, minter, opts...)
		if len(deps.missingFederation) == 0 {
			apiConfig.Federator = service
		}
		if len(deps.missingBootstrap) == 0 {
			apiConfig.Authorizer = service
		}
	}

	if db != nil && len(deps.missingBootstrap) == 0 {
		apiConfig.Bootstrapper = newBootstrapper(cfg.Database, db, metrics)
	}
	apiConfig.Health = health

	for _, name := range deps.missingFederation {
		logger.WithField("variable", name).Warn("federation disabled: setting is missing")
	}
	for _, name := range deps.missingBootstrap {
		logger.WithField("variable", name).Warn("bootstrap disabled: setting is missing")
	}

	deps.server = api.NewServer(apiConfig)
	return deps, nil
}

func (d *serverDeps) close(logger *observability.Logger) {
	for name, fn := range d.closers {
		if err := fn(context.Background()); err != nil {
			logger.WithError(err).WithField("resource", name).Warn("failed to release resource")
		}
	}
	d.closers = map[string]observability.ShutdownFunc{}
}

// buildCache returns the token cache store and the rate limit counter for the
// configured backend
func buildCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, cache.Counter, *redis.Client, error) {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.Backend = cfg.Backend
	if cfg.MaxEntries > 0 {
		cacheConfig.MaxEntries = cfg.MaxEntries
	}

	switch cfg.Backend {
	case cache.BackendRedis:
		client, err := postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store := cache.NewRedisStore(client, cacheConfig)
		return store, store, client, nil
	default:
		store := cache.NewMemoryStore(cacheConfig)
		return store, store, nil, nil
	}
}

// newBootstrapper builds the installer for the configured mode. Direct mode
// honours the configured schema.
func newBootstrapper(cfg config.DatabaseConfig, db *sql.DB, metrics *observability.Metrics) schema.Bootstrapper {
	if cfg.BootstrapMode == schema.ModeDirect {
		return schema.NewDirect(db, schema.NewCatalog(cfg.Schema, nil), metrics)
	}
	return schema.New(cfg.BootstrapMode, db, metrics)
}
