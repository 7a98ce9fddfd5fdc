// Package config loads rlsbridge configuration from the environment.
//
// # Overview
//
// Values come from process environment variables, optionally layered over a
// dotenv file. The process environment always wins. Configuration is read and
// validated once at startup; handlers never consult the environment.
//
// # Required Settings
//
// Federation needs the identity provider and the platform secret:
//
//	RLSBRIDGE_IDP_ISSUER="https://idp.example.com"
//	RLSBRIDGE_IDP_AUDIENCE="my-app"
//	RLSBRIDGE_JWT_SECRET="..."
//	RLSBRIDGE_DATABASE_URL="postgres://postgres@db:5432/postgres"
//
// When any of these are absent the server still starts, and the affected
// endpoints answer env_missing. Malformed values fail Load.
//
// # Optional Settings
//
//	RLSBRIDGE_PLATFORM_URL="https://abc.platform.example"
//	RLSBRIDGE_FUNCTIONS_URL=""          # defaults to PLATFORM_URL/functions/v1
//	RLSBRIDGE_JWKS_URL=""               # defaults to ISSUER/.well-known/jwks.json
//	RLSBRIDGE_BOOTSTRAP_MODE="rpc"      # rpc or direct
//	RLSBRIDGE_CACHE_BACKEND="memory"    # memory or redis
//	RLSBRIDGE_REDIS_URL="redis://localhost:6379/0"
//	RLSBRIDGE_RATE_LIMIT_REQUESTS="10"
//	RLSBRIDGE_RATE_LIMIT_WINDOW="60s"
//	RLSBRIDGE_PROBE_TIMEOUT="3s"
//	RLSBRIDGE_LOG_LEVEL="info"
//
// # Usage
//
//	cfg, err := config.Load(config.Options{EnvFile: ".env"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if missing := cfg.MissingForFederation(); len(missing) > 0 {
//		logger.Warnf("federation disabled, missing %v", missing)
//	}
package config
