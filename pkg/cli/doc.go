// Package cli provides the rlsbridge command-line interface.
//
// # Overview
//
// The rlsbridge binary runs the federation server and operates on a
// deployment: it installs the schema, checks a live deployment end to end
// and maps identity provider subjects to internal user ids.
//
// Configuration comes from RLSBRIDGE_* environment variables, optionally
// seeded from a dotenv file (--env-file, default .env). The process
// environment wins over the file.
//
// # Commands
//
// serve: Run the HTTP endpoints
//
//	rlsbridge serve
//
// setup: Apply migrations and install missing schema objects
//
//	RLSBRIDGE_DATABASE_URL=postgres://... rlsbridge setup
//
// validate: Layered live checks, optionally fixing what can be fixed
//
//	rlsbridge validate --fix --output yaml
//
// health: Three-line summary for probes and scripts
//
//	rlsbridge health
//	host: OK
//	bridge: OK
//	ready: YES
//
// map: Print the internal id for a subject
//
//	rlsbridge map user_2abc
//
// # Exit Codes
//
// setup, validate and health exit 0 only when the deployment is ready. Any
// other outcome, including configuration errors, exits 1.
package cli
