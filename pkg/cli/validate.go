package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/rlsbridge/pkg/config"
	"github.com/platinummonkey/rlsbridge/pkg/diagnostics"
	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
	"github.com/platinummonkey/rlsbridge/pkg/schema"
	"github.com/platinummonkey/rlsbridge/pkg/storage/postgres"
)

// ProbeMigrate names the fix that applies migrations and installs directly
const ProbeMigrate = "migrate"

func newValidateCommand(flags *globalFlags) *cobra.Command {
	var (
		fix    bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the live deployment end to end",
		Long: `Probe the platform host, the federation endpoint, the status endpoint and
a live federate-then-query round trip, stopping at the first failing layer.
With --fix, missing procedures and schema objects are installed and the
checks are repeated. Exits 0 only when the deployment is ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if missing := cfg.MissingForDiagnostics(); len(missing) > 0 {
				return fmt.Errorf("missing settings: %s", strings.Join(missing, ", "))
			}

			orchestrator := newOrchestrator(cfg, logger)
			var report *diagnostics.Report
			if fix {
				report = orchestrator.AutoFix(cmd.Context())
			} else {
				report = orchestrator.Run(cmd.Context())
			}

			if err := report.Render(cmd.OutOrStdout(), output); err != nil {
				return err
			}
			if !report.Ready {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "Install missing procedures and schema objects, then check again")
	cmd.Flags().StringVarP(&output, "output", "o", diagnostics.FormatText, "Output format: text, json or yaml")

	return cmd
}

func newHealthCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print host, bridge and ready lines",
		Long: `Run the same checks as validate and print one line each for the host,
the bridge and overall readiness. Exits 0 only when all three pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			report := newOrchestrator(cfg, logger).Run(cmd.Context())
			if err := writeHealth(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Healthy() {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

func writeHealth(w io.Writer, report *diagnostics.Report) error {
	for _, line := range report.HealthLines() {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func newOrchestrator(cfg *config.Config, logger *observability.Logger) *diagnostics.Orchestrator {
	var fixers []diagnostics.Fixer
	if cfg.Database.URL != "" {
		fixers = append(fixers, migrationFixer(cfg))
	}

	apiKey := cfg.Platform.ServiceRoleKey
	if apiKey == "" {
		apiKey = cfg.Platform.AnonKey
	}

	return diagnostics.New(diagnostics.Config{
		PlatformURL:    cfg.Platform.URL,
		FunctionsURL:   cfg.Platform.FunctionsURL,
		APIKey:         apiKey,
		TestToken:      cfg.Diagnostics.TestToken,
		ProbeTimeout:   cfg.Diagnostics.ProbeTimeout,
		MaxFixAttempts: cfg.Diagnostics.MaxFixAttempts,
		Logger:         logger,
	}, fixers...)
}

// migrationFixer applies the embedded migrations and installs schema objects
// over a direct database connection. It runs before the bootstrap endpoint,
// which cannot help when its procedures are missing.
func migrationFixer(cfg *config.Config) diagnostics.Fixer {
	return diagnostics.FixerFunc(func(ctx context.Context, state diagnostics.State) (diagnostics.ProbeResult, error) {
		result := diagnostics.ProbeResult{Name: ProbeMigrate, Kind: diagnostics.KindOK}
		secrets := cfg.Secrets()

		if err := schema.MigrateUp(cfg.Database.URL); err != nil {
			return fixFailed(result, diagnostics.KindInvalid, err, secrets), err
		}
		if state == diagnostics.StateRPCMissing {
			result.OK = true
			result.Detail = "procedures installed"
			return result, nil
		}

		conn := postgres.DefaultConnectionConfig(cfg.Database.URL)
		conn.Timeout = cfg.Database.Timeout
		db, err := postgres.Open(ctx, conn)
		if err != nil {
			return fixFailed(result, diagnostics.KindNetwork, err, secrets), err
		}
		defer db.Close()

		installed, err := schema.NewDirect(db, schema.NewCatalog(cfg.Database.Schema, nil), nil).Install(ctx)
		if err != nil {
			return fixFailed(result, diagnostics.KindInvalid, err, secrets), err
		}
		result.OK = true
		if installed.Bootstrapped {
			result.Detail = fmt.Sprintf("created %d objects", len(installed.Created))
		} else {
			result.Detail = "already initialized"
		}
		return result, nil
	})
}

// fixFailed records err on result with secrets and DSN credentials removed
func fixFailed(result diagnostics.ProbeResult, kind diagnostics.Kind, err error, secrets []string) diagnostics.ProbeResult {
	result.OK = false
	result.Kind = kind
	result.Detail = errcode.Redact(err.Error(), secrets...)
	return result
}
