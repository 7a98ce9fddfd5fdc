package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/rlsbridge/pkg/config"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
	"github.com/platinummonkey/rlsbridge/pkg/schema"
	"github.com/platinummonkey/rlsbridge/pkg/storage/postgres"
)

func newSetupCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Install the procedures, tables, triggers, indexes and policies",
		Long: `Apply the embedded migrations that create the install and status
procedures, then create every missing schema object. Safe to run repeatedly.
Exits 0 when the schema is ready afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("%s is not set", config.EnvDatabaseURL)
			}

			ready, err := setup(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if !ready {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

// setup migrates, installs and reports readiness
func setup(ctx context.Context, cfg *config.Config, logger *observability.Logger, out io.Writer) (bool, error) {
	fmt.Fprintln(out, "applying migrations...")
	if err := schema.MigrateUp(cfg.Database.URL); err != nil {
		return false, fmt.Errorf("migrations failed: %w", err)
	}

	conn := postgres.DefaultConnectionConfig(cfg.Database.URL)
	conn.Timeout = cfg.Database.Timeout
	db, err := postgres.Open(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx = observability.WithLogger(ctx, logger)
	installer := schema.NewDirect(db, schema.NewCatalog(cfg.Database.Schema, nil), nil)

	fmt.Fprintln(out, "installing schema objects...")
	result, err := installer.Install(ctx)
	if err != nil {
		return false, err
	}
	if result.Bootstrapped {
		fmt.Fprintf(out, "created %d objects:\n", len(result.Created))
		for _, name := range result.Created {
			fmt.Fprintf(out, "  %s\n", name)
		}
	} else {
		fmt.Fprintln(out, "already initialized")
	}

	report, err := installer.Status(ctx)
	if err != nil {
		return false, err
	}
	if !report.Ready {
		fmt.Fprintf(out, "not ready, missing: %s\n", strings.Join(report.Missing(), ", "))
		return false, nil
	}
	fmt.Fprintln(out, "ready: YES")
	return true, nil
}
