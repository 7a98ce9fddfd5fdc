package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/rlsbridge/pkg/config"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
)

// Version is reported by the health endpoint and the version command
var Version = "dev"

// ExitError ends the process with Code without printing anything further.
// Commands return it after they have already written their own output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	envFile  string
	logLevel string
}

// NewRootCommand creates the rlsbridge command tree
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "rlsbridge",
		Short: "Identity federation bridge for row level security",
		Long: `rlsbridge exchanges identity provider tokens for platform tokens whose
subject is a stable UUID derived from the provider subject, and installs the
owner-scoped tables and row level security policies those tokens unlock.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Optional dotenv file; process environment takes precedence")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override RLSBRIDGE_LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newSetupCommand(flags))
	root.AddCommand(newValidateCommand(flags))
	root.AddCommand(newHealthCommand(flags))
	root.AddCommand(newMapCommand())
	root.AddCommand(newVersionCommand())

	return root
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err, root.ErrOrStderr()))
	}
}

// exitCode reports err and returns the process exit status for it
func exitCode(err error, stderr io.Writer) int {
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

// load reads configuration and builds a logger that redacts its secrets
func (f *globalFlags) load(cmd *cobra.Command) (*config.Config, *observability.Logger, error) {
	cfg, err := config.Load(config.Options{EnvFile: f.envFile})
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Observability.LogLevel
	if f.logLevel != "" {
		level = observability.ParseLogLevel(f.logLevel)
	}
	logger := observability.NewLogger(level, cmd.ErrOrStderr())
	logger.AddSecrets(cfg.Secrets()...)
	return cfg, logger, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
			return err
		},
	}
}
