package schema

import (
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationFS holds the install and status procedures
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

// MigrationsTable keeps our version history apart from the application's own
const MigrationsTable = "rlsbridge_schema_migrations"

// ErrNoChange is returned by migrate when already at the target version
var ErrNoChange = migrate.ErrNoChange

// MigrateUp applies the embedded migrations. Being at the latest version is not an error.
func MigrateUp(dsn string) error {
	return runMigrations(dsn, "up")
}

// MigrateDown removes the procedures. Tables and data are kept.
func MigrateDown(dsn string) error {
	return runMigrations(dsn, "down")
}

func runMigrations(dsn string, direction string) error {
	if dsn == "" {
		return errors.New("database URL is not set")
	}

	dsn, err := withMigrationsTable(dsn)
	if err != nil {
		return err
	}

	sourceDriver, err := iofs.New(MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func withMigrationsTable(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		// the parse error echoes the URL, credentials included
		return "", errors.New("invalid database URL")
	}
	q := u.Query()
	if q.Get("x-migrations-table") == "" {
		q.Set("x-migrations-table", MigrationsTable)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
