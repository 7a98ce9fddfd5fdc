package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// SQLSTATE codes the installer and provisioner react to
const (
	CodeUniqueViolation   = "23505"
	CodeDuplicateTable    = "42P07"
	CodeDuplicateObject   = "42710"
	CodeDuplicateSchema   = "42P06"
	CodeDuplicateFunction = "42723"
	CodeUndefinedFunction = "42883"
	CodeUndefinedTable    = "42P01"
	CodeInsufficientPriv  = "42501"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultConnectionConfig returns pool settings suited to short request-scoped queries
func DefaultConnectionConfig(url string) ConnectionConfig {
	return ConnectionConfig{
		URL:         url,
		MaxConns:    10,
		MinConns:    2,
		Timeout:     5 * time.Second,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

// Open connects to PostgreSQL, configures the pool, and verifies the connection
func Open(ctx context.Context, config ConnectionConfig) (*sql.DB, error) {
	if config.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// SQLState returns the SQLSTATE of a PostgreSQL error, or "" for other errors
func SQLState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation
func IsUniqueViolation(err error) bool {
	return SQLState(err) == CodeUniqueViolation
}

// IsAlreadyExists reports whether err means the object being created is
// already present. A unique violation on the catalog counts, since two
// concurrent CREATE statements can race on pg_type or pg_class.
func IsAlreadyExists(err error) bool {
	switch SQLState(err) {
	case CodeDuplicateTable, CodeDuplicateObject, CodeDuplicateSchema, CodeDuplicateFunction, CodeUniqueViolation:
		return true
	}
	return false
}

// IsUndefinedFunction reports whether err is a call to a missing function
func IsUndefinedFunction(err error) bool {
	return SQLState(err) == CodeUndefinedFunction
}
