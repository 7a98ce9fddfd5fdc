package provision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/rlsbridge/pkg/storage/postgres"
)

var (
	// ErrUserNotFound is returned by GetUser when no record has the id
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned by CreateUser when the id is already taken
	ErrUserExists = errors.New("user already exists")
)

// DefaultUsersTable is the platform's user table
const DefaultUsersTable = "auth.users"

// User is a record in the platform user table
type User struct {
	ID               uuid.UUID
	Aud              string
	Role             string
	Email            string
	EmailConfirmedAt *time.Time
	UserMetadata     map[string]interface{}
	AppMetadata      map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Directory looks up and creates user records
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	CreateUser(ctx context.Context, user *User) error
}

// PostgresDirectory stores users directly in the platform user table over a
// privileged connection.
type PostgresDirectory struct {
	db    *sql.DB
	table string
}

// NewPostgresDirectory creates a directory over db. An empty table uses DefaultUsersTable.
func NewPostgresDirectory(db *sql.DB, table string) *PostgresDirectory {
	if table == "" {
		table = DefaultUsersTable
	}
	return &PostgresDirectory{db: db, table: quoteQualified(table)}
}

// quoteQualified quotes each part of a possibly schema-qualified name
func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// GetUser fetches a user by id
func (d *PostgresDirectory) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := fmt.Sprintf(`
		SELECT id, COALESCE(aud, ''), COALESCE(role, ''), COALESCE(email, ''), email_confirmed_at,
			COALESCE(raw_user_meta_data, '{}'::jsonb), COALESCE(raw_app_meta_data, '{}'::jsonb),
			created_at, updated_at
		FROM %s
		WHERE id = $1
	`, d.table)

	var (
		user              User
		confirmedAt       sql.NullTime
		userMeta, appMeta []byte
	)
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Aud, &user.Role, &user.Email, &confirmedAt,
		&userMeta, &appMeta, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	if confirmedAt.Valid {
		user.EmailConfirmedAt = &confirmedAt.Time
	}
	if err := json.Unmarshal(userMeta, &user.UserMetadata); err != nil {
		return nil, fmt.Errorf("failed to decode user metadata: %w", err)
	}
	if err := json.Unmarshal(appMeta, &user.AppMetadata); err != nil {
		return nil, fmt.Errorf("failed to decode app metadata: %w", err)
	}

	return &user, nil
}

// CreateUser inserts user. A unique violation is reported as ErrUserExists.
func (d *PostgresDirectory) CreateUser(ctx context.Context, user *User) error {
	userMeta, err := json.Marshal(nonNil(user.UserMetadata))
	if err != nil {
		return fmt.Errorf("failed to encode user metadata: %w", err)
	}
	appMeta, err := json.Marshal(nonNil(user.AppMetadata))
	if err != nil {
		return fmt.Errorf("failed to encode app metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, aud, role, email, email_confirmed_at, raw_user_meta_data, raw_app_meta_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`, d.table)

	var confirmedAt interface{}
	if user.EmailConfirmedAt != nil {
		confirmedAt = *user.EmailConfirmedAt
	}

	err = d.db.QueryRowContext(ctx, query,
		user.ID, user.Aud, user.Role, user.Email, confirmedAt, userMeta, appMeta,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

func nonNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
