package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
	"github.com/platinummonkey/rlsbridge/pkg/storage/postgres"
)

// InstallResult reports what an installation did
type InstallResult struct {
	Bootstrapped       bool     `json:"bootstrapped,omitempty"`
	AlreadyInitialized bool     `json:"already_initialized,omitempty"`
	Created            []string `json:"created,omitempty"`
}

// Installer creates missing catalog objects. It never drops or alters an
// existing object.
type Installer struct {
	db      *sql.DB
	catalog *Catalog
	metrics *observability.Metrics
}

// NewInstaller creates an installer for catalog over a privileged connection
func NewInstaller(db *sql.DB, catalog *Catalog) *Installer {
	if catalog == nil {
		catalog = NewCatalog("", nil)
	}
	return &Installer{db: db, catalog: catalog}
}

// WithMetrics records created objects and install outcomes
func (i *Installer) WithMetrics(m *observability.Metrics) *Installer {
	i.metrics = m
	return i
}

// Install checks each object in order and creates the ones that are absent.
//
// There is no lock across the check and the create. Two installers racing on
// the same object both attempt the create and the loser sees an "already
// exists" error, which counts as success.
func (i *Installer) Install(ctx context.Context) (*InstallResult, error) {
	logger := observability.FromContext(ctx)
	result := &InstallResult{}

	for _, obj := range i.catalog.Objects {
		exists, err := i.exists(ctx, obj)
		if err != nil {
			i.recordOutcome("failed")
			return nil, errcode.Wrap(errcode.BootstrapFailed,
				fmt.Sprintf("failed to inspect %s %s", obj.Kind, obj.Name), err)
		}
		if exists {
			continue
		}

		if _, err := i.db.ExecContext(ctx, obj.Create); err != nil {
			if postgres.IsAlreadyExists(err) {
				logger.WithFields(map[string]interface{}{
					"kind":   obj.Kind,
					"object": obj.Name,
				}).Debug("object created concurrently")
				continue
			}
			i.recordOutcome("failed")
			return nil, errcode.Wrap(errcode.BootstrapFailed,
				fmt.Sprintf("failed to create %s %s", obj.Kind, obj.Name), err)
		}

		result.Created = append(result.Created, string(obj.Kind)+":"+obj.Name)
		if i.metrics != nil {
			i.metrics.SchemaObjectsCreated.WithLabelValues(string(obj.Kind)).Inc()
		}
	}

	if len(result.Created) > 0 {
		result.Bootstrapped = true
		logger.WithField("created", len(result.Created)).Info("schema installed")
		i.recordOutcome("bootstrapped")
	} else {
		result.AlreadyInitialized = true
		i.recordOutcome("already_initialized")
	}

	return result, nil
}

func (i *Installer) exists(ctx context.Context, obj Object) (bool, error) {
	var exists sql.NullBool
	if err := i.db.QueryRowContext(ctx, obj.Exists, obj.ExistsArgs...).Scan(&exists); err != nil {
		return false, err
	}
	return exists.Valid && exists.Bool, nil
}

func (i *Installer) recordOutcome(outcome string) {
	if i.metrics != nil {
		i.metrics.BootstrapTotal.WithLabelValues(outcome).Inc()
	}
}
