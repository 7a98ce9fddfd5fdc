package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
	"github.com/platinummonkey/rlsbridge/pkg/storage/postgres"
)

// Mode selects how installation and status are carried out
type Mode string

const (
	// ModeRPC calls the privileged stored procedures
	ModeRPC Mode = "rpc"
	// ModeDirect issues catalog queries and DDL from this process
	ModeDirect Mode = "direct"
)

// ParseMode parses a bootstrap mode, defaulting to ModeRPC
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeRPC:
		return ModeRPC, nil
	case ModeDirect:
		return ModeDirect, nil
	}
	return "", fmt.Errorf("unknown bootstrap mode %q (want rpc or direct)", s)
}

// Bootstrapper installs the schema and reports readiness
type Bootstrapper interface {
	Install(ctx context.Context) (*InstallResult, error)
	Status(ctx context.Context) (*ReadinessReport, error)
}

// Direct runs the installer and introspector in process
type Direct struct {
	*Installer
	*Introspector
}

// NewDirect creates a Direct bootstrapper over catalog
func NewDirect(db *sql.DB, catalog *Catalog, metrics *observability.Metrics) *Direct {
	if catalog == nil {
		catalog = NewCatalog("", nil)
	}
	return &Direct{
		Installer:    NewInstaller(db, catalog).WithMetrics(metrics),
		Introspector: NewIntrospector(db, catalog),
	}
}

// Procedure names created by the embedded migrations
const (
	InstallProcedure = "public.rlsbridge_install"
	StatusProcedure  = "public.rlsbridge_status"
)

// RPC calls the install and status procedures
type RPC struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewRPC creates an RPC bootstrapper
func NewRPC(db *sql.DB, metrics *observability.Metrics) *RPC {
	return &RPC{db: db, metrics: metrics}
}

// Install calls rlsbridge_install()
func (r *RPC) Install(ctx context.Context) (*InstallResult, error) {
	var raw []byte
	if err := r.db.QueryRowContext(ctx, "SELECT "+InstallProcedure+"()").Scan(&raw); err != nil {
		r.record("failed")
		return nil, procedureError(errcode.BootstrapFailed, InstallProcedure, err)
	}

	var result InstallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		r.record("failed")
		return nil, errcode.Wrap(errcode.BootstrapFailed, "unexpected install result", err)
	}
	if !result.Bootstrapped {
		result.AlreadyInitialized = true
		r.record("already_initialized")
	} else {
		r.record("bootstrapped")
	}
	return &result, nil
}

// Status calls rlsbridge_status()
func (r *RPC) Status(ctx context.Context) (*ReadinessReport, error) {
	var raw []byte
	if err := r.db.QueryRowContext(ctx, "SELECT "+StatusProcedure+"()").Scan(&raw); err != nil {
		return nil, procedureError(errcode.StatusFailed, StatusProcedure, err)
	}

	var report ReadinessReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, errcode.Wrap(errcode.StatusFailed, "unexpected status result", err)
	}
	if report.Tables == nil {
		report.Tables = map[string]TableStatus{}
	}
	if report.Indexes == nil {
		report.Indexes = map[string]bool{}
	}
	return &report, nil
}

func (r *RPC) record(outcome string) {
	if r.metrics != nil {
		r.metrics.BootstrapTotal.WithLabelValues(outcome).Inc()
	}
}

// procedureError maps a missing procedure to BootstrapRPCMissing
func procedureError(code errcode.Code, name string, err error) error {
	if postgres.IsUndefinedFunction(err) || isMissingFunctionMessage(err) {
		return errcode.Wrap(errcode.BootstrapRPCMissing,
			fmt.Sprintf("%s() is not installed; run the setup command to apply migrations", name), err)
	}
	return errcode.Wrap(code, fmt.Sprintf("call to %s() failed", name), err)
}

func isMissingFunctionMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "function") && strings.Contains(msg, "does not exist")
}

// New returns the bootstrapper for mode
func New(mode Mode, db *sql.DB, metrics *observability.Metrics) Bootstrapper {
	if mode == ModeDirect {
		return NewDirect(db, nil, metrics)
	}
	return NewRPC(db, metrics)
}
