package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/platinummonkey/rlsbridge/pkg/errcode"
)

// TableStatus is the readiness of one owner-scoped table
type TableStatus struct {
	Exists         bool     `json:"exists" yaml:"exists"`
	RLSEnabled     bool     `json:"rls_enabled" yaml:"rls_enabled"`
	TriggerPresent bool     `json:"trigger_present" yaml:"trigger_present"`
	PolicyCount    int      `json:"policy_count" yaml:"policy_count"`
	Policies       []string `json:"policies" yaml:"policies"`
}

// ReadinessReport is a structural snapshot of the installation
type ReadinessReport struct {
	Ready   bool                   `json:"ready" yaml:"ready"`
	Tables  map[string]TableStatus `json:"tables" yaml:"tables"`
	Indexes map[string]bool        `json:"indexes" yaml:"indexes"`
}

// Missing lists what keeps the report from being ready
func (r *ReadinessReport) Missing() []string {
	var missing []string
	for name, t := range r.Tables {
		switch {
		case !t.Exists:
			missing = append(missing, "table "+name)
			continue
		case !t.RLSEnabled:
			missing = append(missing, "row level security on "+name)
		}
		if !t.TriggerPresent {
			missing = append(missing, "updated_at trigger on "+name)
		}
		if t.PolicyCount < MinPoliciesPerTable {
			missing = append(missing, fmt.Sprintf("policies on %s (%d of %d)", name, t.PolicyCount, MinPoliciesPerTable))
		}
	}
	for name, ok := range r.Indexes {
		if !ok {
			missing = append(missing, "index "+name)
		}
	}
	sort.Strings(missing)
	return missing
}

func (r *ReadinessReport) computeReady() {
	r.Ready = len(r.Tables) > 0 && len(r.Missing()) == 0
}

// Introspector reads catalog metadata. It performs no writes.
type Introspector struct {
	db      *sql.DB
	catalog *Catalog
}

// NewIntrospector creates an introspector for catalog
func NewIntrospector(db *sql.DB, catalog *Catalog) *Introspector {
	if catalog == nil {
		catalog = NewCatalog("", nil)
	}
	return &Introspector{db: db, catalog: catalog}
}

const (
	tableStateQuery = `
		SELECT c.relrowsecurity
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind = 'r'
	`
	triggerQuery = `
		SELECT EXISTS (
			SELECT 1 FROM pg_trigger tg
			JOIN pg_class c ON c.oid = tg.tgrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relname = $2 AND tg.tgname = $3 AND NOT tg.tgisinternal
		)
	`
	policiesQuery = `
		SELECT policyname FROM pg_policies
		WHERE schemaname = $1 AND tablename = $2
		ORDER BY policyname
	`
	indexQuery = `
		SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = $1 AND indexname = $2)
	`
)

// Status inspects every table and index in the catalog
func (i *Introspector) Status(ctx context.Context) (*ReadinessReport, error) {
	report := &ReadinessReport{
		Tables:  make(map[string]TableStatus, len(i.catalog.Tables)),
		Indexes: make(map[string]bool),
	}

	for _, t := range i.catalog.Tables {
		status, err := i.tableStatus(ctx, t)
		if err != nil {
			return nil, errcode.Wrap(errcode.StatusFailed, "failed to inspect table "+t.Name, err)
		}
		report.Tables[t.Name] = status

		for _, idx := range t.Indexes {
			var present bool
			if err := i.db.QueryRowContext(ctx, indexQuery, i.catalog.Schema, idx).Scan(&present); err != nil {
				return nil, errcode.Wrap(errcode.StatusFailed, "failed to inspect index "+idx, err)
			}
			report.Indexes[idx] = present
		}
	}

	report.computeReady()
	return report, nil
}

func (i *Introspector) tableStatus(ctx context.Context, t TableSpec) (TableStatus, error) {
	status := TableStatus{Policies: []string{}}

	err := i.db.QueryRowContext(ctx, tableStateQuery, i.catalog.Schema, t.Name).Scan(&status.RLSEnabled)
	if err == sql.ErrNoRows {
		return status, nil
	}
	if err != nil {
		return status, err
	}
	status.Exists = true

	if err := i.db.QueryRowContext(ctx, triggerQuery, i.catalog.Schema, t.Name, t.Trigger()).Scan(&status.TriggerPresent); err != nil {
		return status, err
	}

	rows, err := i.db.QueryContext(ctx, policiesQuery, i.catalog.Schema, t.Name)
	if err != nil {
		return status, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return status, err
		}
		status.Policies = append(status.Policies, name)
	}
	if err := rows.Err(); err != nil {
		return status, err
	}
	status.PolicyCount = len(status.Policies)

	return status, nil
}
