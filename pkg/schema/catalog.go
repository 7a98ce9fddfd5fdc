package schema

import (
	"fmt"

	"github.com/lib/pq"
)

// Kind is the type of a database object managed by the installer
type Kind string

const (
	KindRole     Kind = "role"
	KindSchema   Kind = "schema"
	KindFunction Kind = "function"
	KindGrant    Kind = "grant"
	KindTable    Kind = "table"
	KindIndex    Kind = "index"
	KindTrigger  Kind = "trigger"
	KindRLS      Kind = "rls"
	KindPolicy   Kind = "policy"
)

const (
	// AuthenticatedRole is the role minted tokens run as
	AuthenticatedRole = "authenticated"
	// ServiceRole is the privileged role allowed to run the bootstrap procedures
	ServiceRole = "service_role"
	// UpdatedAtFunction maintains updated_at columns
	UpdatedAtFunction = "rlsbridge_set_updated_at"
	// MinPoliciesPerTable is the number of per-operation policies each table needs
	MinPoliciesPerTable = 4
)

// Object is a single database object with an existence probe and a create statement
type Object struct {
	Kind  Kind
	Name  string
	Table string
	// Exists is a read-only query returning one boolean
	Exists     string
	ExistsArgs []interface{}
	Create     string
}

// TableSpec describes an owner-scoped table
type TableSpec struct {
	Name string
	// OwnerColumn is compared against auth.uid() by every policy
	OwnerColumn string
	Columns     string
	Indexes     []string
}

// Trigger returns the name of the updated_at trigger on the table
func (t TableSpec) Trigger() string {
	return t.Name + "_set_updated_at"
}

// Policies returns the names of the four per-operation policies
func (t TableSpec) Policies() []string {
	return []string{
		t.Name + "_select_own",
		t.Name + "_insert_own",
		t.Name + "_update_own",
		t.Name + "_delete_own",
	}
}

// DefaultTables are the tables installed for client applications
var DefaultTables = []TableSpec{
	{
		Name:        "profiles",
		OwnerColumn: "id",
		Columns: `id uuid PRIMARY KEY DEFAULT auth.uid(),
	email text,
	display_name text,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()`,
	},
	{
		Name:        "projects",
		OwnerColumn: "owner_id",
		Columns: `id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	owner_id uuid NOT NULL DEFAULT auth.uid(),
	name text NOT NULL,
	description text,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()`,
		Indexes: []string{"projects_owner_id_idx"},
	},
}

// Catalog is the ordered set of objects that make up an installation
type Catalog struct {
	Schema  string
	Tables  []TableSpec
	Objects []Object
}

// NewCatalog builds the catalog for tables in schema. Objects are ordered so
// each one only depends on objects before it.
func NewCatalog(schema string, tables []TableSpec) *Catalog {
	if schema == "" {
		schema = "public"
	}
	if tables == nil {
		tables = DefaultTables
	}

	c := &Catalog{Schema: schema, Tables: tables}
	s := pq.QuoteIdentifier(schema)

	for _, role := range []string{AuthenticatedRole, ServiceRole} {
		c.add(Object{
			Kind:       KindRole,
			Name:       role,
			Exists:     `SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`,
			ExistsArgs: []interface{}{role},
			Create:     fmt.Sprintf(`CREATE ROLE %s NOLOGIN`, pq.QuoteIdentifier(role)),
		})
	}

	c.add(Object{
		Kind:       KindSchema,
		Name:       "auth",
		Exists:     `SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`,
		ExistsArgs: []interface{}{"auth"},
		Create:     `CREATE SCHEMA IF NOT EXISTS auth`,
	})

	// The platform normally provides auth.uid(); this is only created where it is missing
	c.add(Object{
		Kind:       KindFunction,
		Name:       "auth.uid",
		Exists:     functionExists,
		ExistsArgs: []interface{}{"auth", "uid"},
		Create: `CREATE FUNCTION auth.uid() RETURNS uuid
	LANGUAGE sql STABLE
	AS $$
		SELECT nullif(current_setting('request.jwt.claims', true)::jsonb ->> 'sub', '')::uuid
	$$`,
	})

	c.add(Object{
		Kind:       KindGrant,
		Name:       "auth usage",
		Exists:     `SELECT has_schema_privilege($1, 'auth', 'USAGE')`,
		ExistsArgs: []interface{}{AuthenticatedRole},
		Create:     fmt.Sprintf(`GRANT USAGE ON SCHEMA auth TO %s`, pq.QuoteIdentifier(AuthenticatedRole)),
	})

	c.add(Object{
		Kind:       KindFunction,
		Name:       schema + "." + UpdatedAtFunction,
		Exists:     functionExists,
		ExistsArgs: []interface{}{schema, UpdatedAtFunction},
		Create: fmt.Sprintf(`CREATE FUNCTION %s.%s() RETURNS trigger
	LANGUAGE plpgsql
	AS $$
	BEGIN
		NEW.updated_at = now();
		RETURN NEW;
	END
	$$`, s, pq.QuoteIdentifier(UpdatedAtFunction)),
	})

	for _, t := range tables {
		c.addTable(t)
	}

	return c
}

const functionExists = `SELECT EXISTS (
	SELECT 1 FROM pg_proc p
	JOIN pg_namespace n ON n.oid = p.pronamespace
	WHERE n.nspname = $1 AND p.proname = $2
)`

const tableExists = `SELECT EXISTS (
	SELECT 1 FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind = 'r'
)`

func (c *Catalog) add(o Object) {
	c.Objects = append(c.Objects, o)
}

func (c *Catalog) addTable(t TableSpec) {
	s := pq.QuoteIdentifier(c.Schema)
	table := s + "." + pq.QuoteIdentifier(t.Name)
	owner := pq.QuoteIdentifier(t.OwnerColumn)
	authenticated := pq.QuoteIdentifier(AuthenticatedRole)

	c.add(Object{
		Kind:       KindTable,
		Name:       t.Name,
		Table:      t.Name,
		Exists:     tableExists,
		ExistsArgs: []interface{}{c.Schema, t.Name},
		Create:     fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, t.Columns),
	})

	for _, idx := range t.Indexes {
		c.add(Object{
			Kind:       KindIndex,
			Name:       idx,
			Table:      t.Name,
			Exists:     `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = $1 AND indexname = $2)`,
			ExistsArgs: []interface{}{c.Schema, idx},
			Create:     fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`, pq.QuoteIdentifier(idx), table, owner),
		})
	}

	c.add(Object{
		Kind:  KindTrigger,
		Name:  t.Trigger(),
		Table: t.Name,
		Exists: `SELECT EXISTS (
	SELECT 1 FROM pg_trigger tg
	JOIN pg_class c ON c.oid = tg.tgrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2 AND tg.tgname = $3 AND NOT tg.tgisinternal
)`,
		ExistsArgs: []interface{}{c.Schema, t.Name, t.Trigger()},
		Create: fmt.Sprintf(`CREATE TRIGGER %s BEFORE UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION %s.%s()`,
			pq.QuoteIdentifier(t.Trigger()), table, s, pq.QuoteIdentifier(UpdatedAtFunction)),
	})

	c.add(Object{
		Kind:  KindGrant,
		Name:  t.Name + " privileges",
		Table: t.Name,
		Exists: `SELECT has_table_privilege($1, $2, 'SELECT') AND has_table_privilege($1, $2, 'INSERT')
	AND has_table_privilege($1, $2, 'UPDATE') AND has_table_privilege($1, $2, 'DELETE')`,
		ExistsArgs: []interface{}{AuthenticatedRole, c.Schema + "." + t.Name},
		Create:     fmt.Sprintf(`GRANT SELECT, INSERT, UPDATE, DELETE ON %s TO %s`, table, authenticated),
	})

	c.add(Object{
		Kind:  KindRLS,
		Name:  t.Name + " row level security",
		Table: t.Name,
		Exists: `SELECT COALESCE((
	SELECT c.relrowsecurity FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2
), false)`,
		ExistsArgs: []interface{}{c.Schema, t.Name},
		Create:     fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, table),
	})

	names := t.Policies()
	predicate := fmt.Sprintf("%s = auth.uid()", owner)
	clauses := []string{
		fmt.Sprintf("FOR SELECT TO %s USING (%s)", authenticated, predicate),
		fmt.Sprintf("FOR INSERT TO %s WITH CHECK (%s)", authenticated, predicate),
		fmt.Sprintf("FOR UPDATE TO %s USING (%s) WITH CHECK (%s)", authenticated, predicate, predicate),
		fmt.Sprintf("FOR DELETE TO %s USING (%s)", authenticated, predicate),
	}
	for i, name := range names {
		c.add(Object{
			Kind:       KindPolicy,
			Name:       name,
			Table:      t.Name,
			Exists:     `SELECT EXISTS (SELECT 1 FROM pg_policies WHERE schemaname = $1 AND tablename = $2 AND policyname = $3)`,
			ExistsArgs: []interface{}{c.Schema, t.Name, name},
			Create:     fmt.Sprintf(`CREATE POLICY %s ON %s %s`, pq.QuoteIdentifier(name), table, clauses[i]),
		})
	}
}

// Names returns "kind:name" for every object, in install order
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.Objects))
	for _, o := range c.Objects {
		out = append(out, string(o.Kind)+":"+o.Name)
	}
	return out
}
