package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog_Defaults(t *testing.T) {
	c := NewCatalog("", nil)

	assert.Equal(t, "public", c.Schema)
	require.Len(t, c.Tables, 2)
	// 6 shared objects, 8 per table, plus the projects owner index
	assert.Len(t, c.Objects, 6+8+8+1)

	names := c.Names()
	assert.Equal(t, "role:authenticated", names[0])
	assert.Equal(t, "role:service_role", names[1])
	assert.Equal(t, "schema:auth", names[2])
	assert.Equal(t, "function:auth.uid", names[3])
	assert.Contains(t, names, "index:projects_owner_id_idx")
	assert.Contains(t, names, "trigger:profiles_set_updated_at")
	assert.Contains(t, names, "policy:projects_delete_own")
}

func TestNewCatalog_DependencyOrder(t *testing.T) {
	c := NewCatalog("", nil)
	pos := make(map[string]int)
	for i, name := range c.Names() {
		pos[name] = i
	}

	assert.Less(t, pos["function:public.rlsbridge_set_updated_at"], pos["trigger:profiles_set_updated_at"])
	assert.Less(t, pos["table:projects"], pos["index:projects_owner_id_idx"])
	assert.Less(t, pos["rls:projects row level security"], pos["policy:projects_select_own"])
	assert.Less(t, pos["function:auth.uid"], pos["table:profiles"])
}

func TestNewCatalog_Policies(t *testing.T) {
	c := NewCatalog("app", nil)

	var policies []Object
	for _, o := range c.Objects {
		if o.Kind == KindPolicy && o.Table == "projects" {
			policies = append(policies, o)
		}
	}
	require.Len(t, policies, MinPoliciesPerTable)

	for _, p := range policies {
		assert.Contains(t, p.Create, `ON "app"."projects"`)
		assert.Contains(t, p.Create, `TO "authenticated"`)
		assert.Contains(t, p.Create, `"owner_id" = auth.uid()`)
	}
	assert.Contains(t, policies[1].Create, "FOR INSERT")
	assert.Contains(t, policies[1].Create, "WITH CHECK")
	assert.NotContains(t, policies[1].Create, "USING")
}

func TestNewCatalog_NeverDestructive(t *testing.T) {
	for _, o := range NewCatalog("", nil).Objects {
		upper := strings.ToUpper(o.Create)
		assert.NotContains(t, upper, "DROP ", o.Name)
		assert.NotContains(t, upper, "TRUNCATE", o.Name)
		assert.NotContains(t, upper, "DELETE FROM", o.Name)
		assert.True(t, strings.HasPrefix(strings.TrimSpace(o.Exists), "SELECT"), o.Name)
	}
}

func TestTableSpec_Names(t *testing.T) {
	ts := TableSpec{Name: "profiles"}
	assert.Equal(t, "profiles_set_updated_at", ts.Trigger())
	assert.Equal(t, []string{
		"profiles_select_own", "profiles_insert_own", "profiles_update_own", "profiles_delete_own",
	}, ts.Policies())
}
