package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/beastmode/internal/ir"
)

func massProvision() Workflow {
	return Workflow{
		ID:          "mass-provision",
		Name:        "Mass Provision",
		Description: "Provision tenants, orgs and users",
		Destructive: true,
		Inputs: map[string]Input{
			"tenants": {Description: "Number of tenants", Type: ir.InputNumber, Required: true},
			"orgs":    {Description: "Orgs per tenant", Type: ir.InputNumber, Required: true},
			"users":   {Description: "Users per org", Type: ir.InputNumber, Required: true},
			"prefix":  {Description: "Name prefix", Default: "user"},
		},
		Steps: []Step{{Name: "Provision", Run: "./provision.sh ${{ inputs.tenants }}"}},
	}
}

func TestCatalogLookup(t *testing.T) {
	c := New(massProvision(), Workflow{ID: "create-tenants"})

	w, ok := c.Get("mass-provision")
	require.True(t, ok)
	assert.Equal(t, ir.InputNumber, w.InputType("users"))
	assert.Equal(t, ir.InputType(""), w.InputType("prefix"))
	assert.Equal(t, []string{"orgs", "prefix", "tenants", "users"}, w.InputNames())

	assert.True(t, c.Has("create-tenants"))
	assert.False(t, c.Has("nope"))
	assert.Equal(t, []string{"create-tenants", "mass-provision"}, c.IDs())
	assert.Equal(t, 2, c.Len())
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	assert.False(t, c.Has("x"))
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.List())
}

func TestDefaultString(t *testing.T) {
	tests := []struct {
		in   any
		want string
		ok   bool
	}{
		{nil, "", false},
		{"repo", "repo", true},
		{false, "false", true},
		{7, "7", true},
		{float64(3), "3", true},
	}
	for _, tt := range tests {
		got, ok := Input{Default: tt.in}.DefaultString()
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.ok, ok)
	}
}

func TestGenerateWorkflowYAML(t *testing.T) {
	w := massProvision()
	out, err := GenerateWorkflowYAML(&w)
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "# Mass Provision\n# Provision tenants, orgs and users\n")

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(out, &parsed))
	assert.Equal(t, "Mass Provision", parsed["name"])

	on := parsed["on"].(map[string]any)
	inputs := on["workflow_dispatch"].(map[string]any)["inputs"].(map[string]any)
	assert.Len(t, inputs, 4)
	users := inputs["users"].(map[string]any)
	assert.Equal(t, "number", users["type"])
	assert.Equal(t, true, users["required"])
	assert.Equal(t, "user", inputs["prefix"].(map[string]any)["default"])

	job := parsed["jobs"].(map[string]any)["run"].(map[string]any)
	assert.Equal(t, "ubuntu-latest", job["runs-on"])

	assert.Equal(t, "mass-provision.yml", FileName(w.ID))
}

func TestGenerateWorkflowYAMLWithoutSteps(t *testing.T) {
	out, err := GenerateWorkflowYAML(&Workflow{ID: "noop", RunsOn: "self-hosted"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "actions/checkout@v4")
	assert.Contains(t, string(out), "runs-on: self-hosted")
}
