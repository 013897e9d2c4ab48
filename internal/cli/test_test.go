package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beastmode/internal/harness"
)

const scenariosDir = "../../testdata/scenarios"

func TestTestCommand_RunsScenarios(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, "test", scenariosDir, "--base", "../..")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ create_tenants")
	assert.Contains(t, out, "✓ deploy_confirmation")
	assert.Contains(t, out, "Test Summary: 5 passed, 0 failed, 5 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Filter(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, "--format", "json", "test", scenariosDir, "--base", "../..", "--filter", "deploy_*")
	require.NoError(t, err)

	var resp struct {
		Status string              `json:"status"`
		Data   harness.SuiteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "deploy_confirmation", resp.Data.Scenarios[0].Name)
}

// pingScenarios writes the ping definitions to their own directory, so
// they are not picked up as scenarios, and returns it with an empty
// scenarios directory.
func pingScenarios(t *testing.T) (base, dir string) {
	t.Helper()
	base, dir = t.TempDir(), t.TempDir()
	writeFile(t, base, "rules.yaml", pingSource)
	return base, dir
}

func TestTestCommand_Failure(t *testing.T) {
	isolate(t)
	base, dir := pingScenarios(t)
	writeFile(t, dir, "wrong_reply.yaml", `name: wrong_reply
definitions:
  - rules.yaml
turns:
  - say: ping db1
    expect:
      lines: ["Pinged db1."]
`)

	out, _, err := execute(t, "--format", "json", "test", dir, "--base", base)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommand_UpdateWritesGolden(t *testing.T) {
	isolate(t)
	base, dir := pingScenarios(t)
	writeFile(t, dir, "ping.yaml", `name: ping
definitions:
  - rules.yaml
turns:
  - say: ping db1
    expect:
      lines: ["Pinging db1."]
`)

	out, _, err := execute(t, "test", dir, "--base", base, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ ping (golden updated)")

	_, err = os.Stat(filepath.Join(dir, "golden", "ping.golden"))
	require.NoError(t, err)

	// A second run compares against the file it just wrote.
	out, _, err = execute(t, "test", dir, "--base", base)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ ping\n")
}

func TestTestCommand_MissingDirectory(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_NoScenarios(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}
