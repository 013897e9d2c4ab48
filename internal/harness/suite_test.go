package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSuite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeDefinitions(t, dir)
	writeScenario(t, dir, "hello_one.yaml", `
name: hello_one
description: "say hello"
definitions: [ping.yaml]
turns:
  - say: hello
    expect:
      lines: ["Hi there."]
`)
	writeScenario(t, dir, "ping_two.yml", `
name: ping_two
description: "ping expecting the wrong reply"
definitions: [ping.yaml]
turns:
  - say: ping db1
    expect:
      lines: ["Pong."]
`)
	writeScenario(t, dir, "notes.txt", "not a scenario")
	return dir
}

func TestFindScenarios(t *testing.T) {
	dir := writeSuite(t)

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	// ping.yaml is a definitions file, not a scenario, but it has a YAML
	// extension; FindScenarios does not look inside files.
	assert.Equal(t, []string{
		filepath.Join(dir, "hello_one.yaml"),
		filepath.Join(dir, "ping.yaml"),
		filepath.Join(dir, "ping_two.yml"),
	}, files)

	files, err = FindScenarios(dir, "hello*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "hello_one.yaml")}, files)

	_, err = FindScenarios(dir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestRunSuite_ReportsEachScenario(t *testing.T) {
	dir := writeSuite(t)

	res, err := RunSuite(dir, SuiteOptions{Filter: "*_*"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Passed)
	assert.Equal(t, 1, res.Failed)

	require.Len(t, res.Scenarios, 2)
	assert.Equal(t, "hello_one", res.Scenarios[0].Name)
	assert.True(t, res.Scenarios[0].Pass)
	assert.Equal(t, "ping_two", res.Scenarios[1].Name)
	assert.False(t, res.Scenarios[1].Pass)
	require.NotEmpty(t, res.Scenarios[1].Errors)
	assert.Contains(t, res.Scenarios[1].Errors[0], "lines")
}

func TestRunFile_LoadError(t *testing.T) {
	dir := writeSuite(t)

	sr := RunFile(filepath.Join(dir, "ping.yaml"), SuiteOptions{})
	assert.False(t, sr.Pass)
	assert.Equal(t, "ping.yaml", sr.Name)
	require.Len(t, sr.Errors, 1)
	assert.Contains(t, sr.Errors[0], "failed to load scenario")
}

func TestRunFile_Golden(t *testing.T) {
	dir := writeSuite(t)
	path := filepath.Join(dir, "hello_one.yaml")

	sr := RunFile(path, SuiteOptions{Update: true})
	require.True(t, sr.Pass, "errors: %v", sr.Errors)

	golden, err := os.ReadFile(GoldenPath(path))
	require.NoError(t, err)
	assert.Contains(t, string(golden), "< Hi there.")

	sr = RunFile(path, SuiteOptions{})
	assert.True(t, sr.Pass, "errors: %v", sr.Errors)

	require.NoError(t, os.WriteFile(GoldenPath(path), []byte("stale"), 0o644))
	sr = RunFile(path, SuiteOptions{})
	assert.False(t, sr.Pass)
	assert.Contains(t, sr.Errors, "transcript does not match golden file (run with --update to regenerate)")
}

func TestGoldenPath(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b", "golden", "c.golden"), GoldenPath(filepath.Join("a", "b", "c.yaml")))
}
