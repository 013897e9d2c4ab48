package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// definitionsDir is the repository's example definitions.
var definitionsDir = filepath.Join("..", "..", "definitions")

// isolate points configuration at a fresh data directory and the example
// definitions, with no repository and no hosted model configured.
// Returns the data directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	data := filepath.Join(home, "data")

	abs, err := filepath.Abs(definitionsDir)
	require.NoError(t, err)

	t.Setenv("HOME", home)
	t.Setenv("BEASTMODE_DATA_DIR", data)
	t.Setenv("BEASTMODE_DEFINITIONS_DIR", abs)
	t.Setenv("BEASTMODE_GITHUB_OWNER", "")
	t.Setenv("BEASTMODE_GITHUB_REPO", "")
	t.Setenv("BEASTMODE_LLM_REMOTE_API_KEY", "")
	t.Setenv("BEASTMODE_METRICS_ADDR", "")
	return data
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// writeFile writes content to dir/name and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
