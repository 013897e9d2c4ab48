package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func pingScenario(t *testing.T) *Scenario {
	t.Helper()
	return &Scenario{
		Name:        "ping",
		Description: "ping and reboot",
		Definitions: []string{writeDefinitions(t, t.TempDir())},
	}
}

func TestRun_Passes(t *testing.T) {
	s := pingScenario(t)
	s.Turns = []Turn{
		{Say: "hello", Expect: &Expect{Lines: []string{"Hi there."}, State: "idle", Dispatches: intp(0)}},
		{Say: "ping db1", Expect: &Expect{
			Lines:      []string{"Pinging db1.", "Dispatched ping (host=db1): https://ci.example/runs/1"},
			Dispatches: intp(1),
		}},
	}
	s.Assertions = []Assertion{
		{Type: AssertDispatched, Workflow: "ping", Inputs: map[string]any{"host": "db1"}},
		{Type: AssertDispatchCount, Count: 1},
		{Type: AssertAuditCount, Count: 1},
		{Type: AssertFinalState, State: "idle"},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Transcript, 2)
	assert.Equal(t, "s1", result.Transcript[0].Session)
	assert.Equal(t, []DispatchEvent{{Seq: 1, WorkflowID: "ping", Inputs: map[string]string{"host": "db1"}}}, result.Dispatches)
	assert.Equal(t, 1, result.AuditCount)
	assert.Equal(t, SessionState{State: "idle"}, result.Sessions["s1"])
}

func TestRun_ExpectFailuresAreReported(t *testing.T) {
	s := pingScenario(t)
	s.Turns = []Turn{
		{Say: "hello", Expect: &Expect{
			Lines:    []string{"Hello."},
			Contains: []string{"howdy"},
			State:    "in_flow",
		}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], `turns[0] "hello": lines`)
	assert.Contains(t, result.Errors[1], `does not contain "howdy"`)
	assert.Contains(t, result.Errors[2], "state: expected in_flow, got idle")
}

func TestRun_ConfirmationGate(t *testing.T) {
	s := pingScenario(t)
	s.Turns = []Turn{
		{Say: "reboot web2", Expect: &Expect{Confirm: "Reboot web2?", Dispatches: intp(0)}},
		{Say: "nope", Expect: &Expect{Lines: []string{"Okay, I won't run reboot."}}},
		{Say: "reboot web2"},
		{Say: "yes", Expect: &Expect{Dispatches: intp(1)}},
	}
	s.Assertions = []Assertion{
		{Type: AssertDispatchCount, Workflow: "reboot", Count: 1},
		{Type: AssertAuditCount, Count: 1},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ScriptedFailures(t *testing.T) {
	s := pingScenario(t)
	s.Failures = []string{FailureRejected}
	s.Turns = []Turn{
		{Say: "ping db1", Expect: &Expect{Contains: []string{"ping failed"}, Dispatches: intp(0)}},
		{Say: "ping db1", Expect: &Expect{Dispatches: intp(1)}},
	}
	s.Assertions = []Assertion{
		{Type: AssertDispatchCount, Workflow: "ping", Count: 2},
		{Type: AssertAuditCount, Count: 1},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SessionsAreIndependent(t *testing.T) {
	s := pingScenario(t)
	s.Turns = []Turn{
		{Say: "reboot web2"},
		{Say: "yes", Session: "other", Expect: &Expect{Dispatches: intp(0)}},
		{Say: "yes", Expect: &Expect{Dispatches: intp(1)}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Sessions, 2)
}

func TestRun_RejectedDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "bad.yaml", `
rules:
  - pattern: "PING"
    action:
      workflow: nowhere
`)
	s := &Scenario{Name: "bad", Description: "bad", Definitions: []string{path}, Turns: []Turn{{Say: "ping"}}}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definitions rejected")
}
