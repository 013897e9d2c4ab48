package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Transcript renders a result as plain text for golden comparison:
// every turn with its reply and resulting state, then the dispatch log.
func Transcript(name string, r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)

	for _, ex := range r.Transcript {
		b.WriteString("\n")
		if ex.Session != defaultSession {
			fmt.Fprintf(&b, "> [%s] %s\n", ex.Session, ex.Input)
		} else {
			fmt.Fprintf(&b, "> %s\n", ex.Input)
		}
		for _, l := range ex.Lines {
			fmt.Fprintf(&b, "< %s\n", l)
		}
		for _, c := range ex.Choices {
			fmt.Fprintf(&b, "< %s\n", c)
		}
		if ex.Confirm != "" {
			fmt.Fprintf(&b, "< ? %s\n", ex.Confirm)
		}
		if ex.Topic != "" {
			fmt.Fprintf(&b, "  [%s topic=%s]\n", ex.State, ex.Topic)
		} else {
			fmt.Fprintf(&b, "  [%s]\n", ex.State)
		}
	}

	b.WriteString("\ndispatches:\n")
	if len(r.Dispatches) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, d := range r.Dispatches {
		fmt.Fprintf(&b, "  %d. %s %s\n", d.Seq, d.WorkflowID, formatInputs(d.Inputs))
	}
	fmt.Fprintf(&b, "audit records: %d\n", r.AuditCount)
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its transcript against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass; a transcript
// mismatch fails t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the transcript of an existing result against a
// golden file without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Transcript(name, result))
}
