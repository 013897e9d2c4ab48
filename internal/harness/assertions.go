package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the dispatch log to help debug the failure.
type AssertionError struct {
	Type       string
	Expected   string
	Actual     string
	Dispatches []DispatchEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Dispatches) > 0 {
		fmt.Fprintf(&buf, "\nDispatches:\n")
		for _, d := range e.Dispatches {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", d.Seq, d.WorkflowID, formatInputs(d.Inputs))
		}
	}
	return buf.String()
}

// assertDispatched checks that some dispatch of the workflow carried the
// expected inputs (subset match; values compare as strings).
func assertDispatched(dispatches []DispatchEvent, a Assertion) error {
	for _, d := range dispatches {
		if d.WorkflowID == a.Workflow && matchInputs(d.Inputs, a.Inputs) {
			return nil
		}
	}
	return &AssertionError{
		Type:       AssertDispatched,
		Expected:   fmt.Sprintf("dispatch of %s with %s", a.Workflow, formatInputs(stringify(a.Inputs))),
		Actual:     "no matching dispatch",
		Dispatches: dispatches,
	}
}

// assertDispatchOrder checks that workflows were first dispatched in the
// given order. Other dispatches may come in between.
func assertDispatchOrder(dispatches []DispatchEvent, a Assertion) error {
	positions := make(map[string]int)
	for _, d := range dispatches {
		if positions[d.WorkflowID] == 0 {
			positions[d.WorkflowID] = d.Seq
		}
	}

	for _, wf := range a.Workflows {
		if positions[wf] == 0 {
			return &AssertionError{
				Type:       AssertDispatchOrder,
				Expected:   fmt.Sprintf("all workflows dispatched: %v", a.Workflows),
				Actual:     fmt.Sprintf("missing workflow: %s", wf),
				Dispatches: dispatches,
			}
		}
	}

	for i := 1; i < len(a.Workflows); i++ {
		prev, curr := a.Workflows[i-1], a.Workflows[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertDispatchOrder,
				Expected: fmt.Sprintf("workflows in order: %v", a.Workflows),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Dispatches: dispatches,
			}
		}
	}
	return nil
}

// assertDispatchCount counts calls that reached the backend, including
// failed ones. An empty workflow counts every call.
func assertDispatchCount(dispatches []DispatchEvent, a Assertion) error {
	count := 0
	for _, d := range dispatches {
		if a.Workflow == "" || d.WorkflowID == a.Workflow {
			count++
		}
	}
	if count == a.Count {
		return nil
	}

	what := "dispatches"
	if a.Workflow != "" {
		what = "dispatches of " + a.Workflow
	}
	return &AssertionError{
		Type:       AssertDispatchCount,
		Expected:   fmt.Sprintf("%d %s", a.Count, what),
		Actual:     fmt.Sprintf("%d %s", count, what),
		Dispatches: dispatches,
	}
}

func assertAuditCount(result *Result, a Assertion) error {
	if result.AuditCount == a.Count {
		return nil
	}
	return &AssertionError{
		Type:       AssertAuditCount,
		Expected:   fmt.Sprintf("%d audit records", a.Count),
		Actual:     fmt.Sprintf("%d audit records", result.AuditCount),
		Dispatches: result.Dispatches,
	}
}

func assertFinalState(result *Result, a Assertion) error {
	sid := a.Session
	if sid == "" {
		sid = defaultSession
	}
	got, ok := result.Sessions[sid]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("session %s", sid),
			Actual:   "session not found",
		}
	}
	if a.State != "" && a.State != got.State {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("session %s in state %s", sid, a.State),
			Actual:   fmt.Sprintf("state %s", got.State),
		}
	}
	if a.Topic != nil && *a.Topic != got.Topic {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("session %s in topic %q", sid, *a.Topic),
			Actual:   fmt.Sprintf("topic %q", got.Topic),
		}
	}
	return nil
}

// matchInputs checks that actual holds every expected input. Extra inputs
// in actual are ignored.
func matchInputs(actual map[string]string, expected map[string]any) bool {
	for k, v := range stringify(expected) {
		got, ok := actual[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// stringify renders YAML scalars the way inputs are sent to the backend.
func stringify(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func formatInputs(m map[string]string) string {
	if len(m) == 0 {
		return "(no inputs)"
	}
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ", ")
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertDispatched:
			err = assertDispatched(result.Dispatches, a)
		case AssertDispatchOrder:
			err = assertDispatchOrder(result.Dispatches, a)
		case AssertDispatchCount:
			err = assertDispatchCount(result.Dispatches, a)
		case AssertAuditCount:
			err = assertAuditCount(result, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
