package engine

import (
	"errors"
	"fmt"
)

// stepQuota bounds the automatic advance chain of one turn.
//
// Entering a node without choices follows its Next immediately. Load-time
// validation rejects graphs whose automatic edges form a cycle, but the
// registry may be replaced while sessions are inside a flow, so every
// chain is also checked at run time: a node may be entered once per chain,
// and a chain may not exceed maxSteps nodes.
type stepQuota struct {
	maxSteps int
	visited  map[string]bool
}

func newStepQuota(maxSteps int) *stepQuota {
	return &stepQuota{
		maxSteps: maxSteps,
		visited:  make(map[string]bool),
	}
}

// Check records entry into nodeID.
func (q *stepQuota) Check(flowID, nodeID string) error {
	if q.visited[nodeID] {
		return &StepsExceededError{FlowID: flowID, NodeID: nodeID, Steps: len(q.visited) + 1, Limit: q.maxSteps, Revisit: true}
	}
	q.visited[nodeID] = true
	if len(q.visited) > q.maxSteps {
		return &StepsExceededError{FlowID: flowID, NodeID: nodeID, Steps: len(q.visited), Limit: q.maxSteps}
	}
	return nil
}

// Steps returns the number of nodes entered so far.
func (q *stepQuota) Steps() int {
	return len(q.visited)
}

// StepsExceededError reports an automatic advance chain that did not
// settle on a choice node or the end of the flow.
type StepsExceededError struct {
	FlowID string
	NodeID string
	Steps  int
	Limit  int

	// Revisit is set when the chain entered NodeID a second time.
	Revisit bool
}

func (e *StepsExceededError) Error() string {
	if e.Revisit {
		return fmt.Sprintf("flow %s: automatic advance re-entered node %s after %d steps", e.FlowID, e.NodeID, e.Steps-1)
	}
	return fmt.Sprintf("flow %s exceeded max steps: %d steps > %d limit", e.FlowID, e.Steps, e.Limit)
}

// Unwrap presents the error as a FlowError so callers need one check.
func (e *StepsExceededError) Unwrap() error {
	return &FlowError{Code: ErrCodeAdvanceLoop, Message: "automatic advance did not settle", FlowID: e.FlowID, NodeID: e.NodeID}
}

// IsStepsExceededError returns true if err is (or wraps) a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
