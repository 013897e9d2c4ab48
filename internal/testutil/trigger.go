package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/trigger"
)

// TriggerCall records one call to a FakeTrigger.
type TriggerCall struct {
	WorkflowID string
	Inputs     ir.Inputs
}

// FakeTrigger is a scripted trigger backend.
//
// Each call consumes the next scripted error; once the script is exhausted
// every call succeeds with a RunRef derived from the call count. Calls are
// recorded so tests can assert exactly what reached the backend.
//
// Thread-safety: safe for concurrent use.
type FakeTrigger struct {
	mu     sync.Mutex
	script []error
	calls  []TriggerCall
}

// NewFakeTrigger creates a backend that fails with errs in order, then
// succeeds. A nil entry in errs is a success.
func NewFakeTrigger(errs ...error) *FakeTrigger {
	return &FakeTrigger{script: errs}
}

// Trigger implements trigger.Trigger.
func (f *FakeTrigger) Trigger(ctx context.Context, workflowID string, inputs ir.Inputs) (trigger.RunRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, TriggerCall{WorkflowID: workflowID, Inputs: inputs})
	n := len(f.calls)

	if len(f.script) > 0 {
		err := f.script[0]
		f.script = f.script[1:]
		if err != nil {
			return trigger.RunRef{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return trigger.RunRef{}, &trigger.Error{Class: trigger.NotDelivered, WorkflowID: workflowID, Err: err}
	}
	return trigger.RunRef{
		ID:  fmt.Sprintf("run-%d", n),
		URL: fmt.Sprintf("https://ci.example/runs/%d", n),
	}, nil
}

// Calls returns a copy of the recorded calls.
func (f *FakeTrigger) Calls() []TriggerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TriggerCall(nil), f.calls...)
}

// CallCount returns the number of recorded calls.
func (f *FakeTrigger) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// NotDelivered builds a failure that provably never reached the backend.
func NotDelivered(workflowID string) error {
	return &trigger.Error{Class: trigger.NotDelivered, WorkflowID: workflowID, Err: fmt.Errorf("connection refused")}
}

// Ambiguous builds a failure where the backend may have acted.
func Ambiguous(workflowID string) error {
	return &trigger.Error{Class: trigger.Ambiguous, WorkflowID: workflowID, StatusCode: 502, Err: fmt.Errorf("bad gateway")}
}

// Rejected builds a failure the backend refused.
func Rejected(workflowID string) error {
	return &trigger.Error{Class: trigger.Rejected, WorkflowID: workflowID, StatusCode: 422, Err: fmt.Errorf("unexpected inputs")}
}
