package dispatch

import (
	"errors"
	"fmt"

	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/trigger"
)

// Resolution failure reasons, wrapped by InputResolutionError.
var (
	ErrMissingCapture  = errors.New("capture does not exist")
	ErrUnknownVariable = errors.New("variable is not set")
	ErrNotInteger      = errors.New("value is not an integer")
	ErrOverflow        = errors.New("integer overflow")
	ErrTypeMismatch    = errors.New("value does not match declared type")
	ErrMissingInput    = errors.New("required input is missing")
	ErrUnknownInput    = errors.New("workflow has no such input")
	ErrUnknownWorkflow = errors.New("workflow is not in the catalog")
)

// ErrAuditFailed is returned alongside a Result when the backend
// acknowledged the dispatch but the audit record could not be written.
var ErrAuditFailed = errors.New("audit append failed")

// ErrNotAuthorized is the conventional error for an Authorizer denial.
var ErrNotAuthorized = errors.New("not authorized")

// InputResolutionError reports an action input that could not be resolved.
// Nothing was sent to the backend.
type InputResolutionError struct {
	WorkflowID string

	// Input is the offending input name; empty for workflow-level problems.
	Input string

	Err error
}

func (e *InputResolutionError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("resolve %s: %v", e.WorkflowID, e.Err)
	}
	return fmt.Sprintf("resolve %s input %q: %v", e.WorkflowID, e.Input, e.Err)
}

func (e *InputResolutionError) Unwrap() error {
	return e.Err
}

// ConfirmationRequired is a control signal, not a failure: the action must
// be confirmed by the user before it can be dispatched. The caller routes it
// into a pending confirmation and retries with Confirmation set to Key.
type ConfirmationRequired struct {
	WorkflowID string
	Inputs     ir.Inputs

	// Key identifies this exact action (workflow plus resolved inputs).
	Key string
}

func (e *ConfirmationRequired) Error() string {
	return fmt.Sprintf("dispatch %s requires confirmation (%s)", e.WorkflowID, e.Inputs)
}

// AuthorizationError reports a capability check that denied the dispatch.
type AuthorizationError struct {
	Actor      string
	WorkflowID string
	Err        error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s may not dispatch %s: %v", e.Actor, e.WorkflowID, e.Err)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// WorkflowTriggerError reports a dispatch the backend did not acknowledge.
type WorkflowTriggerError struct {
	WorkflowID string
	Attempts   int

	// Class tells whether the request may have reached the backend.
	// Ambiguous failures are surfaced without retry.
	Class trigger.Class

	Err error
}

func (e *WorkflowTriggerError) Error() string {
	return fmt.Sprintf("dispatch %s failed after %d attempt(s) (%s): %v", e.WorkflowID, e.Attempts, e.Class, e.Err)
}

func (e *WorkflowTriggerError) Unwrap() error {
	return e.Err
}

// Ambiguous returns true if the backend may have received the request.
func (e *WorkflowTriggerError) Ambiguous() bool {
	return e.Class == trigger.Ambiguous
}

// IsInputResolutionError returns true if err is (or wraps) an InputResolutionError.
func IsInputResolutionError(err error) bool {
	var ie *InputResolutionError
	return errors.As(err, &ie)
}

// IsConfirmationRequired returns true if err is (or wraps) ConfirmationRequired.
func IsConfirmationRequired(err error) bool {
	var ce *ConfirmationRequired
	return errors.As(err, &ce)
}

// IsWorkflowTriggerError returns true if err is (or wraps) a WorkflowTriggerError.
func IsWorkflowTriggerError(err error) bool {
	var we *WorkflowTriggerError
	return errors.As(err, &we)
}
