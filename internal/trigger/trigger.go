// Package trigger invokes workflows on the execution backend.
//
// The backend is opaque: it accepts a workflow id plus string or number
// inputs and either acknowledges the request or fails. What matters to the
// caller is whether a failure happened before the backend could have acted
// on the request, because dispatch is not idempotent on the backend side.
// Every error returned by a Trigger is therefore classified:
//
//   - NotDelivered: the request provably never reached the backend
//     (connection refused, DNS failure, throttled). Safe to retry.
//   - Ambiguous: the request may have been received (timeout after send,
//     server error). Never retried automatically.
//   - Rejected: the backend refused the request (bad inputs, unknown
//     workflow, missing permissions). Retrying cannot help.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/roach88/beastmode/internal/ir"
)

// RunRef identifies an acknowledged dispatch for status tracking.
// Fields are best effort: a backend may acknowledge without exposing a run.
type RunRef struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url,omitempty"`
}

// String returns the most useful form of the reference.
func (r RunRef) String() string {
	if r.URL != "" {
		return r.URL
	}
	return r.ID
}

// Trigger starts a workflow run.
type Trigger interface {
	Trigger(ctx context.Context, workflowID string, inputs ir.Inputs) (RunRef, error)
}

// Class describes how far a failed request got.
type Class int

const (
	// Ambiguous is the zero value: an unclassified failure is never retried.
	Ambiguous Class = iota
	NotDelivered
	Rejected
)

func (c Class) String() string {
	switch c {
	case NotDelivered:
		return "not_delivered"
	case Rejected:
		return "rejected"
	default:
		return "ambiguous"
	}
}

// Error is a classified trigger failure.
type Error struct {
	Class      Class
	WorkflowID string

	// StatusCode is the backend's HTTP status, when there was a response.
	StatusCode int

	Err error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("trigger %s: %s (status %d): %v", e.WorkflowID, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("trigger %s: %s: %v", e.WorkflowID, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify returns the class of err. A *Error reports its own class;
// otherwise transport errors that precede sending are NotDelivered and
// everything else is Ambiguous.
func Classify(err error) Class {
	var te *Error
	if errors.As(err, &te) {
		return te.Class
	}
	if notSent(err) {
		return NotDelivered
	}
	return Ambiguous
}

// IsRetryable returns true if err is known to precede execution.
func IsRetryable(err error) bool {
	return err != nil && Classify(err) == NotDelivered
}

// notSent reports whether a transport error happened before any request
// bytes could reach the server.
func notSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}
