package engine

import (
	"errors"
	"fmt"
)

// ErrQueueClosed is returned by Queue.Do after Close.
var ErrQueueClosed = errors.New("queue closed")

var (
	// ErrRedirectLimit is reported when redirects nest deeper than
	// MaxRedirects, which is how rules that redirect to each other end.
	ErrRedirectLimit = errors.New("too many redirects")

	// ErrRedirectUnmatched is reported when no rule matches a redirect.
	ErrRedirectUnmatched = errors.New("redirect matched no rule")
)

// FlowError reports a flow graph that cannot be followed at run time:
// a flow or node that disappeared after the session entered it, or an
// automatic advance that does not terminate. Load-time validation rejects
// such graphs, so a FlowError means the registry changed underneath a
// session. The session returns to Idle.
type FlowError struct {
	// Code identifies the error category.
	Code FlowErrorCode

	// Message is a human-readable description.
	Message string

	SessionID string
	FlowID    string
	NodeID    string
}

// FlowErrorCode categorizes flow errors.
type FlowErrorCode string

const (
	// ErrCodeUnknownFlow indicates the flow is not registered.
	ErrCodeUnknownFlow FlowErrorCode = "UNKNOWN_FLOW"

	// ErrCodeUnknownNode indicates a node id missing from its flow.
	ErrCodeUnknownNode FlowErrorCode = "UNKNOWN_NODE"

	// ErrCodeAdvanceLoop indicates automatic advancing revisited a node or
	// exceeded the step limit within one turn.
	ErrCodeAdvanceLoop FlowErrorCode = "ADVANCE_LOOP"
)

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (flow=%s, node=%s)", e.Code, e.Message, e.FlowID, e.NodeID)
	}
	return fmt.Sprintf("%s: %s (flow=%s)", e.Code, e.Message, e.FlowID)
}

// IsFlowError returns true if err is (or wraps) a FlowError.
func IsFlowError(err error) bool {
	var fe *FlowError
	return errors.As(err, &fe)
}

// NewUnknownFlowError creates a FlowError for a missing flow.
func NewUnknownFlowError(sessionID, flowID string) *FlowError {
	return &FlowError{
		Code:      ErrCodeUnknownFlow,
		Message:   "flow is not registered",
		SessionID: sessionID,
		FlowID:    flowID,
	}
}

// NewUnknownNodeError creates a FlowError for a missing node.
func NewUnknownNodeError(sessionID, flowID, nodeID string) *FlowError {
	return &FlowError{
		Code:      ErrCodeUnknownNode,
		Message:   "node does not exist",
		SessionID: sessionID,
		FlowID:    flowID,
		NodeID:    nodeID,
	}
}
