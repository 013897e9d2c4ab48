package dialogue

import (
	"sync/atomic"
	"time"

	"github.com/roach88/beastmode/internal/ir"
)

// State is the coarse dialogue state of a session.
type State int

const (
	Idle State = iota
	InFlow
	// Confirming means the next turn answers a yes/no question, inside a
	// flow or not.
	Confirming
)

func (s State) String() string {
	switch s {
	case InFlow:
		return "in_flow"
	case Confirming:
		return "confirming"
	default:
		return "idle"
	}
}

// FlowState is the position of a session inside a flow.
type FlowState struct {
	FlowID string
	NodeID string

	// Env carries the captures of the match that started the flow plus the
	// variables accumulated from choices taken so far.
	Env ir.Env
}

// PendingConfirmation is an action waiting for a yes/no answer.
type PendingConfirmation struct {
	Action ir.ActionRef
	Env    ir.Env

	// Key is the dispatch key of the resolved action. Only a dispatch with
	// this key is unlocked by an affirmative answer.
	Key string

	Prompt string

	// FlowID is empty for a gate raised by a rule template.
	FlowID string

	// Origin is the node the user was at when the gate was raised. A
	// negative answer returns there; empty means back to Idle.
	Origin string

	// FollowUp is the node to proceed to after the dispatch. Empty ends
	// the flow.
	FollowUp string

	// Resume is set when FollowUp was already entered and only its
	// post-action step (present choices, advance or end) remains.
	Resume bool

	// Then is the template work the gate interrupted, innermost first.
	// It runs after the confirmed dispatch succeeds and is dropped
	// otherwise.
	Then []Continuation
}

// Continuation is the unrun tail of a rule template and the env it was
// rendered against.
type Continuation struct {
	Template ir.Template
	Env      ir.Env
}

// Turn is one entry of a session's history.
type Turn struct {
	Input  string
	RuleID ir.RuleID
	At     time.Time
}

// Session is the conversation state of one user.
type Session struct {
	ID    string
	Actor string

	// Topic scopes matching. Empty is the global scope.
	Topic string

	Flow    *FlowState
	Pending *PendingConfirmation

	Created time.Time

	history     []Turn
	historySize int
	lastSeen    atomic.Int64
}

func newSession(id, actor string, historySize int, now time.Time) *Session {
	s := &Session{
		ID:          id,
		Actor:       actor,
		Created:     now,
		historySize: historySize,
	}
	s.touch(now)
	return s
}

// State reports Confirming while a confirmation is pending, else InFlow or
// Idle.
func (s *Session) State() State {
	if s.Pending != nil {
		return Confirming
	}
	if s.Flow != nil {
		return InFlow
	}
	return Idle
}

// Awaiting reports whether the next turn is a yes/no answer.
func (s *Session) Awaiting() bool {
	return s.Pending != nil
}

// Reset returns the session to Idle, discarding any flow and pending
// confirmation. The topic is kept.
func (s *Session) Reset() {
	s.Flow = nil
	s.Pending = nil
}

// Record appends a turn to the history, dropping the oldest entry once the
// history is full.
func (s *Session) Record(t Turn) {
	if s.historySize <= 0 {
		return
	}
	if len(s.history) == s.historySize {
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}
	s.history = append(s.history, t)
}

// History returns a copy of the recorded turns, oldest first.
func (s *Session) History() []Turn {
	return append([]Turn(nil), s.history...)
}

// LastSeen returns the time of the last turn.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load()).UTC()
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}
