package ir

import "time"

// RuleID is the content-addressed identity of a rule.
type RuleID string

// TokenKind classifies a pattern token.
type TokenKind int

const (
	// TokenLiteral matches one word exactly (after normalization).
	TokenLiteral TokenKind = iota + 1
	// TokenSingle matches exactly one word and captures it.
	TokenSingle
	// TokenMulti matches one or more words and captures them.
	TokenMulti
	// TokenSet matches exactly one word drawn from a fixed alternative list
	// and captures it.
	TokenSet
)

// Token is one element of a compiled pattern.
type Token struct {
	Kind TokenKind `json:"kind"`

	// Word is the normalized literal (TokenLiteral only).
	Word string `json:"word,omitempty"`

	// Set holds the normalized, sorted alternatives (TokenSet only).
	Set []string `json:"set,omitempty"`

	// Name is an optional slot name from <NAME> syntax. It has no effect on
	// matching; learned rules use it to label captures.
	Name string `json:"name,omitempty"`
}

// IsWildcard reports whether the token counts as a wildcard for specificity.
func (t Token) IsWildcard() bool {
	return t.Kind == TokenSingle || t.Kind == TokenMulti
}

// Captures reports whether the token produces a capture.
func (t Token) Captures() bool {
	return t.Kind != TokenLiteral
}

// Rule is a (pattern, template) pair, optionally scoped to a topic.
type Rule struct {
	ID RuleID `json:"id"`

	// Topic scopes the rule. Empty means the global scope.
	Topic string `json:"topic,omitempty"`

	Pattern  []Token  `json:"pattern"`
	Template Template `json:"-"`

	// Source names where the rule came from: a definition file, a flow
	// trigger, or a learned proposal.
	Source string `json:"source,omitempty"`
}

// Template is the ordered segment list a rule executes on match.
type Template []Segment

// Text is a segment list restricted to text-producing segments
// (Literal, CaptureRef, VarRef, Arithmetic).
type Text []Segment

// Segment is a sealed interface over the closed set of template segments.
// Evaluation is a single exhaustive type switch in the engine.
type Segment interface {
	segment() // Sealed
}

// Literal emits fixed text.
type Literal struct {
	Text string
}

// CaptureRef emits the words matched by the Index-th capturing token
// (1-based, pattern order).
type CaptureRef struct {
	Index int
}

// VarRef emits a flow variable set by an earlier choice.
type VarRef struct {
	Name string
}

// Arithmetic emits the decimal result of an integer expression.
type Arithmetic struct {
	Expr Expr
}

// Action dispatches a workflow.
type Action struct {
	Ref ActionRef
}

// Choice starts a guided flow.
type Choice struct {
	FlowID string
}

// Confirm raises a confirmation gate: Prompt is shown and Ref dispatches
// only after an affirmative answer.
type Confirm struct {
	Prompt Text
	Ref    ActionRef
}

// SetTopic changes the session topic. Empty clears it.
type SetTopic struct {
	Topic string
}

// Random emits one of Options, picked each time the template runs.
type Random struct {
	Options []Text
}

// Redirect matches the rendered Input as if the user had typed it and runs
// the matched rule's template in its place.
type Redirect struct {
	Input Text
}

func (Literal) segment()    {}
func (CaptureRef) segment() {}
func (VarRef) segment()     {}
func (Arithmetic) segment() {}
func (Action) segment()     {}
func (Choice) segment()     {}
func (Confirm) segment()    {}
func (SetTopic) segment()   {}
func (Random) segment()     {}
func (Redirect) segment()   {}

// Expr is a sealed interface over integer arithmetic expressions.
type Expr interface {
	expr() // Sealed
}

// Const is an integer literal.
type Const struct {
	Value int64
}

// Star refers to a capture by 1-based index.
type Star struct {
	Index int
}

// Var refers to a flow variable.
type Var struct {
	Name string
}

// Binary applies Op ('+', '-', '*') to two operands.
type Binary struct {
	Op          byte
	Left, Right Expr
}

func (Const) expr()  {}
func (Star) expr()   {}
func (Var) expr()    {}
func (Binary) expr() {}

// InputType is the declared type of a workflow input.
type InputType string

const (
	InputString  InputType = "string"
	InputNumber  InputType = "number"
	InputBoolean InputType = "boolean"
)

// InputSpec is one action input: a text to evaluate and an optional type.
type InputSpec struct {
	Value Text
	Type  InputType // empty defers to the workflow catalog
}

// ActionRef references a workflow with input bindings.
type ActionRef struct {
	WorkflowID           string
	Inputs               map[string]InputSpec
	RequiresConfirmation bool
}

// Env carries the values templates and inputs are evaluated against.
type Env struct {
	// Captures is keyed by 1-based capture index.
	Captures map[int]string

	// Vars holds flow variables accumulated from choices.
	Vars map[string]string
}

// Clone returns a deep copy so callers can extend it without aliasing.
func (e Env) Clone() Env {
	out := Env{
		Captures: make(map[int]string, len(e.Captures)),
		Vars:     make(map[string]string, len(e.Vars)),
	}
	for k, v := range e.Captures {
		out.Captures[k] = v
	}
	for k, v := range e.Vars {
		out.Vars[k] = v
	}
	return out
}

// FlowGraph is a directed graph of guided-choice nodes.
type FlowGraph struct {
	ID          string
	Name        string
	Description string

	// Triggers are phrases that start the flow from Idle.
	Triggers []string

	Start string
	Nodes map[string]*Node

	Source string
}

// Node is one step of a flow.
type Node struct {
	ID      string
	Prompt  Text
	Choices []FlowChoice

	// Action runs when the node is entered.
	Action *ActionRef

	// Next is followed automatically when the node has no choices.
	Next string
}

// FlowChoice is one selectable option of a node.
type FlowChoice struct {
	Label  string
	Next   string
	Action *ActionRef

	// Inputs are merged into the flow variables when the choice is taken.
	Inputs map[string]string

	// When lists flow variables and the values they must hold for the
	// choice to be offered. Empty means always offered.
	When map[string]string
}

// Available reports whether the choice is offered given the flow vars.
func (c FlowChoice) Available(vars map[string]string) bool {
	for k, want := range c.When {
		if got, ok := vars[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// AuditRecord is an append-only record of one acknowledged dispatch.
type AuditRecord struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	WorkflowID   string    `json:"workflow_id"`
	Inputs       Inputs    `json:"inputs"`
	Actor        string    `json:"actor"`
	RunReference string    `json:"run_reference,omitempty"`
	DispatchKey  string    `json:"dispatch_key"`
}

// ProposalStatus is the lifecycle state of a learning proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// Slot is one variable span the generative service identified in an input.
type Slot struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Proposal is a candidate rule awaiting operator approval.
type Proposal struct {
	ID string `json:"id"`

	// Pattern is the proposed pattern source. Empty means it is derived
	// from SourceInput and Slots at approval time.
	Pattern string `json:"pattern,omitempty"`

	Topic       string         `json:"topic,omitempty"`
	Workflow    string         `json:"workflow"`
	SourceInput string         `json:"source_input"`
	Slots       []Slot         `json:"slots,omitempty"`
	Reply       string         `json:"reply,omitempty"`
	Status      ProposalStatus `json:"status"`
	RuleID      RuleID         `json:"rule_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
}
