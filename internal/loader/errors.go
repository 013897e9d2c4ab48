package loader

import (
	"errors"
	"fmt"
)

// Load error codes.
const (
	// Source errors (E001-E009)
	ErrCodeGeneric     = "E001" // generic/unknown error
	ErrCodeScanError   = "E002" // directory scan error
	ErrCodeNoFiles     = "E003" // no definition files found
	ErrCodeParseFailed = "E004" // YAML/CUE syntax or schema error
	ErrCodeNotFound    = "E005" // path not found
	ErrCodeDependency  = "E006" // depends on a definition from a rejected source

	// Rule errors (E201-E219)
	ErrCodeInvalidPattern   = "E201" // pattern failed to parse
	ErrCodeCaptureRange     = "E202" // capture index beyond the pattern's captures
	ErrCodeConfirmNoAction  = "E203" // confirm prompt without an action
	ErrCodeMissingWorkflow  = "E204" // action without a workflow id
	ErrCodeUnknownWorkflow  = "E205" // action references a workflow not in the catalog
	ErrCodeInvalidInputType = "E206" // input type is not string|number|boolean
	ErrCodeUnknownFlow      = "E207" // rule starts a flow that does not exist
	ErrCodeEmptyRule        = "E208" // rule does nothing
	ErrCodeInvalidText      = "E209" // reply, prompt or input text failed to parse
	ErrCodeDuplicateRule    = "E210" // same pattern twice in one topic
	ErrCodeEmptyRandom      = "E211" // random with no options, or a blank option

	// Flow errors (E301-E319)
	ErrCodeFlowID         = "E301" // missing or duplicate flow id
	ErrCodeFlowStart      = "E302" // start node missing or unknown
	ErrCodeDanglingNext   = "E303" // next references an unknown node
	ErrCodeAutoCycle      = "E304" // choice-less nodes auto-advance in a cycle
	ErrCodeChoiceLabel    = "E305" // choice without a label, or a repeated label
	ErrCodeEndConflict    = "E306" // node declares both choices and next, or end with either
	ErrCodeInvalidTrigger = "E307" // trigger phrase failed to parse
	ErrCodeChoiceWhen     = "E308" // choice condition names no variable

	// Workflow errors (E401-E419)
	ErrCodeWorkflowID      = "E401" // missing, malformed or duplicate workflow id
	ErrCodeWorkflowInput   = "E402" // invalid input declaration
	ErrCodeWorkflowDefault = "E403" // default does not satisfy the input type
)

// ErrSourceRejected is wrapped by every LoadError.
var ErrSourceRejected = errors.New("source rejected")

// LoadError describes why a source was rejected. A source with any error
// contributes nothing: none of its rules, flows or workflows are loaded.
type LoadError struct {
	Source string `json:"source"`
	Line   int    `json:"line,omitempty"`
	Code   string `json:"code"`

	// Field locates the problem inside the source, e.g. "rules[2].pattern".
	Field string `json:"field,omitempty"`

	// Token is the offending text, when there is one.
	Token string `json:"token,omitempty"`

	Message string `json:"message"`
}

func (e *LoadError) Error() string {
	loc := e.Source
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.Source, e.Line)
	}
	msg := fmt.Sprintf("%s: [%s]", loc, e.Code)
	if e.Field != "" {
		msg += " " + e.Field + ":"
	}
	msg += " " + e.Message
	if e.Token != "" {
		msg += fmt.Sprintf(" (at %q)", e.Token)
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return ErrSourceRejected
}

// IsLoadError returns true if err is (or wraps) a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
