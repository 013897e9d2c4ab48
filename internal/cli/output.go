package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/beastmode/internal/dispatch"
	"github.com/roach88/beastmode/internal/engine"
	"github.com/roach88/beastmode/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Validation or scenario failure, no match, proposal already decided
	ExitCommandError = 2 // Bad flags or config, unreadable store, unknown proposal
)

// ExitError carries the exit code a failed command ends the process with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	if ee := (*ExitError)(nil); errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// Envelope is the document every command writes with --format json. chat
// writes one envelope per turn, each carrying the session id.
type Envelope struct {
	Status    string   `json:"status"` // "ok" or "error"
	Data      any      `json:"data,omitempty"`
	Error     *Problem `json:"error,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// Problem is the error part of an envelope. Code is a loader code (E2xx,
// E3xx, E4xx) or one of E_APP, E_STORE, E_CONFLICT, E_TEST_FAILED.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// TurnOutput is the JSON form of one chat reply.
type TurnOutput struct {
	Input      string           `json:"input"`
	Lines      []string         `json:"lines,omitempty"`
	Choices    []string         `json:"choices,omitempty"`
	Confirm    string           `json:"confirm,omitempty"`
	State      string           `json:"state"`
	Topic      string           `json:"topic,omitempty"`
	RuleID     string           `json:"rule_id,omitempty"`
	Dispatches []DispatchOutput `json:"dispatches,omitempty"`
	Failures   []string         `json:"failures,omitempty"`
	ProposalID string           `json:"proposal_id,omitempty"`
	Degraded   bool             `json:"degraded,omitempty"`
}

// DispatchOutput is one acknowledged dispatch of a turn.
type DispatchOutput struct {
	Workflow    string    `json:"workflow"`
	Inputs      ir.Inputs `json:"inputs"`
	Run         string    `json:"run,omitempty"`
	AuditID     string    `json:"audit_id,omitempty"`
	DispatchKey string    `json:"dispatch_key"`
}

func dispatchOutput(res *dispatch.Result) DispatchOutput {
	return DispatchOutput{
		Workflow:    res.WorkflowID,
		Inputs:      res.Inputs,
		Run:         res.RunRef.String(),
		AuditID:     res.AuditID,
		DispatchKey: res.Key,
	}
}

func turnOutput(input string, r *engine.Reply) TurnOutput {
	out := TurnOutput{
		Input:      input,
		Lines:      r.Lines,
		Choices:    r.Choices,
		Confirm:    r.Confirm,
		State:      r.State.String(),
		Topic:      r.Topic,
		RuleID:     string(r.RuleID),
		ProposalID: r.ProposalID,
		Degraded:   r.Degraded,
	}
	for _, d := range r.Dispatches {
		out.Dispatches = append(out.Dispatches, dispatchOutput(d))
	}
	for _, err := range r.Failures {
		out.Failures = append(out.Failures, err.Error())
	}
	return out
}

// OutputFormatter writes command results as text or JSON envelopes.
// Diagnostics go to ErrWriter so they never interleave with JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// newFormatter builds a formatter over the command's writers.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

// Success writes data as an ok envelope, or prints it as text.
func (f *OutputFormatter) Success(data any) error {
	if f.json() {
		return f.write(Envelope{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error envelope, or an "Error [code]" line. Details are
// printed in text mode only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.json() {
		return f.write(Envelope{Status: "error", Error: &Problem{Code: code, Message: message, Details: details}})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Reply writes one chat turn. Text mode prints the reply as a chat
// transport shows it; verbose adds the session state and one line per
// dispatch on the diagnostic writer.
func (f *OutputFormatter) Reply(input string, r *engine.Reply) error {
	if f.json() {
		return f.write(Envelope{Status: "ok", Data: turnOutput(input, r), SessionID: r.SessionID})
	}
	if text := r.Text(); text != "" {
		if _, err := fmt.Fprintln(f.Writer, text); err != nil {
			return err
		}
	}
	if !f.Verbose {
		return nil
	}
	for _, d := range r.Dispatches {
		f.Logf("%s", formatDispatch(dispatchOutput(d)))
	}
	f.Logf("[session %s, %s]", r.SessionID, r.State)
	return nil
}

// formatDispatch renders a dispatch as "workflow inputs -> run (audit id)".
func formatDispatch(d DispatchOutput) string {
	var b strings.Builder
	b.WriteString(d.Workflow)
	if len(d.Inputs) > 0 {
		b.WriteString(" " + d.Inputs.String())
	}
	if d.Run != "" {
		b.WriteString(" -> " + d.Run)
	}
	if d.AuditID != "" {
		b.WriteString(" (" + d.AuditID + ")")
	}
	return b.String()
}

// Logf writes a diagnostic line when verbose.
func (f *OutputFormatter) Logf(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.Diag(), format+"\n", args...)
	}
}

// Diag is the diagnostic writer: ErrWriter, or Writer when unset.
func (f *OutputFormatter) Diag() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// write encodes one indented envelope.
func (f *OutputFormatter) write(e Envelope) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

// commandError reports err in the configured format and returns it as an
// ExitError with exitCode.
func commandError(f *OutputFormatter, exitCode int, code, message string, err error) error {
	detail := message
	if err != nil {
		detail = message + ": " + err.Error()
	}
	_ = f.Error(code, detail, nil)
	return WrapExitError(exitCode, message, err)
}
