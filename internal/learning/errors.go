package learning

import (
	"errors"
	"fmt"

	"github.com/roach88/beastmode/internal/ir"
)

// ErrPatternMismatch is returned when a proposal's pattern does not match
// its own source input.
var ErrPatternMismatch = errors.New("pattern does not match the source input")

// PatternConflictError reports a proposal whose rule would duplicate or
// shadow rules already in the library. The proposal stays pending.
type PatternConflictError struct {
	ProposalID string
	Pattern    string
	Topic      string

	// Conflicts are the existing rules involved.
	Conflicts []ir.RuleID

	Err error
}

func (e *PatternConflictError) Error() string {
	scope := e.Topic
	if scope == "" {
		scope = "global"
	}
	return fmt.Sprintf("proposal %s: pattern %q in %s conflicts with %v: %v",
		e.ProposalID, e.Pattern, scope, e.Conflicts, e.Err)
}

func (e *PatternConflictError) Unwrap() error {
	return e.Err
}

// IsPatternConflict returns true if err is (or wraps) a PatternConflictError.
func IsPatternConflict(err error) bool {
	var pe *PatternConflictError
	return errors.As(err, &pe)
}
