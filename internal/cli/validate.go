package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/dialogue"
	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/loader"
	"github.com/roach88/beastmode/internal/patterns"
)

// ValidationResult represents the result of validation.
type ValidationResult struct {
	Valid     bool                `json:"valid"`
	Sources   int                 `json:"sources"`
	Rules     int                 `json:"rules"`
	Flows     int                 `json:"flows"`
	Workflows int                 `json:"workflows"`
	Errors    []*loader.LoadError `json:"errors,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [definitions-dir]",
		Short: "Validate rule, flow and workflow definitions",
		Long: `Load every YAML and CUE definition source without starting a conversation
and report every defect with its source, line, field and error code.

Rules that would take inputs from rules loaded before them are reported as
warnings: both load, and the more specific pattern wins.

Without an argument the configured definitions directory is validated.

Exit codes:
  0 - All sources valid
  1 - One or more sources rejected
  2 - Command error (directory not found, no definition files)

Examples:
  beastmode validate ./definitions
  beastmode validate ./definitions/provisioning.yaml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			dir := rootOpts.Definitions
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				cfg, err := loadConfig(rootOpts)
				if err != nil {
					return commandError(formatter, ExitCommandError, loader.ErrCodeGeneric, "failed to load configuration", err)
				}
				dir = cfg.DefinitionsDir
			}
			return runValidate(cmd.Context(), dir, formatter)
		},
	}

	return cmd
}

func runValidate(ctx context.Context, dir string, formatter *OutputFormatter) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter.Logf("Validating definitions in: %s", dir)

	library := patterns.NewStore()
	target := loader.Target{Store: library, Catalog: catalog.New(), Flows: dialogue.NewFlows()}
	res, err := loader.LoadDir(ctx, dir, target)
	if err != nil {
		var le *loader.LoadError
		if errors.As(err, &le) {
			return outputValidateError(formatter, le.Code, le.Message, le.Source)
		}
		return outputValidateError(formatter, loader.ErrCodeGeneric, err.Error(), nil)
	}

	result := ValidationResult{
		Valid:     res.OK(),
		Sources:   len(res.Accepted) + len(res.Rejected()),
		Rules:     len(res.Rules),
		Flows:     len(res.Flows),
		Workflows: len(res.Workflows),
		Errors:    res.Errors,
		Warnings:  shadowWarnings(res.Rules),
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// shadowWarnings replays rules in load order and reports each one that
// takes inputs from a rule loaded before it.
func shadowWarnings(rules []ir.Rule) []string {
	replay := patterns.NewStore()
	var warnings []string
	for _, r := range rules {
		for _, id := range replay.Snapshot().Shadowed(r) {
			prev, _ := replay.Snapshot().Rule(id)
			warnings = append(warnings, fmt.Sprintf("%s: %q takes inputs from %q (%s)",
				r.Source, ir.FormatPattern(r.Pattern), ir.FormatPattern(prev.Pattern), prev.Source))
		}
		if _, err := replay.Insert(r); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", r.Source, err))
		}
	}
	return warnings
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ All definitions valid (%d sources: %d rules, %d flows, %d workflows)\n",
		result.Sources, result.Rules, result.Flows, result.Workflows)
	printWarnings(formatter, result.Warnings)
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Unreadable input is a command-level error (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every defect of every rejected source.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := Envelope{
			Status: "error",
			Data:   result,
			Error: &Problem{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		if err := formatter.write(response); err != nil {
			return err
		}
		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		loc := filepath.ToSlash(err.Source)
		if err.Line > 0 {
			loc = fmt.Sprintf("%s:%d", loc, err.Line)
		}
		fmt.Fprintln(formatter.Writer, loc)
		if err.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", err.Code, err.Field, err.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", err.Code, err.Message)
		}
		if err.Token != "" {
			fmt.Fprintf(formatter.Writer, "  at %q\n", err.Token)
		}
		fmt.Fprintln(formatter.Writer)
	}
	fmt.Fprintf(formatter.Writer, "%d of %d sources rejected\n", len(result.rejectedSources()), result.Sources)
	printWarnings(formatter, result.Warnings)

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

func (r ValidationResult) rejectedSources() []string {
	return (&loader.Result{Errors: r.Errors}).Rejected()
}

func printWarnings(formatter *OutputFormatter, warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "! %s\n", w)
	}
}
