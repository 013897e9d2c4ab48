package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/learning"
	"github.com/roach88/beastmode/internal/loader"
	"github.com/roach88/beastmode/internal/store"
)

// ProposalsOptions holds flags for the proposals commands.
type ProposalsOptions struct {
	*RootOptions
	Status string
}

// ProposalDetail is a proposal with the rule approving it would install.
type ProposalDetail struct {
	ir.Proposal
	Rule      *loader.RuleDef `json:"rule,omitempty"`
	RuleError string          `json:"rule_error,omitempty"`
}

// NewProposalsCommand creates the proposals command group.
func NewProposalsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProposalsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "Review rules learned from unmatched requests",
		Long: `When no rule matches a request and the generative model recognizes a
workflow, beastmode records a proposal for a new rule. Proposals never take
effect until an operator approves them here.

Approval is refused when the new rule would duplicate an existing rule or
take inputs an existing rule already matches; the proposal stays pending.`,
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List proposals",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposalsList(opts, cmd)
		},
	}
	list.Flags().StringVar(&opts.Status, "status", string(ir.ProposalPending), "filter by status (pending|approved|rejected|all)")

	show := &cobra.Command{
		Use:           "show <id>",
		Short:         "Show a proposal and the rule it would install",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposalShow(opts, args[0], cmd)
		},
	}

	approve := &cobra.Command{
		Use:           "approve <id>",
		Short:         "Install the rule a proposal describes",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposalApprove(opts, args[0], cmd)
		},
	}

	reject := &cobra.Command{
		Use:           "reject <id>",
		Short:         "Discard a proposal",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposalReject(opts, args[0], cmd)
		},
	}

	cmd.AddCommand(list, show, approve, reject)
	return cmd
}

func parseStatus(s string) (ir.ProposalStatus, error) {
	switch st := ir.ProposalStatus(s); st {
	case ir.ProposalPending, ir.ProposalApproved, ir.ProposalRejected:
		return st, nil
	case "all", "":
		return "", nil
	default:
		return "", fmt.Errorf("invalid status %q: must be pending, approved, rejected or all", s)
	}
}

func runProposalsList(opts *ProposalsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	status, err := parseStatus(opts.Status)
	if err != nil {
		return commandError(formatter, ExitCommandError, "E_INVALID_STATUS", "invalid --status", err)
	}

	a, err := openApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		_ = formatter.Error("E_APP", err.Error(), nil)
		return err
	}
	defer a.Close()

	proposals, err := a.learner.List(cmd.Context(), status)
	if err != nil {
		return commandError(formatter, ExitCommandError, "E_STORE", "failed to list proposals", err)
	}

	if opts.Format == "json" {
		return formatter.Success(proposals)
	}
	if len(proposals) == 0 {
		fmt.Fprintln(formatter.Writer, "No proposals.")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tWORKFLOW\tPATTERN\tFROM")
	for _, p := range proposals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%q\n", p.ID, p.Status, p.Workflow, p.Pattern, p.SourceInput)
	}
	return tw.Flush()
}

func runProposalShow(opts *ProposalsOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		_ = formatter.Error("E_APP", err.Error(), nil)
		return err
	}
	defer a.Close()

	p, err := a.learner.Get(cmd.Context(), id)
	if err != nil {
		return proposalError(formatter, id, err)
	}

	detail := ProposalDetail{Proposal: *p}
	if def, err := a.learner.Preview(*p); err != nil {
		detail.RuleError = err.Error()
	} else {
		detail.Rule = &def
	}

	if opts.Format == "json" {
		return formatter.Success(detail)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Proposal %s (%s)\n", p.ID, p.Status)
	fmt.Fprintf(w, "  from:     %q\n", p.SourceInput)
	fmt.Fprintf(w, "  workflow: %s\n", p.Workflow)
	if p.Topic != "" {
		fmt.Fprintf(w, "  topic:    %s\n", p.Topic)
	}
	if p.RuleID != "" {
		fmt.Fprintf(w, "  rule:     %s\n", p.RuleID)
	}
	fmt.Fprintln(w)
	if detail.Rule == nil {
		fmt.Fprintf(w, "✗ Cannot be installed: %s\n", detail.RuleError)
		return nil
	}
	data, err := yaml.Marshal(map[string][]loader.RuleDef{"rules": {*detail.Rule}})
	if err != nil {
		return err
	}
	fmt.Fprint(w, string(data))
	return nil
}

func runProposalApprove(opts *ProposalsOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		_ = formatter.Error("E_APP", err.Error(), nil)
		return err
	}
	defer a.Close()

	ruleID, err := a.learner.Approve(cmd.Context(), id)
	if err != nil {
		var pc *learning.PatternConflictError
		if errors.As(err, &pc) {
			_ = formatter.Error("E_CONFLICT", err.Error(), pc.Conflicts)
			return WrapExitError(ExitFailure, "proposal conflicts with existing rules", err)
		}
		return proposalError(formatter, id, err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]string{"proposal_id": id, "rule_id": string(ruleID)})
	}
	fmt.Fprintf(formatter.Writer, "✓ Approved %s as rule %s\n", id, ruleID)
	return nil
}

func runProposalReject(opts *ProposalsOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		_ = formatter.Error("E_APP", err.Error(), nil)
		return err
	}
	defer a.Close()

	if err := a.learner.Reject(cmd.Context(), id); err != nil {
		return proposalError(formatter, id, err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]string{"proposal_id": id, "status": string(ir.ProposalRejected)})
	}
	fmt.Fprintf(formatter.Writer, "✓ Rejected %s\n", id)
	return nil
}

// proposalError maps store errors to codes: an unknown id is a command
// error, a decided proposal or an uncompilable one is a failure.
func proposalError(formatter *OutputFormatter, id string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return commandError(formatter, ExitCommandError, "E_NOT_FOUND", fmt.Sprintf("proposal %s not found", id), nil)
	case errors.Is(err, store.ErrNotPending):
		return commandError(formatter, ExitFailure, "E_NOT_PENDING", fmt.Sprintf("proposal %s is not pending", id), nil)
	default:
		return commandError(formatter, ExitFailure, "E_PROPOSAL", fmt.Sprintf("proposal %s", id), err)
	}
}
