package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/beastmode/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Session     string
	Workflow    string
	DispatchKey string
	Limit       int
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show acknowledged dispatches",
		Long: `Print the audit log: one record per dispatch the workflow backend
acknowledged, oldest first. Failed and unconfirmed dispatches are never
recorded.

Examples:
  beastmode audit --limit 20
  beastmode audit --workflow mass-provision
  beastmode audit --session 0192f3c4-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "only records of this session")
	cmd.Flags().StringVar(&opts.Workflow, "workflow", "", "only records of this workflow")
	cmd.Flags().StringVar(&opts.DispatchKey, "key", "", "only records with this dispatch key")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "show only the newest N records (0 for all)")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Limit < 0 {
		return commandError(formatter, ExitCommandError, "E_INVALID_LIMIT", "--limit must not be negative", nil)
	}

	a, err := openApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		_ = formatter.Error("E_APP", err.Error(), nil)
		return err
	}
	defer a.Close()

	records, err := a.store.ReadAudit(cmd.Context(), store.AuditFilter{
		SessionID:   opts.Session,
		WorkflowID:  opts.Workflow,
		DispatchKey: opts.DispatchKey,
		Limit:       opts.Limit,
	})
	if err != nil {
		return commandError(formatter, ExitCommandError, "E_STORE", "failed to read audit log", err)
	}

	if opts.Format == "json" {
		return formatter.Success(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(formatter.Writer, "No audit records.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tACTOR\tWORKFLOW\tINPUTS\tRUN")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Seq, r.Timestamp.UTC().Format(time.RFC3339), r.Actor, r.WorkflowID, r.Inputs.String(), r.RunReference)
	}
	return tw.Flush()
}
