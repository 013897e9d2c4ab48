package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/beastmode/internal/catalog"
)

// WorkflowsOptions holds flags for the workflows commands.
type WorkflowsOptions struct {
	*RootOptions
	Output string
	Force  bool
}

// WorkflowSummary is the JSON form of one catalog entry.
type WorkflowSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Destructive bool     `json:"destructive,omitempty"`
	Inputs      []string `json:"inputs,omitempty"`
}

// NewWorkflowsCommand creates the workflows command group.
func NewWorkflowsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkflowsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect the workflow catalog",
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List catalog workflows and their inputs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsList(opts, cmd)
		},
	}

	generate := &cobra.Command{
		Use:   "generate [workflow-id...]",
		Short: "Write GitHub Actions workflow files for catalog entries",
		Long: `Render a workflow_dispatch GitHub Actions workflow for each catalog entry
(or only the named ones), with inputs typed as in the catalog. The generated
jobs are placeholders to be filled in with the real steps.

Examples:
  beastmode workflows generate -o .github/workflows
  beastmode workflows generate create-tenants -o .github/workflows --force`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsGenerate(opts, args, cmd)
		},
	}
	generate.Flags().StringVarP(&opts.Output, "output", "o", ".github/workflows", "output directory")
	generate.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing files")

	cmd.AddCommand(list, generate)
	return cmd
}

func runWorkflowsList(opts *WorkflowsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		_ = formatter.Error("E_APP", err.Error(), nil)
		return err
	}
	defer a.Close()

	workflows := a.catalog.List()
	if opts.Format == "json" {
		out := make([]WorkflowSummary, 0, len(workflows))
		for _, w := range workflows {
			out = append(out, WorkflowSummary{
				ID:          w.ID,
				Name:        w.DisplayName(),
				Destructive: w.Destructive,
				Inputs:      w.InputNames(),
			})
		}
		return formatter.Success(out)
	}
	if len(workflows) == 0 {
		fmt.Fprintln(formatter.Writer, "No workflows.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tINPUTS\t")
	for _, w := range workflows {
		flag := ""
		if w.Destructive {
			flag = "(destructive)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", w.ID, w.DisplayName(), strings.Join(w.InputNames(), ", "), flag)
	}
	return tw.Flush()
}

func runWorkflowsGenerate(opts *WorkflowsOptions, ids []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		_ = formatter.Error("E_APP", err.Error(), nil)
		return err
	}
	defer a.Close()

	var selected []*catalog.Workflow
	if len(ids) == 0 {
		selected = a.catalog.List()
	}
	for _, id := range ids {
		w, ok := a.catalog.Get(id)
		if !ok {
			return commandError(formatter, ExitCommandError, "E_NOT_FOUND", fmt.Sprintf("workflow %s not in catalog", id), nil)
		}
		selected = append(selected, w)
	}

	if err := os.MkdirAll(opts.Output, 0o755); err != nil {
		return commandError(formatter, ExitCommandError, "E_OUTPUT", "failed to create output directory", err)
	}

	var written, skipped []string
	for _, w := range selected {
		path := filepath.Join(opts.Output, catalog.FileName(w.ID))
		if _, err := os.Stat(path); err == nil && !opts.Force {
			formatter.Logf("skipping existing %s", path)
			skipped = append(skipped, path)
			continue
		}
		data, err := catalog.GenerateWorkflowYAML(w)
		if err != nil {
			return commandError(formatter, ExitCommandError, "E_GENERATE", fmt.Sprintf("failed to render %s", w.ID), err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return commandError(formatter, ExitCommandError, "E_OUTPUT", fmt.Sprintf("failed to write %s", path), err)
		}
		written = append(written, path)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string][]string{"written": written, "skipped": skipped})
	}
	for _, p := range written {
		fmt.Fprintf(formatter.Writer, "✓ %s\n", p)
	}
	for _, p := range skipped {
		fmt.Fprintf(formatter.Writer, "- %s (exists, use --force to overwrite)\n", p)
	}
	return nil
}
