package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/patterns"
)

// MatchOptions holds flags for the match command.
type MatchOptions struct {
	*RootOptions
	Topic string
}

// MatchOutput describes the rule an input selects.
type MatchOutput struct {
	Input    string            `json:"input"`
	Topic    string            `json:"topic,omitempty"`
	Matched  bool              `json:"matched"`
	RuleID   string            `json:"rule_id,omitempty"`
	Pattern  string            `json:"pattern,omitempty"`
	Scope    string            `json:"scope,omitempty"`
	Source   string            `json:"source,omitempty"`
	Captures map[string]string `json:"captures,omitempty"`
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "match <input...>",
		Short: "Show which rule an input selects",
		Long: `Run the matcher over the loaded definitions and learned rules without
executing anything. Prints the winning rule and what each capture bound.

Examples:
  beastmode match create 3 tenants
  beastmode match --topic tenants list`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(opts, strings.Join(args, " "), cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Topic, "topic", "t", "", "session topic to match in")

	return cmd
}

func runMatch(opts *MatchOptions, input string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		_ = formatter.Error("E_APP", err.Error(), nil)
		return err
	}
	defer a.Close()

	out := MatchOutput{Input: input, Topic: patterns.NormalizeTopic(opts.Topic)}
	m, ok := patterns.Match(a.library.Snapshot(), input, opts.Topic)
	if ok {
		out.Matched = true
		out.RuleID = string(m.Rule.ID)
		out.Pattern = ir.FormatPattern(m.Rule.Pattern)
		out.Scope = scopeOf(m.Rule.Topic)
		out.Source = m.Rule.Source
		out.Captures = make(map[string]string, len(m.Captures))
		for i, v := range m.Captures {
			out.Captures[fmt.Sprintf("$%d", i)] = v
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		printMatch(formatter, out, m)
	}
	if !out.Matched {
		return NewExitError(ExitFailure, "no rule matches")
	}
	return nil
}

func printMatch(f *OutputFormatter, out MatchOutput, m *patterns.MatchResult) {
	w := f.Writer
	if !out.Matched {
		fmt.Fprintf(w, "✗ No rule matches %q\n", out.Input)
		return
	}
	fmt.Fprintf(w, "✓ %s\n", out.Pattern)
	fmt.Fprintf(w, "  rule:  %s\n", out.RuleID)
	fmt.Fprintf(w, "  scope: %s\n", out.Scope)
	if out.Source != "" {
		fmt.Fprintf(w, "  from:  %s\n", out.Source)
	}
	idx := make([]int, 0, len(m.Captures))
	for i := range m.Captures {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	for _, i := range idx {
		fmt.Fprintf(w, "  $%d = %q\n", i, m.Captures[i])
	}
}

func scopeOf(topic string) string {
	if topic == "" {
		return "global"
	}
	return "topic " + topic
}
