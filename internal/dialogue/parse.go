package dialogue

import (
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/beastmode/internal/ir"
)

var affirmative = []string{
	"y", "yes", "yeah", "yep", "yup", "sure", "ok", "okay",
	"confirm", "confirmed", "proceed", "go ahead", "do it", "affirmative",
}

var abortWords = []string{"cancel", "abort", "stop"}

// IsAffirmative reports whether input is a yes. Anything that is not
// recognisably a yes counts as a no.
func IsAffirmative(input string) bool {
	return slices.Contains(affirmative, ir.Normalize(input))
}

// IsAbort reports whether input asks to abandon the current flow or
// pending confirmation.
func IsAbort(input string) bool {
	return slices.Contains(abortWords, ir.Normalize(input))
}

// SelectChoice picks a choice from input. In order of precedence the input
// may be the choice number ("2"), the full label, the choice letter ("b"),
// or a prefix of a label (the first label with that prefix wins). Labels
// are compared in normalized form, so case and punctuation do not matter.
func SelectChoice(input string, choices []ir.FlowChoice) (int, bool) {
	in := ir.Normalize(input)
	if in == "" {
		return 0, false
	}

	if n, err := strconv.Atoi(in); err == nil {
		if n >= 1 && n <= len(choices) {
			return n - 1, true
		}
		return 0, false
	}

	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = ir.Normalize(c.Label)
	}

	if i := slices.Index(labels, in); i >= 0 {
		return i, true
	}
	if len(in) == 1 && in[0] >= 'a' && in[0] <= 'z' {
		if i := int(in[0] - 'a'); i < len(choices) {
			return i, true
		}
	}
	for i, l := range labels {
		if strings.HasPrefix(l, in) {
			return i, true
		}
	}
	return 0, false
}

// Offered returns the choices whose When conditions hold for vars, in
// order. Numbers and letters in SelectChoice refer to this list.
func Offered(choices []ir.FlowChoice, vars map[string]string) []ir.FlowChoice {
	out := make([]ir.FlowChoice, 0, len(choices))
	for _, c := range choices {
		if c.Available(vars) {
			out = append(out, c)
		}
	}
	return out
}

// FormatChoices renders choices as a numbered list, one per line.
func FormatChoices(choices []ir.FlowChoice) []string {
	out := make([]string, len(choices))
	for i, c := range choices {
		out[i] = strconv.Itoa(i+1) + ". " + c.Label
	}
	return out
}
