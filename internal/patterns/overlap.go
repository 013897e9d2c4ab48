package patterns

import (
	"slices"

	"github.com/roach88/beastmode/internal/ir"
)

// element is one position of a pattern rewritten for intersection:
// every multi-word wildcard becomes "any word" followed by "any words".
type element struct {
	many bool // zero or more arbitrary words

	// For single-word elements: any is true for wildcards, else the word
	// must equal lit (literals) or be in set (sets).
	any bool
	lit string
	set []string
}

func expand(pattern []ir.Token) []element {
	out := make([]element, 0, len(pattern))
	for _, t := range pattern {
		switch t.Kind {
		case ir.TokenLiteral:
			out = append(out, element{lit: t.Word})
		case ir.TokenSet:
			out = append(out, element{set: t.Set})
		case ir.TokenSingle:
			out = append(out, element{any: true})
		case ir.TokenMulti:
			out = append(out, element{any: true}, element{many: true})
		}
	}
	return out
}

// compatible reports whether some word satisfies both single-word elements.
func compatible(a, b element) bool {
	switch {
	case a.any || b.any:
		return true
	case a.lit != "" && b.lit != "":
		return a.lit == b.lit
	case a.lit != "":
		_, ok := slices.BinarySearch(b.set, a.lit)
		return ok
	case b.lit != "":
		_, ok := slices.BinarySearch(a.set, b.lit)
		return ok
	}
	for _, w := range a.set {
		if _, ok := slices.BinarySearch(b.set, w); ok {
			return true
		}
	}
	return false
}

// Overlaps reports whether at least one input is matched by both patterns.
//
// It searches the product of the two patterns' position automata: a state
// (i, j) is reachable if some word sequence brings pattern a to position i
// and pattern b to position j at the same time.
func Overlaps(a, b []ir.Token) bool {
	ea, eb := expand(a), expand(b)
	type state struct{ i, j int }

	seen := make(map[state]bool)
	queue := []state{{0, 0}}
	push := func(s state) {
		if !seen[s] {
			seen[s] = true
			queue = append(queue, s)
		}
	}
	seen[state{0, 0}] = true

	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if s.i == len(ea) && s.j == len(eb) {
			return true
		}

		// A zero-or-more element may be skipped without consuming input.
		if s.i < len(ea) && ea[s.i].many {
			push(state{s.i + 1, s.j})
		}
		if s.j < len(eb) && eb[s.j].many {
			push(state{s.i, s.j + 1})
		}

		// Both sides consume the same word.
		if s.i == len(ea) || s.j == len(eb) {
			continue
		}
		x, y := ea[s.i], eb[s.j]
		ni, nj := s.i+1, s.j+1
		if x.many {
			ni = s.i
		}
		if y.many {
			nj = s.j
		}
		if x.many || y.many || compatible(x, y) {
			push(state{ni, nj})
		}
	}
	return false
}

// Shadowed returns the ids of rules that would lose at least one input to
// rule if it were inserted now. A rule only competes with rules it can be a
// candidate alongside: the same topic, or either side global.
func (s *Snapshot) Shadowed(rule ir.Rule) []ir.RuleID {
	topic := NormalizeTopic(rule.Topic)
	wildcards, literals := ir.Specificity(rule.Pattern)

	// Inserted later than everything present, so ties go to existing rules.
	newRank := rank{wildcards: wildcards, literals: literals, global: topic == "", seq: int64(^uint64(0) >> 1)}

	var shadowed []ir.RuleID
	for _, e := range s.byID {
		if topic != "" && e.rule.Topic != "" && e.rule.Topic != topic {
			continue
		}
		if compareRank(newRank, e.rank()) >= 0 {
			continue
		}
		if Overlaps(rule.Pattern, e.rule.Pattern) {
			shadowed = append(shadowed, e.rule.ID)
		}
	}
	slices.Sort(shadowed)
	return shadowed
}
