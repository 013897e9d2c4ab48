package patterns

import (
	"slices"

	"github.com/roach88/beastmode/internal/ir"
)

// MatchResult is the winning rule for an input plus its captures.
type MatchResult struct {
	Rule ir.Rule

	// Captures maps 1-based capture index (pattern order) to the words the
	// capturing token consumed, in the form the user typed them.
	Captures map[int]string
}

// Match finds the most specific rule in snap that aligns with input.
//
// Candidates are the topic's rules plus global rules, narrowed by the first
// word index and ranked by: fewer wildcards, more literals, topic-scoped
// before global, earlier insertion. The first candidate that aligns wins, so
// the result is a pure function of (snapshot, input, topic).
func Match(snap *Snapshot, input, topic string) (*MatchResult, bool) {
	return MatchWords(snap, ir.Tokenize(input), topic)
}

// MatchWords is Match over pre-tokenized input.
func MatchWords(snap *Snapshot, words []ir.Word, topic string) (*MatchResult, bool) {
	if len(words) == 0 {
		return nil, false
	}
	for _, e := range snap.candidates(NormalizeTopic(topic), words[0].Norm) {
		if captures, ok := Align(e.rule.Pattern, words); ok {
			return &MatchResult{Rule: e.rule, Captures: captures}, true
		}
	}
	return nil, false
}

// Align reports whether pattern matches words exactly and returns the
// captures of the first alignment found. Multi-word wildcards try the
// shortest consumption first and backtrack.
func Align(pattern []ir.Token, words []ir.Word) (map[int]string, bool) {
	// minTail[i] is the fewest words pattern[i:] can consume.
	minTail := make([]int, len(pattern)+1)
	for i := len(pattern) - 1; i >= 0; i-- {
		minTail[i] = minTail[i+1] + 1
	}
	if len(words) < minTail[0] {
		return nil, false
	}

	a := aligner{
		pattern: pattern,
		words:   words,
		minTail: minTail,
		failed:  make(map[[2]int]bool),
	}
	if !a.align(0, 0) {
		return nil, false
	}

	captures := make(map[int]string, len(a.spans))
	for i, sp := range a.spans {
		captures[i+1] = ir.JoinRaw(words[sp[0]:sp[1]])
	}
	return captures, true
}

type aligner struct {
	pattern []ir.Token
	words   []ir.Word
	minTail []int
	spans   [][2]int

	// failed memoizes (token, word) positions known not to align.
	// Captures never influence success, so failure is position-only.
	failed map[[2]int]bool
}

func (a *aligner) align(pi, wi int) bool {
	if pi == len(a.pattern) {
		return wi == len(a.words)
	}
	if len(a.words)-wi < a.minTail[pi] || a.failed[[2]int{pi, wi}] {
		return false
	}

	ok := a.step(pi, wi)
	if !ok {
		a.failed[[2]int{pi, wi}] = true
	}
	return ok
}

func (a *aligner) step(pi, wi int) bool {
	tok := a.pattern[pi]
	word := a.words[wi].Norm

	switch tok.Kind {
	case ir.TokenLiteral:
		return word == tok.Word && a.align(pi+1, wi+1)

	case ir.TokenSet:
		if _, found := slices.BinarySearch(tok.Set, word); !found {
			return false
		}
		return a.capture(pi, wi, wi+1)

	case ir.TokenSingle:
		return a.capture(pi, wi, wi+1)

	case ir.TokenMulti:
		maxEnd := len(a.words) - a.minTail[pi+1]
		for end := wi + 1; end <= maxEnd; end++ {
			if a.capture(pi, wi, end) {
				return true
			}
		}
		return false
	}
	return false
}

func (a *aligner) capture(pi, start, end int) bool {
	a.spans = append(a.spans, [2]int{start, end})
	if a.align(pi+1, end) {
		return true
	}
	a.spans = a.spans[:len(a.spans)-1]
	return false
}
