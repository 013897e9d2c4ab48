package learning

import (
	"strings"
	"unicode"

	"github.com/roach88/beastmode/internal/ir"
)

// Generalize derives a pattern from an example input.
//
// Each slot's value is located in the input (first unused occurrence) and
// replaced by a named wildcard: <NAME> for one word, <NAME...> for several.
// Slots whose value does not occur are ignored. With no slots, numbers
// become wildcards instead. Runs of adjacent unnamed wildcards collapse into
// a single multi-word wildcard. Everything else stays literal.
func Generalize(source string, slots []ir.Slot) ([]ir.Token, error) {
	words := ir.Tokenize(source)
	if len(words) == 0 {
		return nil, &ir.PatternError{Pattern: source, Err: ir.ErrEmptyPattern}
	}

	// span[i] is the slot index covering word i, or -1.
	span := make([]int, len(words))
	for i := range span {
		span[i] = -1
	}
	for si, slot := range slots {
		value := ir.Tokenize(slot.Value)
		if start := locate(words, value, span); start >= 0 {
			for i := start; i < start+len(value); i++ {
				span[i] = si
			}
		}
	}

	var tokens []ir.Token
	for i := 0; i < len(words); {
		si := span[i]
		if si < 0 {
			if len(slots) == 0 && isNumber(words[i].Norm) {
				tokens = append(tokens, ir.Token{Kind: ir.TokenSingle})
			} else {
				tokens = append(tokens, ir.Token{Kind: ir.TokenLiteral, Word: words[i].Norm})
			}
			i++
			continue
		}

		j := i
		for j < len(words) && span[j] == si {
			j++
		}
		kind := ir.TokenSingle
		if j-i > 1 {
			kind = ir.TokenMulti
		}
		tokens = append(tokens, ir.Token{Kind: kind, Name: slotName(slots[si].Name)})
		i = j
	}
	return collapse(tokens), nil
}

// locate finds value as a contiguous run of unclaimed words.
func locate(words, value []ir.Word, span []int) int {
	if len(value) == 0 {
		return -1
	}
outer:
	for start := 0; start+len(value) <= len(words); start++ {
		for k, v := range value {
			if span[start+k] >= 0 || words[start+k].Norm != v.Norm {
				continue outer
			}
		}
		return start
	}
	return -1
}

func collapse(tokens []ir.Token) []ir.Token {
	out := make([]ir.Token, 0, len(tokens))
	run := 0
	flush := func() {
		switch {
		case run == 1:
			out = append(out, ir.Token{Kind: ir.TokenSingle})
		case run > 1:
			out = append(out, ir.Token{Kind: ir.TokenMulti})
		}
		run = 0
	}
	for _, t := range tokens {
		if t.IsWildcard() && t.Name == "" {
			run++
			continue
		}
		flush()
		out = append(out, t)
	}
	flush()
	return out
}

// Bindings maps each named capturing token to its 1-based capture index.
func Bindings(tokens []ir.Token) map[string]int {
	out := make(map[string]int)
	idx := 0
	for _, t := range tokens {
		if !t.Captures() {
			continue
		}
		idx++
		if t.Name != "" {
			if _, dup := out[t.Name]; !dup {
				out[t.Name] = idx
			}
		}
	}
	return out
}

func isNumber(w string) bool {
	if w == "" {
		return false
	}
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// slotName folds a model-supplied slot name into a pattern token name.
func slotName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case unicode.IsSpace(r):
			return '_'
		}
		return -1
	}, name)
}
