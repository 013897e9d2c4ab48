package ir

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Word is one whitespace-delimited word of user input.
type Word struct {
	// Raw is the word as typed, with leading and trailing punctuation trimmed.
	// Captures return Raw so that names keep their case.
	Raw string

	// Norm is the matching form: NFC, case folded, punctuation removed.
	Norm string
}

// NormalizeWord returns the matching form of a single word.
// Returns "" for words made only of punctuation or symbols.
func NormalizeWord(w string) string {
	// cases.Caser is stateful, so each call gets its own.
	folded := cases.Fold().String(norm.NFC.String(w))
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, folded)
}

// Tokenize splits input into words and normalizes each one. Words that
// normalize to nothing are dropped, so "deploy -- now" has two words.
func Tokenize(input string) []Word {
	fields := strings.Fields(input)
	words := make([]Word, 0, len(fields))
	for _, f := range fields {
		n := NormalizeWord(f)
		if n == "" {
			continue
		}
		raw := strings.TrimFunc(norm.NFC.String(f), func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		words = append(words, Word{Raw: raw, Norm: n})
	}
	return words
}

// Normalize returns the normalized form of a whole input: words joined by
// single spaces.
func Normalize(input string) string {
	words := Tokenize(input)
	norms := make([]string, len(words))
	for i, w := range words {
		norms[i] = w.Norm
	}
	return strings.Join(norms, " ")
}

// JoinRaw joins the raw form of words with single spaces.
func JoinRaw(words []Word) string {
	raws := make([]string, len(words))
	for i, w := range words {
		raws[i] = w.Raw
	}
	return strings.Join(raws, " ")
}
