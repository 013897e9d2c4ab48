package ir

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Pattern parse errors.
var (
	ErrEmptyPattern        = errors.New("pattern has no tokens")
	ErrUnsupportedWildcard = errors.New("unsupported wildcard")
	ErrMalformedToken      = errors.New("malformed token")
)

// PatternError reports the offending token of a pattern that failed to parse.
type PatternError struct {
	Pattern string
	Token   string
	Err     error
}

func (e *PatternError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("pattern %q: %v", e.Pattern, e.Err)
	}
	return fmt.Sprintf("pattern %q: token %q: %v", e.Pattern, e.Token, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// ParsePattern compiles pattern source into tokens.
//
// Syntax (whitespace separated):
//
//	word         literal, normalized like user input
//	*  <NAME>    exactly one word
//	_  <NAME...> one or more words
//	[a|b|c]      exactly one word from the alternatives
//
// Zero-or-more markers (# and ^) are rejected.
func ParsePattern(src string) ([]Token, error) {
	var tokens []Token
	for _, field := range strings.Fields(src) {
		tok, ok, err := parseToken(field)
		if err != nil {
			return nil, &PatternError{Pattern: src, Token: field, Err: err}
		}
		if ok {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return nil, &PatternError{Pattern: src, Err: ErrEmptyPattern}
	}
	return tokens, nil
}

// MustParsePattern is like ParsePattern but panics on error.
// Use only in tests or for patterns known to be valid.
func MustParsePattern(src string) []Token {
	tokens, err := ParsePattern(src)
	if err != nil {
		panic(err)
	}
	return tokens
}

func parseToken(field string) (Token, bool, error) {
	switch {
	case field == "*":
		return Token{Kind: TokenSingle}, true, nil
	case field == "_":
		return Token{Kind: TokenMulti}, true, nil
	case field == "#" || field == "^":
		return Token{}, false, ErrUnsupportedWildcard
	case strings.HasPrefix(field, "<"):
		if !strings.HasSuffix(field, ">") || len(field) < 3 {
			return Token{}, false, ErrMalformedToken
		}
		name := field[1 : len(field)-1]
		kind := TokenSingle
		if trimmed, ok := strings.CutSuffix(name, "..."); ok {
			name, kind = trimmed, TokenMulti
		}
		if name == "" {
			return Token{}, false, ErrMalformedToken
		}
		return Token{Kind: kind, Name: strings.ToLower(name)}, true, nil
	case strings.HasPrefix(field, "["):
		if !strings.HasSuffix(field, "]") {
			return Token{}, false, ErrMalformedToken
		}
		var set []string
		for _, alt := range strings.Split(field[1:len(field)-1], "|") {
			if n := NormalizeWord(alt); n != "" {
				set = append(set, n)
			}
		}
		if len(set) == 0 {
			return Token{}, false, ErrMalformedToken
		}
		slices.Sort(set)
		return Token{Kind: TokenSet, Set: slices.Compact(set)}, true, nil
	}

	word := NormalizeWord(field)
	if word == "" {
		return Token{}, false, nil
	}
	return Token{Kind: TokenLiteral, Word: word}, true, nil
}

// PatternKey is the canonical identity of a pattern. Slot names are not part
// of the key, so "CREATE <N> TENANTS" and "create * tenants" are duplicates.
func PatternKey(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		switch t.Kind {
		case TokenLiteral:
			parts[i] = t.Word
		case TokenSingle:
			parts[i] = "*"
		case TokenMulti:
			parts[i] = "_"
		case TokenSet:
			parts[i] = "[" + strings.Join(t.Set, "|") + "]"
		}
	}
	return strings.Join(parts, " ")
}

// FormatPattern renders tokens back to parseable source, upper-casing
// literals the way patterns are conventionally written.
func FormatPattern(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		switch t.Kind {
		case TokenLiteral:
			parts[i] = strings.ToUpper(t.Word)
		case TokenSingle:
			parts[i] = "*"
			if t.Name != "" {
				parts[i] = "<" + strings.ToUpper(t.Name) + ">"
			}
		case TokenMulti:
			parts[i] = "_"
			if t.Name != "" {
				parts[i] = "<" + strings.ToUpper(t.Name) + "...>"
			}
		case TokenSet:
			parts[i] = "[" + strings.ToUpper(strings.Join(t.Set, "|")) + "]"
		}
	}
	return strings.Join(parts, " ")
}

// Specificity returns the wildcard and literal counts used for ranking.
func Specificity(tokens []Token) (wildcards, literals int) {
	for _, t := range tokens {
		switch {
		case t.IsWildcard():
			wildcards++
		case t.Kind == TokenLiteral:
			literals++
		}
	}
	return wildcards, literals
}

// CaptureCount returns how many captures a match of tokens produces.
func CaptureCount(tokens []Token) int {
	n := 0
	for _, t := range tokens {
		if t.Captures() {
			n++
		}
	}
	return n
}
