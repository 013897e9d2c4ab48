package loader

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/roach88/beastmode/internal/ir"
)

var (
	captureRef = regexp.MustCompile(`^\$(\d+)$`)
	varName    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// TextError reports a placeholder that failed to parse.
type TextError struct {
	Text    string
	Token   string
	Message string
}

func (e *TextError) Error() string {
	return fmt.Sprintf("%s (at %q)", e.Message, e.Token)
}

// ParseText compiles template text into segments.
//
// Placeholders are written in braces: {$1} is a capture, {name} a flow
// variable, and anything else an integer expression such as
// {$1 * $2 * $3}. "{{" and "}}" produce literal braces.
func ParseText(s string) (ir.Text, error) {
	var (
		out ir.Text
		lit strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			out = append(out, ir.Literal{Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return nil, &TextError{Text: s, Token: s[i:], Message: "unclosed placeholder"}
			}
			body := s[i+1 : i+1+end]
			seg, err := parsePlaceholder(body)
			if err != nil {
				return nil, &TextError{Text: s, Token: "{" + body + "}", Message: err.Error()}
			}
			flush()
			out = append(out, seg)
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return out, nil
}

// ParseInputValue compiles an action input value. A bare "$N" is shorthand
// for "{$N}".
func ParseInputValue(s string) (ir.Text, error) {
	if m := captureRef.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 {
			return nil, &TextError{Text: s, Token: s, Message: "capture indexes start at 1"}
		}
		return ir.Text{ir.CaptureRef{Index: n}}, nil
	}
	return ParseText(s)
}

func parsePlaceholder(body string) (ir.Segment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("empty placeholder")
	}
	if varName.MatchString(body) {
		return ir.VarRef{Name: body}, nil
	}

	expr, err := ParseExpr(body)
	if err != nil {
		return nil, err
	}
	if star, ok := expr.(ir.Star); ok {
		return ir.CaptureRef{Index: star.Index}, nil
	}
	return ir.Arithmetic{Expr: expr}, nil
}

// ParseExpr parses an integer expression over constants, captures ($N) and
// variables, with +, -, * and parentheses.
func ParseExpr(s string) (ir.Expr, error) {
	p := &exprParser{src: s}
	p.next()
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.tok != "" {
		return nil, fmt.Errorf("unexpected %q", p.tok)
	}
	return e, nil
}

type exprParser struct {
	src string
	pos int
	tok string
}

// next advances to the next token. Tokens are integers, $N, identifiers,
// and single-character operators; "" means end of input.
func (p *exprParser) next() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	if p.pos >= len(p.src) {
		p.tok = ""
		return
	}

	start := p.pos
	c := p.src[p.pos]
	switch {
	case c == '$' || isDigit(c):
		p.pos++
		for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
			p.pos++
		}
	case isIdentStart(c):
		for p.pos < len(p.src) && (isIdentStart(p.src[p.pos]) || isDigit(p.src[p.pos])) {
			p.pos++
		}
	default:
		p.pos++
	}
	p.tok = p.src[start:p.pos]
}

func (p *exprParser) expr() (ir.Expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.tok == "+" || p.tok == "-" {
		op := p.tok[0]
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = ir.Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) term() (ir.Expr, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for p.tok == "*" {
		p.next()
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = ir.Binary{Op: '*', Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) factor() (ir.Expr, error) {
	tok := p.tok
	switch {
	case tok == "":
		return nil, fmt.Errorf("unexpected end of expression")
	case tok == "(":
		p.next()
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.tok != ")" {
			return nil, fmt.Errorf("missing )")
		}
		p.next()
		return e, nil
	case tok[0] == '$':
		n, err := strconv.Atoi(tok[1:])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid capture %q", tok)
		}
		p.next()
		return ir.Star{Index: n}, nil
	case isDigit(tok[0]):
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", tok)
		}
		p.next()
		return ir.Const{Value: n}, nil
	case isIdentStart(tok[0]):
		p.next()
		return ir.Var{Name: tok}, nil
	}
	return nil, fmt.Errorf("unexpected %q", tok)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// maxCaptureRef returns the highest capture index text refers to.
func maxCaptureRef(text ir.Text) int {
	highest := 0
	for _, seg := range text {
		switch s := seg.(type) {
		case ir.CaptureRef:
			highest = max(highest, s.Index)
		case ir.Arithmetic:
			highest = max(highest, maxStar(s.Expr))
		}
	}
	return highest
}

func maxStar(e ir.Expr) int {
	switch x := e.(type) {
	case ir.Star:
		return x.Index
	case ir.Binary:
		return max(maxStar(x.Left), maxStar(x.Right))
	}
	return 0
}
