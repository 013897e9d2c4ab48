package dispatch

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/ir"
)

// RenderText evaluates text against env.
//
// Captures render as typed by the user, variables as set by flow choices,
// and arithmetic as a decimal integer. A reference to a missing capture or
// unset variable is an error; text is never partially rendered.
func RenderText(text ir.Text, env ir.Env) (string, error) {
	var b strings.Builder
	for _, seg := range text {
		switch s := seg.(type) {
		case ir.Literal:
			b.WriteString(s.Text)
		case ir.CaptureRef:
			v, ok := env.Captures[s.Index]
			if !ok {
				return "", fmt.Errorf("$%d: %w", s.Index, ErrMissingCapture)
			}
			b.WriteString(v)
		case ir.VarRef:
			v, ok := env.Vars[s.Name]
			if !ok {
				return "", fmt.Errorf("%s: %w", s.Name, ErrUnknownVariable)
			}
			b.WriteString(v)
		case ir.Arithmetic:
			n, err := EvalExpr(s.Expr, env)
			if err != nil {
				return "", err
			}
			b.WriteString(strconv.FormatInt(n, 10))
		default:
			return "", fmt.Errorf("segment %T cannot appear in text", seg)
		}
	}
	return b.String(), nil
}

// EvalExpr evaluates an integer expression. Captures and variables must
// parse as base-10 integers; overflow is an error rather than wrapping.
func EvalExpr(e ir.Expr, env ir.Env) (int64, error) {
	switch x := e.(type) {
	case ir.Const:
		return x.Value, nil
	case ir.Star:
		v, ok := env.Captures[x.Index]
		if !ok {
			return 0, fmt.Errorf("$%d: %w", x.Index, ErrMissingCapture)
		}
		return parseInt(fmt.Sprintf("$%d", x.Index), v)
	case ir.Var:
		v, ok := env.Vars[x.Name]
		if !ok {
			return 0, fmt.Errorf("%s: %w", x.Name, ErrUnknownVariable)
		}
		return parseInt(x.Name, v)
	case ir.Binary:
		l, err := EvalExpr(x.Left, env)
		if err != nil {
			return 0, err
		}
		r, err := EvalExpr(x.Right, env)
		if err != nil {
			return 0, err
		}
		return apply(x.Op, l, r)
	}
	return 0, fmt.Errorf("unknown expression %T", e)
}

func parseInt(name, v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", name, v, ErrNotInteger)
	}
	return n, nil
}

func apply(op byte, l, r int64) (int64, error) {
	var out int64
	switch op {
	case '+':
		out = l + r
		if (r > 0 && out < l) || (r < 0 && out > l) {
			return 0, ErrOverflow
		}
	case '-':
		out = l - r
		if (r > 0 && out > l) || (r < 0 && out < l) {
			return 0, ErrOverflow
		}
	case '*':
		out = l * r
		if l != 0 && (out/l != r || (l == -1 && r == math.MinInt64)) {
			return 0, ErrOverflow
		}
	default:
		return 0, fmt.Errorf("unknown operator %q", op)
	}
	return out, nil
}

// ResolveInputs evaluates every input of ref against env.
//
// The declared type of an input comes from the ref, else from the workflow
// (wf may be nil when no catalog is configured). Numbers resolve to IRInt,
// booleans to "true"/"false", and strings to IRString; an untyped input
// that is a single arithmetic expression resolves to IRInt. Workflow
// defaults fill optional inputs the ref leaves out.
func ResolveInputs(ref ir.ActionRef, env ir.Env, wf *catalog.Workflow) (ir.Inputs, error) {
	fail := func(input string, err error) (ir.Inputs, error) {
		return nil, &InputResolutionError{WorkflowID: ref.WorkflowID, Input: input, Err: err}
	}

	out := make(ir.Inputs, len(ref.Inputs))
	for _, name := range slices.Sorted(maps.Keys(ref.Inputs)) {
		spec := ref.Inputs[name]
		typ := spec.Type
		if wf != nil {
			if _, declared := wf.Inputs[name]; !declared && len(wf.Inputs) > 0 {
				return fail(name, ErrUnknownInput)
			}
			if typ == "" {
				typ = wf.InputType(name)
			}
		}

		v, err := resolveValue(spec.Value, typ, env)
		if err != nil {
			return fail(name, err)
		}
		out[name] = v
	}

	if wf == nil {
		return out, nil
	}
	for _, name := range wf.InputNames() {
		if _, ok := out[name]; ok {
			continue
		}
		in := wf.Inputs[name]
		def, ok := in.DefaultString()
		switch {
		case ok:
			v, err := convert(def, in.Type)
			if err != nil {
				return fail(name, err)
			}
			out[name] = v
		case in.Required:
			return fail(name, ErrMissingInput)
		}
	}
	return out, nil
}

func resolveValue(text ir.Text, typ ir.InputType, env ir.Env) (ir.Value, error) {
	if len(text) == 1 && typ != ir.InputString && typ != ir.InputBoolean {
		if a, ok := text[0].(ir.Arithmetic); ok {
			n, err := EvalExpr(a.Expr, env)
			if err != nil {
				return nil, err
			}
			return ir.IRInt(n), nil
		}
	}

	s, err := RenderText(text, env)
	if err != nil {
		return nil, err
	}
	return convert(s, typ)
}

// convert applies a declared type to a rendered value.
func convert(s string, typ ir.InputType) (ir.Value, error) {
	switch typ {
	case ir.InputNumber:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number: %w", s, ErrTypeMismatch)
		}
		return ir.IRInt(n), nil
	case ir.InputBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean: %w", s, ErrTypeMismatch)
		}
		return ir.IRString(strconv.FormatBool(b)), nil
	default:
		return ir.IRString(s), nil
	}
}
