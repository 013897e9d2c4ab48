package loader

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/ir"
)

// CompileOptions supplies the names a source may refer to.
type CompileOptions struct {
	// Source names the definition for errors and Rule.Source.
	Source string

	// Topic is the default topic for rules that do not name one.
	Topic string

	// HasWorkflow reports whether a workflow id is known. Nil accepts any id.
	HasWorkflow func(id string) bool

	// HasFlow reports whether a flow id is known. Nil accepts any id.
	HasFlow func(id string) bool
}

// CompileRule compiles a single rule definition.
func CompileRule(def RuleDef, opts CompileOptions) (ir.Rule, error) {
	c := &compiler{opts: opts}
	r, ok := c.rule("rule", def)
	if !ok {
		return ir.Rule{}, c.errs[0]
	}
	return r, nil
}

// compiler turns one Document into IR, collecting every error rather than
// stopping at the first.
type compiler struct {
	opts CompileOptions
	errs []*LoadError
}

func (c *compiler) fail(line int, code, field, token, format string, args ...any) {
	c.errs = append(c.errs, &LoadError{
		Source:  c.opts.Source,
		Line:    line,
		Code:    code,
		Field:   field,
		Token:   token,
		Message: fmt.Sprintf(format, args...),
	})
}

func (c *compiler) hasWorkflow(id string) bool {
	return c.opts.HasWorkflow == nil || c.opts.HasWorkflow(id)
}

func (c *compiler) hasFlow(id string) bool {
	return c.opts.HasFlow == nil || c.opts.HasFlow(id)
}

// text parses a text field, recording failures.
func (c *compiler) text(line int, field, s string, parse func(string) (ir.Text, error)) (ir.Text, bool) {
	t, err := parse(s)
	if err != nil {
		var te *TextError
		if errors.As(err, &te) {
			c.fail(line, ErrCodeInvalidText, field, te.Token, "%s", te.Message)
		} else {
			c.fail(line, ErrCodeInvalidText, field, s, "%v", err)
		}
		return nil, false
	}
	return t, true
}

func (c *compiler) rule(field string, def RuleDef) (ir.Rule, bool) {
	before := len(c.errs)
	line := def.Line

	pattern, err := ir.ParsePattern(def.Pattern)
	if err != nil {
		token := def.Pattern
		var pe *ir.PatternError
		if errors.As(err, &pe) && pe.Token != "" {
			token = pe.Token
		}
		c.fail(line, ErrCodeInvalidPattern, field+".pattern", token, "%v", errors.Unwrap(err))
		return ir.Rule{}, false
	}
	captures := ir.CaptureCount(pattern)

	topic := def.Topic
	if topic == "" {
		topic = c.opts.Topic
	}

	var tmpl ir.Template
	checkCaptures := func(f string, t ir.Text) {
		if n := maxCaptureRef(t); n > captures {
			c.fail(line, ErrCodeCaptureRange, f, "$"+strconv.Itoa(n),
				"pattern has %d capture(s)", captures)
		}
	}

	if def.Reply != "" {
		if t, ok := c.text(line, field+".reply", def.Reply, ParseText); ok {
			checkCaptures(field+".reply", t)
			tmpl = append(tmpl, t...)
		}
	}

	if def.Random != nil {
		if len(def.Random) == 0 {
			c.fail(line, ErrCodeEmptyRandom, field+".random", "", "random needs at least one option")
		}
		options := make([]ir.Text, 0, len(def.Random))
		for i, opt := range def.Random {
			f := fmt.Sprintf("%s.random[%d]", field, i)
			if strings.TrimSpace(opt) == "" {
				c.fail(line, ErrCodeEmptyRandom, f, "", "random option is blank")
				continue
			}
			if t, ok := c.text(line, f, opt, ParseText); ok {
				checkCaptures(f, t)
				options = append(options, t)
			}
		}
		if len(options) > 0 {
			tmpl = append(tmpl, ir.Random{Options: options})
		}
	}

	if def.Redirect != "" {
		if t, ok := c.text(line, field+".redirect", def.Redirect, ParseText); ok {
			checkCaptures(field+".redirect", t)
			tmpl = append(tmpl, ir.Redirect{Input: t})
		}
	}

	if def.SetTopic != nil {
		tmpl = append(tmpl, ir.SetTopic{Topic: *def.SetTopic})
	}

	var action *ir.ActionRef
	if def.Action != nil {
		action = c.action(line, field+".action", def.Action)
		if action != nil {
			for name, in := range action.Inputs {
				checkCaptures(field+".action.inputs."+name, in.Value)
			}
		}
	}

	switch {
	case def.Confirm != "" && def.Action == nil:
		c.fail(line, ErrCodeConfirmNoAction, field+".confirm", def.Confirm, "confirm prompt has no action to gate")
	case def.Confirm != "":
		if prompt, ok := c.text(line, field+".confirm", def.Confirm, ParseText); ok && action != nil {
			checkCaptures(field+".confirm", prompt)
			action.RequiresConfirmation = true
			tmpl = append(tmpl, ir.Confirm{Prompt: prompt, Ref: *action})
		}
	case action != nil:
		tmpl = append(tmpl, ir.Action{Ref: *action})
	}

	if def.Flow != "" {
		if !c.hasFlow(def.Flow) {
			c.fail(line, ErrCodeUnknownFlow, field+".flow", def.Flow, "unknown flow")
		}
		tmpl = append(tmpl, ir.Choice{FlowID: def.Flow})
	}

	if def.Reply == "" && def.Random == nil && def.Redirect == "" && def.SetTopic == nil && def.Action == nil && def.Flow == "" {
		c.fail(line, ErrCodeEmptyRule, field, def.Pattern, "rule has no reply, random, redirect, action, flow or set_topic")
	}

	if len(c.errs) > before {
		return ir.Rule{}, false
	}
	return ir.Rule{
		Topic:    topic,
		Pattern:  pattern,
		Template: tmpl,
		Source:   c.opts.Source,
	}, true
}

func (c *compiler) action(line int, field string, def *ActionDef) *ir.ActionRef {
	before := len(c.errs)
	if def.Workflow == "" {
		c.fail(line, ErrCodeMissingWorkflow, field+".workflow", "", "workflow id is required")
		return nil
	}
	if !c.hasWorkflow(def.Workflow) {
		c.fail(line, ErrCodeUnknownWorkflow, field+".workflow", def.Workflow, "workflow is not in the catalog")
	}

	ref := &ir.ActionRef{
		WorkflowID:           def.Workflow,
		Inputs:               make(map[string]ir.InputSpec, len(def.Inputs)),
		RequiresConfirmation: def.Confirm,
	}
	names := make([]string, 0, len(def.Inputs))
	for name := range def.Inputs {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		in := def.Inputs[name]
		f := field + ".inputs." + name
		typ := ir.InputType(in.Type)
		if !validInputType(typ) {
			c.fail(line, ErrCodeInvalidInputType, f+".type", in.Type, "type must be string, number or boolean")
		}
		value, ok := c.text(line, f, in.Value, ParseInputValue)
		if !ok {
			continue
		}
		ref.Inputs[name] = ir.InputSpec{Value: value, Type: typ}
	}

	if len(c.errs) > before {
		return nil
	}
	return ref
}

func validInputType(t ir.InputType) bool {
	switch t {
	case "", ir.InputString, ir.InputNumber, ir.InputBoolean:
		return true
	}
	return false
}

// flow compiles a flow definition plus the rules that start it: one per
// trigger phrase and "START <id>".
func (c *compiler) flow(field string, def FlowDef) (*ir.FlowGraph, []ir.Rule, bool) {
	before := len(c.errs)
	line := def.Line

	if def.ID == "" {
		c.fail(line, ErrCodeFlowID, field+".id", "", "flow id is required")
		return nil, nil, false
	}

	g := &ir.FlowGraph{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Triggers:    def.Triggers,
		Start:       def.Start,
		Nodes:       make(map[string]*ir.Node, len(def.Nodes)),
		Source:      c.opts.Source,
	}

	ids := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		nd := def.Nodes[id]
		f := field + ".nodes." + id
		node := &ir.Node{ID: id, Next: nd.Next}

		if nd.Prompt != "" {
			node.Prompt, _ = c.text(line, f+".prompt", nd.Prompt, ParseText)
		}
		if nd.Action != nil {
			node.Action = c.action(line, f+".action", nd.Action)
		}
		if nd.End && (nd.Next != "" || len(nd.Choices) > 0) {
			c.fail(line, ErrCodeEndConflict, f, id, "end node cannot have next or choices")
		}

		for i, cd := range nd.Choices {
			cf := fmt.Sprintf("%s.choices[%d]", f, i)
			choice := ir.FlowChoice{Label: cd.Label, Next: cd.Next, Inputs: cd.Inputs, When: cd.When}
			for name := range cd.When {
				if strings.TrimSpace(name) == "" {
					c.fail(line, ErrCodeChoiceWhen, cf+".when", "", "condition needs a variable name")
				}
			}
			if cd.Action != nil {
				choice.Action = c.action(line, cf+".action", cd.Action)
			}
			node.Choices = append(node.Choices, choice)
		}
		g.Nodes[id] = node
	}

	for _, verr := range ValidateFlow(g) {
		verr.Source = c.opts.Source
		verr.Line = line
		verr.Field = field + verr.Field
		c.errs = append(c.errs, verr)
	}

	var rules []ir.Rule
	phrases := append([]string{"START " + def.ID}, def.Triggers...)
	for i, phrase := range phrases {
		pattern, err := ir.ParsePattern(phrase)
		if err != nil {
			c.fail(line, ErrCodeInvalidTrigger, fmt.Sprintf("%s.triggers[%d]", field, i-1), phrase, "%v", errors.Unwrap(err))
			continue
		}
		rules = append(rules, ir.Rule{
			Pattern:  pattern,
			Template: ir.Template{ir.Choice{FlowID: def.ID}},
			Source:   c.opts.Source,
		})
	}

	if len(c.errs) > before {
		return nil, nil, false
	}
	return g, rules, true
}

var workflowID = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

func (c *compiler) workflow(field string, w catalog.Workflow) (catalog.Workflow, bool) {
	before := len(c.errs)
	if !workflowID.MatchString(w.ID) {
		c.fail(0, ErrCodeWorkflowID, field+".id", w.ID, "workflow id must be lowercase letters, digits, '.', '_' or '-'")
	}
	for _, name := range w.InputNames() {
		in := w.Inputs[name]
		f := field + ".inputs." + name
		if !validInputType(in.Type) {
			c.fail(0, ErrCodeWorkflowInput, f+".type", string(in.Type), "type must be string, number or boolean")
			continue
		}
		def, ok := in.DefaultString()
		if !ok {
			continue
		}
		switch in.Type {
		case ir.InputNumber:
			if _, err := strconv.ParseInt(def, 10, 64); err != nil {
				c.fail(0, ErrCodeWorkflowDefault, f+".default", def, "default is not an integer")
			}
		case ir.InputBoolean:
			if _, err := strconv.ParseBool(def); err != nil {
				c.fail(0, ErrCodeWorkflowDefault, f+".default", def, "default is not a boolean")
			}
		}
	}
	w.Source = c.opts.Source
	return w, len(c.errs) == before
}
