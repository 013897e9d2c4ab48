package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/beastmode/internal/dialogue"
	"github.com/roach88/beastmode/internal/dispatch"
	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/patterns"
)

type actionStatus int

const (
	actionDone actionStatus = iota
	actionGated
	actionFailed
)

type actionOutcome struct {
	status actionStatus
	result *dispatch.Result
	gate   *dispatch.ConfirmationRequired
}

// MaxRedirects bounds how deeply redirects may nest within one turn.
const MaxRedirects = 8

// step is one pre-rendered template segment. Text steps carry their
// rendered string; confirm steps carry their rendered prompt and redirect
// steps the input to match.
type step struct {
	seg    ir.Segment
	text   string
	isText bool
}

// render evaluates every text segment, random pick, confirm prompt and
// redirect input of tmpl. Nothing runs if any of them fails, so a template
// never half-executes because of a missing capture.
func render(tmpl ir.Template, env ir.Env, pick func(n int) int) ([]step, error) {
	steps := make([]step, 0, len(tmpl))
	for _, seg := range tmpl {
		switch s := seg.(type) {
		case ir.Literal, ir.CaptureRef, ir.VarRef, ir.Arithmetic:
			text, err := dispatch.RenderText(ir.Text{s}, env)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step{seg: seg, text: text, isText: true})
		case ir.Random:
			var text string
			if len(s.Options) > 0 {
				t, err := dispatch.RenderText(s.Options[pick(len(s.Options))], env)
				if err != nil {
					return nil, err
				}
				text = t
			}
			steps = append(steps, step{seg: seg, text: text, isText: true})
		case ir.Confirm:
			var prompt string
			if len(s.Prompt) > 0 {
				p, err := dispatch.RenderText(s.Prompt, env)
				if err != nil {
					return nil, err
				}
				prompt = p
			}
			steps = append(steps, step{seg: seg, text: prompt})
		case ir.Redirect:
			input, err := dispatch.RenderText(s.Input, env)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step{seg: seg, text: input})
		default:
			steps = append(steps, step{seg: seg})
		}
	}
	return steps, nil
}

// execute runs a matched rule's template.
func (c *Conversation) execute(ctx context.Context, s *dialogue.Session, tmpl ir.Template, env ir.Env, r *Reply) error {
	_, err := c.run(ctx, s, tmpl, env, nil, r)
	return err
}

// resume runs template work a confirmation interrupted, stopping where a
// template stops.
func (c *Conversation) resume(ctx context.Context, s *dialogue.Session, then []dialogue.Continuation, r *Reply) error {
	for i, k := range then {
		stopped, err := c.run(ctx, s, k.Template, k.Env, then[i+1:], r)
		if err != nil || stopped {
			return err
		}
	}
	return nil
}

// run executes tmpl in order. Adjacent text segments form one reply line.
// A confirm gate, a failed action or a flow start stops the template and
// every template that redirected to it; run then reports stopped.
//
// outer is the unrun tail of each enclosing redirect, innermost first. Its
// length is the redirect depth.
func (c *Conversation) run(ctx context.Context, s *dialogue.Session, tmpl ir.Template, env ir.Env, outer []dialogue.Continuation, r *Reply) (bool, error) {
	steps, err := render(tmpl, env, c.pick)
	if err != nil {
		slog.Warn("template render failed", "session_id", s.ID, "rule_id", r.RuleID, "error", err)
		r.Failures = append(r.Failures, err)
		r.say("Sorry, I couldn't work that out: %v", err)
		return true, nil
	}

	var line strings.Builder
	flush := func() {
		if text := strings.TrimSpace(line.String()); text != "" {
			r.Lines = append(r.Lines, text)
		}
		line.Reset()
	}

	for i, st := range steps {
		if st.isText {
			line.WriteString(st.text)
			continue
		}
		flush()

		switch seg := st.seg.(type) {
		case ir.SetTopic:
			s.Topic = patterns.NormalizeTopic(seg.Topic)
			slog.Debug("topic set", "session_id", s.ID, "topic", s.Topic)

		case ir.Redirect:
			inner, ok := c.redirect(s, st.text, len(outer), r)
			if !ok {
				return true, nil
			}
			next := append([]dialogue.Continuation{{Template: tmpl[i+1:], Env: env}}, outer...)
			stopped, err := c.run(ctx, s, inner.Rule.Template, ir.Env{Captures: inner.Captures, Vars: map[string]string{}}, next, r)
			if err != nil || stopped {
				return stopped, err
			}

		case ir.Action:
			out, err := c.runAction(ctx, s, seg.Ref, env, "", r)
			if err != nil {
				return true, err
			}
			switch out.status {
			case actionGated:
				c.gate(s, r, &dialogue.PendingConfirmation{
					Action: seg.Ref,
					Env:    env,
					Key:    out.gate.Key,
					Prompt: confirmPrompt(out.gate),
					Then:   remaining(tmpl[i+1:], env, outer),
				})
				return true, nil
			case actionFailed:
				return true, nil
			}

		case ir.Confirm:
			_, key, _, err := c.dispatcher.Resolve(seg.Ref, env)
			if err != nil {
				c.actionFailed(s, seg.Ref.WorkflowID, err, r)
				return true, nil
			}
			prompt := st.text
			if prompt == "" {
				prompt = confirmPrompt(&dispatch.ConfirmationRequired{WorkflowID: seg.Ref.WorkflowID})
			}
			c.gate(s, r, &dialogue.PendingConfirmation{
				Action: seg.Ref,
				Env:    env,
				Key:    key,
				Prompt: prompt,
				Then:   remaining(tmpl[i+1:], env, outer),
			})
			return true, nil

		case ir.Choice:
			return true, c.startFlow(ctx, s, seg.FlowID, env, r)

		default:
			return true, fmt.Errorf("unknown template segment %T", seg)
		}
	}
	flush()
	return false, nil
}

// redirect matches input in the session topic for a redirect at depth.
// Failures are reported on r.
func (c *Conversation) redirect(s *dialogue.Session, input string, depth int, r *Reply) (*patterns.MatchResult, bool) {
	var err error
	if depth >= MaxRedirects {
		err = fmt.Errorf("redirect %q: %w (limit %d)", input, ErrRedirectLimit, MaxRedirects)
	} else if m, ok := patterns.Match(c.library.Snapshot(), input, s.Topic); ok {
		slog.Debug("rule redirected",
			"session_id", s.ID,
			"from", r.RuleID,
			"to", m.Rule.ID,
			"depth", depth+1)
		return m, true
	} else {
		err = fmt.Errorf("redirect %q: %w", input, ErrRedirectUnmatched)
	}
	slog.Warn("redirect failed", "session_id", s.ID, "rule_id", r.RuleID, "error", err)
	r.Failures = append(r.Failures, err)
	r.say("Sorry, I couldn't work that out: %v", err)
	return nil, false
}

// remaining is the work left after a gate: the rest of the current
// template, then each enclosing redirect's rest. Empty tails are dropped.
func remaining(rest ir.Template, env ir.Env, outer []dialogue.Continuation) []dialogue.Continuation {
	var out []dialogue.Continuation
	if len(rest) > 0 {
		out = append(out, dialogue.Continuation{Template: rest, Env: env})
	}
	for _, k := range outer {
		if len(k.Template) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// gate parks p on the session and asks its question.
func (c *Conversation) gate(s *dialogue.Session, r *Reply, p *dialogue.PendingConfirmation) {
	s.Pending = p
	r.Confirm = p.Prompt
	slog.Info("confirmation requested",
		"session_id", s.ID,
		"workflow_id", p.Action.WorkflowID,
		"flow_id", p.FlowID)
}

func confirmPrompt(cr *dispatch.ConfirmationRequired) string {
	if len(cr.Inputs) == 0 {
		return fmt.Sprintf("Dispatch %s? (yes/no)", cr.WorkflowID)
	}
	return fmt.Sprintf("Dispatch %s (%s)? (yes/no)", cr.WorkflowID, cr.Inputs)
}

// runAction dispatches ref. Only a done context is returned as an error;
// every other failure is reported on r.
func (c *Conversation) runAction(ctx context.Context, s *dialogue.Session, ref ir.ActionRef, env ir.Env, key string, r *Reply) (actionOutcome, error) {
	res, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		Action:       ref,
		Env:          env,
		SessionID:    s.ID,
		Actor:        s.Actor,
		Confirmation: key,
	})

	switch {
	case err == nil:
	case res != nil && errors.Is(err, dispatch.ErrAuditFailed):
		r.Failures = append(r.Failures, err)
	default:
		var cr *dispatch.ConfirmationRequired
		if errors.As(err, &cr) {
			return actionOutcome{status: actionGated, gate: cr}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return actionOutcome{}, ctxErr
		}
		c.actionFailed(s, ref.WorkflowID, err, r)
		return actionOutcome{status: actionFailed}, nil
	}

	r.Dispatches = append(r.Dispatches, res)
	if run := res.RunRef.String(); run != "" {
		r.say("Dispatched %s (%s): %s", res.WorkflowID, res.Inputs, run)
	} else {
		r.say("Dispatched %s (%s).", res.WorkflowID, res.Inputs)
	}
	return actionOutcome{status: actionDone, result: res}, nil
}

// actionFailed explains a failed dispatch to the user.
func (c *Conversation) actionFailed(s *dialogue.Session, workflowID string, err error, r *Reply) {
	r.Failures = append(r.Failures, err)

	var (
		ie *dispatch.InputResolutionError
		ae *dispatch.AuthorizationError
		te *dispatch.WorkflowTriggerError
	)
	switch {
	case errors.As(err, &ie):
		r.say("I couldn't prepare %s: %v", workflowID, ie.Err)
	case errors.As(err, &ae):
		r.say("You're not allowed to run %s.", workflowID)
	case errors.As(err, &te) && te.Ambiguous():
		r.say("%s may or may not have started; check the workflow runs before retrying.", workflowID)
	default:
		r.say("%s failed: %v", workflowID, err)
	}
	slog.Warn("action failed", "session_id", s.ID, "workflow_id", workflowID, "error", err)
}
