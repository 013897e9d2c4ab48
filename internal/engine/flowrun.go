package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/beastmode/internal/dialogue"
	"github.com/roach88/beastmode/internal/dispatch"
	"github.com/roach88/beastmode/internal/ir"
)

// startFlow enters flowID's start node with env as the initial flow
// environment.
func (c *Conversation) startFlow(ctx context.Context, s *dialogue.Session, flowID string, env ir.Env, r *Reply) error {
	g, ok := c.flows.Get(flowID)
	if !ok {
		c.flowFailed(s, r, NewUnknownFlowError(s.ID, flowID))
		return nil
	}

	env = env.Clone()
	s.Flow = &dialogue.FlowState{FlowID: g.ID, Env: env}
	slog.Info("flow started", "session_id", s.ID, "flow_id", g.ID)
	return c.enter(ctx, s, g, g.Start, "", env, false, r)
}

// enter moves the session to nodeID and keeps advancing until it settles
// on a choice node, a confirmation gate, or the end of the flow.
//
// origin is the choice node the user last stood on ("" before the first
// choice) and restore the flow environment there; a failed or declined
// node action returns to them. With resume set the first node's prompt and
// action are skipped because they already ran before a gate.
func (c *Conversation) enter(ctx context.Context, s *dialogue.Session, g *ir.FlowGraph, nodeID, origin string, restore ir.Env, resume bool, r *Reply) error {
	quota := newStepQuota(len(g.Nodes) + 1)
	for {
		if err := quota.Check(g.ID, nodeID); err != nil {
			c.flowFailed(s, r, err)
			return nil
		}
		n, ok := g.Nodes[nodeID]
		if !ok {
			c.flowFailed(s, r, NewUnknownNodeError(s.ID, g.ID, nodeID))
			return nil
		}
		s.Flow.NodeID = nodeID

		if !resume {
			if len(n.Prompt) > 0 {
				prompt, err := dispatch.RenderText(n.Prompt, s.Flow.Env)
				if err != nil {
					r.Failures = append(r.Failures, err)
					r.say("Sorry, I couldn't work that out: %v", err)
					c.retreat(s, g, origin, restore, r)
					return nil
				}
				r.say("%s", prompt)
			}

			if n.Action != nil {
				out, err := c.runAction(ctx, s, *n.Action, s.Flow.Env, "", r)
				if err != nil {
					return err
				}
				switch out.status {
				case actionGated:
					forward := s.Flow.Env
					s.Flow.Env = restore
					s.Flow.NodeID = origin
					c.gate(s, r, &dialogue.PendingConfirmation{
						Action:   *n.Action,
						Env:      forward,
						Key:      out.gate.Key,
						Prompt:   confirmPrompt(out.gate),
						FlowID:   g.ID,
						Origin:   origin,
						FollowUp: nodeID,
						Resume:   true,
					})
					return nil
				case actionFailed:
					c.retreat(s, g, origin, restore, r)
					return nil
				}
			}
		}
		resume = false

		// A node whose choices are all hidden by their conditions ends the
		// flow, since nodes with choices never declare next.
		if offered := dialogue.Offered(n.Choices, s.Flow.Env.Vars); len(offered) > 0 {
			r.Choices = dialogue.FormatChoices(offered)
			slog.Debug("flow waiting", "session_id", s.ID, "flow_id", g.ID, "node_id", nodeID)
			return nil
		}
		if n.Next == "" {
			c.endFlow(s, g)
			return nil
		}
		nodeID = n.Next
	}
}

// flowInput reads a turn as a choice of the current node.
func (c *Conversation) flowInput(ctx context.Context, s *dialogue.Session, input string, r *Reply) error {
	g, ok := c.flows.Get(s.Flow.FlowID)
	if !ok {
		c.flowFailed(s, r, NewUnknownFlowError(s.ID, s.Flow.FlowID))
		return nil
	}
	n, ok := g.Nodes[s.Flow.NodeID]
	if !ok {
		c.flowFailed(s, r, NewUnknownNodeError(s.ID, g.ID, s.Flow.NodeID))
		return nil
	}

	offered := dialogue.Offered(n.Choices, s.Flow.Env.Vars)
	i, ok := dialogue.SelectChoice(input, offered)
	if !ok {
		r.say("Please pick one of the options.")
		c.present(s, r)
		return nil
	}
	choice := offered[i]
	slog.Debug("choice selected", "session_id", s.ID, "flow_id", g.ID, "node_id", n.ID, "choice", choice.Label)

	env := s.Flow.Env.Clone()
	for k, v := range choice.Inputs {
		env.Vars[k] = v
	}

	if choice.Action != nil {
		out, err := c.runAction(ctx, s, *choice.Action, env, "", r)
		if err != nil {
			return err
		}
		switch out.status {
		case actionGated:
			c.gate(s, r, &dialogue.PendingConfirmation{
				Action:   *choice.Action,
				Env:      env,
				Key:      out.gate.Key,
				Prompt:   confirmPrompt(out.gate),
				FlowID:   g.ID,
				Origin:   n.ID,
				FollowUp: choice.Next,
			})
			return nil
		case actionFailed:
			c.present(s, r)
			return nil
		}
	}

	prev := s.Flow.Env
	s.Flow.Env = env
	if choice.Next == "" {
		c.endFlow(s, g)
		return nil
	}
	return c.enter(ctx, s, g, choice.Next, n.ID, prev, false, r)
}

// retreat returns the session to origin with env, or ends the flow when
// there is no origin.
func (c *Conversation) retreat(s *dialogue.Session, g *ir.FlowGraph, origin string, env ir.Env, r *Reply) {
	if origin == "" {
		c.endFlow(s, g)
		return
	}
	s.Flow.NodeID = origin
	s.Flow.Env = env
	c.present(s, r)
}

// present re-shows the current node's prompt and choices.
func (c *Conversation) present(s *dialogue.Session, r *Reply) {
	g, ok := c.flows.Get(s.Flow.FlowID)
	if !ok {
		c.flowFailed(s, r, NewUnknownFlowError(s.ID, s.Flow.FlowID))
		return
	}
	n, ok := g.Nodes[s.Flow.NodeID]
	if !ok {
		c.flowFailed(s, r, NewUnknownNodeError(s.ID, g.ID, s.Flow.NodeID))
		return
	}
	if len(n.Prompt) > 0 {
		if prompt, err := dispatch.RenderText(n.Prompt, s.Flow.Env); err == nil {
			r.say("%s", prompt)
		}
	}
	r.Choices = dialogue.FormatChoices(dialogue.Offered(n.Choices, s.Flow.Env.Vars))
}

func (c *Conversation) endFlow(s *dialogue.Session, g *ir.FlowGraph) {
	slog.Info("flow completed", "session_id", s.ID, "flow_id", g.ID)
	s.Flow = nil
}

// flowFailed drops a flow that can no longer be followed.
func (c *Conversation) flowFailed(s *dialogue.Session, r *Reply, err error) {
	slog.Error("flow aborted", "session_id", s.ID, "error", err)
	r.Failures = append(r.Failures, err)
	r.say("Something went wrong with that flow, so I've stopped it.")
	s.Reset()
}
