package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/beastmode/internal/dialogue"
	"github.com/roach88/beastmode/internal/dispatch"
	"github.com/roach88/beastmode/internal/fallback"
	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/patterns"
)

var tracer = otel.Tracer("github.com/roach88/beastmode/internal/engine")

// DefaultTurnTimeout bounds the dispatch and fallback work of one turn.
const DefaultTurnTimeout = 60 * time.Second

// Fallback answers input no rule matched. *fallback.Adapter implements it.
type Fallback interface {
	Handle(ctx context.Context, input, topic string) (*fallback.Outcome, error)
}

// Learner records proposals for operator review. *learning.Coordinator
// implements it.
type Learner interface {
	Propose(ctx context.Context, draft ir.Proposal) (*ir.Proposal, error)
}

// Observer receives one call per finished turn. Route is "empty", "abort",
// "confirm", "flow", "match" or "fallback".
type Observer interface {
	ObserveTurn(route string, elapsed time.Duration)
}

// Reply is everything a turn produced, in order.
type Reply struct {
	SessionID string

	// Lines are reply text lines: template text, prompts and dispatch
	// notices.
	Lines []string

	// Choices are the numbered options of the node the session waits on.
	Choices []string

	// Confirm is the yes/no question the session now waits on.
	Confirm string

	Dispatches []*dispatch.Result
	Failures   []error

	// RuleID is the rule that matched, if any.
	RuleID ir.RuleID

	// ProposalID is set when the fallback's proposal was recorded.
	ProposalID string

	// Degraded is set when the fallback service was unavailable.
	Degraded bool

	// Session state after the turn.
	State dialogue.State
	Topic string
}

// Text renders the reply for a chat transport.
func (r *Reply) Text() string {
	lines := append([]string(nil), r.Lines...)
	lines = append(lines, r.Choices...)
	if r.Confirm != "" {
		lines = append(lines, r.Confirm)
	}
	return strings.Join(lines, "\n")
}

func (r *Reply) say(format string, args ...any) {
	r.Lines = append(r.Lines, fmt.Sprintf(format, args...))
}

// Conversation routes turns through dialogue state, the library, the
// dispatcher and the fallback.
type Conversation struct {
	library    *patterns.Store
	flows      *dialogue.Flows
	sessions   *dialogue.Manager
	dispatcher *dispatch.Dispatcher

	fallback    Fallback
	learner     Learner
	observer    Observer
	queue       *Queue
	turnTimeout time.Duration
	now         func() time.Time
	pick        func(n int) int
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithFallback sets the adapter for unmatched input. Without one every
// unmatched turn gets the canned help reply.
func WithFallback(f Fallback) Option {
	return func(c *Conversation) { c.fallback = f }
}

// WithLearner sets where fallback proposals are recorded.
func WithLearner(l Learner) Option {
	return func(c *Conversation) { c.learner = l }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Conversation) { c.observer = o }
}

// WithTurnTimeout bounds each turn. Zero disables the deadline.
func WithTurnTimeout(d time.Duration) Option {
	return func(c *Conversation) { c.turnTimeout = d }
}

// WithPick sets how a random reply is chosen: pick(n) returns an index in
// [0, n).
func WithPick(pick func(n int) int) Option {
	return func(c *Conversation) { c.pick = pick }
}

// WithNow sets the clock used for history timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Conversation) { c.now = now }
}

// New creates a conversation engine.
func New(library *patterns.Store, flows *dialogue.Flows, sessions *dialogue.Manager, d *dispatch.Dispatcher, opts ...Option) *Conversation {
	c := &Conversation{
		library:     library,
		flows:       flows,
		sessions:    sessions,
		dispatcher:  d,
		queue:       NewQueue(),
		turnTimeout: DefaultTurnTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		pick:        rand.IntN,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close waits for running turns and rejects new ones.
func (c *Conversation) Close() {
	c.queue.Close()
}

// Sessions returns the session table.
func (c *Conversation) Sessions() *dialogue.Manager {
	return c.sessions
}

// Handle runs one turn for sessionID. An empty sessionID opens a new
// session; its id is in the reply. Turns of the same session are processed
// one at a time in arrival order.
//
// The only errors are a done context and a closed engine. Everything else
// (no match, failed dispatch, declined confirmation) is a reply.
func (c *Conversation) Handle(ctx context.Context, sessionID, actor, input string) (*Reply, error) {
	s := c.sessions.Get(sessionID, actor)

	var reply *Reply
	var turnErr error
	err := c.queue.Do(ctx, s.ID, func(ctx context.Context) {
		reply, turnErr = c.turn(ctx, s, input)
	})
	if err != nil {
		return nil, err
	}
	if reply == nil && turnErr == nil {
		// Skipped: ctx ended while the turn was queued.
		return nil, ctx.Err()
	}
	return reply, turnErr
}

func (c *Conversation) turn(ctx context.Context, s *dialogue.Session, input string) (*Reply, error) {
	start := time.Now()
	if c.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.turnTimeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "engine.turn",
		trace.WithAttributes(
			attribute.String("session.id", s.ID),
			attribute.String("dialogue.state", s.State().String()),
		))
	defer span.End()

	r := &Reply{SessionID: s.ID}
	input = strings.TrimSpace(input)

	var route string
	var err error
	switch {
	case ir.Normalize(input) == "":
		route = "empty"
		c.repeat(s, r)
	case dialogue.IsAbort(input):
		route = "abort"
		if s.Pending != nil || s.Flow != nil {
			slog.Info("dialogue cancelled", "session_id", s.ID, "state", s.State().String())
			s.Reset()
			r.say("Cancelled.")
		} else {
			r.say("Nothing to cancel.")
		}
	case s.Pending != nil:
		route = "confirm"
		err = c.answer(ctx, s, input, r)
	case s.Flow != nil:
		route = "flow"
		err = c.flowInput(ctx, s, input, r)
	default:
		route, err = c.match(ctx, s, input, r)
	}

	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.Record(dialogue.Turn{Input: input, RuleID: r.RuleID, At: c.now()})
	r.State = s.State()
	r.Topic = s.Topic

	span.SetAttributes(attribute.String("turn.route", route))
	if c.observer != nil {
		c.observer.ObserveTurn(route, time.Since(start))
	}
	slog.Debug("turn handled",
		"session_id", s.ID,
		"route", route,
		"rule_id", r.RuleID,
		"dispatches", len(r.Dispatches),
		"failures", len(r.Failures))
	return r, nil
}

// repeat re-presents whatever the session is waiting on.
func (c *Conversation) repeat(s *dialogue.Session, r *Reply) {
	switch {
	case s.Pending != nil:
		r.Confirm = s.Pending.Prompt
	case s.Flow != nil:
		c.present(s, r)
	default:
		r.say("I didn't catch that.")
	}
}

// match runs the Matcher and executes the winning template, or falls back.
func (c *Conversation) match(ctx context.Context, s *dialogue.Session, input string, r *Reply) (string, error) {
	m, ok := patterns.Match(c.library.Snapshot(), input, s.Topic)
	if !ok {
		return "fallback", c.unmatched(ctx, s, input, r)
	}

	r.RuleID = m.Rule.ID
	slog.Debug("rule matched",
		"session_id", s.ID,
		"rule_id", m.Rule.ID,
		"topic", s.Topic,
		"pattern", ir.FormatPattern(m.Rule.Pattern))

	env := ir.Env{Captures: m.Captures, Vars: map[string]string{}}
	return "match", c.execute(ctx, s, m.Rule.Template, env, r)
}

// unmatched asks the fallback and records any proposal it drafts.
func (c *Conversation) unmatched(ctx context.Context, s *dialogue.Session, input string, r *Reply) error {
	if c.fallback == nil {
		r.say("%s", fallback.HelpReply)
		r.Degraded = true
		return nil
	}

	out, err := c.fallback.Handle(ctx, input, s.Topic)
	if err != nil {
		return err
	}
	r.say("%s", out.Reply)
	r.Degraded = out.Degraded

	if out.Proposal == nil || c.learner == nil {
		return nil
	}
	p, err := c.learner.Propose(ctx, *out.Proposal)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		slog.Warn("proposal not recorded", "session_id", s.ID, "error", err)
		r.Failures = append(r.Failures, err)
		return nil
	}
	r.ProposalID = p.ID
	r.say("I've suggested a new pattern for %s; an operator can approve proposal %s.", p.Workflow, p.ID)
	return nil
}

// answer resolves a pending confirmation.
func (c *Conversation) answer(ctx context.Context, s *dialogue.Session, input string, r *Reply) error {
	p := s.Pending
	s.Pending = nil

	var g *ir.FlowGraph
	if p.FlowID != "" {
		var ok bool
		if g, ok = c.flows.Get(p.FlowID); !ok || s.Flow == nil {
			c.flowFailed(s, r, NewUnknownFlowError(s.ID, p.FlowID))
			return nil
		}
	}

	if !dialogue.IsAffirmative(input) {
		slog.Info("confirmation declined", "session_id", s.ID, "workflow_id", p.Action.WorkflowID)
		r.say("Okay, I won't run %s.", p.Action.WorkflowID)
		if g != nil {
			c.retreat(s, g, p.Origin, s.Flow.Env, r)
		}
		return nil
	}

	out, err := c.runAction(ctx, s, p.Action, p.Env, p.Key, r)
	if err != nil {
		return err
	}
	if out.status == actionGated {
		r.say("%s changed since you confirmed it; nothing was run.", p.Action.WorkflowID)
	}
	if g == nil {
		if out.status != actionDone {
			return nil
		}
		return c.resume(ctx, s, p.Then, r)
	}
	if out.status != actionDone {
		c.retreat(s, g, p.Origin, s.Flow.Env, r)
		return nil
	}

	prev := s.Flow.Env
	s.Flow.Env = p.Env
	if p.FollowUp == "" {
		c.endFlow(s, g)
		return nil
	}
	return c.enter(ctx, s, g, p.FollowUp, p.Origin, prev, p.Resume, r)
}
