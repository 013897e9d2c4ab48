package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/dialogue"
	"github.com/roach88/beastmode/internal/dispatch"
	"github.com/roach88/beastmode/internal/engine"
	"github.com/roach88/beastmode/internal/loader"
	"github.com/roach88/beastmode/internal/patterns"
	"github.com/roach88/beastmode/internal/store"
	"github.com/roach88/beastmode/internal/testutil"
)

const defaultActor = "tester"

// Harness is the scenario execution engine.
// It runs the real conversation engine against a scripted trigger backend,
// with deterministic ids and clocks.
type Harness struct {
	conv    *engine.Conversation
	trigger *testutil.FakeTrigger
	store   *store.Store
	actor   string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database and a fresh pattern
// library, so scenarios are isolated. Ids, timestamps and rule insertion
// order are deterministic, which keeps transcripts byte-identical across
// runs for golden comparison.
//
// An error means the scenario could not be set up or the engine refused a
// turn; failed expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(ctx, scenario, st)
	if err != nil {
		return nil, err
	}
	defer h.conv.Close()

	result := NewResult()
	var sessions []string
	for i, turn := range scenario.Turns {
		sid := turn.Session
		if sid == "" {
			sid = defaultSession
		}
		if !slices.Contains(sessions, sid) {
			sessions = append(sessions, sid)
		}
		if err := h.executeTurn(ctx, i, sid, turn, result); err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
	}

	for _, c := range h.trigger.Calls() {
		result.Dispatches = append(result.Dispatches, DispatchEvent{
			Seq:        len(result.Dispatches) + 1,
			WorkflowID: c.WorkflowID,
			Inputs:     c.Inputs.Strings(),
		})
	}
	if result.AuditCount, err = st.CountAudit(ctx); err != nil {
		return nil, fmt.Errorf("failed to count audit records: %w", err)
	}
	for _, sid := range sessions {
		if s, ok := h.conv.Sessions().Lookup(sid); ok {
			result.Sessions[sid] = SessionState{State: s.State().String(), Topic: s.Topic}
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario, st *store.Store) (*Harness, error) {
	clock := testutil.NewClock()
	library := patterns.NewStore(patterns.WithSequencer(clock))
	flows := dialogue.NewFlows()
	cat := catalog.New()
	target := loader.Target{Store: library, Catalog: cat, Flows: flows}

	for _, p := range scenario.Definitions {
		res, err := loader.LoadDir(ctx, p, target)
		if err != nil {
			return nil, fmt.Errorf("failed to load definitions: %w", err)
		}
		if !res.OK() {
			msgs := make([]string, len(res.Errors))
			for i, e := range res.Errors {
				msgs[i] = e.Error()
			}
			return nil, fmt.Errorf("definitions rejected:\n  %s", strings.Join(msgs, "\n  "))
		}
	}

	trig := testutil.NewFakeTrigger(scriptFailures(scenario.Failures)...)
	d := dispatch.New(trig,
		dispatch.WithCatalog(cat),
		dispatch.WithAudit(st),
		dispatch.WithIDGenerator(testutil.NewSequentialIDs("audit")),
		dispatch.WithNow(clock.Now),
		dispatch.WithConfig(dispatch.Config{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))
	sessions := dialogue.NewManager(
		dialogue.WithIDGenerator(testutil.NewSequentialIDs("session")),
		dialogue.WithNow(clock.Now))

	actor := scenario.Actor
	if actor == "" {
		actor = defaultActor
	}
	return &Harness{
		conv:    engine.New(library, flows, sessions, d, engine.WithNow(clock.Now)),
		trigger: trig,
		store:   st,
		actor:   actor,
	}, nil
}

// scriptFailures turns failure names into trigger errors. The workflow id
// on the error is informational only.
func scriptFailures(names []string) []error {
	errs := make([]error, len(names))
	for i, name := range names {
		switch name {
		case FailureNotDelivered:
			errs[i] = testutil.NotDelivered("scripted")
		case FailureAmbiguous:
			errs[i] = testutil.Ambiguous("scripted")
		case FailureRejected:
			errs[i] = testutil.Rejected("scripted")
		}
	}
	return errs
}

func (h *Harness) executeTurn(ctx context.Context, index int, sid string, turn Turn, result *Result) error {
	reply, err := h.conv.Handle(ctx, sid, h.actor, turn.Say)
	if err != nil {
		return err
	}

	ex := Exchange{
		Session: sid,
		Input:   turn.Say,
		Lines:   append([]string{}, reply.Lines...),
		Choices: reply.Choices,
		Confirm: reply.Confirm,
		State:   reply.State.String(),
		Topic:   reply.Topic,
	}
	result.Transcript = append(result.Transcript, ex)

	if turn.Expect != nil {
		for _, msg := range checkExpect(turn.Expect, ex, len(reply.Dispatches)) {
			result.AddError(fmt.Sprintf("turns[%d] %q: %s", index, turn.Say, msg))
		}
	}
	return nil
}

func checkExpect(e *Expect, ex Exchange, dispatches int) []string {
	var errs []string
	if e.Lines != nil && !slices.Equal(e.Lines, ex.Lines) {
		errs = append(errs, fmt.Sprintf("lines: expected %q, got %q", e.Lines, ex.Lines))
	}
	text := strings.Join(append(append(append([]string{}, ex.Lines...), ex.Choices...), ex.Confirm), "\n")
	for _, want := range e.Contains {
		if !strings.Contains(text, want) {
			errs = append(errs, fmt.Sprintf("reply does not contain %q: %q", want, text))
		}
	}
	if e.Choices != nil && !slices.Equal(e.Choices, ex.Choices) {
		errs = append(errs, fmt.Sprintf("choices: expected %q, got %q", e.Choices, ex.Choices))
	}
	if e.Confirm != "" && e.Confirm != ex.Confirm {
		errs = append(errs, fmt.Sprintf("confirm: expected %q, got %q", e.Confirm, ex.Confirm))
	}
	if e.State != "" && e.State != ex.State {
		errs = append(errs, fmt.Sprintf("state: expected %s, got %s", e.State, ex.State))
	}
	if e.Dispatches != nil && *e.Dispatches != dispatches {
		errs = append(errs, fmt.Sprintf("dispatches: expected %d, got %d", *e.Dispatches, dispatches))
	}
	return errs
}
