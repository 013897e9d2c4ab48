package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/dialogue"
	"github.com/roach88/beastmode/internal/dispatch"
	"github.com/roach88/beastmode/internal/fallback"
	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/loader"
	"github.com/roach88/beastmode/internal/patterns"
	"github.com/roach88/beastmode/internal/testutil"
)

type fixture struct {
	conv    *Conversation
	trigger *testutil.FakeTrigger
	audit   *testutil.MemoryAudit
	library *patterns.Store
	flows   *dialogue.Flows
}

// newFixture wires a conversation over the shipped definitions plus any
// extra YAML sources.
func newFixture(t *testing.T, trig *testutil.FakeTrigger, extra []string, opts ...Option) *fixture {
	t.Helper()

	clock := testutil.NewClock()
	library := patterns.NewStore(patterns.WithSequencer(NewClock()))
	flows := dialogue.NewFlows()
	target := loader.Target{Store: library, Catalog: catalog.New(), Flows: flows}

	res, err := loader.LoadDir(context.Background(), "../../definitions", target)
	require.NoError(t, err)
	require.True(t, res.OK(), "definitions: %v", res.Errors)

	if len(extra) > 0 {
		sources := make([]loader.Source, len(extra))
		for i, data := range extra {
			sources[i] = loader.Source{Path: "extra" + string(rune('a'+i)) + ".yaml", Data: []byte(data)}
		}
		res, err := loader.Load(context.Background(), sources, target)
		require.NoError(t, err)
		require.True(t, res.OK(), "extra: %v", res.Errors)
	}

	audit := testutil.NewMemoryAudit()
	d := dispatch.New(trig,
		dispatch.WithCatalog(target.Catalog),
		dispatch.WithAudit(audit),
		dispatch.WithIDGenerator(testutil.NewSequentialIDs("audit")),
		dispatch.WithNow(clock.Now),
		dispatch.WithConfig(dispatch.Config{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))
	sessions := dialogue.NewManager(
		dialogue.WithIDGenerator(testutil.NewSequentialIDs("sess")),
		dialogue.WithNow(clock.Now))

	conv := New(library, flows, sessions, d, append([]Option{WithNow(clock.Now)}, opts...)...)
	t.Cleanup(conv.Close)
	return &fixture{conv: conv, trigger: trig, audit: audit, library: library, flows: flows}
}

// say runs one turn on session "s1" and fails the test on error.
func (f *fixture) say(t *testing.T, input string) *Reply {
	t.Helper()
	r, err := f.conv.Handle(context.Background(), "s1", "alice", input)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

func TestConversation_CreateTenants(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)

	r := f.say(t, "create 3 tenants")
	assert.Equal(t, []string{
		"Creating 3 tenants.",
		"Dispatched create-tenants (count=3): https://ci.example/runs/1",
	}, r.Lines)
	assert.NotEmpty(t, r.RuleID)
	assert.Equal(t, dialogue.Idle, r.State)
	require.Len(t, r.Dispatches, 1)
	assert.Equal(t, "audit-0001", r.Dispatches[0].AuditID)

	calls := f.trigger.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ir.Inputs{"count": ir.IRInt(3)}, calls[0].Inputs)

	recs := f.audit.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "s1", recs[0].SessionID)
	assert.Equal(t, "alice", recs[0].Actor)
	assert.Equal(t, "https://ci.example/runs/1", recs[0].RunReference)
}

func TestConversation_NewSessionGetsID(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)

	r, err := f.conv.Handle(context.Background(), "", "alice", "help")
	require.NoError(t, err)
	assert.Equal(t, "sess-0001", r.SessionID)

	s, ok := f.conv.Sessions().Lookup("sess-0001")
	require.True(t, ok)
	require.Len(t, s.History(), 1)
	assert.Equal(t, "help", s.History()[0].Input)
	assert.Equal(t, r.RuleID, s.History()[0].RuleID)
}

func TestConversation_DeployConfirmation(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(), nil)

		r := f.say(t, "deploy 2 tenants with 3 orgs and 5 users")
		assert.Equal(t, []string{"That is 30 users in total."}, r.Lines)
		assert.Equal(t, "Provision 2 tenants with 3 orgs each and 5 users per org (30 users)?", r.Confirm)
		assert.Equal(t, dialogue.Confirming, r.State)
		assert.Equal(t, 0, f.trigger.CallCount())

		r = f.say(t, "no")
		assert.Equal(t, []string{"Okay, I won't run mass-provision."}, r.Lines)
		assert.Empty(t, r.Confirm)
		assert.Equal(t, 0, f.trigger.CallCount())
		assert.Equal(t, 0, f.audit.Len())
	})

	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(), nil)

		f.say(t, "deploy 2 tenants with 3 orgs and 5 users")
		r := f.say(t, "yes")
		assert.Equal(t, []string{
			"Dispatched mass-provision (orgs=3, tenants=2, users=5): https://ci.example/runs/1",
		}, r.Lines)
		assert.Equal(t, dialogue.Idle, r.State)

		recs := f.audit.Records()
		require.Len(t, recs, 1)
		assert.Equal(t, ir.Inputs{"tenants": ir.IRInt(2), "orgs": ir.IRInt(3), "users": ir.IRInt(5)}, recs[0].Inputs)
		assert.Equal(t, ir.MustDispatchKey("mass-provision", recs[0].Inputs), recs[0].DispatchKey)
	})

	t.Run("anything else is a no", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(), nil)

		f.say(t, "rollback production")
		r := f.say(t, "create 3 tenants")
		assert.Equal(t, []string{"Okay, I won't run rollback-production."}, r.Lines)
		assert.Empty(t, r.RuleID, "a pending confirmation never falls through to matching")
		assert.Equal(t, 0, f.trigger.CallCount())
	})
}

func TestConversation_GateKeepsRestOfTemplate(t *testing.T) {
	launch := `
rules:
  - pattern: "LAUNCH *"
    confirm: "Launch {$1}?"
    action:
      workflow: create-tenants
      inputs: {count: $1}
    flow: new-project
`

	t.Run("accepted runs the flow", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(), []string{launch})

		r := f.say(t, "launch 2")
		assert.Equal(t, "Launch 2?", r.Confirm)
		assert.Equal(t, dialogue.Confirming, r.State)
		assert.Empty(t, r.Choices)
		assert.Equal(t, 0, f.trigger.CallCount())

		r = f.say(t, "yes")
		assert.Equal(t, []string{
			"Dispatched create-tenants (count=2): https://ci.example/runs/1",
			"Let's set up your new project! What type of project is this?",
		}, r.Lines)
		assert.Equal(t, []string{"1. Web Application", "2. API Service", "3. Infrastructure Only"}, r.Choices)
		assert.Equal(t, dialogue.InFlow, r.State)
		assert.Equal(t, 1, f.audit.Len())
	})

	t.Run("declined drops the flow", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(), []string{launch})

		f.say(t, "launch 2")
		r := f.say(t, "no")
		assert.Equal(t, []string{"Okay, I won't run create-tenants."}, r.Lines)
		assert.Empty(t, r.Choices)
		assert.Equal(t, dialogue.Idle, r.State)
		assert.Equal(t, 0, f.trigger.CallCount())
	})

	t.Run("failed dispatch drops the flow", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(testutil.Rejected("create-tenants")), []string{launch})

		f.say(t, "launch 2")
		r := f.say(t, "yes")
		require.Len(t, r.Lines, 1)
		assert.True(t, strings.HasPrefix(r.Lines[0], "create-tenants failed:"), r.Lines[0])
		assert.Empty(t, r.Choices)
		assert.Equal(t, dialogue.Idle, r.State)
	})

	t.Run("gate inside a redirect resumes the outer rule", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(), []string{`
rules:
  - pattern: "PREPARE *"
    confirm: "Create {$1} tenants?"
    action:
      workflow: create-tenants
      inputs: {count: $1}
  - pattern: "ONBOARD *"
    reply: "Onboarding."
    redirect: "PREPARE {$1}"
    set_topic: tenants
`})

		r := f.say(t, "onboard 4")
		assert.Equal(t, []string{"Onboarding."}, r.Lines)
		assert.Equal(t, "Create 4 tenants?", r.Confirm)
		assert.Empty(t, r.Topic, "set_topic waits for the answer")

		r = f.say(t, "yes")
		assert.Equal(t, []string{"Dispatched create-tenants (count=4): https://ci.example/runs/1"}, r.Lines)
		assert.Equal(t, "tenants", r.Topic)
		assert.Equal(t, dialogue.Idle, r.State)
	})
}

func TestConversation_Redirect(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), []string{`
rules:
  - pattern: "SPIN UP * TENANTS"
    redirect: "CREATE {$1} TENANTS"
  - pattern: "PING"
    redirect: "PONG"
  - pattern: "PONG"
    redirect: "PING"
  - pattern: "NOWHERE"
    redirect: "FLY TO THE MOON"
`})

	t.Run("runs the target rule", func(t *testing.T) {
		r := f.say(t, "spin up 3 tenants")
		assert.Equal(t, []string{
			"Creating 3 tenants.",
			"Dispatched create-tenants (count=3): https://ci.example/runs/1",
		}, r.Lines)
		assert.NotEmpty(t, r.RuleID)
		calls := f.trigger.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, ir.Inputs{"count": ir.IRInt(3)}, calls[0].Inputs)
	})

	t.Run("cycle stops at the limit", func(t *testing.T) {
		r := f.say(t, "ping")
		require.Len(t, r.Failures, 1)
		assert.ErrorIs(t, r.Failures[0], ErrRedirectLimit)
		require.Len(t, r.Lines, 1)
		assert.Contains(t, r.Lines[0], "Sorry, I couldn't work that out")
		assert.Equal(t, dialogue.Idle, r.State)
	})

	t.Run("unmatched target", func(t *testing.T) {
		r := f.say(t, "nowhere")
		require.Len(t, r.Failures, 1)
		assert.ErrorIs(t, r.Failures[0], ErrRedirectUnmatched)
	})
}

func TestConversation_RandomReply(t *testing.T) {
	greet := `
rules:
  - pattern: "HOWDY"
    random: ["Hi.", "Hello.", "Hey there."]
  - pattern: "HOWDY *"
    reply: "Welcome back,"
    random: [" {$1}.", " friend {$1}."]
`

	tests := []struct {
		name  string
		pick  func(int) int
		input string
		want  string
	}{
		{"first", func(int) int { return 0 }, "howdy", "Hi."},
		{"last", func(n int) int { return n - 1 }, "howdy", "Hey there."},
		{"joins the reply line", func(n int) int { return n - 1 }, "howdy sam", "Welcome back, friend sam."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testutil.NewFakeTrigger(), []string{greet}, WithPick(tt.pick))
			r := f.say(t, tt.input)
			assert.Equal(t, []string{tt.want}, r.Lines)
		})
	}
}

func TestConversation_ConditionalChoices(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), []string{`
flows:
  - id: triage
    triggers: [triage]
    start: severity
    nodes:
      severity:
        prompt: "Severity?"
        choices:
          - label: Critical
            next: respond
            inputs: {severity: critical}
          - label: Minor
            next: respond
            inputs: {severity: minor}
      respond:
        prompt: "Respond how?"
        choices:
          - label: Roll back
            when: {severity: critical}
          - label: Monitor
`})

	f.say(t, "triage")
	r := f.say(t, "critical")
	assert.Equal(t, []string{"Respond how?"}, r.Lines)
	assert.Equal(t, []string{"1. Roll back", "2. Monitor"}, r.Choices)

	f.say(t, "cancel")
	f.say(t, "triage")
	r = f.say(t, "minor")
	assert.Equal(t, []string{"1. Monitor"}, r.Choices)

	r = f.say(t, "roll back")
	assert.Equal(t, []string{"Please pick one of the options.", "Respond how?"}, r.Lines)
	assert.Equal(t, []string{"1. Monitor"}, r.Choices)
	assert.Equal(t, dialogue.InFlow, r.State)

	r = f.say(t, "1")
	assert.Empty(t, r.Choices)
	assert.Equal(t, dialogue.Idle, r.State)
}

func TestConversation_NewProjectFlow(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)

	r := f.say(t, "new project")
	assert.Equal(t, []string{"Let's set up your new project! What type of project is this?"}, r.Lines)
	assert.Equal(t, []string{"1. Web Application", "2. API Service", "3. Infrastructure Only"}, r.Choices)
	assert.Equal(t, dialogue.InFlow, r.State)

	r = f.say(t, "1")
	assert.Equal(t, []string{"Web application selected. Choose your stack:"}, r.Lines)

	r = f.say(t, "react")
	assert.Equal(t, []string{"Ready to create your project. Proceed?"}, r.Lines)
	assert.Equal(t, []string{"1. Yes, create it", "2. No, go back"}, r.Choices)

	r = f.say(t, "Yes, create it")
	assert.Equal(t, []string{
		"Creating your project...",
		"Dispatched create-project (provider=none, stack=react-node): https://ci.example/runs/1",
		"Project created. Clone the repository and start developing!",
	}, r.Lines)
	assert.Empty(t, r.Choices)
	assert.Equal(t, dialogue.Idle, r.State)
	assert.Equal(t, 1, f.audit.Len())
}

func TestConversation_FlowGoBack(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)

	f.say(t, "start new-project")
	f.say(t, "c")
	f.say(t, "aws")
	r := f.say(t, "2")
	assert.Equal(t, []string{"Let's set up your new project! What type of project is this?"}, r.Lines)
	assert.Equal(t, dialogue.InFlow, r.State)
	assert.Equal(t, 0, f.trigger.CallCount())
}

func TestConversation_FlowUnmatchedInput(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)

	f.say(t, "outage")
	r := f.say(t, "create 3 tenants")
	assert.Equal(t, []string{
		"Please pick one of the options.",
		"Incident response activated. What's the severity level?",
	}, r.Lines)
	assert.Equal(t, []string{"1. Critical", "2. Degraded"}, r.Choices)
	assert.Equal(t, dialogue.InFlow, r.State)
	assert.Empty(t, r.RuleID)
	assert.Equal(t, 0, f.trigger.CallCount())
}

func TestConversation_NodeActionGate(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(), nil)

		f.say(t, "outage")
		f.say(t, "critical")
		r := f.say(t, "roll back")
		assert.Equal(t, []string{"Rolling back production."}, r.Lines)
		assert.Equal(t, "Dispatch rollback-production (version=previous)? (yes/no)", r.Confirm)
		assert.Equal(t, dialogue.Confirming, r.State, "a flow gate reports confirming, not in_flow")
		assert.Equal(t, 0, f.trigger.CallCount())

		r = f.say(t, "yes")
		assert.Equal(t, []string{
			"Dispatched rollback-production (version=previous): https://ci.example/runs/1",
			"Incident actions dispatched for a critical incident.",
		}, r.Lines)
		assert.Equal(t, dialogue.Idle, r.State)
		assert.Equal(t, 1, f.audit.Len())
	})

	t.Run("declined returns to the choice", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(), nil)

		f.say(t, "outage")
		f.say(t, "1")
		f.say(t, "roll back")
		r := f.say(t, "nope")
		assert.Equal(t, []string{
			"Okay, I won't run rollback-production.",
			"Critical incident. Choose a response:",
		}, r.Lines)
		assert.Equal(t, []string{"1. Roll back", "2. Run health check", "3. Monitor"}, r.Choices)
		assert.Equal(t, dialogue.InFlow, r.State)
		assert.Equal(t, 0, f.trigger.CallCount())

		r = f.say(t, "monitor")
		assert.Equal(t, []string{"Monitoring. Start the flow again if things get worse."}, r.Lines)
		assert.Equal(t, dialogue.Idle, r.State)
	})

	t.Run("gate at the first node ends the flow when declined", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(), []string{`
flows:
  - id: emergency
    triggers: [panic button]
    start: rollback
    nodes:
      rollback:
        prompt: "Rolling back now."
        action: rollback-production
        next: done
      done:
        prompt: "Done."
        end: true
`})

		r := f.say(t, "panic button")
		assert.Equal(t, []string{"Rolling back now."}, r.Lines)
		assert.NotEmpty(t, r.Confirm)

		r = f.say(t, "no")
		assert.Equal(t, []string{"Okay, I won't run rollback-production."}, r.Lines)
		assert.Equal(t, dialogue.Idle, r.State)
	})
}

func TestConversation_FailedDispatchInFlow(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(testutil.Rejected("health-check")), nil)

	f.say(t, "outage")
	f.say(t, "degraded")
	r := f.say(t, "run health")
	require.Len(t, r.Lines, 3)
	assert.Equal(t, "Running health checks.", r.Lines[0])
	assert.True(t, strings.HasPrefix(r.Lines[1], "health-check failed:"), r.Lines[1])
	assert.Equal(t, "Service degraded. Choose a response:", r.Lines[2])
	assert.Equal(t, dialogue.InFlow, r.State)
	require.Len(t, r.Failures, 1)
	assert.True(t, dispatch.IsWorkflowTriggerError(r.Failures[0]))
	assert.Equal(t, 0, f.audit.Len())

	// The flow stayed at the node, so picking again works.
	r = f.say(t, "2")
	assert.Equal(t, []string{
		"Running health checks.",
		"Dispatched health-check (services=all): https://ci.example/runs/2",
		"Incident actions dispatched for a degraded incident.",
	}, r.Lines)
	assert.Equal(t, 1, f.audit.Len())
}

func TestConversation_DispatchFailures(t *testing.T) {
	tests := []struct {
		name    string
		trigger *testutil.FakeTrigger
		want    string
		calls   int
	}{
		{
			name:    "ambiguous",
			trigger: testutil.NewFakeTrigger(testutil.Ambiguous("health-check")),
			want:    "health-check may or may not have started; check the workflow runs before retrying.",
			calls:   1,
		},
		{
			name: "not delivered exhausts retries",
			trigger: testutil.NewFakeTrigger(
				testutil.NotDelivered("health-check"),
				testutil.NotDelivered("health-check"),
				testutil.NotDelivered("health-check")),
			want:  "health-check failed:",
			calls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.trigger, nil)

			r := f.say(t, "health check")
			require.Len(t, r.Lines, 2)
			assert.Equal(t, "Running health checks on all services.", r.Lines[0])
			assert.True(t, strings.HasPrefix(r.Lines[1], tt.want), r.Lines[1])
			assert.Equal(t, tt.calls, tt.trigger.CallCount())
			assert.Equal(t, 0, f.audit.Len())
			assert.Empty(t, r.Dispatches)
		})
	}
}

func TestConversation_AuditFailureStillReportsDispatch(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)
	f.audit.Err = errors.New("disk full")

	r := f.say(t, "create 3 tenants")
	require.Len(t, r.Dispatches, 1)
	require.Len(t, r.Failures, 1)
	assert.ErrorIs(t, r.Failures[0], dispatch.ErrAuditFailed)
	assert.Equal(t, 1, f.trigger.CallCount())
}

func TestConversation_Abort(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)

	r := f.say(t, "cancel")
	assert.Equal(t, []string{"Nothing to cancel."}, r.Lines)

	f.say(t, "outage")
	r = f.say(t, "Cancel!")
	assert.Equal(t, []string{"Cancelled."}, r.Lines)
	assert.Equal(t, dialogue.Idle, r.State)

	f.say(t, "rollback production")
	r = f.say(t, "stop")
	assert.Equal(t, []string{"Cancelled."}, r.Lines)
	assert.Empty(t, r.Confirm)

	r = f.say(t, "yes")
	assert.Empty(t, r.Dispatches, "the abandoned gate is gone")
	assert.Equal(t, 0, f.trigger.CallCount())
}

func TestConversation_EmptyInput(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)

	r := f.say(t, "  ")
	assert.Equal(t, []string{"I didn't catch that."}, r.Lines)

	f.say(t, "rollback production")
	r = f.say(t, "...")
	assert.Equal(t, "Roll production back to the previous release?", r.Confirm)
	assert.Empty(t, r.Lines)

	f.say(t, "cancel")
	f.say(t, "incident")
	r = f.say(t, "")
	assert.Equal(t, []string{"Incident response activated. What's the severity level?"}, r.Lines)
	assert.Len(t, r.Choices, 2)
}

func TestConversation_Topics(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)

	r := f.say(t, "list")
	assert.Empty(t, r.RuleID, "topic rules are invisible outside their topic")

	r = f.say(t, "talk about tenants")
	assert.Equal(t, "tenants", r.Topic)

	r = f.say(t, "list")
	assert.Equal(t, []string{"Ask me to create N tenants, or say 'done' to leave tenant mode."}, r.Lines)

	r = f.say(t, "create 2 tenants")
	assert.Len(t, r.Dispatches, 1, "global rules stay visible inside a topic")

	r = f.say(t, "done")
	assert.Equal(t, []string{"Leaving tenant mode."}, r.Lines)
	assert.Empty(t, r.Topic)
}

func TestConversation_TemplateRenderFailureHasNoSideEffects(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), []string{`
rules:
  - pattern: "SCALE <N> WORKERS"
    reply: "Scaling to {$1 * 2} workers."
    action:
      workflow: health-check
`})

	r := f.say(t, "scale lots workers")
	require.Len(t, r.Lines, 1)
	assert.Contains(t, r.Lines[0], "Sorry, I couldn't work that out")
	require.Len(t, r.Failures, 1)
	assert.ErrorIs(t, r.Failures[0], dispatch.ErrNotInteger)
	assert.Equal(t, 0, f.trigger.CallCount())
}

type stubFallback struct {
	outcome *fallback.Outcome
}

func (s *stubFallback) Handle(_ context.Context, input, topic string) (*fallback.Outcome, error) {
	return s.outcome, nil
}

type stubLearner struct {
	mu       sync.Mutex
	proposed []ir.Proposal
	err      error
}

func (s *stubLearner) Propose(_ context.Context, draft ir.Proposal) (*ir.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	draft.ID = "prop-0001"
	draft.Status = ir.ProposalPending
	s.proposed = append(s.proposed, draft)
	return &draft, nil
}

func TestConversation_Fallback(t *testing.T) {
	t.Run("without adapter", func(t *testing.T) {
		f := newFixture(t, testutil.NewFakeTrigger(), nil)

		r := f.say(t, "make me a sandwich")
		assert.Equal(t, []string{fallback.HelpReply}, r.Lines)
		assert.True(t, r.Degraded)
	})

	t.Run("proposal recorded", func(t *testing.T) {
		fb := &stubFallback{outcome: &fallback.Outcome{
			Reply: "That sounds like create-tenants.",
			Proposal: &ir.Proposal{
				Workflow:    "create-tenants",
				SourceInput: "spin up 4 tenants",
				Slots:       []ir.Slot{{Name: "count", Value: "4"}},
			},
		}}
		learner := &stubLearner{}
		f := newFixture(t, testutil.NewFakeTrigger(), nil, WithFallback(fb), WithLearner(learner))

		r := f.say(t, "spin up 4 tenants")
		assert.Equal(t, "prop-0001", r.ProposalID)
		require.Len(t, r.Lines, 2)
		assert.Equal(t, "That sounds like create-tenants.", r.Lines[0])
		assert.Contains(t, r.Lines[1], "prop-0001")
		assert.False(t, r.Degraded)
		assert.Equal(t, 0, f.trigger.CallCount(), "fallback never dispatches")

		require.Len(t, learner.proposed, 1)
		assert.Equal(t, "spin up 4 tenants", learner.proposed[0].SourceInput)
	})

	t.Run("proposal error is reported", func(t *testing.T) {
		fb := &stubFallback{outcome: &fallback.Outcome{
			Reply:    "Maybe create-tenants?",
			Proposal: &ir.Proposal{Workflow: "create-tenants", SourceInput: "x"},
		}}
		learner := &stubLearner{err: errors.New("store offline")}
		f := newFixture(t, testutil.NewFakeTrigger(), nil, WithFallback(fb), WithLearner(learner))

		r := f.say(t, "x")
		assert.Empty(t, r.ProposalID)
		assert.Equal(t, []string{"Maybe create-tenants?"}, r.Lines)
		require.Len(t, r.Failures, 1)
	})
}

type turnRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (o *turnRecorder) ObserveTurn(route string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, route)
}

func TestConversation_Observer(t *testing.T) {
	obs := &turnRecorder{}
	f := newFixture(t, testutil.NewFakeTrigger(), nil, WithObserver(obs))

	for _, in := range []string{"", "help", "rollback production", "no", "outage", "1", "stop", "gibberish words"} {
		f.say(t, in)
	}
	assert.Equal(t, []string{"empty", "match", "match", "confirm", "match", "flow", "abort", "fallback"}, obs.routes)
}

func TestConversation_SerializesSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, testutil.NewFakeTrigger(), nil)

	const turns = 10
	var wg sync.WaitGroup
	for range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.conv.Handle(context.Background(), "shared", "alice", "create 1 tenants")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	f.conv.Close()

	s, ok := f.conv.Sessions().Lookup("shared")
	require.True(t, ok)
	assert.Len(t, s.History(), turns)
	assert.Equal(t, turns, f.audit.Len())
}

func TestConversation_Closed(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)
	f.conv.Close()

	_, err := f.conv.Handle(context.Background(), "s1", "alice", "help")
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestConversation_CancelledContext(t *testing.T) {
	f := newFixture(t, testutil.NewFakeTrigger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.conv.Handle(ctx, "s1", "alice", "create 3 tenants")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.trigger.CallCount())
}
