package learning

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/loader"
	"github.com/roach88/beastmode/internal/patterns"
	"github.com/roach88/beastmode/internal/store"
	"github.com/roach88/beastmode/internal/testutil"
)

func testCatalog() *catalog.Catalog {
	return catalog.New(
		catalog.Workflow{
			ID: "create-tenants",
			Inputs: map[string]catalog.Input{
				"count": {Type: ir.InputNumber, Required: true},
			},
		},
		catalog.Workflow{
			ID: "mass-provision",
			Inputs: map[string]catalog.Input{
				"tenants": {Type: ir.InputNumber},
				"orgs":    {Type: ir.InputNumber},
				"users":   {Type: ir.InputNumber},
			},
		},
	)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "beastmode.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type fixture struct {
	library *patterns.Store
	store   *store.Store
	clock   *testutil.Clock
	coord   *Coordinator
}

func newFixture(t *testing.T, seed ...string) *fixture {
	t.Helper()
	clock := testutil.NewClock()
	f := &fixture{
		library: patterns.NewStore(patterns.WithSequencer(clock)),
		store:   openStore(t),
		clock:   clock,
	}
	for _, p := range seed {
		_, err := f.library.Insert(ir.Rule{Pattern: ir.MustParsePattern(p), Source: "seed"})
		require.NoError(t, err)
	}
	f.coord = New(f.library, f.store,
		WithCatalog(testCatalog()),
		WithIDGenerator(testutil.NewSequentialIDs("prop")),
		WithNow(clock.Now))
	return f
}

func (f *fixture) propose(t *testing.T, draft ir.Proposal) *ir.Proposal {
	t.Helper()
	p, err := f.coord.Propose(context.Background(), draft)
	require.NoError(t, err)
	return p
}

func TestProposeRecordsPending(t *testing.T) {
	f := newFixture(t)

	p := f.propose(t, ir.Proposal{
		Topic:       " Provisioning ",
		Workflow:    "create-tenants",
		SourceInput: "spin up 4 tenants",
		Slots:       []ir.Slot{{Name: "count", Value: "4"}},
		Status:      ir.ProposalApproved, // ignored
		RuleID:      "r-bogus",           // ignored
	})

	assert.Equal(t, "prop-0001", p.ID)
	assert.Equal(t, "provisioning", p.Topic)
	assert.Equal(t, ir.ProposalPending, p.Status)
	assert.Empty(t, p.RuleID)
	assert.Equal(t, testutil.Epoch, p.CreatedAt)

	got, err := f.coord.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, *p, *got)
}

func TestProposeRequiresWorkflowAndInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Propose(context.Background(), ir.Proposal{SourceInput: "do a thing"})
	require.Error(t, err)
	_, err = f.coord.Propose(context.Background(), ir.Proposal{Workflow: "create-tenants"})
	require.Error(t, err)
}

func TestApproveInstallsRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.propose(t, ir.Proposal{
		Workflow:    "create-tenants",
		SourceInput: "spin up 4 tenants",
		Slots:       []ir.Slot{{Name: "count", Value: "4"}, {Name: "color", Value: "tenants"}},
	})

	f.clock.Advance(time.Hour)
	ruleID, err := f.coord.Approve(ctx, p.ID)
	require.NoError(t, err)

	m, ok := patterns.Match(f.library.Snapshot(), "spin up 7 tenants", "")
	require.True(t, ok)
	assert.Equal(t, ruleID, m.Rule.ID)
	assert.Equal(t, "SPIN UP <COUNT> <COLOR>", ir.FormatPattern(m.Rule.Pattern))
	assert.Equal(t, "learned:prop-0001", m.Rule.Source)
	assert.Equal(t, map[int]string{1: "7", 2: "tenants"}, m.Captures)

	// "color" is not an input of create-tenants, so only count is bound.
	require.Len(t, m.Rule.Template, 1)
	assert.Equal(t, ir.Action{Ref: ir.ActionRef{
		WorkflowID: "create-tenants",
		Inputs: map[string]ir.InputSpec{
			"count": {Value: ir.Text{ir.CaptureRef{Index: 1}}},
		},
	}}, m.Rule.Template[0])

	got, err := f.coord.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.ProposalApproved, got.Status)
	assert.Equal(t, ruleID, got.RuleID)
	require.NotNil(t, got.DecidedAt)
	assert.Equal(t, testutil.Epoch.Add(time.Hour), *got.DecidedAt)

	learned, err := f.store.LearnedRules(ctx)
	require.NoError(t, err)
	require.Len(t, learned, 1)
	assert.Equal(t, ruleID, learned[0].RuleID)
	assert.JSONEq(t,
		`{"pattern":"SPIN UP <COUNT> <COLOR>","action":{"workflow":"create-tenants","inputs":{"count":"$1"}}}`,
		string(learned[0].Definition))
}

func TestApproveUsesProposedPattern(t *testing.T) {
	f := newFixture(t)

	p := f.propose(t, ir.Proposal{
		Pattern:     "PROVISION <TENANTS> TENANTS <ORGS> ORGS <USERS> USERS",
		Topic:       "provisioning",
		Workflow:    "mass-provision",
		SourceInput: "provision 2 tenants 3 orgs 5 users",
	})
	_, err := f.coord.Approve(context.Background(), p.ID)
	require.NoError(t, err)

	_, ok := patterns.Match(f.library.Snapshot(), "provision 1 tenants 1 orgs 1 users", "")
	assert.False(t, ok, "learned rule is scoped to its topic")

	m, ok := patterns.Match(f.library.Snapshot(), "provision 1 tenants 1 orgs 1 users", "provisioning")
	require.True(t, ok)
	act, isAction := m.Rule.Template[0].(ir.Action)
	require.True(t, isAction)
	assert.Equal(t, ir.Text{ir.CaptureRef{Index: 3}}, act.Ref.Inputs["users"].Value)
}

func TestApproveRejectsPatternThatMissesSource(t *testing.T) {
	f := newFixture(t)

	p := f.propose(t, ir.Proposal{
		Pattern:     "DELETE * TENANTS",
		Workflow:    "create-tenants",
		SourceInput: "create 3 tenants",
	})
	_, err := f.coord.Approve(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrPatternMismatch)
	assert.Equal(t, 0, f.library.Len())
}

func TestApproveUnknownWorkflow(t *testing.T) {
	f := newFixture(t)

	p := f.propose(t, ir.Proposal{Workflow: "rotate-keys", SourceInput: "rotate the keys"})
	_, err := f.coord.Approve(context.Background(), p.ID)
	require.Error(t, err)
	assert.True(t, loader.IsLoadError(err))

	got, err := f.coord.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.ProposalPending, got.Status)
}

func TestApproveConflicts(t *testing.T) {
	tests := []struct {
		name   string
		seed   string
		source string
		slots  []ir.Slot
		err    error
	}{
		{
			name:   "duplicate",
			seed:   "CREATE * TENANTS",
			source: "create 3 tenants",
			slots:  []ir.Slot{{Name: "count", Value: "3"}},
			err:    patterns.ErrDuplicateRule,
		},
		{
			name:   "would shadow a broader rule",
			seed:   "CREATE * *",
			source: "create 3 tenants",
			slots:  []ir.Slot{{Name: "count", Value: "3"}},
			err:    patterns.ErrShadowsRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.seed)
			ctx := context.Background()
			before, ok := patterns.Match(f.library.Snapshot(), tt.source, "")
			require.True(t, ok)

			p := f.propose(t, ir.Proposal{Workflow: "create-tenants", SourceInput: tt.source, Slots: tt.slots})
			_, err := f.coord.Approve(ctx, p.ID)
			require.Error(t, err)

			var conflict *PatternConflictError
			require.ErrorAs(t, err, &conflict)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, IsPatternConflict(err))
			assert.Equal(t, p.ID, conflict.ProposalID)
			assert.Equal(t, []ir.RuleID{before.Rule.ID}, conflict.Conflicts)

			// Library unchanged; proposal still pending.
			assert.Equal(t, 1, f.library.Len())
			after, ok := patterns.Match(f.library.Snapshot(), tt.source, "")
			require.True(t, ok)
			assert.Equal(t, before.Rule.ID, after.Rule.ID)

			got, err := f.coord.Get(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, ir.ProposalPending, got.Status)

			learned, err := f.store.LearnedRules(ctx)
			require.NoError(t, err)
			assert.Empty(t, learned)
		})
	}
}

func TestApproveKeepsExistingMatches(t *testing.T) {
	// A narrower rule for a new verb must not disturb anything the library
	// already answers.
	f := newFixture(t, "CREATE * TENANTS", "CREATE TENANT *", "DEPLOY _")
	inputs := []string{"create 3 tenants", "create tenant acme", "deploy the api now"}

	before := make(map[string]ir.RuleID)
	for _, in := range inputs {
		m, ok := patterns.Match(f.library.Snapshot(), in, "")
		require.True(t, ok, in)
		before[in] = m.Rule.ID
	}

	p := f.propose(t, ir.Proposal{Workflow: "create-tenants", SourceInput: "spin up 4 tenants", Slots: []ir.Slot{{Name: "count", Value: "4"}}})
	_, err := f.coord.Approve(context.Background(), p.ID)
	require.NoError(t, err)

	for _, in := range inputs {
		m, ok := patterns.Match(f.library.Snapshot(), in, "")
		require.True(t, ok, in)
		assert.Equal(t, before[in], m.Rule.ID, in)
	}
}

func TestApproveAndRejectRequirePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.propose(t, ir.Proposal{Workflow: "create-tenants", SourceInput: "create 3 tenants"})
	require.NoError(t, f.coord.Reject(ctx, p.ID))

	_, err := f.coord.Approve(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotPending)
	assert.ErrorIs(t, f.coord.Reject(ctx, p.ID), store.ErrNotPending)

	_, err = f.coord.Approve(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, f.library.Len())
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.propose(t, ir.Proposal{Workflow: "create-tenants", SourceInput: "create 3 tenants"})
	f.clock.Advance(time.Second)
	b := f.propose(t, ir.Proposal{Workflow: "create-tenants", SourceInput: "make 2 tenants"})
	require.NoError(t, f.coord.Reject(ctx, a.ID))

	pending, err := f.coord.List(ctx, ir.ProposalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	all, err := f.coord.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)

	def, err := f.coord.Preview(ir.Proposal{
		Workflow:    "mass-provision",
		SourceInput: "deploy 2 tenants with 3 orgs and 5 users",
	})
	require.NoError(t, err)
	assert.Equal(t, "DEPLOY * TENANTS WITH * ORGS AND * USERS", def.Pattern)
	assert.Equal(t, "mass-provision", def.Action.Workflow)
	assert.Empty(t, def.Action.Inputs)
	assert.Equal(t, 0, f.library.Len())
}

type failingApprove struct {
	*store.Store
}

func (failingApprove) ApproveProposal(context.Context, string, store.LearnedRule) error {
	return errors.New("disk full")
}

func TestApproveRollsBackWhenPersistFails(t *testing.T) {
	f := newFixture(t)
	coord := New(f.library, failingApprove{f.store}, WithCatalog(testCatalog()))

	p, err := coord.Propose(context.Background(), ir.Proposal{Workflow: "create-tenants", SourceInput: "create 3 tenants"})
	require.NoError(t, err)

	_, err = coord.Approve(context.Background(), p.ID)
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, 0, f.library.Len())
}

func TestLoadLearned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.propose(t, ir.Proposal{Workflow: "create-tenants", SourceInput: "spin up 4 tenants", Slots: []ir.Slot{{Name: "count", Value: "4"}}})
	ruleID, err := f.coord.Approve(ctx, p.ID)
	require.NoError(t, err)

	t.Run("fresh library", func(t *testing.T) {
		lib := patterns.NewStore()
		n, err := New(lib, f.store, WithCatalog(testCatalog())).LoadLearned(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		m, ok := patterns.Match(lib.Snapshot(), "spin up 9 tenants", "")
		require.True(t, ok)
		assert.Equal(t, ruleID, m.Rule.ID)
	})

	t.Run("collides with a definition", func(t *testing.T) {
		lib := patterns.NewStore()
		_, err := lib.Insert(ir.Rule{Pattern: ir.MustParsePattern("SPIN UP * TENANTS")})
		require.NoError(t, err)

		n, err := New(lib, f.store).LoadLearned(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 1, lib.Len())
	})

	t.Run("workflow left the catalog", func(t *testing.T) {
		lib := patterns.NewStore()
		n, err := New(lib, f.store, WithCatalog(catalog.New())).LoadLearned(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}
