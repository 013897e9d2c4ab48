package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/loader"
	"github.com/roach88/beastmode/internal/patterns"
	"github.com/roach88/beastmode/internal/store"
)

// ProposalStore persists proposals and learned rules. *store.Store
// implements it.
type ProposalStore interface {
	SaveProposal(ctx context.Context, p ir.Proposal) error
	Proposal(ctx context.Context, id string) (*ir.Proposal, error)
	ListProposals(ctx context.Context, status ir.ProposalStatus) ([]ir.Proposal, error)
	ApproveProposal(ctx context.Context, id string, rule store.LearnedRule) error
	RejectProposal(ctx context.Context, id string, decidedAt time.Time) error
	LearnedRules(ctx context.Context) ([]store.LearnedRule, error)
}

// IDGenerator produces proposal ids.
type IDGenerator interface {
	Generate() string
}

type uuidV7 struct{}

func (uuidV7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Coordinator records proposals and applies approved ones to the library.
type Coordinator struct {
	library *patterns.Store
	store   ProposalStore
	catalog *catalog.Catalog
	ids     IDGenerator
	now     func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCatalog restricts learned actions to known workflows and their
// declared inputs.
func WithCatalog(c *catalog.Catalog) Option {
	return func(co *Coordinator) { co.catalog = c }
}

// WithIDGenerator sets the proposal id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(co *Coordinator) { co.ids = g }
}

// WithNow sets the clock used for creation and decision times.
func WithNow(now func() time.Time) Option {
	return func(co *Coordinator) { co.now = now }
}

// New creates a coordinator over the live library and its persistence.
func New(library *patterns.Store, st ProposalStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		library: library,
		store:   st,
		ids:     uuidV7{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Propose records draft as a pending proposal. Id, status and creation
// time are assigned here.
func (c *Coordinator) Propose(ctx context.Context, draft ir.Proposal) (*ir.Proposal, error) {
	if draft.Workflow == "" || draft.SourceInput == "" {
		return nil, fmt.Errorf("propose: workflow and source input are required")
	}

	p := draft
	p.ID = c.ids.Generate()
	p.Topic = patterns.NormalizeTopic(p.Topic)
	p.Status = ir.ProposalPending
	p.RuleID = ""
	p.CreatedAt = c.now()
	p.DecidedAt = nil

	if err := c.store.SaveProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("propose: %w", err)
	}
	slog.Info("proposal recorded",
		"proposal_id", p.ID,
		"workflow_id", p.Workflow,
		"topic", p.Topic,
		"input", p.SourceInput)
	return &p, nil
}

// Get returns one proposal.
func (c *Coordinator) Get(ctx context.Context, id string) (*ir.Proposal, error) {
	return c.store.Proposal(ctx, id)
}

// List returns proposals with status, or all of them when status is empty.
func (c *Coordinator) List(ctx context.Context, status ir.ProposalStatus) ([]ir.Proposal, error) {
	return c.store.ListProposals(ctx, status)
}

// Preview returns the rule definition Approve would install for p, without
// touching the library.
func (c *Coordinator) Preview(p ir.Proposal) (loader.RuleDef, error) {
	def, _, err := c.compile(p)
	return def, err
}

// Approve installs the rule derived from a pending proposal.
//
// The rule is inserted additively: if it duplicates a rule or would take
// over inputs an existing rule matches, Approve fails with a
// *PatternConflictError and the proposal stays pending. On success the rule
// is persisted and the proposal marked approved.
func (c *Coordinator) Approve(ctx context.Context, id string) (ir.RuleID, error) {
	p, err := c.store.Proposal(ctx, id)
	if err != nil {
		return "", err
	}
	if p.Status != ir.ProposalPending {
		return "", fmt.Errorf("proposal %s: %w", id, store.ErrNotPending)
	}

	def, rule, err := c.compile(*p)
	if err != nil {
		return "", fmt.Errorf("proposal %s: %w", id, err)
	}

	ruleID, err := c.library.InsertAdditive(rule)
	if err != nil {
		var re *patterns.RuleError
		if errors.As(err, &re) {
			return "", &PatternConflictError{
				ProposalID: id,
				Pattern:    def.Pattern,
				Topic:      re.Topic,
				Conflicts:  re.Conflicts,
				Err:        re.Err,
			}
		}
		return "", fmt.Errorf("proposal %s: %w", id, err)
	}

	data, err := json.Marshal(def)
	if err == nil {
		err = c.store.ApproveProposal(ctx, id, store.LearnedRule{
			RuleID:     ruleID,
			ProposalID: id,
			Definition: data,
			CreatedAt:  c.now(),
		})
	}
	if err != nil {
		// Not persisted, so it must not stay live either.
		if rmErr := c.library.Remove(ruleID); rmErr != nil {
			slog.Error("failed to roll back learned rule", "rule_id", ruleID, "error", rmErr)
		}
		return "", fmt.Errorf("proposal %s: %w", id, err)
	}

	slog.Info("proposal approved",
		"proposal_id", id,
		"rule_id", ruleID,
		"pattern", def.Pattern,
		"workflow_id", p.Workflow)
	return ruleID, nil
}

// Reject marks a pending proposal rejected.
func (c *Coordinator) Reject(ctx context.Context, id string) error {
	if err := c.store.RejectProposal(ctx, id, c.now()); err != nil {
		return err
	}
	slog.Info("proposal rejected", "proposal_id", id)
	return nil
}

// LoadLearned inserts every persisted learned rule into the library. A rule
// that no longer compiles or now collides with a definition is skipped
// with a warning. Returns the number of rules loaded.
func (c *Coordinator) LoadLearned(ctx context.Context) (int, error) {
	rules, err := c.store.LearnedRules(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, lr := range rules {
		var def loader.RuleDef
		if err := json.Unmarshal(lr.Definition, &def); err != nil {
			slog.Warn("skipping learned rule", "rule_id", lr.RuleID, "error", err)
			continue
		}
		rule, err := loader.CompileRule(def, c.compileOptions(lr.ProposalID))
		if err != nil {
			slog.Warn("skipping learned rule", "rule_id", lr.RuleID, "error", err)
			continue
		}
		if _, err := c.library.Insert(rule); err != nil {
			slog.Warn("skipping learned rule", "rule_id", lr.RuleID, "error", err)
			continue
		}
		loaded++
	}
	slog.Debug("learned rules loaded", "count", loaded, "stored", len(rules))
	return loaded, nil
}

func (c *Coordinator) compileOptions(proposalID string) loader.CompileOptions {
	opts := loader.CompileOptions{Source: "learned:" + proposalID}
	if c.catalog != nil {
		opts.HasWorkflow = c.catalog.Has
	}
	return opts
}

// compile derives the rule definition for p and compiles it.
func (c *Coordinator) compile(p ir.Proposal) (loader.RuleDef, ir.Rule, error) {
	var tokens []ir.Token
	var err error
	if p.Pattern != "" {
		tokens, err = ir.ParsePattern(p.Pattern)
	} else {
		tokens, err = Generalize(p.SourceInput, p.Slots)
	}
	if err != nil {
		return loader.RuleDef{}, ir.Rule{}, err
	}
	if _, ok := patterns.Align(tokens, ir.Tokenize(p.SourceInput)); !ok {
		return loader.RuleDef{}, ir.Rule{}, fmt.Errorf("%q: %w", ir.FormatPattern(tokens), ErrPatternMismatch)
	}

	var wf *catalog.Workflow
	if c.catalog != nil {
		wf, _ = c.catalog.Get(p.Workflow)
	}
	bindings := Bindings(tokens)
	inputs := make(map[string]loader.InputDef, len(bindings))
	for _, name := range slices.Sorted(maps.Keys(bindings)) {
		if wf != nil && len(wf.Inputs) > 0 {
			if _, declared := wf.Inputs[name]; !declared {
				continue
			}
		}
		inputs[name] = loader.InputDef{Value: "$" + strconv.Itoa(bindings[name])}
	}
	if len(inputs) == 0 {
		inputs = nil
	}

	def := loader.RuleDef{
		Pattern: ir.FormatPattern(tokens),
		Topic:   p.Topic,
		Action:  &loader.ActionDef{Workflow: p.Workflow, Inputs: inputs},
	}
	rule, err := loader.CompileRule(def, c.compileOptions(p.ID))
	if err != nil {
		return loader.RuleDef{}, ir.Rule{}, err
	}
	return def, rule, nil
}
