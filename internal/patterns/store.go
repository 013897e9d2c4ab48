package patterns

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/beastmode/internal/ir"
)

// Store errors.
var (
	// ErrDuplicateRule indicates a rule with the same normalized pattern
	// already exists in the same topic.
	ErrDuplicateRule = errors.New("duplicate rule")

	// ErrRuleNotFound indicates Remove was given an unknown id.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrShadowsRule indicates an additive insert would take over inputs
	// currently matched by another rule.
	ErrShadowsRule = errors.New("rule would shadow existing rules")
)

// RuleError describes a rejected insert or remove.
type RuleError struct {
	RuleID  ir.RuleID
	Topic   string
	Pattern string

	// Conflicts lists the existing rules involved (the duplicate, or every
	// rule that would be shadowed).
	Conflicts []ir.RuleID

	Err error
}

func (e *RuleError) Error() string {
	scope := e.Topic
	if scope == "" {
		scope = "global"
	}
	if len(e.Conflicts) > 0 {
		return fmt.Sprintf("%v: %q in %s (conflicts with %v)", e.Err, e.Pattern, scope, e.Conflicts)
	}
	return fmt.Sprintf("%v: %q in %s", e.Err, e.Pattern, scope)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// IsDuplicateRule returns true if err is (or wraps) ErrDuplicateRule.
func IsDuplicateRule(err error) bool {
	return errors.Is(err, ErrDuplicateRule)
}

// Sequencer hands out strictly increasing insertion stamps.
// engine.Clock satisfies it.
type Sequencer interface {
	Next() int64
}

type counter struct {
	n atomic.Int64
}

func (c *counter) Next() int64 {
	return c.n.Add(1)
}

// Store is the live rule library.
//
// Readers take an immutable Snapshot with a single atomic load and never
// block. Writers serialize on mu, build the next version copy-on-write, and
// publish it atomically; mu is held for one insert or remove only.
type Store struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
	seq  Sequencer
}

// Option configures a Store.
type Option func(*Store)

// WithSequencer sets the source of insertion stamps.
func WithSequencer(seq Sequencer) Option {
	return func(s *Store) {
		s.seq = seq
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{seq: &counter{}}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(emptySnapshot())
	return s
}

// Snapshot returns the current immutable version of the library.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Len returns the number of rules in the current version.
func (s *Store) Len() int {
	return s.Snapshot().Len()
}

// Insert adds a rule and returns its content-addressed id.
// Fails with ErrDuplicateRule if the topic already holds the same pattern.
func (s *Store) Insert(rule ir.Rule) (ir.RuleID, error) {
	ids, err := s.InsertAll([]ir.Rule{rule})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertAll adds rules as one version: either every rule is inserted or
// none is. Duplicates against the store or within the batch reject the
// whole batch.
func (s *Store) InsertAll(rules []ir.Rule) ([]ir.RuleID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	next, ids, err := cur.with(rules, s.seq)
	if err != nil {
		return nil, err
	}
	s.snap.Store(next)

	slog.Debug("rules inserted", "count", len(ids), "version", next.version)
	return ids, nil
}

// InsertAdditive inserts rule only if it cannot change the match result of
// any input already matched by another rule: it must not be a duplicate and
// must not outrank an overlapping rule it could be a candidate against.
// The check and the insert happen under one lock.
func (s *Store) InsertAdditive(rule ir.Rule) (ir.RuleID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	rule.Topic = NormalizeTopic(rule.Topic)
	if shadowed := cur.Shadowed(rule); len(shadowed) > 0 {
		return "", &RuleError{
			RuleID:    ir.NewRuleID(rule.Topic, rule.Pattern),
			Topic:     rule.Topic,
			Pattern:   ir.FormatPattern(rule.Pattern),
			Conflicts: shadowed,
			Err:       ErrShadowsRule,
		}
	}

	next, ids, err := cur.with([]ir.Rule{rule}, s.seq)
	if err != nil {
		return "", err
	}
	s.snap.Store(next)

	slog.Debug("rule inserted", "rule_id", ids[0], "version", next.version)
	return ids[0], nil
}

// Remove deletes a rule by id.
func (s *Store) Remove(id ir.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	next, err := cur.without(id)
	if err != nil {
		return err
	}
	s.snap.Store(next)

	slog.Debug("rule removed", "rule_id", id, "version", next.version)
	return nil
}

// NormalizeTopic folds a topic name to its canonical form.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
