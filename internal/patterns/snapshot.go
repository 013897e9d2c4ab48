package patterns

import (
	"cmp"
	"maps"
	"slices"

	"github.com/roach88/beastmode/internal/ir"
)

// entry is a rule plus the data ranking needs, computed once at insert.
type entry struct {
	rule      ir.Rule
	seq       int64
	wildcards int
	literals  int
}

// rank orders candidates: fewer wildcards, then more literals, then
// topic-scoped before global, then earlier insertion.
type rank struct {
	wildcards int
	literals  int
	global    bool
	seq       int64
}

func (e *entry) rank() rank {
	return rank{
		wildcards: e.wildcards,
		literals:  e.literals,
		global:    e.rule.Topic == "",
		seq:       e.seq,
	}
}

func compareRank(a, b rank) int {
	switch {
	case a.wildcards != b.wildcards:
		return a.wildcards - b.wildcards
	case a.literals != b.literals:
		return b.literals - a.literals
	case a.global != b.global:
		if a.global {
			return 1
		}
		return -1
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

// bucket holds the rules of one topic (or the global scope).
type bucket struct {
	// byFirst indexes rules by the words their first token accepts.
	byFirst map[string][]*entry

	// leading holds rules whose first token is a wildcard; they are
	// candidates for every input.
	leading []*entry

	// keys maps pattern key to entry for duplicate detection.
	keys map[string]*entry
}

func newBucket() *bucket {
	return &bucket{
		byFirst: make(map[string][]*entry),
		keys:    make(map[string]*entry),
	}
}

// clone copies the bucket's maps; entry slices are shared and must be
// copied before mutation.
func (b *bucket) clone() *bucket {
	return &bucket{
		byFirst: maps.Clone(b.byFirst),
		leading: b.leading,
		keys:    maps.Clone(b.keys),
	}
}

func (b *bucket) add(e *entry) {
	b.keys[ir.PatternKey(e.rule.Pattern)] = e
	first := e.rule.Pattern[0]
	switch first.Kind {
	case ir.TokenLiteral:
		b.byFirst[first.Word] = appendCopy(b.byFirst[first.Word], e)
	case ir.TokenSet:
		for _, w := range first.Set {
			b.byFirst[w] = appendCopy(b.byFirst[w], e)
		}
	default:
		b.leading = appendCopy(b.leading, e)
	}
}

func (b *bucket) remove(e *entry) {
	delete(b.keys, ir.PatternKey(e.rule.Pattern))
	drop := func(list []*entry) []*entry {
		return slices.DeleteFunc(slices.Clone(list), func(x *entry) bool { return x == e })
	}
	first := e.rule.Pattern[0]
	switch first.Kind {
	case ir.TokenLiteral:
		b.byFirst[first.Word] = drop(b.byFirst[first.Word])
	case ir.TokenSet:
		for _, w := range first.Set {
			b.byFirst[w] = drop(b.byFirst[w])
		}
	default:
		b.leading = drop(b.leading)
	}
}

func (b *bucket) size() int {
	return len(b.keys)
}

// appendCopy appends without ever writing into a backing array that an
// older snapshot may still read.
func appendCopy(list []*entry, e *entry) []*entry {
	out := make([]*entry, len(list), len(list)+1)
	copy(out, list)
	return append(out, e)
}

// Snapshot is an immutable version of the rule library. It is safe for
// concurrent use and is never modified after publication.
type Snapshot struct {
	version int64
	buckets map[string]*bucket // "" is the global scope
	byID    map[ir.RuleID]*entry
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		buckets: map[string]*bucket{"": newBucket()},
		byID:    make(map[ir.RuleID]*entry),
	}
}

// Version increases by one with every published change.
func (s *Snapshot) Version() int64 {
	return s.version
}

// Len returns the number of rules.
func (s *Snapshot) Len() int {
	return len(s.byID)
}

// Rule returns the rule with the given id.
func (s *Snapshot) Rule(id ir.RuleID) (ir.Rule, bool) {
	e, ok := s.byID[id]
	if !ok {
		return ir.Rule{}, false
	}
	return e.rule, true
}

// Rules returns every rule in insertion order.
func (s *Snapshot) Rules() []ir.Rule {
	entries := slices.Collect(maps.Values(s.byID))
	slices.SortFunc(entries, func(a, b *entry) int { return cmp.Compare(a.seq, b.seq) })
	rules := make([]ir.Rule, len(entries))
	for i, e := range entries {
		rules[i] = e.rule
	}
	return rules
}

// Topics returns the non-global topics that hold at least one rule.
func (s *Snapshot) Topics() []string {
	var topics []string
	for t, b := range s.buckets {
		if t != "" && b.size() > 0 {
			topics = append(topics, t)
		}
	}
	slices.Sort(topics)
	return topics
}

// LookupCandidates returns every rule visible from topic (the topic's rules
// plus global rules) in rank order.
func (s *Snapshot) LookupCandidates(topic string) []ir.Rule {
	var entries []*entry
	for _, b := range s.visible(NormalizeTopic(topic)) {
		for _, e := range b.keys {
			entries = append(entries, e)
		}
	}
	sortEntries(entries)
	rules := make([]ir.Rule, len(entries))
	for i, e := range entries {
		rules[i] = e.rule
	}
	return rules
}

// Duplicate returns the id of the rule in topic with the same pattern key.
func (s *Snapshot) Duplicate(topic string, pattern []ir.Token) (ir.RuleID, bool) {
	b, ok := s.buckets[NormalizeTopic(topic)]
	if !ok {
		return "", false
	}
	e, ok := b.keys[ir.PatternKey(pattern)]
	if !ok {
		return "", false
	}
	return e.rule.ID, true
}

// visible returns the buckets consulted for topic, topic bucket first.
func (s *Snapshot) visible(topic string) []*bucket {
	var out []*bucket
	if topic != "" {
		if b, ok := s.buckets[topic]; ok {
			out = append(out, b)
		}
	}
	return append(out, s.buckets[""])
}

// candidates returns the entries that could match an input whose first
// normalized word is first, in rank order.
func (s *Snapshot) candidates(topic, first string) []*entry {
	var entries []*entry
	for _, b := range s.visible(topic) {
		entries = append(entries, b.byFirst[first]...)
		entries = append(entries, b.leading...)
	}
	sortEntries(entries)
	return entries
}

func sortEntries(entries []*entry) {
	slices.SortFunc(entries, func(a, b *entry) int { return compareRank(a.rank(), b.rank()) })
}

// with returns a new snapshot containing rules. The receiver is unchanged.
func (s *Snapshot) with(rules []ir.Rule, seq Sequencer) (*Snapshot, []ir.RuleID, error) {
	next := &Snapshot{
		version: s.version + 1,
		buckets: maps.Clone(s.buckets),
		byID:    maps.Clone(s.byID),
	}
	cloned := make(map[string]bool)
	ids := make([]ir.RuleID, 0, len(rules))

	for _, rule := range rules {
		rule.Topic = NormalizeTopic(rule.Topic)
		rule.ID = ir.NewRuleID(rule.Topic, rule.Pattern)
		if len(rule.Pattern) == 0 {
			return nil, nil, &RuleError{RuleID: rule.ID, Topic: rule.Topic, Err: ir.ErrEmptyPattern}
		}

		if existing, ok := next.byID[rule.ID]; ok {
			return nil, nil, &RuleError{
				RuleID:    rule.ID,
				Topic:     rule.Topic,
				Pattern:   ir.FormatPattern(rule.Pattern),
				Conflicts: []ir.RuleID{existing.rule.ID},
				Err:       ErrDuplicateRule,
			}
		}

		b, ok := next.buckets[rule.Topic]
		switch {
		case !ok:
			b = newBucket()
		case !cloned[rule.Topic]:
			b = b.clone()
		}
		cloned[rule.Topic] = true
		next.buckets[rule.Topic] = b

		wildcards, literals := ir.Specificity(rule.Pattern)
		e := &entry{rule: rule, seq: seq.Next(), wildcards: wildcards, literals: literals}
		b.add(e)
		next.byID[rule.ID] = e
		ids = append(ids, rule.ID)
	}

	return next, ids, nil
}

// without returns a new snapshot lacking id. The receiver is unchanged.
func (s *Snapshot) without(id ir.RuleID) (*Snapshot, error) {
	e, ok := s.byID[id]
	if !ok {
		return nil, &RuleError{RuleID: id, Err: ErrRuleNotFound}
	}

	next := &Snapshot{
		version: s.version + 1,
		buckets: maps.Clone(s.buckets),
		byID:    maps.Clone(s.byID),
	}
	b := next.buckets[e.rule.Topic].clone()
	b.remove(e)
	next.buckets[e.rule.Topic] = b
	delete(next.byID, id)
	return next, nil
}
