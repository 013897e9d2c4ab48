package patterns

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beastmode/internal/ir"
)

func rule(topic, pattern string) ir.Rule {
	return ir.Rule{
		Topic:    topic,
		Pattern:  ir.MustParsePattern(pattern),
		Template: ir.Template{ir.Literal{Text: pattern}},
	}
}

func TestInsertAssignsContentAddressedID(t *testing.T) {
	s := NewStore()

	id, err := s.Insert(rule("Azure", "CREATE * TENANTS"))
	require.NoError(t, err)
	assert.Equal(t, ir.NewRuleID("azure", ir.MustParsePattern("create * tenants")), id)

	got, ok := s.Snapshot().Rule(id)
	require.True(t, ok)
	assert.Equal(t, "azure", got.Topic, "topic is normalized")
	assert.Equal(t, id, got.ID)
}

func TestInsertDuplicateRule(t *testing.T) {
	s := NewStore()
	first, err := s.Insert(rule("", "CREATE <N> TENANTS"))
	require.NoError(t, err)

	_, err = s.Insert(rule("", "create * tenants!"))
	require.Error(t, err)
	assert.True(t, IsDuplicateRule(err))

	var re *RuleError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, []ir.RuleID{first}, re.Conflicts)

	// Same pattern in another topic is not a duplicate.
	_, err = s.Insert(rule("azure", "create * tenants"))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestInsertAllIsAtomic(t *testing.T) {
	s := NewStore()
	_, err := s.Insert(rule("", "LIST WORKFLOWS"))
	require.NoError(t, err)
	before := s.Snapshot()

	_, err = s.InsertAll([]ir.Rule{
		rule("", "CREATE * TENANTS"),
		rule("", "list workflows"),
	})
	require.ErrorIs(t, err, ErrDuplicateRule)
	assert.Same(t, before, s.Snapshot(), "failed batch publishes nothing")
	assert.Equal(t, 1, s.Len())

	_, err = s.InsertAll([]ir.Rule{
		rule("", "CREATE * TENANTS"),
		rule("", "create * tenants"),
	})
	require.ErrorIs(t, err, ErrDuplicateRule, "duplicates within the batch are rejected")
	assert.Equal(t, 1, s.Len())
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewStore()
	_, err := s.Insert(rule("", "CREATE * *"))
	require.NoError(t, err)

	old := s.Snapshot()
	_, err = s.Insert(rule("", "CREATE TENANT *"))
	require.NoError(t, err)

	m, ok := Match(old, "create tenant acme", "")
	require.True(t, ok)
	assert.Equal(t, "create * *", ir.PatternKey(m.Rule.Pattern), "old snapshot never sees later inserts")

	m, ok = Match(s.Snapshot(), "create tenant acme", "")
	require.True(t, ok)
	assert.Equal(t, "create tenant *", ir.PatternKey(m.Rule.Pattern))
	assert.Equal(t, old.Version()+1, s.Snapshot().Version())
}

func TestRemove(t *testing.T) {
	s := NewStore()
	id, err := s.Insert(rule("", "[start|begin] DEPLOY"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(id))
	assert.Equal(t, 0, s.Len())
	_, ok := Match(s.Snapshot(), "begin deploy", "")
	assert.False(t, ok)

	err = s.Remove(id)
	require.ErrorIs(t, err, ErrRuleNotFound)
}

func TestTopicsAndCandidates(t *testing.T) {
	s := NewStore()
	_, err := s.InsertAll([]ir.Rule{
		rule("", "HELP"),
		rule("azure", "CREATE * TENANTS"),
		rule("github", "CREATE * REPOS"),
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, []string{"azure", "github"}, snap.Topics())

	var keys []string
	for _, r := range snap.LookupCandidates("azure") {
		keys = append(keys, ir.PatternKey(r.Pattern))
	}
	assert.Equal(t, []string{"help", "create * tenants"}, keys)
	assert.Len(t, snap.Rules(), 3)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := NewStore()
	_, err := s.Insert(rule("", "STATUS"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, ok := Match(s.Snapshot(), "status", "")
				assert.True(t, ok)
			}
		}()
	}
	words := []string{"ALPHA", "BRAVO", "CHARLIE", "DELTA", "ECHO"}
	for _, w := range words {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Insert(rule("", "DEPLOY "+w))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1+len(words), s.Len())
}

type fixedSeq struct{ n int64 }

func (f *fixedSeq) Next() int64 {
	f.n += 10
	return f.n
}

func TestWithSequencer(t *testing.T) {
	s := NewStore(WithSequencer(&fixedSeq{}))
	_, err := s.InsertAll([]ir.Rule{rule("", "A *"), rule("", "* B")})
	require.NoError(t, err)

	// Equal specificity: the earlier stamp wins.
	m, ok := Match(s.Snapshot(), "a b", "")
	require.True(t, ok)
	assert.Equal(t, "a *", ir.PatternKey(m.Rule.Pattern))
}
