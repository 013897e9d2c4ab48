package testutil

import (
	"context"
	"sync"

	"github.com/roach88/beastmode/internal/fallback"
)

// FakeCompleter is a scripted generative endpoint.
//
// Each call returns the next scripted completion; once the script is
// exhausted it answers with Default. A nil script entry returns Err.
// Prompts are recorded in call order.
//
// Thread-safety: safe for concurrent use.
type FakeCompleter struct {
	mu      sync.Mutex
	script  []*fallback.Completion
	prompts []string

	// Default answers once the script is exhausted.
	Default *fallback.Completion

	// Err is returned for nil script entries and when Default is nil.
	Err error
}

// NewFakeCompleter creates a completer that answers with comps in order.
func NewFakeCompleter(comps ...*fallback.Completion) *FakeCompleter {
	return &FakeCompleter{script: comps, Err: fallback.ErrNoEndpoint}
}

// Complete implements fallback.Completer.
func (f *FakeCompleter) Complete(ctx context.Context, prompt string, _ fallback.Context) (*fallback.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prompts = append(f.prompts, prompt)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	comp := f.Default
	if len(f.script) > 0 {
		comp = f.script[0]
		f.script = f.script[1:]
	}
	if comp == nil {
		return nil, f.Err
	}
	c := *comp
	if c.Endpoint == "" {
		c.Endpoint = "fake"
	}
	return &c, nil
}

// Prompts returns the prompts received so far.
func (f *FakeCompleter) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}
