package dialogue

import (
	"slices"
	"strings"
	"sync"

	"github.com/roach88/beastmode/internal/ir"
)

// Flows is the registry of loaded flow graphs. It is safe for concurrent
// use; graphs are immutable once added.
type Flows struct {
	mu    sync.RWMutex
	flows map[string]*ir.FlowGraph
}

// NewFlows creates a registry holding graphs.
func NewFlows(graphs ...*ir.FlowGraph) *Flows {
	f := &Flows{flows: make(map[string]*ir.FlowGraph, len(graphs))}
	for _, g := range graphs {
		f.Add(g)
	}
	return f
}

// Add registers or replaces a flow.
func (f *Flows) Add(g *ir.FlowGraph) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flows[g.ID] = g
}

// Get returns the flow with the given id.
func (f *Flows) Get(id string) (*ir.FlowGraph, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	g, ok := f.flows[id]
	return g, ok
}

// Has reports whether id is a registered flow.
func (f *Flows) Has(id string) bool {
	_, ok := f.Get(id)
	return ok
}

// List returns all flows sorted by id.
func (f *Flows) List() []*ir.FlowGraph {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*ir.FlowGraph, 0, len(f.flows))
	for _, g := range f.flows {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b *ir.FlowGraph) int { return strings.Compare(a.ID, b.ID) })
	return out
}
