// Package catalog holds the workflows the dispatcher can trigger: their
// typed inputs, defaults, and whether they need confirmation.
package catalog

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/beastmode/internal/ir"
)

// Input declares one workflow input.
type Input struct {
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Type        ir.InputType `yaml:"type,omitempty" json:"type,omitempty"`
	Required    bool         `yaml:"required,omitempty" json:"required,omitempty"`

	// Default is applied when an optional input is not bound by the action.
	// Scalars of any YAML type are accepted and kept in string form.
	Default any `yaml:"default,omitempty" json:"default,omitempty"`
}

// DefaultString renders Default, reporting false if there is none.
func (in Input) DefaultString() (string, bool) {
	switch v := in.Default.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		// JSON-decoded numbers arrive as float64; only integers are valid.
		return strconv.FormatInt(int64(v), 10), true
	default:
		return fmt.Sprint(v), true
	}
}

// Step is one job step of a generated GitHub Actions workflow.
type Step struct {
	Name string            `yaml:"name" json:"name"`
	Uses string            `yaml:"uses,omitempty" json:"uses,omitempty"`
	Run  string            `yaml:"run,omitempty" json:"run,omitempty"`
	With map[string]string `yaml:"with,omitempty" json:"with,omitempty"`
	Env  map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Workflow is one dispatchable workflow.
type Workflow struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Destructive workflows always require confirmation before dispatch.
	Destructive bool `yaml:"destructive,omitempty" json:"destructive,omitempty"`

	Inputs map[string]Input `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	RunsOn string           `yaml:"runs_on,omitempty" json:"runs_on,omitempty"`
	Steps  []Step           `yaml:"steps,omitempty" json:"steps,omitempty"`

	Source string `yaml:"-" json:"-"`
}

// InputType returns the declared type of an input, or "" if undeclared.
func (w *Workflow) InputType(name string) ir.InputType {
	return w.Inputs[name].Type
}

// InputNames returns input names in sorted order.
func (w *Workflow) InputNames() []string {
	names := make([]string, 0, len(w.Inputs))
	for n := range w.Inputs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// DisplayName returns Name, falling back to the id.
func (w *Workflow) DisplayName() string {
	if w.Name != "" {
		return w.Name
	}
	return w.ID
}

// Catalog is the set of known workflows. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// New creates a catalog holding workflows. Later duplicates replace earlier ones.
func New(workflows ...Workflow) *Catalog {
	c := &Catalog{workflows: make(map[string]*Workflow, len(workflows))}
	for _, w := range workflows {
		c.Add(w)
	}
	return c
}

// Add registers or replaces a workflow.
func (c *Catalog) Add(w Workflow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflows[w.ID] = &w
}

// Get returns the workflow with the given id.
func (c *Catalog) Get(id string) (*Workflow, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workflows[id]
	return w, ok
}

// Has reports whether id is a known workflow.
func (c *Catalog) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// Len returns the number of workflows.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.workflows)
}

// List returns all workflows sorted by id.
func (c *Catalog) List() []*Workflow {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Workflow, 0, len(c.workflows))
	for _, w := range c.workflows {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b *Workflow) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// IDs returns all workflow ids sorted.
func (c *Catalog) IDs() []string {
	list := c.List()
	ids := make([]string, len(list))
	for i, w := range list {
		ids[i] = w.ID
	}
	return ids
}
