// Package loader reads rule, flow and workflow definitions from YAML or CUE
// sources, validates them, and installs them into the live pattern store,
// flow registry and workflow catalog.
//
// Loading is transactional per source: a source with any defect contributes
// nothing, and every other source still loads. Sources that depend on a
// rejected source (a rule naming a workflow only it defined, say) are
// rejected too, with ErrCodeDependency.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/patterns"
)

// FlowRegistry holds loaded flow graphs.
type FlowRegistry interface {
	Has(id string) bool
	Add(g *ir.FlowGraph)
}

// Target is where loaded definitions are installed. Any field may be nil,
// in which case Load only validates that part.
type Target struct {
	Store   *patterns.Store
	Catalog *catalog.Catalog
	Flows   FlowRegistry
}

// Result summarizes a load.
type Result struct {
	// Accepted lists the sources that loaded, in path order.
	Accepted []string

	// Errors lists every defect of every rejected source, in path order.
	Errors []*LoadError

	Rules     []ir.Rule
	Flows     []*ir.FlowGraph
	Workflows []catalog.Workflow
}

// Rejected returns the distinct sources that failed to load.
func (r *Result) Rejected() []string {
	var out []string
	for _, e := range r.Errors {
		if !slices.Contains(out, e.Source) {
			out = append(out, e.Source)
		}
	}
	return out
}

// OK reports whether every source loaded.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// parallelism bounds concurrent source parsing.
const parallelism = 8

// LoadDir loads every supported source under dir.
func LoadDir(ctx context.Context, dir string, target Target) (*Result, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Source: dir, Code: ErrCodeNotFound, Message: "definitions directory not found"}
	}
	if err != nil {
		return nil, &LoadError{Source: dir, Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions: %v", err)}
	}

	var paths []string
	if info.IsDir() {
		paths, err = FindSourceFiles(dir)
		if err != nil {
			return nil, &LoadError{Source: dir, Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
		}
	} else {
		paths = []string{dir}
	}
	if len(paths) == 0 {
		return nil, &LoadError{Source: dir, Code: ErrCodeNoFiles, Message: "no .yaml, .yml or .cue files found"}
	}

	sources := make([]Source, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, &LoadError{Source: p, Code: ErrCodeScanError, Message: err.Error()}
		}
		sources[i] = Source{Path: p, Data: data}
	}
	return Load(ctx, sources, target)
}

// FindSourceFiles walks dir and returns supported source paths in sorted order.
func FindSourceFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsSourceFile(path) {
			files = append(files, path)
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}

// candidate is a parsed source still in the running.
type candidate struct {
	path string
	doc  *Document

	rules     []ir.Rule
	flows     []*ir.FlowGraph
	workflows []catalog.Workflow
}

// Load validates sources and installs the accepted ones into target.
// Per-source defects are reported in Result.Errors; the returned error is
// reserved for failures that stop the whole load.
func Load(ctx context.Context, sources []Source, target Target) (*Result, error) {
	sources = slices.Clone(sources)
	slices.SortFunc(sources, func(a, b Source) int { return strings.Compare(a.Path, b.Path) })

	docs := make([]*Document, len(sources))
	parseErrs := make([]*LoadError, len(sources))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, src := range sources {
		g.Go(func() error {
			doc, err := ParseSource(src)
			if err != nil {
				le, ok := err.(*LoadError)
				if !ok {
					le = &LoadError{Source: src.Path, Code: ErrCodeParseFailed, Message: err.Error()}
				}
				parseErrs[i] = le
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{}
	rejected := make(map[string][]*LoadError)
	var live []*candidate
	for i, src := range sources {
		if parseErrs[i] != nil {
			rejected[src.Path] = []*LoadError{parseErrs[i]}
			continue
		}
		live = append(live, &candidate{path: src.Path, doc: docs[i]})
	}

	// Reject until stable: each pass compiles every live source against the
	// names the live set defines, then checks cross-source duplicates in
	// path order. A rejection can break sources that relied on it, so repeat.
	for {
		deadWorkflows, deadFlows := definedBy(sources, docs, rejected)
		knownWorkflows, knownFlows := defined(live)

		changed := false
		var next []*candidate
		for _, c := range live {
			errs := c.compile(target, knownWorkflows, knownFlows, deadWorkflows, deadFlows)
			if len(errs) > 0 {
				rejected[c.path] = errs
				changed = true
				continue
			}
			next = append(next, c)
		}
		live = next

		next = nil
		seen := newDuplicateIndex(target)
		for _, c := range live {
			if errs := seen.claim(c); len(errs) > 0 {
				rejected[c.path] = errs
				changed = true
				continue
			}
			next = append(next, c)
		}
		live = next

		if !changed {
			break
		}
	}

	for _, src := range sources {
		res.Errors = append(res.Errors, rejected[src.Path]...)
	}
	for _, c := range live {
		res.Accepted = append(res.Accepted, c.path)
		res.Rules = append(res.Rules, c.rules...)
		res.Flows = append(res.Flows, c.flows...)
		res.Workflows = append(res.Workflows, c.workflows...)
	}

	if err := apply(res, target); err != nil {
		return nil, err
	}

	for _, e := range res.Errors {
		slog.Warn("definition rejected", "source", e.Source, "line", e.Line, "code", e.Code, "error", e.Message)
	}
	slog.Info("definitions loaded",
		"accepted", len(res.Accepted),
		"rejected", len(res.Rejected()),
		"rules", len(res.Rules),
		"flows", len(res.Flows),
		"workflows", len(res.Workflows))
	return res, nil
}

// apply installs accepted definitions: workflows first, then flows, then
// rules as a single store version.
func apply(res *Result, target Target) error {
	if target.Catalog != nil {
		for _, w := range res.Workflows {
			target.Catalog.Add(w)
		}
	}
	if target.Flows != nil {
		for _, f := range res.Flows {
			target.Flows.Add(f)
		}
	}
	if target.Store != nil && len(res.Rules) > 0 {
		ids, err := target.Store.InsertAll(res.Rules)
		if err != nil {
			return fmt.Errorf("installing rules: %w", err)
		}
		for i := range res.Rules {
			res.Rules[i].ID = ids[i]
		}
	}
	return nil
}

func (c *candidate) compile(target Target, workflows, flows, deadWorkflows, deadFlows map[string]string) []*LoadError {
	comp := &compiler{opts: CompileOptions{
		Source: c.path,
		Topic:  c.doc.Topic,
		HasWorkflow: func(id string) bool {
			if _, ok := workflows[id]; ok {
				return true
			}
			return target.Catalog.Has(id)
		},
		HasFlow: func(id string) bool {
			if _, ok := flows[id]; ok {
				return true
			}
			return target.Flows != nil && target.Flows.Has(id)
		},
	}}

	c.rules, c.flows, c.workflows = nil, nil, nil
	for i, w := range c.doc.Workflows {
		if w, ok := comp.workflow(fmt.Sprintf("workflows[%d]", i), w); ok {
			c.workflows = append(c.workflows, w)
		}
	}
	for i, def := range c.doc.Flows {
		if g, rules, ok := comp.flow(fmt.Sprintf("flows[%d]", i), def); ok {
			c.flows = append(c.flows, g)
			c.rules = append(c.rules, rules...)
		}
	}
	for i, def := range c.doc.Rules {
		if r, ok := comp.rule(fmt.Sprintf("rules[%d]", i), def); ok {
			c.rules = append(c.rules, r)
		}
	}

	// A reference that fails only because its definer was rejected is a
	// dependency failure, not a typo.
	for _, e := range comp.errs {
		var owner string
		switch e.Code {
		case ErrCodeUnknownWorkflow:
			owner = deadWorkflows[e.Token]
		case ErrCodeUnknownFlow:
			owner = deadFlows[e.Token]
		}
		if owner != "" {
			e.Code = ErrCodeDependency
			e.Message = fmt.Sprintf("depends on rejected source %s", owner)
		}
	}
	return comp.errs
}

// defined maps workflow and flow ids to the live source defining them.
func defined(live []*candidate) (workflows, flows map[string]string) {
	workflows = make(map[string]string)
	flows = make(map[string]string)
	for _, c := range live {
		for _, w := range c.doc.Workflows {
			workflows[w.ID] = c.path
		}
		for _, f := range c.doc.Flows {
			flows[f.ID] = c.path
		}
	}
	return workflows, flows
}

// definedBy maps workflow and flow ids to the rejected source defining them.
func definedBy(sources []Source, docs []*Document, rejected map[string][]*LoadError) (workflows, flows map[string]string) {
	workflows = make(map[string]string)
	flows = make(map[string]string)
	for i, src := range sources {
		if _, ok := rejected[src.Path]; !ok || docs[i] == nil {
			continue
		}
		for _, w := range docs[i].Workflows {
			workflows[w.ID] = src.Path
		}
		for _, f := range docs[i].Flows {
			flows[f.ID] = src.Path
		}
	}
	return workflows, flows
}

// duplicateIndex tracks the names claimed so far in one pass. Earlier
// sources (and definitions already installed) win.
type duplicateIndex struct {
	target    Target
	snap      *patterns.Snapshot
	rules     map[ir.RuleID]string
	flows     map[string]string
	workflows map[string]string
}

func newDuplicateIndex(target Target) *duplicateIndex {
	d := &duplicateIndex{
		target:    target,
		rules:     make(map[ir.RuleID]string),
		flows:     make(map[string]string),
		workflows: make(map[string]string),
	}
	if target.Store != nil {
		d.snap = target.Store.Snapshot()
	}
	return d
}

func (d *duplicateIndex) claim(c *candidate) []*LoadError {
	var errs []*LoadError
	dup := func(code, field, token, owner string) {
		errs = append(errs, &LoadError{
			Source:  c.path,
			Code:    code,
			Field:   field,
			Token:   token,
			Message: "already defined in " + owner,
		})
	}

	rules := make(map[ir.RuleID]string)
	flows := make(map[string]string)
	workflows := make(map[string]string)

	for i, w := range c.workflows {
		field := fmt.Sprintf("workflows[%d].id", i)
		switch {
		case d.workflows[w.ID] != "":
			dup(ErrCodeWorkflowID, field, w.ID, d.workflows[w.ID])
		case workflows[w.ID] != "":
			dup(ErrCodeWorkflowID, field, w.ID, c.path)
		case d.target.Catalog.Has(w.ID):
			dup(ErrCodeWorkflowID, field, w.ID, "the catalog")
		}
		workflows[w.ID] = c.path
	}
	for i, f := range c.flows {
		field := fmt.Sprintf("flows[%d].id", i)
		switch {
		case d.flows[f.ID] != "":
			dup(ErrCodeFlowID, field, f.ID, d.flows[f.ID])
		case flows[f.ID] != "":
			dup(ErrCodeFlowID, field, f.ID, c.path)
		case d.target.Flows != nil && d.target.Flows.Has(f.ID):
			dup(ErrCodeFlowID, field, f.ID, "the flow registry")
		}
		flows[f.ID] = c.path
	}
	for _, r := range c.rules {
		id := ir.NewRuleID(patterns.NormalizeTopic(r.Topic), r.Pattern)
		pattern := ir.FormatPattern(r.Pattern)
		switch {
		case d.rules[id] != "":
			dup(ErrCodeDuplicateRule, "rules", pattern, d.rules[id])
		case rules[id] != "":
			dup(ErrCodeDuplicateRule, "rules", pattern, c.path)
		case d.snap != nil:
			if existing, ok := d.snap.Duplicate(r.Topic, r.Pattern); ok {
				dup(ErrCodeDuplicateRule, "rules", pattern, "rule "+string(existing))
			}
		}
		rules[id] = c.path
	}

	if len(errs) > 0 {
		return errs
	}
	for k, v := range workflows {
		d.workflows[k] = v
	}
	for k, v := range flows {
		d.flows[k] = v
	}
	for k, v := range rules {
		d.rules[k] = v
	}
	return nil
}
