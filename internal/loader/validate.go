package loader

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/beastmode/internal/ir"
)

// ValidateFlow checks the structural integrity of a flow graph:
//   - the start node exists
//   - every next (node or choice) names a node in the same graph
//   - choice labels are present and distinct
//   - no node declares both choices and next
//   - choice-less nodes do not auto-advance in a cycle
//
// Returned errors carry Code, Field (relative, e.g. ".nodes.a.next") and
// Token; the caller fills in Source and Line.
func ValidateFlow(g *ir.FlowGraph) []*LoadError {
	var errs []*LoadError
	fail := func(code, field, token, format string, args ...any) {
		errs = append(errs, &LoadError{
			Code:    code,
			Field:   field,
			Token:   token,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if g.Start == "" {
		fail(ErrCodeFlowStart, ".start", "", "start node is required")
	} else if _, ok := g.Nodes[g.Start]; !ok {
		fail(ErrCodeFlowStart, ".start", g.Start, "start node does not exist")
	}

	for _, id := range nodeIDs(g) {
		node := g.Nodes[id]
		f := ".nodes." + id

		if node.Next != "" {
			if len(node.Choices) > 0 {
				fail(ErrCodeEndConflict, f, id, "node with choices cannot also declare next")
			}
			if _, ok := g.Nodes[node.Next]; !ok {
				fail(ErrCodeDanglingNext, f+".next", node.Next, "next node does not exist")
			}
		}

		seen := make(map[string]bool, len(node.Choices))
		for i, choice := range node.Choices {
			cf := fmt.Sprintf("%s.choices[%d]", f, i)
			label := strings.ToLower(strings.TrimSpace(choice.Label))
			switch {
			case label == "":
				fail(ErrCodeChoiceLabel, cf+".label", "", "choice label is required")
			case seen[label]:
				fail(ErrCodeChoiceLabel, cf+".label", choice.Label, "choice label repeats an earlier choice")
			}
			seen[label] = true

			if choice.Next != "" {
				if _, ok := g.Nodes[choice.Next]; !ok {
					fail(ErrCodeDanglingNext, cf+".next", choice.Next, "next node does not exist")
				}
			}
		}
	}

	for _, cycle := range autoAdvanceCycles(g) {
		fail(ErrCodeAutoCycle, ".nodes."+cycle[0], strings.Join(cycle, " -> "),
			"nodes without choices advance in a cycle")
	}
	return errs
}

func nodeIDs(g *ir.FlowGraph) []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// advanceGraph maps node id to the node it moves to without user input.
type advanceGraph map[string][]string

// autoAdvanceCycles finds the cycles a flow would spin in without waiting
// for the user. Only choice-less nodes advance on their own, so only their
// next edges are considered.
//
// Each cycle is reported once, rotated to start at its smallest node id,
// with the first node repeated at the end.
func autoAdvanceCycles(g *ir.FlowGraph) [][]string {
	graph := make(advanceGraph, len(g.Nodes))
	for _, id := range nodeIDs(g) {
		node := g.Nodes[id]
		graph[id] = nil
		if len(node.Choices) == 0 && node.Next != "" {
			if _, ok := g.Nodes[node.Next]; ok {
				graph[id] = []string{node.Next}
			}
		}
	}

	var cycles [][]string
	for _, scc := range tarjanSCC(graph) {
		if len(scc) == 1 && !hasSelfLoop(scc[0], graph) {
			continue
		}
		cycles = append(cycles, cyclePath(scc, graph))
	}
	slices.SortFunc(cycles, func(a, b []string) int {
		return strings.Compare(a[0], b[0])
	})
	return cycles
}

func hasSelfLoop(node string, graph advanceGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the output is deterministic.
func tarjanSCC(graph advanceGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is the root of an SCC: pop it off the stack
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for v := range graph {
		nodes = append(nodes, v)
	}
	slices.Sort(nodes)
	for _, v := range nodes {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	return sccs
}

// cyclePath walks an SCC of the advance graph from its smallest member.
// Every member has exactly one outgoing edge, so the walk is the cycle.
func cyclePath(scc []string, graph advanceGraph) []string {
	start := slices.Min(scc)
	path := []string{start}
	for cur := graph[start][0]; cur != start; cur = graph[cur][0] {
		path = append(path, cur)
	}
	return append(path, start)
}
