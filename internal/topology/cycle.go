package topology

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Cycle is one strongly connected group of nodes.
type Cycle struct {
	// Nodes lists every member of the group, sorted.
	Nodes []string `json:"nodes"`

	// Path is one closed walk through the group, e.g.
	// ["customers", "orders", "customers"].
	Path []string `json:"path"`
}

// CycleDetectedError reports dependency cycles that prevent ordering.
// Cycles are listed in lexical order of their smallest node.
type CycleDetectedError struct {
	Cycles []Cycle
}

func (e *CycleDetectedError) Error() string {
	paths := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		paths[i] = strings.Join(c.Path, " → ")
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(paths, "; "))
}

// Members returns the distinct nodes taking part in any cycle, sorted.
func (e *CycleDetectedError) Members() []string {
	var out []string
	for _, c := range e.Cycles {
		out = append(out, c.Nodes...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// IsCycleError returns true if err is or wraps a *CycleDetectedError.
func IsCycleError(err error) bool {
	var ce *CycleDetectedError
	return errors.As(err, &ce)
}

// FindCycles returns every cycle in g.
//
// The algorithm:
//  1. Use Tarjan's algorithm to find strongly connected components
//  2. Keep components with more than one node (self references are never
//     stored, so single nodes cannot be cycles)
//  3. Walk each component from its smallest node to produce a path
//
// An acyclic graph returns nil.
func FindCycles(g *Graph) []Cycle {
	var cycles []Cycle
	for _, scc := range tarjanSCC(g) {
		if len(scc) < 2 {
			continue
		}
		slices.Sort(scc)
		cycles = append(cycles, Cycle{Nodes: scc, Path: cyclePath(scc, g)})
	}
	slices.SortFunc(cycles, func(a, b Cycle) int {
		return strings.Compare(a.Nodes[0], b.Nodes[0])
	})
	return cycles
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes and edges are visited in lexical order for deterministic output.
func tarjanSCC(g *Graph) [][]string {
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

		for _, w := range g.Dependencies(v) {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack into an SCC
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

	for _, node := range g.Nodes() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cyclePath builds a closed path through a sorted SCC.
//
// It starts at the smallest member and follows dependency edges inside the
// component, backtracking when it reaches a dead end, until it can return
// to the start.
func cyclePath(scc []string, g *Graph) []string {
	start := scc[0]
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	path := []string{start}
	visited := map[string]bool{start: true}

	var walk func(current string) bool
	walk = func(current string) bool {
		for _, next := range g.Dependencies(current) {
			if !members[next] {
				continue
			}
			if next == start && len(path) > 1 {
				path = append(path, start)
				return true
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, next)
			if walk(next) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}

	if !walk(start) {
		// Unreachable for a genuine SCC; fall back to the member list.
		return append(slices.Clone(scc), start)
	}
	return path
}
