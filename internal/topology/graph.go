// Package topology orders named nodes so that every dependency precedes the
// nodes that depend on it.
//
// It is used to deploy table declarations in foreign-key order and to plan
// data transfers between databases. Orders are deterministic: among nodes
// that are ready at the same time, the lexically smallest goes first.
// Cyclic graphs have no valid order and fail with a CycleDetectedError that
// names the participating nodes.
package topology

import "slices"

// Graph is a dependency graph over string-named nodes.
// The zero value is not usable; create graphs with New or FromMap.
type Graph struct {
	deps map[string]map[string]struct{}
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{deps: make(map[string]map[string]struct{})}
}

// FromMap builds a graph from node → dependencies. Every key becomes a node.
// Dependencies that are not keys are ignored when sorting.
func FromMap(m map[string][]string) *Graph {
	g := New()
	for node, deps := range m {
		g.AddNode(node)
		for _, d := range deps {
			g.AddEdge(node, d)
		}
	}
	return g
}

// AddNode adds a node with no dependencies. Adding an existing node is a no-op.
func (g *Graph) AddNode(node string) {
	if _, ok := g.deps[node]; !ok {
		g.deps[node] = make(map[string]struct{})
	}
}

// AddEdge records that node depends on dependency. The node is added if
// missing; the dependency is not. Self references are ignored because a
// row may reference its own table without constraining the order.
func (g *Graph) AddEdge(node, dependency string) {
	g.AddNode(node)
	if node == dependency {
		return
	}
	g.deps[node][dependency] = struct{}{}
}

// Has reports whether node is part of the graph.
func (g *Graph) Has(node string) bool {
	_, ok := g.deps[node]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.deps)
}

// Nodes returns every node in lexical order.
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.deps))
	for n := range g.deps {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	return nodes
}

// Dependencies returns the known dependencies of node in lexical order.
// Dependencies on nodes outside the graph are omitted.
func (g *Graph) Dependencies(node string) []string {
	var out []string
	for d := range g.deps[node] {
		if g.Has(d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out
}
