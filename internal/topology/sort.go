package topology

import "slices"

// Sort returns the nodes of g ordered so that every node appears after all
// of its dependencies.
//
// Kahn's algorithm is used with a lexical tie-break, so the same graph
// always yields the same order. If the graph contains a cycle, Sort returns
// a *CycleDetectedError listing each cycle and no order.
func Sort(g *Graph) ([]string, error) {
	// remaining[n] counts unmet dependencies of n
	remaining := make(map[string]int, g.Len())
	// dependents[d] lists nodes waiting on d
	dependents := make(map[string][]string, g.Len())

	for _, n := range g.Nodes() {
		deps := g.Dependencies(n)
		remaining[n] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], n)
		}
	}

	var ready []string
	for _, n := range g.Nodes() {
		if remaining[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, g.Len())
	for len(ready) > 0 {
		slices.Sort(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		for _, m := range dependents[n] {
			remaining[m]--
			if remaining[m] == 0 {
				ready = append(ready, m)
			}
		}
	}

	if len(order) < g.Len() {
		return nil, &CycleDetectedError{Cycles: FindCycles(g)}
	}
	return order, nil
}

// Reverse returns order back to front, e.g. to delete dependents before
// the nodes they depend on. The input is not modified.
func Reverse(order []string) []string {
	out := slices.Clone(order)
	slices.Reverse(out)
	return out
}
