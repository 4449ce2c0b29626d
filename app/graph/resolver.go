// Package graph resolves the declared feed dependency graph into a
// deterministic update order.
package graph

import (
	"errors"
	"fmt"
	"sort"
)

var ErrCycle = errors.New("dependency cycle")

// Node is the minimal shape the resolver needs; feed nodes and raw
// declarations both satisfy it.
type Node interface {
	Namespace() string
	Sources() []string
}

// Resolve returns namespaces ordered so that every node follows all of
// its declared upstream dependencies (Kahn's algorithm). Ties among
// simultaneously-ready nodes break by declaration order, so repeated
// calls with unchanged input return the same order.
//
// A cycle fails resolution entirely, naming at least one node stuck in
// the cycle; no partial order is ever returned.
func Resolve[N Node](nodes []N) ([]string, error) {
	index := make(map[string]int, len(nodes)) // namespace -> declaration position
	for i, n := range nodes {
		index[n.Namespace()] = i
	}

	// dependents[ns] lists nodes that consume ns; inDegree counts how
	// many upstreams each node waits on.
	dependents := make(map[string][]string, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		ns := n.Namespace()
		if _, ok := inDegree[ns]; !ok {
			inDegree[ns] = 0
		}
		for _, src := range n.Sources() {
			if _, ok := index[src]; !ok {
				return nil, fmt.Errorf("node %q declares unknown source %q", ns, src)
			}
			dependents[src] = append(dependents[src], ns)
			inDegree[ns]++
		}
	}

	var ready []string
	for _, n := range nodes {
		if inDegree[n.Namespace()] == 0 {
			ready = append(ready, n.Namespace())
		}
	}
	sortByDeclaration(ready, index)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		ns := ready[0]
		ready = ready[1:]
		order = append(order, ns)

		var unblocked []string
		for _, dep := range dependents[ns] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				unblocked = append(unblocked, dep)
			}
		}
		if len(unblocked) > 0 {
			ready = append(ready, unblocked...)
			sortByDeclaration(ready, index)
		}
	}

	if len(order) != len(nodes) {
		var stuck []string
		for _, n := range nodes {
			if inDegree[n.Namespace()] > 0 {
				stuck = append(stuck, n.Namespace())
			}
		}
		sortByDeclaration(stuck, index)
		return nil, fmt.Errorf("%w involving %q (%d nodes unresolved)", ErrCycle, stuck[0], len(stuck))
	}

	return order, nil
}

func sortByDeclaration(namespaces []string, index map[string]int) {
	sort.SliceStable(namespaces, func(i, j int) bool {
		return index[namespaces[i]] < index[namespaces[j]]
	})
}
