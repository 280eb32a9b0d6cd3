package ir

import "github.com/pkg/errors"

// topologicalSort returns the node indices in an order consistent with data
// dependencies (Kahn's algorithm). Ready nodes are visited in index order, so
// the result is deterministic for a given graph.
func (g *Graph) topologicalSort() ([]int, error) {
	numNodes := len(g.nodes)
	pending := make([]int, numNodes) // number of not-yet-visited producers per node.
	dependents := make([][]int, numNodes)
	for _, node := range g.nodes {
		for _, in := range node.Inputs {
			producerIdx, found := g.producer[in]
			if !found || producerIdx == node.index {
				continue
			}
			pending[node.index]++
			dependents[producerIdx] = append(dependents[producerIdx], node.index)
		}
	}

	order := make([]int, 0, numNodes)
	ready := make([]int, 0, numNodes)
	for idx := range numNodes {
		if pending[idx] == 0 {
			ready = append(ready, idx)
		}
	}
	for len(ready) > 0 {
		idx := ready[0]
		ready = ready[1:]
		order = append(order, idx)
		for _, dep := range dependents[idx] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(order) != numNodes {
		return nil, errors.Errorf("graph has a cycle: only %d of %d nodes could be ordered", len(order), numNodes)
	}
	return order, nil
}
