package provider

import "slices"

// partitionClusters splits the topological order into maximal contiguous runs
// of supported nodes, cutting at every unsupported node. unsupported must be
// a subsequence of order (it is, by construction in unsupportedNodes).
//
// The emitted clusters are pairwise disjoint, cover exactly the supported
// nodes, and appear in the order of their first node.
func partitionClusters(order []int, unsupported []int) [][]int {
	var clusters [][]int
	prev := 0
	for _, unsupNode := range unsupported {
		pos := slices.Index(order[prev:], unsupNode)
		if pos < 0 {
			continue
		}
		pos += prev
		if pos > prev {
			clusters = append(clusters, slices.Clone(order[prev:pos]))
		}
		prev = pos + 1
	}
	if prev < len(order) {
		clusters = append(clusters, slices.Clone(order[prev:]))
	}
	return clusters
}
