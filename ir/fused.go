package ir

import (
	"slices"

	"github.com/pkg/errors"
)

// FusedNode is a read-only view of a fused replacement sub-unit: the single
// placeholder the host graph engine inserts for an accepted cluster. It names
// the cluster's nodes and its externally-visible inputs and outputs, in the
// order the capability declared them.
//
// FusedNode does not copy graph data; it keeps a reference to the frozen
// Graph it was carved from.
type FusedNode struct {
	name    string
	graph   *Graph
	nodes   []int
	inputs  []string
	outputs []string

	inputIndex  map[string]int
	outputIndex map[string]int
}

// NewFusedNode creates a fused-node view over the given frozen graph.
// The nodes slice must be non-empty, every input name must be resolvable in
// the graph, and every output must be produced by one of the listed nodes.
func NewFusedNode(g *Graph, name string, nodes []int, inputs, outputs []string) (*FusedNode, error) {
	g.assertFrozen()
	if len(nodes) == 0 {
		return nil, errors.Errorf("fused node %q: empty node list", name)
	}
	for _, in := range inputs {
		if _, found := g.valueShapes[in]; !found {
			return nil, errors.Errorf("fused node %q: input %q has no shape information in graph %q",
				name, in, g.Name())
		}
	}
	for _, out := range outputs {
		producerIdx, found := g.producer[out]
		if !found || !slices.Contains(nodes, producerIdx) {
			return nil, errors.Errorf("fused node %q: output %q is not produced inside the cluster",
				name, out)
		}
	}

	f := &FusedNode{
		name:        name,
		graph:       g,
		nodes:       slices.Clone(nodes),
		inputs:      slices.Clone(inputs),
		outputs:     slices.Clone(outputs),
		inputIndex:  make(map[string]int, len(inputs)),
		outputIndex: make(map[string]int, len(outputs)),
	}
	for ii, in := range f.inputs {
		f.inputIndex[in] = ii
	}
	for ii, out := range f.outputs {
		f.outputIndex[out] = ii
	}
	return f, nil
}

// Name of the fused node. Unique within the capability pass that created it.
func (f *FusedNode) Name() string { return f.name }

// Graph returns the frozen graph the fused node was carved from.
func (f *FusedNode) Graph() *Graph { return f.graph }

// Nodes returns the cluster's node indices, in topological order. Read-only.
func (f *FusedNode) Nodes() []int { return f.nodes }

// Inputs returns the external input names, data inputs first, then constant
// inputs, as resolved by the capability pass. Read-only.
func (f *FusedNode) Inputs() []string { return f.inputs }

// Outputs returns the external output names. Read-only.
func (f *FusedNode) Outputs() []string { return f.outputs }

// InputIndex returns the position of name in Inputs, if present.
func (f *FusedNode) InputIndex(name string) (int, bool) {
	idx, found := f.inputIndex[name]
	return idx, found
}

// OutputIndex returns the position of name in Outputs, if present.
func (f *FusedNode) OutputIndex(name string) (int, bool) {
	idx, found := f.outputIndex[name]
	return idx, found
}
