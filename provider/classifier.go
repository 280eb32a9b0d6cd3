package provider

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/migx/ir"
	"github.com/gomlx/migx/types/sets"
)

// supportedDTypes are the element types the provider can offload. Anything
// else -- booleans, strings, complex -- fails the node.
var supportedDTypes = sets.MakeWith(
	dtypes.Float16, dtypes.Float32, dtypes.Float64,
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
)

// isNodeSupported decides whether one node is offloadable: every input and
// output value must have a supported element type (a value with no recorded
// shape fails), and the operator must be in the backend's supported set.
// The check is total: it always terminates with a verdict, never an error.
func isNodeSupported(ops sets.Set[string], g *ir.Graph, nodeIdx int) bool {
	node := g.Node(nodeIdx)
	for _, lists := range [][]string{node.Inputs, node.Outputs} {
		for _, name := range lists {
			shape, found := g.ValueShape(name)
			if !found || !supportedDTypes.Has(shape.DType) {
				return false
			}
		}
	}
	return ops.Has(node.OpType)
}

// unsupportedNodes walks the topological order once and returns the indices
// of nodes that cannot be offloaded, in order of appearance. As a side
// effect it collects the initializers consumed by supported nodes: the
// partitioner needs them later to decide which constants must travel with a
// cluster even when not topologically adjacent.
func unsupportedNodes(g *ir.Graph, ops sets.Set[string]) (unsupported []int, requiredInitializers sets.Set[string]) {
	requiredInitializers = sets.Make[string]()
	for _, nodeIdx := range g.TopologicalOrder() {
		if !isNodeSupported(ops, g, nodeIdx) {
			unsupported = append(unsupported, nodeIdx)
			continue
		}
		for _, in := range g.Node(nodeIdx).Inputs {
			if g.IsInitializer(in) {
				requiredInitializers.Insert(in)
			}
		}
	}
	return
}
