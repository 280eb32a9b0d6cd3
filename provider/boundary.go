package provider

import (
	"github.com/gomlx/migx/ir"
	"github.com/gomlx/migx/types/sets"
)

// clusterBoundary resolves the externally-visible interface of a cluster:
//
//   - inputs: value names the cluster consumes from outside it, data inputs
//     first in first-seen order, then constant inputs in first-seen order.
//     A name is a constant input if it is an initializer that is not also a
//     top-level graph input, or if the classifier recorded it as required.
//     Values produced inside the cluster are never inputs.
//   - outputs: values produced inside the cluster and consumed outside it,
//     plus cluster-produced values declared as whole-graph outputs. A
//     pass-through name (externally consumed and a graph output) appears
//     once.
//
// The ordering rules make the result deterministic, so repeated resolution
// yields identical compiled-program signatures.
func clusterBoundary(g *ir.Graph, cluster []int, requiredInitializers sets.Set[string]) (inputs, outputs []string) {
	inCluster := sets.MakeWith(cluster...)
	inputSeen := sets.Make[string]()
	producedInside := sets.Make[string]()
	externalOutputs := sets.Make[string]()
	var orderedInputs []string

	for _, nodeIdx := range cluster {
		node := g.Node(nodeIdx)
		for _, in := range node.Inputs {
			if !inputSeen.Has(in) {
				inputSeen.Insert(in)
				orderedInputs = append(orderedInputs, in)
			}
		}
		for _, out := range node.Outputs {
			producedInside.Insert(out)
			// A consumer outside the cluster makes this an external output.
			for _, consumerIdx := range g.Consumers(out) {
				if !inCluster.Has(consumerIdx) && !externalOutputs.Has(out) {
					externalOutputs.Insert(out)
					outputs = append(outputs, out)
				}
			}
		}
	}

	isConstant := func(name string) bool {
		return (g.IsInitializer(name) && !g.IsGraphInput(name)) || requiredInitializers.Has(name)
	}
	var constInputs []string
	for _, in := range orderedInputs {
		switch {
		case isConstant(in):
			constInputs = append(constInputs, in)
		case !producedInside.Has(in):
			inputs = append(inputs, in)
		}
	}
	inputs = append(inputs, constInputs...)

	for _, out := range g.Outputs() {
		if producedInside.Has(out) && !externalOutputs.Has(out) {
			outputs = append(outputs, out)
		}
	}
	return inputs, outputs
}
