package provider

import (
	"slices"

	"k8s.io/klog/v2"

	"github.com/gomlx/migx/ir"
	"github.com/gomlx/migx/types/sets"
	"github.com/gomlx/migx/wire"
)

// GetCapability runs the capability-generation pass over a frozen graph and
// returns the clusters the backend can take, as opaque descriptors for the
// host graph engine to fuse.
//
// An empty result means full fallback to the host's general executor. That
// happens when the graph as a whole fails one of the cheap up-front checks --
// initializers with external data, more than one declared output (the backend
// accepts single-output programs only), a graph input with a dynamic shape,
// or a graph the backend parser cannot make sense of -- or when nothing
// worth offloading remains after partitioning.
func (p *Provider) GetCapability(g *ir.Graph) []*Capability {
	for _, init := range g.Initializers() {
		if init.External {
			klog.Warningf("offload: initializer %q of graph %q has an external data location, "+
				"not currently supported; falling back to the general executor", init.Name, g.Name())
			return nil
		}
	}

	if numOutputs := len(g.Outputs()); numOutputs > 1 {
		klog.Warningf("offload: backend supports single-output programs only, graph %q has %d outputs; "+
			"falling back to the general executor", g.Name(), numOutputs)
		return nil
	}

	for _, in := range g.Inputs() {
		shape, found := g.ValueShape(in)
		if !found || !shape.IsStatic() {
			klog.Warningf("offload: graph %q input %q has dynamic shape %s, not supported; "+
				"falling back to the general executor", g.Name(), in, shape)
			return nil
		}
	}

	// Probe the backend parser with the whole graph. Nodes it cannot
	// translate are informational only -- the classifier below is the gate.
	model, err := wire.FromGraph(g)
	if err != nil {
		klog.Warningf("offload: cannot build interchange model for graph %q: %+v", g.Name(), err)
		return nil
	}
	serialized, err := model.Encode()
	if err != nil {
		klog.Warningf("offload: cannot encode interchange model for graph %q: %+v", g.Name(), err)
		return nil
	}
	prog, untranslatable, err := p.backend.Parse(serialized)
	if err != nil {
		klog.Warningf("offload: backend %q failed to parse graph %q: %+v", p.backend.Name(), g.Name(), err)
		return nil
	}
	if len(untranslatable) > 0 {
		klog.Warningf("offload: backend parser could not translate %d nodes of graph %q: %v",
			len(untranslatable), g.Name(), untranslatable)
	}
	if prog.IsEmpty() {
		return nil
	}

	ops := p.backend.SupportedOps()
	unsupported, requiredInitializers := unsupportedNodes(g, ops)

	// If every node is supported no partitioning is needed: the whole graph
	// is one cluster and its boundary is just the graph's own interface.
	if len(unsupported) == 0 {
		inputs := slices.Clone(g.Inputs())
		if len(inputs) == 0 {
			// No inputs at all: the host's constant folding should have
			// eliminated this; offloading a no-input region is pointless.
			klog.V(1).Infof("offload: graph %q has no data inputs, nothing to offload", g.Name())
			return nil
		}
		for _, name := range sets.Sorted(requiredInitializers) {
			if !slices.Contains(inputs, name) {
				inputs = append(inputs, name)
			}
		}
		capability := newCapability(slices.Clone(g.TopologicalOrder()), inputs, slices.Clone(g.Outputs()))
		klog.V(1).Infof("offload: graph %q fully supported, single capability %q with %d nodes",
			g.Name(), capability.Name, len(capability.Nodes))
		return []*Capability{capability}
	}

	clusters := partitionClusters(g.TopologicalOrder(), unsupported)
	result := make([]*Capability, 0, len(clusters))
	for _, cluster := range clusters {
		inputs, outputs := clusterBoundary(g, cluster, requiredInitializers)
		if len(inputs) == 0 {
			// All-constant sub-computation; re-accepting it would offload a
			// degenerate no-input region.
			klog.V(1).Infof("offload: dropping all-constant cluster of %d nodes in graph %q",
				len(cluster), g.Name())
			continue
		}
		result = append(result, newCapability(cluster, inputs, outputs))
	}
	klog.V(1).Infof("offload: graph %q split at %d unsupported nodes into %d capabilities",
		g.Name(), len(unsupported), len(result))
	return result
}
