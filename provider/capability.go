package provider

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/migx/ir"
)

const (
	// CapabilityDomain stamped on every capability descriptor.
	CapabilityDomain = "com.gomlx.migx"

	// CapabilityVersion is the descriptor schema version.
	CapabilityVersion = 1
)

// Capability is the opaque descriptor of one accepted cluster, handed to the
// host graph engine, which performs the actual fusion. It names the fused
// replacement sub-unit, its node set and its external inputs and outputs.
type Capability struct {
	// Name is unique for the lifetime of the process.
	Name         string
	Domain       string
	SinceVersion int

	// Experimental marks the descriptor schema stability.
	Experimental bool

	// Nodes of the cluster, in topological order.
	Nodes []int

	// Inputs (data inputs first, then constants) and Outputs of the cluster.
	Inputs  []string
	Outputs []string
}

// capabilityCounter names capabilities uniquely across all providers of the
// process, matching the host's expectation that fused-node names never clash.
var capabilityCounter atomic.Uint64

func newCapability(nodes []int, inputs, outputs []string) *Capability {
	return &Capability{
		Name:         fmt.Sprintf("MIGX_%d", capabilityCounter.Add(1)),
		Domain:       CapabilityDomain,
		SinceVersion: CapabilityVersion,
		Experimental: true,
		Nodes:        nodes,
		Inputs:       inputs,
		Outputs:      outputs,
	}
}

// Fuse creates the fused-node view the host would hand back for compilation
// after replacing the capability's cluster. The graph itself is not modified.
func (c *Capability) Fuse(g *ir.Graph) (*ir.FusedNode, error) {
	return ir.NewFusedNode(g, c.Name, c.Nodes, c.Inputs, c.Outputs)
}
