// Package ir holds the frozen computation-graph snapshot consumed by the
// offload provider.
//
// A Graph is built incrementally -- values, initializers and nodes -- and then
// frozen with Freeze, which computes the topological order, the producer and
// consumer indices, and validates the graph. Once frozen, a Graph is immutable
// and safe for concurrent readers; the provider never mutates it.
//
// The graph model mirrors an ONNX-style GraphProto: nodes reference values by
// name, a value is produced by at most one node, and constants ("initializers")
// carry their tensor payload in the snapshot.
package ir

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/migx/types/shapes"
)

// Node is one operator instance of the graph. It is owned by the Graph and
// identified by a stable index. Exported fields must not be modified after
// the graph is frozen.
type Node struct {
	index int

	// Name of the node instance. May be empty, as in ONNX.
	Name string

	// OpType is the operator-type string, e.g. "Add" or "MatMul".
	OpType string

	// Domain of the operator. Empty for the default domain.
	Domain string

	// Inputs and Outputs are ordered lists of value names.
	Inputs  []string
	Outputs []string
}

// Index of the node in its graph. Stable for the lifetime of the graph.
func (n *Node) Index() int { return n.index }

// Initializer is a constant graph value with a statically-known tensor payload.
type Initializer struct {
	Name  string
	Shape shapes.Shape

	// Data is the flat little-endian payload. Empty if External.
	Data []byte

	// External marks payloads stored out-of-line (outside the snapshot).
	// The provider cannot offload graphs containing these.
	External bool

	// Location of the external payload, informational only.
	Location string
}

// Graph is a computation graph snapshot. Build it with the Add* methods and
// then call Freeze; all query methods require a frozen graph.
type Graph struct {
	name   string
	frozen bool

	nodes        []*Node
	valueShapes  map[string]shapes.Shape
	initializers map[string]*Initializer
	inputs       []string
	outputs      []string

	// Computed by Freeze:
	topo      []int
	producer  map[string]int
	consumers map[string][]int
}

// New creates an empty, unfrozen Graph.
func New(name string) *Graph {
	return &Graph{
		name:         name,
		valueShapes:  make(map[string]shapes.Shape),
		initializers: make(map[string]*Initializer),
	}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// IsFrozen returns whether Freeze has been called.
func (g *Graph) IsFrozen() bool { return g.frozen }

func (g *Graph) assertMutable() {
	if g.frozen {
		exceptions.Panicf("ir.Graph(%q) is frozen and can no longer be modified", g.name)
	}
}

func (g *Graph) assertFrozen() {
	if !g.frozen {
		exceptions.Panicf("ir.Graph(%q) must be frozen (call Freeze) before it can be queried", g.name)
	}
}

// AddValue records shape metadata for a value name. Needed for graph inputs
// and for any value whose element type the provider should be able to check.
func (g *Graph) AddValue(name string, shape shapes.Shape) {
	g.assertMutable()
	g.valueShapes[name] = shape
}

// AddInput declares a top-level graph input with its shape, which may have
// dynamic dimensions (shapes.DynamicDim).
func (g *Graph) AddInput(name string, shape shapes.Shape) {
	g.assertMutable()
	g.inputs = append(g.inputs, name)
	g.valueShapes[name] = shape
}

// AddOutput declares a whole-graph output by value name.
func (g *Graph) AddOutput(name string) {
	g.assertMutable()
	g.outputs = append(g.outputs, name)
}

// AddInitializer adds a constant value with its flat little-endian payload.
func (g *Graph) AddInitializer(name string, shape shapes.Shape, data []byte) {
	g.assertMutable()
	g.initializers[name] = &Initializer{Name: name, Shape: shape, Data: data}
	g.valueShapes[name] = shape
}

// AddExternalInitializer adds a constant whose payload lives outside the
// snapshot, at the given location.
func (g *Graph) AddExternalInitializer(name string, shape shapes.Shape, location string) {
	g.assertMutable()
	g.initializers[name] = &Initializer{Name: name, Shape: shape, External: true, Location: location}
	g.valueShapes[name] = shape
}

// AddNode appends a node to the graph and returns it. The node's Domain can
// be set on the returned Node before Freeze.
func (g *Graph) AddNode(name, opType string, inputs, outputs []string) *Node {
	g.assertMutable()
	node := &Node{
		index:   len(g.nodes),
		Name:    name,
		OpType:  opType,
		Inputs:  slices.Clone(inputs),
		Outputs: slices.Clone(outputs),
	}
	g.nodes = append(g.nodes, node)
	return node
}

// Freeze validates the graph, computes the topological order and the
// producer/consumer indices, and makes the graph immutable.
func (g *Graph) Freeze() error {
	g.assertMutable()

	g.producer = make(map[string]int)
	g.consumers = make(map[string][]int)
	for _, node := range g.nodes {
		for _, out := range node.Outputs {
			if prev, found := g.producer[out]; found {
				return errors.Errorf("graph %q: value %q produced by both node #%d and node #%d",
					g.name, out, prev, node.index)
			}
			if _, isInit := g.initializers[out]; isInit {
				return errors.Errorf("graph %q: value %q is an initializer but also produced by node #%d",
					g.name, out, node.index)
			}
			g.producer[out] = node.index
		}
		for _, in := range node.Inputs {
			g.consumers[in] = append(g.consumers[in], node.index)
		}
	}

	graphInputs := make(map[string]bool, len(g.inputs))
	for _, in := range g.inputs {
		graphInputs[in] = true
	}
	for _, node := range g.nodes {
		for _, in := range node.Inputs {
			if _, produced := g.producer[in]; produced {
				continue
			}
			if _, isInit := g.initializers[in]; isInit {
				continue
			}
			if !graphInputs[in] {
				return errors.Errorf("graph %q: node #%d (%s) consumes %q, which is not produced, "+
					"not an initializer and not a graph input", g.name, node.index, node.OpType, in)
			}
		}
	}
	for _, out := range g.outputs {
		_, produced := g.producer[out]
		_, isInit := g.initializers[out]
		if !produced && !isInit && !graphInputs[out] {
			return errors.Errorf("graph %q: declared output %q is never produced", g.name, out)
		}
	}

	topo, err := g.topologicalSort()
	if err != nil {
		return errors.WithMessagef(err, "graph %q", g.name)
	}
	g.topo = topo
	g.frozen = true
	return nil
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Node returns the node with the given stable index.
func (g *Graph) Node(index int) *Node {
	g.assertFrozen()
	return g.nodes[index]
}

// TopologicalOrder returns the node indices in an order consistent with data
// dependencies. The returned slice is owned by the graph: read-only.
func (g *Graph) TopologicalOrder() []int {
	g.assertFrozen()
	return g.topo
}

// Inputs returns the declared graph input names, in declaration order.
// The returned slice is owned by the graph: read-only.
func (g *Graph) Inputs() []string {
	g.assertFrozen()
	return g.inputs
}

// Outputs returns the declared whole-graph output names, in declaration order.
// The returned slice is owned by the graph: read-only.
func (g *Graph) Outputs() []string {
	g.assertFrozen()
	return g.outputs
}

// IsGraphInput returns whether name is a declared top-level graph input.
func (g *Graph) IsGraphInput(name string) bool {
	g.assertFrozen()
	return slices.Contains(g.inputs, name)
}

// IsGraphOutput returns whether name is a declared whole-graph output.
func (g *Graph) IsGraphOutput(name string) bool {
	g.assertFrozen()
	return slices.Contains(g.outputs, name)
}

// ValueShape returns the recorded shape for a value name, if any.
func (g *Graph) ValueShape(name string) (shapes.Shape, bool) {
	g.assertFrozen()
	shape, found := g.valueShapes[name]
	return shape, found
}

// Initializer returns the initializer with the given name, if any.
func (g *Graph) Initializer(name string) (*Initializer, bool) {
	g.assertFrozen()
	init, found := g.initializers[name]
	return init, found
}

// IsInitializer returns whether name is a graph constant.
func (g *Graph) IsInitializer(name string) bool {
	_, found := g.initializers[name]
	return found
}

// Initializers returns all initializers sorted by name, for deterministic
// iteration.
func (g *Graph) Initializers() []*Initializer {
	g.assertFrozen()
	all := make([]*Initializer, 0, len(g.initializers))
	for _, init := range g.initializers {
		all = append(all, init)
	}
	slices.SortFunc(all, func(a, b *Initializer) int {
		if a.Name < b.Name {
			return -1
		} else if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return all
}

// Producer returns the index of the node producing the named value, if any.
func (g *Graph) Producer(name string) (int, bool) {
	g.assertFrozen()
	idx, found := g.producer[name]
	return idx, found
}

// Consumers returns the indices of the nodes consuming the named value.
// The returned slice is owned by the graph: read-only.
func (g *Graph) Consumers(name string) []int {
	g.assertFrozen()
	return g.consumers[name]
}
