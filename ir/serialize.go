package ir

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"

	"github.com/gomlx/migx/types/shapes"
)

// gobGraph is the flattened, gob-friendly form of a Graph snapshot.
type gobGraph struct {
	Name         string
	Nodes        []gobNode
	ValueShapes  map[string]shapes.Shape
	Initializers []Initializer
	Inputs       []string
	Outputs      []string
}

type gobNode struct {
	Name    string
	OpType  string
	Domain  string
	Inputs  []string
	Outputs []string
}

// GobSerialize the frozen graph in binary format.
func (g *Graph) GobSerialize(encoder *gob.Encoder) error {
	g.assertFrozen()
	state := gobGraph{
		Name:        g.name,
		ValueShapes: g.valueShapes,
		Inputs:      g.inputs,
		Outputs:     g.outputs,
	}
	state.Nodes = make([]gobNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		state.Nodes = append(state.Nodes, gobNode{
			Name:    node.Name,
			OpType:  node.OpType,
			Domain:  node.Domain,
			Inputs:  node.Inputs,
			Outputs: node.Outputs,
		})
	}
	for _, init := range g.Initializers() {
		state.Initializers = append(state.Initializers, *init)
	}
	if err := encoder.Encode(state); err != nil {
		return errors.Wrapf(err, "failed to serialize graph %q", g.name)
	}
	return nil
}

// GobDeserialize a Graph. The returned graph is already frozen.
func GobDeserialize(decoder *gob.Decoder) (*Graph, error) {
	var state gobGraph
	if err := decoder.Decode(&state); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize graph")
	}
	g := New(state.Name)
	for name, shape := range state.ValueShapes {
		g.valueShapes[name] = shape
	}
	for _, init := range state.Initializers {
		initCopy := init
		g.initializers[init.Name] = &initCopy
	}
	g.inputs = state.Inputs
	g.outputs = state.Outputs
	for _, node := range state.Nodes {
		n := g.AddNode(node.Name, node.OpType, node.Inputs, node.Outputs)
		n.Domain = node.Domain
	}
	if err := g.Freeze(); err != nil {
		return nil, errors.WithMessage(err, "deserialized graph failed validation")
	}
	return g, nil
}

// Save the frozen graph snapshot to the given file path.
func (g *Graph) Save(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save graph", filePath)
	}
	if err = g.GobSerialize(gob.NewEncoder(f)); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "saving graph to %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "close file %q, where graph was saved", filePath)
	}
	return nil
}

// Load a graph snapshot from the file path given.
func Load(filePath string) (*Graph, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q to load graph", filePath)
	}
	g, err := GobDeserialize(gob.NewDecoder(f))
	_ = f.Close()
	if err != nil {
		return nil, errors.WithMessagef(err, "loading graph from %q", filePath)
	}
	return g, nil
}
