// Package wire defines the interchange format handed to the backend compiler:
// a standalone, single-namespace model snapshot of one subgraph, with the
// initializers it references carried inline.
//
// Models are rebuilt from the host graph -- either the whole graph, for the
// capability-pass probe, or one fused node's subgraph, for compilation -- and
// serialized to the byte encoding the backend parser expects.
package wire

import (
	"bytes"
	"encoding/gob"
	"slices"

	"github.com/pkg/errors"

	"github.com/gomlx/migx/ir"
	"github.com/gomlx/migx/types/shapes"
)

// IRVersion is the interchange-format version stamped on every model.
const IRVersion = 1

// Node is one operator instance of a model.
type Node struct {
	Name    string
	OpType  string
	Domain  string
	Inputs  []string
	Outputs []string
}

// Tensor is an inline constant payload.
type Tensor struct {
	Name  string
	Shape shapes.Shape
	Data  []byte
}

// ValueInfo declares a model input or output. The Shape may be invalid for
// outputs whose shape the host did not record -- the backend infers those.
type ValueInfo struct {
	Name  string
	Shape shapes.Shape
}

// Model is a standalone subgraph snapshot: nodes in topological order, the
// initializers they reference, and the externally-visible inputs and outputs.
type Model struct {
	Name      string
	IRVersion int

	Nodes        []Node
	Initializers []Tensor
	Inputs       []ValueInfo
	Outputs      []ValueInfo
}

// FromFused rebuilds a standalone model from a fused node's subgraph: the
// cluster's nodes wrapped in a fresh namespace, with every initializer they
// consume inlined. Constant inputs of the fused node become initializers, not
// model inputs.
func FromFused(f *ir.FusedNode) (*Model, error) {
	g := f.Graph()
	m := &Model{Name: f.Name(), IRVersion: IRVersion}

	seenInits := make(map[string]bool)
	for _, nodeIdx := range f.Nodes() {
		node := g.Node(nodeIdx)
		m.Nodes = append(m.Nodes, Node{
			Name:    node.Name,
			OpType:  node.OpType,
			Domain:  node.Domain,
			Inputs:  slices.Clone(node.Inputs),
			Outputs: slices.Clone(node.Outputs),
		})
		for _, in := range node.Inputs {
			init, found := g.Initializer(in)
			if !found || seenInits[in] {
				continue
			}
			if init.External {
				return nil, errors.Errorf("model %q: initializer %q has external data (%s), not supported",
					m.Name, in, init.Location)
			}
			seenInits[in] = true
			m.Initializers = append(m.Initializers, Tensor{Name: in, Shape: init.Shape, Data: init.Data})
		}
	}

	for _, in := range f.Inputs() {
		if g.IsInitializer(in) {
			continue
		}
		shape, _ := g.ValueShape(in)
		m.Inputs = append(m.Inputs, ValueInfo{Name: in, Shape: shape})
	}
	for _, out := range f.Outputs() {
		shape, found := g.ValueShape(out)
		if !found {
			shape = shapes.Invalid()
		}
		m.Outputs = append(m.Outputs, ValueInfo{Name: out, Shape: shape})
	}
	return m, nil
}

// FromGraph rebuilds a standalone model of the whole frozen graph, nodes in
// topological order. Used by the capability pass to probe the backend parser.
func FromGraph(g *ir.Graph) (*Model, error) {
	m := &Model{Name: g.Name(), IRVersion: IRVersion}
	for _, nodeIdx := range g.TopologicalOrder() {
		node := g.Node(nodeIdx)
		m.Nodes = append(m.Nodes, Node{
			Name:    node.Name,
			OpType:  node.OpType,
			Domain:  node.Domain,
			Inputs:  slices.Clone(node.Inputs),
			Outputs: slices.Clone(node.Outputs),
		})
	}
	for _, init := range g.Initializers() {
		if init.External {
			return nil, errors.Errorf("model %q: initializer %q has external data (%s), not supported",
				m.Name, init.Name, init.Location)
		}
		m.Initializers = append(m.Initializers, Tensor{Name: init.Name, Shape: init.Shape, Data: init.Data})
	}
	for _, in := range g.Inputs() {
		if g.IsInitializer(in) {
			continue
		}
		shape, _ := g.ValueShape(in)
		m.Inputs = append(m.Inputs, ValueInfo{Name: in, Shape: shape})
	}
	for _, out := range g.Outputs() {
		shape, found := g.ValueShape(out)
		if !found {
			shape = shapes.Invalid()
		}
		m.Outputs = append(m.Outputs, ValueInfo{Name: out, Shape: shape})
	}
	return m, nil
}

// Encode serializes the model to the backend's expected byte encoding.
func (m *Model) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, errors.Wrapf(err, "failed to encode model %q", m.Name)
	}
	return buf.Bytes(), nil
}

// Decode deserializes a model encoded with Encode.
func Decode(data []byte) (*Model, error) {
	m := &Model{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(m); err != nil {
		return nil, errors.Wrap(err, "failed to decode model")
	}
	return m, nil
}

// Initializer returns the inline constant with the given name, if any.
func (m *Model) Initializer(name string) (Tensor, bool) {
	for _, t := range m.Initializers {
		if t.Name == name {
			return t, true
		}
	}
	return Tensor{}, false
}

// IsInitializer returns whether name is an inline constant of the model.
func (m *Model) IsInitializer(name string) bool {
	_, found := m.Initializer(name)
	return found
}
