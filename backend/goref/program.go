package goref

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/migx/backend"
	"github.com/gomlx/migx/types/shapes"
	"github.com/gomlx/migx/types/xslices"
	"github.com/gomlx/migx/wire"
)

// ScratchParameterName is the parameter under which a compiled program asks
// for its intermediate-results arena, when it needs one.
const ScratchParameterName = "scratch"

// scratchAlignment for the per-value slots carved from the scratch arena.
const scratchAlignment = 8

// Program is a parsed model with inferred shapes for every value, ready to be
// compiled. It implements backend.Program.
type Program struct {
	model *wire.Model

	// unsupported holds the names of nodes whose operator this backend cannot
	// translate. A program with unsupported nodes can be probed but not compiled.
	unsupported []string

	// valueShapes maps every value name to its static shape, inference results
	// included. Values downstream of unsupported nodes are absent.
	valueShapes map[string]shapes.Shape

	// scratchOffsets locates each intermediate value inside the scratch arena.
	scratchOffsets map[string]int
	scratchBytes   int

	params []backend.Parameter
}

var _ backend.Program = (*Program)(nil)

// newProgram infers shapes, lays out the scratch arena, and declares the
// program's parameters: each model input, the single model output, and the
// scratch arena when intermediates exist.
func newProgram(model *wire.Model) (*Program, error) {
	if len(model.Outputs) != 1 {
		return nil, errors.Errorf("model %q declares %d outputs: goref compiles single-output programs only",
			model.Name, len(model.Outputs))
	}

	p := &Program{
		model:          model,
		valueShapes:    make(map[string]shapes.Shape),
		scratchOffsets: make(map[string]int),
	}
	for _, in := range model.Inputs {
		if !in.Shape.IsStatic() {
			return nil, errors.Errorf("model %q: input %q has non-static shape %s",
				model.Name, in.Name, in.Shape)
		}
		p.valueShapes[in.Name] = in.Shape
	}
	for _, init := range model.Initializers {
		p.valueShapes[init.Name] = init.Shape
	}

	for _, node := range model.Nodes {
		if !supportedOps.Has(node.OpType) {
			p.unsupported = append(p.unsupported, nodeLabel(node))
			continue
		}
		if !p.operandShapesKnown(node) {
			// Downstream of an untranslatable node, so it cannot be planned either.
			p.unsupported = append(p.unsupported, nodeLabel(node))
			continue
		}
		outShape, err := p.inferShape(node)
		if err != nil {
			return nil, errors.WithMessagef(err, "model %q", model.Name)
		}
		p.valueShapes[node.Outputs[0]] = outShape
	}

	outName := model.Outputs[0].Name
	outShape, found := p.valueShapes[outName]
	if found {
		// Lay out the scratch arena: every node-produced value that is neither
		// the program output nor an input gets a slot.
		for _, node := range model.Nodes {
			for _, produced := range node.Outputs {
				if produced == outName {
					continue
				}
				shape, ok := p.valueShapes[produced]
				if !ok {
					continue
				}
				p.scratchOffsets[produced] = p.scratchBytes
				slot := int(shape.Memory())
				slot += (scratchAlignment - slot%scratchAlignment) % scratchAlignment
				p.scratchBytes += slot
			}
		}
	}

	for _, in := range model.Inputs {
		p.params = append(p.params, backend.Parameter{Name: in.Name, Shape: in.Shape})
	}
	if found {
		p.params = append(p.params, backend.Parameter{Name: outName, Shape: outShape})
	}
	if p.scratchBytes > 0 {
		p.params = append(p.params, backend.Parameter{
			Name:  ScratchParameterName,
			Shape: shapes.Make(dtypes.Uint8, p.scratchBytes),
		})
	}
	return p, nil
}

// IsEmpty reports whether parsing yielded no instructions.
func (p *Program) IsEmpty() bool { return len(p.model.Nodes) == 0 }

// Compile the program against the given target device.
// goref executes on the host, so only the cpu target is accepted.
func (p *Program) Compile(target backend.Target) (backend.Executable, error) {
	if target != backend.TargetCPU {
		return nil, errors.Errorf("goref compiles for the %q target only, got %q", backend.TargetCPU, target)
	}
	if len(p.unsupported) > 0 {
		return nil, errors.Errorf("model %q kept %d untranslatable nodes (%v), cannot compile",
			p.model.Name, len(p.unsupported), p.unsupported)
	}
	outName := p.model.Outputs[0].Name
	if _, found := p.valueShapes[outName]; !found {
		return nil, errors.Errorf("model %q: output %q is never produced", p.model.Name, outName)
	}

	exec := &Executable{prog: p}
	for _, node := range p.model.Nodes {
		kernel, err := kernelFor(node.OpType, p.nodeInputDTypes(node))
		if err != nil {
			return nil, errors.WithMessagef(err, "model %q, node %s", p.model.Name, nodeLabel(node))
		}
		exec.instructions = append(exec.instructions, instruction{
			node:   nodeLabel(node),
			op:     node.OpType,
			kernel: kernel,
			inputs: node.Inputs,
			output: node.Outputs[0],
		})
	}
	return exec, nil
}

// inferShape computes the output shape of a supported node from its operand
// shapes. All operands must already have inferred shapes.
func (p *Program) inferShape(node wire.Node) (shapes.Shape, error) {
	if len(node.Outputs) != 1 {
		return shapes.Invalid(), errors.Errorf("node %s: goref supports single-output operators only, got %d outputs",
			nodeLabel(node), len(node.Outputs))
	}
	operands := make([]shapes.Shape, 0, len(node.Inputs))
	for _, in := range node.Inputs {
		shape, found := p.valueShapes[in]
		if !found {
			return shapes.Invalid(), errors.Errorf("node %s: operand %q has unknown shape", nodeLabel(node), in)
		}
		operands = append(operands, shape)
	}

	switch node.OpType {
	case "Identity", "Relu", "Neg", "Abs", "Exp", "Sqrt":
		if len(operands) != 1 {
			return shapes.Invalid(), errors.Errorf("node %s: %s takes 1 operand, got %d",
				nodeLabel(node), node.OpType, len(operands))
		}
		return operands[0].Clone(), nil

	case "Add", "Sub", "Mul", "Div", "Max", "Min":
		if len(operands) != 2 {
			return shapes.Invalid(), errors.Errorf("node %s: %s takes 2 operands, got %d",
				nodeLabel(node), node.OpType, len(operands))
		}
		lhs, rhs := operands[0], operands[1]
		if lhs.DType != rhs.DType {
			return shapes.Invalid(), errors.Errorf("node %s: operand dtypes differ: %s vs %s",
				nodeLabel(node), lhs, rhs)
		}
		// Scalars broadcast against any shape; otherwise dimensions must match.
		if lhs.IsScalar() {
			return rhs.Clone(), nil
		}
		if rhs.IsScalar() || lhs.Equal(rhs) {
			return lhs.Clone(), nil
		}
		return shapes.Invalid(), errors.Errorf("node %s: operand shapes differ: %s vs %s",
			nodeLabel(node), lhs, rhs)

	case "MatMul":
		if len(operands) != 2 {
			return shapes.Invalid(), errors.Errorf("node %s: MatMul takes 2 operands, got %d",
				nodeLabel(node), len(operands))
		}
		lhs, rhs := operands[0], operands[1]
		if lhs.DType != rhs.DType {
			return shapes.Invalid(), errors.Errorf("node %s: operand dtypes differ: %s vs %s",
				nodeLabel(node), lhs, rhs)
		}
		if lhs.Rank() != 2 || rhs.Rank() != 2 || lhs.Dimensions[1] != rhs.Dimensions[0] {
			return shapes.Invalid(), errors.Errorf("node %s: MatMul requires [m,k]x[k,n] operands, got %s x %s",
				nodeLabel(node), lhs, rhs)
		}
		return shapes.Make(lhs.DType, lhs.Dimensions[0], rhs.Dimensions[1]), nil
	}
	return shapes.Invalid(), errors.Errorf("node %s: operator %q not supported", nodeLabel(node), node.OpType)
}

// operandShapesKnown reports whether every operand of node has an inferred
// shape. False happens only when an operand is produced by an untranslatable
// upstream node.
func (p *Program) operandShapesKnown(node wire.Node) bool {
	for _, in := range node.Inputs {
		if _, found := p.valueShapes[in]; !found {
			return false
		}
	}
	return true
}

// nodeInputDTypes returns the dtype of each operand. Only valid for nodes
// whose operands have inferred shapes.
func (p *Program) nodeInputDTypes(node wire.Node) []dtypes.DType {
	return xslices.Map(node.Inputs, func(in string) dtypes.DType {
		return p.valueShapes[in].DType
	})
}

func nodeLabel(node wire.Node) string {
	if node.Name != "" {
		return node.Name
	}
	if len(node.Outputs) > 0 {
		return node.OpType + "->" + node.Outputs[0]
	}
	return node.OpType
}
