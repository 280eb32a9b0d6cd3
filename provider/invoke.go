package provider

import (
	"github.com/pkg/errors"

	"github.com/gomlx/migx/backend"
	"github.com/gomlx/migx/types/shapes"
)

// Tensor is a live tensor buffer handed in by the caller for the duration of
// one Invoke call. Data is never copied and never retained past the call.
type Tensor struct {
	Shape shapes.Shape
	Data  []byte
}

// OutputAllocator is the caller-provided output-slot mechanism: asked once
// per program output for a buffer of the compiled program's declared shape.
type OutputAllocator func(outputIndex int, shape shapes.Shape) (Tensor, error)

// ErrTypeMismatch flags a live input tensor whose element type disagrees with
// the compiled parameter's. It signals an inconsistency between compile-time
// and run-time type inference: the call is aborted, never coerced. Check with
// errors.Is.
var ErrTypeMismatch = errors.New("element type mismatch between live tensor and compiled parameter")

// Invoke runs the fused node's compiled program over the live input tensors.
//
// Inputs are bound positionally per the fused node's input order; output
// buffers are requested from allocOutput with the compiled shapes; scratch
// parameters use the buffer cached at compile time or fresh storage for this
// call only. Evaluation runs under the provider's execution lock, so
// concurrent Invoke calls -- on this or any program of the same provider --
// are serialized.
//
// A failed call leaves the compiled state untouched; subsequent calls are
// unaffected.
func (fp *FusedProgram) Invoke(inputs []Tensor, allocOutput OutputAllocator) error {
	state := fp.state
	args := make(map[string]backend.Argument, len(state.bindings))
	for _, binding := range state.bindings {
		param := binding.param
		switch {
		case binding.inputIndex >= 0:
			if binding.inputIndex >= len(inputs) {
				return errors.Errorf("fused node %q: parameter %q expects input #%d, got %d inputs",
					state.name, param.Name, binding.inputIndex, len(inputs))
			}
			live := inputs[binding.inputIndex]
			if live.Shape.DType != param.Shape.DType {
				return errors.Wrapf(ErrTypeMismatch,
					"fused node %q: parameter %q compiled as %s, live tensor is %s",
					state.name, param.Name, param.Shape.DType, live.Shape.DType)
			}
			args[param.Name] = backend.Argument{Shape: param.Shape, Data: live.Data}

		case binding.outputIndex >= 0:
			out, err := allocOutput(binding.outputIndex, param.Shape)
			if err != nil {
				return errors.WithMessagef(err, "fused node %q: allocating output #%d (%s)",
					state.name, binding.outputIndex, param.Shape)
			}
			args[param.Name] = backend.Argument{Shape: param.Shape, Data: out.Data}

		default:
			if binding.scratch != nil {
				args[param.Name] = *binding.scratch
				continue
			}
			if !param.Shape.IsStatic() {
				return errors.Errorf("fused node %q: scratch parameter %q has dynamic shape %s, cannot allocate",
					state.name, param.Name, param.Shape)
			}
			args[param.Name] = state.exec.Alloc(param.Shape)
		}
	}

	fp.provider.execMu.Lock()
	err := state.exec.Eval(args)
	fp.provider.execMu.Unlock()
	return errors.WithMessagef(err, "evaluating fused node %q", state.name)
}
