package provider

import (
	stderrors "errors"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/migx/backend"
	"github.com/gomlx/migx/ir"
	"github.com/gomlx/migx/wire"
)

// paramBinding maps one declared parameter of a compiled program to its
// runtime source: an external input slot, an external output slot, or -- for
// parameters matching neither -- scratch storage, pre-allocated at compile
// time when its shape allows reuse across calls.
type paramBinding struct {
	param       backend.Parameter
	inputIndex  int // index into the fused node's inputs, or -1.
	outputIndex int // index into the fused node's outputs, or -1.
	scratch     *backend.Argument
}

// nodeState is the compiled state of one fused node, created once by Compile
// and read on every invocation.
type nodeState struct {
	name     string
	exec     backend.Executable
	bindings []paramBinding
}

// FusedProgram is the host-facing compute handle for one fused node:
// construct with Provider.Compile, call Invoke per inference call, Release
// when the host drops the node.
type FusedProgram struct {
	provider *Provider
	state    *nodeState
}

// Name of the fused node this program computes.
func (fp *FusedProgram) Name() string { return fp.state.name }

// Compile builds an executable program for each fused node, one at a time.
//
// A compilation failure is reported per fused node (the joined error names
// each one) and never corrupts the state of the others: the returned slice
// is aligned with fusedNodes, with nil entries for failures. Failures are
// never retried -- the capability pass already vetted the graph, so a
// compile failure here is a bug to surface, not to mask.
func (p *Provider) Compile(fusedNodes []*ir.FusedNode) ([]*FusedProgram, error) {
	programs := make([]*FusedProgram, len(fusedNodes))
	var errs []error
	for ii, fused := range fusedNodes {
		prog, err := p.compileNode(fused)
		if err != nil {
			errs = append(errs, errors.WithMessagef(err, "compiling fused node %q", fused.Name()))
			continue
		}
		programs[ii] = prog
	}
	return programs, stderrors.Join(errs...)
}

func (p *Provider) compileNode(fused *ir.FusedNode) (*FusedProgram, error) {
	model, err := wire.FromFused(fused)
	if err != nil {
		return nil, err
	}
	serialized, err := model.Encode()
	if err != nil {
		return nil, err
	}

	prog, untranslatable, err := p.backend.Parse(serialized)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q failed to parse", p.backend.Name())
	}
	if len(untranslatable) > 0 {
		// Should have been filtered by the capability pass already.
		klog.Warningf("offload: backend parser reported untranslatable nodes in fused node %q: %v",
			fused.Name(), untranslatable)
	}
	exec, err := prog.Compile(p.target)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q failed to compile for target %q",
			p.backend.Name(), p.target)
	}

	// Bind the program's declared parameters, in its own enumeration order,
	// to the fused node's external inputs and outputs by name. Parameters
	// matching neither are internal scratch: pre-allocate once if the
	// backend declares a fixed shape for them.
	params := exec.Parameters()
	bindings := make([]paramBinding, 0, len(params))
	for _, param := range params {
		binding := paramBinding{param: param, inputIndex: -1, outputIndex: -1}
		if idx, found := fused.InputIndex(param.Name); found {
			binding.inputIndex = idx
		}
		if idx, found := fused.OutputIndex(param.Name); found {
			binding.outputIndex = idx
		}
		if binding.inputIndex < 0 && binding.outputIndex < 0 && param.Shape.IsStatic() {
			arg := exec.Alloc(param.Shape)
			binding.scratch = &arg
			klog.V(1).Infof("offload: fused node %q: pre-allocated scratch parameter %q with shape %s",
				fused.Name(), param.Name, param.Shape)
		}
		bindings = append(bindings, binding)
	}

	state := &nodeState{name: fused.Name(), exec: exec, bindings: bindings}
	p.mu.Lock()
	p.states[fused.Name()] = state
	p.mu.Unlock()
	return &FusedProgram{provider: p, state: state}, nil
}

// Release frees the fused node's compiled program and cached scratch memory
// and removes its state from the provider.
func (fp *FusedProgram) Release() {
	p := fp.provider
	p.mu.Lock()
	delete(p.states, fp.state.name)
	p.mu.Unlock()
	fp.state.exec.Finalize()
}
