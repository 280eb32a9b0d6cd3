// Package provider implements the graph-offload execution provider: it
// decides which contiguous regions of a frozen computation graph the backend
// compiler can take (GetCapability), compiles the accepted regions into
// executable programs (Compile) and dispatches inference calls into them
// (FusedProgram.Invoke).
//
// The host graph engine drives the provider in three phases: it asks for
// capabilities, fuses each accepted cluster into a single placeholder node,
// then hands the fused nodes back for compilation. At inference time the host
// calls Invoke once per fused node per call, possibly concurrently from
// several worker threads -- evaluation is serialized by one mutex per
// provider, since the backend engine is not assumed reentrant.
package provider

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/gomlx/migx/backend"
)

// Provider owns the backend handle, the target device, the per-fused-node
// compiled state, and the execution lock shared by all compiled programs.
//
// Create it with New; construction fails on an unrecognized target device.
// A Provider must be finalized with Finalize to release compiled programs
// and their scratch memory. The backend handle remains owned by the caller.
type Provider struct {
	backend backend.Backend
	target  backend.Target

	// execMu serializes Eval across every compiled program this provider
	// owns: the backend engine is not proven safe for concurrent evaluation,
	// even across distinct programs.
	execMu sync.Mutex

	// mu guards states.
	mu     sync.Mutex
	states map[string]*nodeState
}

// New creates a Provider driving the given backend, with programs compiled
// for targetDevice ("cpu" or "gpu" -- anything else is a fatal configuration
// error).
func New(b backend.Backend, targetDevice string) (*Provider, error) {
	target, err := backend.ParseTarget(targetDevice)
	if err != nil {
		return nil, errors.WithMessage(err, "creating offload provider")
	}
	return &Provider{
		backend: b,
		target:  target,
		states:  make(map[string]*nodeState),
	}, nil
}

// Backend returns the backend handle this provider drives.
func (p *Provider) Backend() backend.Backend { return p.backend }

// Target returns the device programs are compiled for.
func (p *Provider) Target() backend.Target { return p.target }

// Finalize releases every compiled program and its cached scratch memory.
// The provider must not be used afterward.
func (p *Provider) Finalize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, state := range p.states {
		state.exec.Finalize()
		delete(p.states, name)
	}
}

// numCompiled returns how many fused nodes currently hold compiled state.
func (p *Provider) numCompiled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}
