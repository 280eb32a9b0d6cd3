// Package backend defines the interface to the graph compiler the provider
// offloads clusters to: parse an interchange-format model, compile it against
// a target device, enumerate the compiled program's named parameters, and
// evaluate it over a name-keyed argument map.
//
// Backends register themselves by name (see Register); the provider is
// agnostic to which one it drives. The in-process reference implementation
// lives in backend/goref.
package backend

import (
	"github.com/pkg/errors"

	"github.com/gomlx/migx/types/sets"
	"github.com/gomlx/migx/types/shapes"
)

// Target selects the execution device a program is compiled for. It is fixed
// at provider construction.
type Target int

const (
	// TargetCPU compiles programs for host execution.
	TargetCPU Target = iota

	// TargetGPU compiles programs for accelerator execution.
	TargetGPU
)

// ParseTarget converts a target-device string to a Target. Only "cpu" and
// "gpu" are recognized; anything else is a configuration error.
func ParseTarget(device string) (Target, error) {
	switch device {
	case "cpu":
		return TargetCPU, nil
	case "gpu":
		return TargetGPU, nil
	}
	return 0, errors.Errorf("target device %q is not supported, must be one of \"cpu\" or \"gpu\"", device)
}

// String implements fmt.Stringer.
func (t Target) String() string {
	switch t {
	case TargetCPU:
		return "cpu"
	case TargetGPU:
		return "gpu"
	}
	return "invalid"
}

// Parameter is one declared parameter of a compiled program: a name and the
// shape the program expects bound to it.
type Parameter struct {
	Name  string
	Shape shapes.Shape
}

// Argument is a runtime buffer bound to a program parameter. Data is a view
// of the caller's buffer -- binding never copies.
type Argument struct {
	Shape shapes.Shape
	Data  []byte
}

// Backend is the graph-compiler API the provider drives.
type Backend interface {
	// Name returns the short name of the backend, e.g. "goref".
	Name() string

	// Description is a longer description of the backend that can be used to pretty-print.
	Description() string

	// SupportedOps returns the operator-type strings the backend can compile.
	// Queried once per capability pass, not per node.
	SupportedOps() sets.Set[string]

	// Parse an interchange-format model (see package wire). It returns the
	// parsed program and the names of any nodes the parser could not
	// translate -- informational only, the provider's classifier is the gate.
	Parse(serialized []byte) (prog Program, unsupported []string, err error)

	// Finalize releases all resources associated with the backend.
	Finalize()
}

// Program is a parsed, not yet compiled, model.
type Program interface {
	// IsEmpty reports whether parsing yielded no instructions.
	IsEmpty() bool

	// Compile the program against the given target device, yielding an
	// immutable Executable.
	Compile(target Target) (Executable, error)
}

// Executable is a compiled program bound to one target device.
//
// Eval is not assumed reentrant: callers must serialize evaluation -- the
// provider guards it with one mutex per provider instance.
type Executable interface {
	// Parameters enumerates the program's declared parameters, in the
	// program's own fixed enumeration order.
	Parameters() []Parameter

	// Alloc returns a fresh device buffer for the given static shape, owned
	// by the caller until Finalize. Used for scratch parameters.
	Alloc(shape shapes.Shape) Argument

	// Eval runs the program with every declared parameter bound in args.
	Eval(args map[string]Argument) error

	// Finalize immediately frees resources associated with the executable.
	Finalize()
}
