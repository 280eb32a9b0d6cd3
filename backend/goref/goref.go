// Package goref implements a pure-Go, in-process reference backend for migx.
//
// It is not fast, but it is portable and has no cgo dependencies, which makes
// the offload path executable end-to-end in tests and small deployments. It
// supports the element types the provider can offload and a modest operator
// set; like the engines it stands in for, it compiles single-output programs
// only, and it folds every initializer into the program at compile time.
package goref

import (
	"github.com/gomlx/migx/backend"
	"github.com/gomlx/migx/types/sets"
	"github.com/gomlx/migx/wire"
)

// BackendName to be used in MIGX_BACKEND to select this backend.
const BackendName = "goref"

func init() {
	backend.Register(BackendName, New)
}

// New constructs a new goref Backend.
// There are no configurations, the string is simply ignored.
func New(_ string) backend.Backend {
	return &Backend{}
}

// Backend implements the backend.Backend interface.
type Backend struct{}

// Compile-time check that goref.Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// supportedOps are the operator-type strings this backend can compile.
var supportedOps = sets.MakeWith(
	"Identity", "Relu", "Neg", "Abs", "Exp", "Sqrt",
	"Add", "Sub", "Mul", "Div", "Max", "Min",
	"MatMul",
)

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description is a longer description of the backend.
func (b *Backend) Description() string {
	return "Pure Go reference graph compiler"
}

// SupportedOps returns the operator-type strings the backend can compile.
func (b *Backend) SupportedOps() sets.Set[string] {
	return supportedOps.Clone()
}

// Parse decodes an interchange-format model and builds an evaluation plan.
//
// Nodes with operators this backend doesn't know are tolerated at parse time
// and reported in the unsupported list -- the capability pass probes whole
// graphs that may still contain them. Compiling a program that kept
// unsupported nodes fails.
func (b *Backend) Parse(serialized []byte) (backend.Program, []string, error) {
	model, err := wire.Decode(serialized)
	if err != nil {
		return nil, nil, err
	}
	prog, err := newProgram(model)
	if err != nil {
		return nil, nil, err
	}
	return prog, prog.unsupported, nil
}

// Finalize releases all resources associated with the backend.
func (b *Backend) Finalize() {}
