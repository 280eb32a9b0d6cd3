package goref

import (
	"math"
	"slices"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gomlx/migx/backend"
	"github.com/gomlx/migx/types/shapes"
)

// kernel evaluates one instruction: operand buffers in, result buffer out.
// Buffers are flat views in the value's dtype; shapes carry the dimensions.
type kernel func(in [][]byte, inShapes []shapes.Shape, out []byte, outShape shapes.Shape)

// instruction is one step of the evaluation plan.
type instruction struct {
	node   string
	op     string
	kernel kernel
	inputs []string
	output string
}

// Executable is a compiled goref program. It implements backend.Executable.
//
// Eval is not reentrant: the provider serializes calls with its execution lock.
type Executable struct {
	prog         *Program
	instructions []instruction
}

var _ backend.Executable = (*Executable)(nil)

// Parameters enumerates the program's declared parameters: model inputs in
// model order, then the output, then the scratch arena if the plan needs one.
func (e *Executable) Parameters() []backend.Parameter {
	return slices.Clone(e.prog.params)
}

// Alloc returns a fresh host buffer for the given static shape.
func (e *Executable) Alloc(shape shapes.Shape) backend.Argument {
	return backend.Argument{Shape: shape.Clone(), Data: make([]byte, shape.Memory())}
}

// Eval runs the plan with every declared parameter bound in args.
func (e *Executable) Eval(args map[string]backend.Argument) error {
	buffers := make(map[string][]byte, len(e.prog.valueShapes))
	var scratch []byte
	for _, param := range e.prog.params {
		arg, found := args[param.Name]
		if !found {
			return errors.Errorf("model %q: parameter %q is not bound", e.prog.model.Name, param.Name)
		}
		if len(arg.Data) < int(param.Shape.Memory()) {
			return errors.Errorf("model %q: parameter %q bound to %d bytes, shape %s needs %d",
				e.prog.model.Name, param.Name, len(arg.Data), param.Shape, param.Shape.Memory())
		}
		if param.Name == ScratchParameterName {
			scratch = arg.Data
			continue
		}
		buffers[param.Name] = arg.Data
	}
	for _, init := range e.prog.model.Initializers {
		buffers[init.Name] = init.Data
	}
	for name, offset := range e.prog.scratchOffsets {
		size := int(e.prog.valueShapes[name].Memory())
		buffers[name] = scratch[offset : offset+size]
	}

	for _, inst := range e.instructions {
		in := make([][]byte, len(inst.inputs))
		inShapes := make([]shapes.Shape, len(inst.inputs))
		for ii, name := range inst.inputs {
			in[ii] = buffers[name]
			inShapes[ii] = e.prog.valueShapes[name]
		}
		inst.kernel(in, inShapes, buffers[inst.output], e.prog.valueShapes[inst.output])
	}
	return nil
}

// Finalize immediately frees resources associated with the executable.
func (e *Executable) Finalize() {
	e.instructions = nil
}

// podNumeric are the Go plain-old-data types kernels are instantiated for.
// Float16 is not included: it is dispatched through a conversion path.
type podNumeric interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// flatOf reinterprets a byte buffer as a flat slice of T, without copying.
func flatOf[T any](data []byte) []T {
	if len(data) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), len(data)/int(unsafe.Sizeof(t)))
}

// kernelFor selects and type-checks the kernel for an operator at compile time.
func kernelFor(op string, operandDTypes []dtypes.DType) (kernel, error) {
	if len(operandDTypes) == 0 {
		return nil, errors.Errorf("operator %q has no operands", op)
	}
	dtype := operandDTypes[0]
	switch op {
	case "Identity":
		return identityKernel, nil
	case "Relu", "Neg", "Abs":
		return unaryArithKernel(op, dtype)
	case "Exp", "Sqrt":
		return unaryFloatKernel(op, dtype)
	case "Add", "Sub", "Mul", "Div", "Max", "Min":
		return binaryKernel(op, dtype)
	case "MatMul":
		return matMulKernel(dtype)
	}
	return nil, errors.Errorf("operator %q not supported", op)
}

func identityKernel(in [][]byte, _ []shapes.Shape, out []byte, _ shapes.Shape) {
	copy(out, in[0])
}

// unaryArithKernel covers Relu, Neg and Abs. On unsigned dtypes Relu and Abs
// degenerate to a copy, and Neg is rejected.
func unaryArithKernel(op string, dtype dtypes.DType) (kernel, error) {
	switch dtype {
	case dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		if op == "Neg" {
			return nil, errors.Errorf("Neg is not defined for unsigned dtype %s", dtype)
		}
		return identityKernel, nil
	}
	switch dtype {
	case dtypes.Int8:
		return unaryPOD(signedUnaryFn[int8](op)), nil
	case dtypes.Int16:
		return unaryPOD(signedUnaryFn[int16](op)), nil
	case dtypes.Int32:
		return unaryPOD(signedUnaryFn[int32](op)), nil
	case dtypes.Int64:
		return unaryPOD(signedUnaryFn[int64](op)), nil
	case dtypes.Float32:
		return unaryPOD(signedUnaryFn[float32](op)), nil
	case dtypes.Float64:
		return unaryPOD(signedUnaryFn[float64](op)), nil
	case dtypes.Float16:
		return unaryFloat16(signedUnaryFn[float32](op)), nil
	}
	return nil, errors.Errorf("%s is not defined for dtype %s", op, dtype)
}

// unaryFloatKernel covers Exp and Sqrt, defined for float dtypes only.
func unaryFloatKernel(op string, dtype dtypes.DType) (kernel, error) {
	switch dtype {
	case dtypes.Float32:
		return unaryPOD(floatUnaryFn[float32](op)), nil
	case dtypes.Float64:
		return unaryPOD(floatUnaryFn[float64](op)), nil
	case dtypes.Float16:
		return unaryFloat16(floatUnaryFn[float32](op)), nil
	}
	return nil, errors.Errorf("%s is not defined for dtype %s", op, dtype)
}

func binaryKernel(op string, dtype dtypes.DType) (kernel, error) {
	switch dtype {
	case dtypes.Int8:
		return binaryPOD(binaryFn[int8](op)), nil
	case dtypes.Int16:
		return binaryPOD(binaryFn[int16](op)), nil
	case dtypes.Int32:
		return binaryPOD(binaryFn[int32](op)), nil
	case dtypes.Int64:
		return binaryPOD(binaryFn[int64](op)), nil
	case dtypes.Uint8:
		return binaryPOD(binaryFn[uint8](op)), nil
	case dtypes.Uint16:
		return binaryPOD(binaryFn[uint16](op)), nil
	case dtypes.Uint32:
		return binaryPOD(binaryFn[uint32](op)), nil
	case dtypes.Uint64:
		return binaryPOD(binaryFn[uint64](op)), nil
	case dtypes.Float32:
		return binaryPOD(binaryFn[float32](op)), nil
	case dtypes.Float64:
		return binaryPOD(binaryFn[float64](op)), nil
	case dtypes.Float16:
		return binaryFloat16(binaryFn[float32](op)), nil
	}
	return nil, errors.Errorf("%s is not defined for dtype %s", op, dtype)
}

func matMulKernel(dtype dtypes.DType) (kernel, error) {
	switch dtype {
	case dtypes.Float32:
		return matMulPOD[float32], nil
	case dtypes.Float64:
		return matMulPOD[float64], nil
	}
	return nil, errors.Errorf("MatMul is only implemented for Float32 and Float64, got %s", dtype)
}

type signedNumeric interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

func signedUnaryFn[T signedNumeric](op string) func(T) T {
	switch op {
	case "Relu":
		return func(a T) T {
			if a < 0 {
				return 0
			}
			return a
		}
	case "Neg":
		return func(a T) T { return -a }
	case "Abs":
		return func(a T) T {
			if a < 0 {
				return -a
			}
			return a
		}
	}
	return nil
}

func floatUnaryFn[T ~float32 | ~float64](op string) func(T) T {
	switch op {
	case "Exp":
		return func(a T) T { return T(math.Exp(float64(a))) }
	case "Sqrt":
		return func(a T) T { return T(math.Sqrt(float64(a))) }
	}
	return nil
}

func binaryFn[T podNumeric](op string) func(a, b T) T {
	switch op {
	case "Add":
		return func(a, b T) T { return a + b }
	case "Sub":
		return func(a, b T) T { return a - b }
	case "Mul":
		return func(a, b T) T { return a * b }
	case "Div":
		return func(a, b T) T { return a / b }
	case "Max":
		return func(a, b T) T {
			if a > b {
				return a
			}
			return b
		}
	case "Min":
		return func(a, b T) T {
			if a < b {
				return a
			}
			return b
		}
	}
	return nil
}

func unaryPOD[T podNumeric](fn func(T) T) kernel {
	return func(in [][]byte, _ []shapes.Shape, out []byte, _ shapes.Shape) {
		operand := flatOf[T](in[0])
		dst := flatOf[T](out)
		for ii, value := range operand {
			dst[ii] = fn(value)
		}
	}
}

func unaryFloat16(fn func(float32) float32) kernel {
	return func(in [][]byte, _ []shapes.Shape, out []byte, _ shapes.Shape) {
		operand := flatOf[float16.Float16](in[0])
		dst := flatOf[float16.Float16](out)
		for ii, value := range operand {
			dst[ii] = float16.Fromfloat32(fn(value.Float32()))
		}
	}
}

// binaryPOD applies fn elementwise. A scalar operand broadcasts against the
// other operand's shape.
func binaryPOD[T podNumeric](fn func(a, b T) T) kernel {
	return func(in [][]byte, _ []shapes.Shape, out []byte, _ shapes.Shape) {
		lhs := flatOf[T](in[0])
		rhs := flatOf[T](in[1])
		dst := flatOf[T](out)
		switch {
		case len(lhs) == 1 && len(dst) > 1:
			for ii := range dst {
				dst[ii] = fn(lhs[0], rhs[ii])
			}
		case len(rhs) == 1 && len(dst) > 1:
			for ii := range dst {
				dst[ii] = fn(lhs[ii], rhs[0])
			}
		default:
			for ii := range dst {
				dst[ii] = fn(lhs[ii], rhs[ii])
			}
		}
	}
}

func binaryFloat16(fn func(a, b float32) float32) kernel {
	return func(in [][]byte, _ []shapes.Shape, out []byte, _ shapes.Shape) {
		lhs := flatOf[float16.Float16](in[0])
		rhs := flatOf[float16.Float16](in[1])
		dst := flatOf[float16.Float16](out)
		switch {
		case len(lhs) == 1 && len(dst) > 1:
			for ii := range dst {
				dst[ii] = float16.Fromfloat32(fn(lhs[0].Float32(), rhs[ii].Float32()))
			}
		case len(rhs) == 1 && len(dst) > 1:
			for ii := range dst {
				dst[ii] = float16.Fromfloat32(fn(lhs[ii].Float32(), rhs[0].Float32()))
			}
		default:
			for ii := range dst {
				dst[ii] = float16.Fromfloat32(fn(lhs[ii].Float32(), rhs[ii].Float32()))
			}
		}
	}
}

func matMulPOD[T ~float32 | ~float64](in [][]byte, inShapes []shapes.Shape, out []byte, _ shapes.Shape) {
	lhs := flatOf[T](in[0])
	rhs := flatOf[T](in[1])
	dst := flatOf[T](out)
	m, k := inShapes[0].Dimensions[0], inShapes[0].Dimensions[1]
	n := inShapes[1].Dimensions[1]
	for ii := range m {
		for jj := range n {
			var acc T
			for ll := range k {
				acc += lhs[ii*k+ll] * rhs[ll*n+jj]
			}
			dst[ii*n+jj] = acc
		}
	}
}
