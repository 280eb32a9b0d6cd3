package goref

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gomlx/migx/backend"
	"github.com/gomlx/migx/types/shapes"
	"github.com/gomlx/migx/wire"
)

func f32(values ...float32) []byte {
	data := make([]byte, 4*len(values))
	copy(flatOf[float32](data), values)
	return data
}

func f16(values ...float32) []byte {
	data := make([]byte, 2*len(values))
	dst := flatOf[float16.Float16](data)
	for ii, value := range values {
		dst[ii] = float16.Fromfloat32(value)
	}
	return data
}

// parse encodes the model and runs it through the backend parser.
func parse(t *testing.T, m *wire.Model) (backend.Program, []string) {
	serialized, err := m.Encode()
	require.NoError(t, err)
	prog, unsupported, err := New("").Parse(serialized)
	require.NoError(t, err)
	return prog, unsupported
}

// evalSingleOutput compiles the program for cpu and runs it, binding the
// given inputs, allocating the output and any scratch arena.
func evalSingleOutput(t *testing.T, prog backend.Program, inputs map[string][]byte, outputName string) []byte {
	exec, err := prog.Compile(backend.TargetCPU)
	require.NoError(t, err)
	defer exec.Finalize()

	args := make(map[string]backend.Argument)
	var output backend.Argument
	for _, param := range exec.Parameters() {
		if data, found := inputs[param.Name]; found {
			args[param.Name] = backend.Argument{Shape: param.Shape, Data: data}
			continue
		}
		arg := exec.Alloc(param.Shape)
		args[param.Name] = arg
		if param.Name == outputName {
			output = arg
		}
	}
	require.NotNil(t, output.Data)
	require.NoError(t, exec.Eval(args))
	return output.Data
}

func TestMatMulReluChain(t *testing.T) {
	m := &wire.Model{
		Name:      "chain",
		IRVersion: wire.IRVersion,
		Nodes: []wire.Node{
			{Name: "n0", OpType: "MatMul", Inputs: []string{"x", "w"}, Outputs: []string{"h"}},
			{Name: "n1", OpType: "Relu", Inputs: []string{"h"}, Outputs: []string{"y"}},
		},
		Initializers: []wire.Tensor{
			{Name: "w", Shape: shapes.Make(dtypes.Float32, 2, 2), Data: f32(1, 0, 0, -1)},
		},
		Inputs:  []wire.ValueInfo{{Name: "x", Shape: shapes.Make(dtypes.Float32, 2, 2)}},
		Outputs: []wire.ValueInfo{{Name: "y"}},
	}
	prog, unsupported := parse(t, m)
	require.Empty(t, unsupported)
	require.False(t, prog.IsEmpty())

	// Parameters: the model input, the output with its inferred shape, and the
	// scratch arena holding the intermediate "h".
	exec, err := prog.Compile(backend.TargetCPU)
	require.NoError(t, err)
	params := exec.Parameters()
	require.Len(t, params, 3)
	require.Equal(t, "x", params[0].Name)
	require.Equal(t, "y", params[1].Name)
	require.True(t, params[1].Shape.Equal(shapes.Make(dtypes.Float32, 2, 2)))
	require.Equal(t, ScratchParameterName, params[2].Name)
	require.Equal(t, 16, params[2].Shape.Size())
	exec.Finalize()

	// y = relu([[1,2],[3,-4]] x [[1,0],[0,-1]]) = relu([[1,-2],[3,4]])
	out := evalSingleOutput(t, prog, map[string][]byte{"x": f32(1, 2, 3, -4)}, "y")
	require.Equal(t, []float32{1, 0, 3, 4}, flatOf[float32](out))
}

func TestScalarBroadcast(t *testing.T) {
	m := &wire.Model{
		Name:      "broadcast",
		IRVersion: wire.IRVersion,
		Nodes: []wire.Node{
			{Name: "n0", OpType: "Mul", Inputs: []string{"x", "two"}, Outputs: []string{"y"}},
		},
		Initializers: []wire.Tensor{
			{Name: "two", Shape: shapes.Make(dtypes.Float32), Data: f32(2)},
		},
		Inputs:  []wire.ValueInfo{{Name: "x", Shape: shapes.Make(dtypes.Float32, 3)}},
		Outputs: []wire.ValueInfo{{Name: "y"}},
	}
	prog, unsupported := parse(t, m)
	require.Empty(t, unsupported)
	out := evalSingleOutput(t, prog, map[string][]byte{"x": f32(1, -2, 3)}, "y")
	require.Equal(t, []float32{2, -4, 6}, flatOf[float32](out))
}

func TestFloat16Arithmetic(t *testing.T) {
	m := &wire.Model{
		Name:      "half",
		IRVersion: wire.IRVersion,
		Nodes: []wire.Node{
			{Name: "n0", OpType: "Add", Inputs: []string{"a", "b"}, Outputs: []string{"s"}},
			{Name: "n1", OpType: "Abs", Inputs: []string{"s"}, Outputs: []string{"y"}},
		},
		Inputs: []wire.ValueInfo{
			{Name: "a", Shape: shapes.Make(dtypes.Float16, 4)},
			{Name: "b", Shape: shapes.Make(dtypes.Float16, 4)},
		},
		Outputs: []wire.ValueInfo{{Name: "y"}},
	}
	prog, unsupported := parse(t, m)
	require.Empty(t, unsupported)
	out := evalSingleOutput(t, prog, map[string][]byte{
		"a": f16(1, -2, 3, -4),
		"b": f16(1, -1, -4, 1),
	}, "y")
	got := flatOf[float16.Float16](out)
	require.Len(t, got, 4)
	for ii, want := range []float32{2, 3, 1, 3} {
		require.Equal(t, want, got[ii].Float32())
	}
}

func TestIntegerOps(t *testing.T) {
	i32 := func(values ...int32) []byte {
		data := make([]byte, 4*len(values))
		copy(flatOf[int32](data), values)
		return data
	}
	m := &wire.Model{
		Name:      "ints",
		IRVersion: wire.IRVersion,
		Nodes: []wire.Node{
			{Name: "n0", OpType: "Sub", Inputs: []string{"a", "b"}, Outputs: []string{"d"}},
			{Name: "n1", OpType: "Neg", Inputs: []string{"d"}, Outputs: []string{"y"}},
		},
		Inputs: []wire.ValueInfo{
			{Name: "a", Shape: shapes.Make(dtypes.Int32, 3)},
			{Name: "b", Shape: shapes.Make(dtypes.Int32, 3)},
		},
		Outputs: []wire.ValueInfo{{Name: "y"}},
	}
	prog, unsupported := parse(t, m)
	require.Empty(t, unsupported)
	out := evalSingleOutput(t, prog, map[string][]byte{
		"a": i32(10, 20, 30),
		"b": i32(1, 25, 3),
	}, "y")
	require.Equal(t, []int32{-9, 5, -27}, flatOf[int32](out))
}

func TestUnsupportedNodesToleratedAtParse(t *testing.T) {
	// An unknown operator is tolerated by the parser but poisons compilation,
	// together with everything downstream of it.
	m := &wire.Model{
		Name:      "mixed",
		IRVersion: wire.IRVersion,
		Nodes: []wire.Node{
			{Name: "ok", OpType: "Relu", Inputs: []string{"x"}, Outputs: []string{"a"}},
			{Name: "norm", OpType: "LayerNormalization", Inputs: []string{"a"}, Outputs: []string{"b"}},
			{Name: "downstream", OpType: "Relu", Inputs: []string{"b"}, Outputs: []string{"y"}},
		},
		Inputs:  []wire.ValueInfo{{Name: "x", Shape: shapes.Make(dtypes.Float32, 2)}},
		Outputs: []wire.ValueInfo{{Name: "y"}},
	}
	prog, unsupported := parse(t, m)
	require.Equal(t, []string{"norm", "downstream"}, unsupported)

	_, err := prog.Compile(backend.TargetCPU)
	require.ErrorContains(t, err, "untranslatable")
}

func TestParseRejections(t *testing.T) {
	input := wire.ValueInfo{Name: "x", Shape: shapes.Make(dtypes.Float32, 2)}
	relu := wire.Node{Name: "n0", OpType: "Relu", Inputs: []string{"x"}, Outputs: []string{"y"}}

	// Two declared outputs.
	m := &wire.Model{
		Name: "two-outputs", IRVersion: wire.IRVersion,
		Nodes:   []wire.Node{relu},
		Inputs:  []wire.ValueInfo{input},
		Outputs: []wire.ValueInfo{{Name: "y"}, {Name: "x"}},
	}
	serialized, err := m.Encode()
	require.NoError(t, err)
	_, _, err = New("").Parse(serialized)
	require.ErrorContains(t, err, "single-output")

	// Dynamic input shape.
	m = &wire.Model{
		Name: "dynamic", IRVersion: wire.IRVersion,
		Nodes:   []wire.Node{relu},
		Inputs:  []wire.ValueInfo{{Name: "x", Shape: shapes.MakeDynamic(dtypes.Float32, shapes.DynamicDim)}},
		Outputs: []wire.ValueInfo{{Name: "y"}},
	}
	serialized, err = m.Encode()
	require.NoError(t, err)
	_, _, err = New("").Parse(serialized)
	require.ErrorContains(t, err, "non-static")

	// Operand shapes disagree on a known operator.
	m = &wire.Model{
		Name: "mismatch", IRVersion: wire.IRVersion,
		Nodes: []wire.Node{{Name: "n0", OpType: "Add", Inputs: []string{"x", "z"}, Outputs: []string{"y"}}},
		Inputs: []wire.ValueInfo{
			input,
			{Name: "z", Shape: shapes.Make(dtypes.Float32, 3)},
		},
		Outputs: []wire.ValueInfo{{Name: "y"}},
	}
	serialized, err = m.Encode()
	require.NoError(t, err)
	_, _, err = New("").Parse(serialized)
	require.ErrorContains(t, err, "operand shapes differ")
}

func TestCompileRejections(t *testing.T) {
	m := &wire.Model{
		Name: "neg-unsigned", IRVersion: wire.IRVersion,
		Nodes:   []wire.Node{{Name: "n0", OpType: "Neg", Inputs: []string{"x"}, Outputs: []string{"y"}}},
		Inputs:  []wire.ValueInfo{{Name: "x", Shape: shapes.Make(dtypes.Uint8, 2)}},
		Outputs: []wire.ValueInfo{{Name: "y"}},
	}
	prog, unsupported := parse(t, m)
	require.Empty(t, unsupported)
	_, err := prog.Compile(backend.TargetCPU)
	require.ErrorContains(t, err, "Neg is not defined for unsigned")

	_, err = prog.Compile(backend.TargetGPU)
	require.ErrorContains(t, err, "\"cpu\" target only")
}

func TestIsEmpty(t *testing.T) {
	m := &wire.Model{
		Name: "empty", IRVersion: wire.IRVersion,
		Inputs:  []wire.ValueInfo{{Name: "x", Shape: shapes.Make(dtypes.Float32, 2)}},
		Outputs: []wire.ValueInfo{{Name: "x"}},
	}
	prog, unsupported := parse(t, m)
	require.Empty(t, unsupported)
	require.True(t, prog.IsEmpty())
}
