package ir

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/migx/types/shapes"
)

// buildDiamond returns a frozen graph computing y = (x+c) * relu(x+c):
//
//	n0: Add(x, c) -> a
//	n1: Relu(a)   -> b
//	n2: Mul(a, b) -> y
func buildDiamond(t *testing.T) *Graph {
	g := New("diamond")
	shape := shapes.Make(dtypes.Float32, 2, 2)
	g.AddInput("x", shape)
	g.AddInitializer("c", shape, make([]byte, shape.Memory()))
	g.AddValue("a", shape)
	g.AddValue("b", shape)
	g.AddValue("y", shape)
	g.AddNode("n0", "Add", []string{"x", "c"}, []string{"a"})
	g.AddNode("n1", "Relu", []string{"a"}, []string{"b"})
	g.AddNode("n2", "Mul", []string{"a", "b"}, []string{"y"})
	g.AddOutput("y")
	require.NoError(t, g.Freeze())
	return g
}

func TestGraphFreeze(t *testing.T) {
	g := buildDiamond(t)
	require.True(t, g.IsFrozen())
	require.Equal(t, 3, g.NumNodes())
	require.Equal(t, []string{"x"}, g.Inputs())
	require.Equal(t, []string{"y"}, g.Outputs())
	require.True(t, g.IsGraphInput("x"))
	require.False(t, g.IsGraphInput("c"))
	require.True(t, g.IsGraphOutput("y"))
	require.True(t, g.IsInitializer("c"))

	producer, found := g.Producer("a")
	require.True(t, found)
	require.Equal(t, 0, producer)
	_, found = g.Producer("x")
	require.False(t, found)
	require.Equal(t, []int{1, 2}, g.Consumers("a"))
	require.Empty(t, g.Consumers("y"))

	// Mutation after Freeze panics.
	err := exceptions.TryCatch[error](func() { g.AddOutput("a") })
	require.Error(t, err)
}

func TestGraphTopologicalOrder(t *testing.T) {
	// Nodes added out of dependency order.
	g := New("reversed")
	shape := shapes.Make(dtypes.Float32, 4)
	g.AddInput("x", shape)
	g.AddValue("a", shape)
	g.AddValue("y", shape)
	g.AddNode("last", "Relu", []string{"a"}, []string{"y"})
	g.AddNode("first", "Abs", []string{"x"}, []string{"a"})
	g.AddOutput("y")
	require.NoError(t, g.Freeze())
	require.Equal(t, []int{1, 0}, g.TopologicalOrder())
}

func TestGraphFreezeErrors(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 4)

	g := New("double-producer")
	g.AddInput("x", shape)
	g.AddValue("a", shape)
	g.AddNode("n0", "Relu", []string{"x"}, []string{"a"})
	g.AddNode("n1", "Abs", []string{"x"}, []string{"a"})
	g.AddOutput("a")
	require.ErrorContains(t, g.Freeze(), "produced by both")

	g = New("dangling-input")
	g.AddValue("a", shape)
	g.AddNode("n0", "Relu", []string{"ghost"}, []string{"a"})
	g.AddOutput("a")
	require.ErrorContains(t, g.Freeze(), "not a graph input")

	g = New("dangling-output")
	g.AddInput("x", shape)
	g.AddOutput("ghost")
	require.ErrorContains(t, g.Freeze(), "never produced")

	g = New("cycle")
	g.AddValue("a", shape)
	g.AddValue("b", shape)
	g.AddNode("n0", "Relu", []string{"b"}, []string{"a"})
	g.AddNode("n1", "Relu", []string{"a"}, []string{"b"})
	g.AddOutput("a")
	require.ErrorContains(t, g.Freeze(), "cycle")
}

func TestGraphSaveLoad(t *testing.T) {
	g := buildDiamond(t)
	path := filepath.Join(t.TempDir(), "diamond.bin")
	require.NoError(t, g.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.IsFrozen())
	require.Equal(t, g.Name(), loaded.Name())
	require.Equal(t, g.NumNodes(), loaded.NumNodes())
	require.Equal(t, g.Inputs(), loaded.Inputs())
	require.Equal(t, g.Outputs(), loaded.Outputs())
	require.Equal(t, g.TopologicalOrder(), loaded.TopologicalOrder())
	for ii := range g.NumNodes() {
		require.Equal(t, g.Node(ii).OpType, loaded.Node(ii).OpType)
		require.Equal(t, g.Node(ii).Inputs, loaded.Node(ii).Inputs)
	}
	init, found := loaded.Initializer("c")
	require.True(t, found)
	require.Len(t, init.Data, 16)

	_, err = Load(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
}

func TestNewFusedNode(t *testing.T) {
	g := buildDiamond(t)

	f, err := NewFusedNode(g, "fused_0", []int{0, 1, 2}, []string{"x", "c"}, []string{"y"})
	require.NoError(t, err)
	require.Equal(t, "fused_0", f.Name())
	require.Same(t, g, f.Graph())
	require.Equal(t, []int{0, 1, 2}, f.Nodes())
	require.Equal(t, []string{"x", "c"}, f.Inputs())
	require.Equal(t, []string{"y"}, f.Outputs())

	idx, found := f.InputIndex("c")
	require.True(t, found)
	require.Equal(t, 1, idx)
	_, found = f.InputIndex("y")
	require.False(t, found)
	idx, found = f.OutputIndex("y")
	require.True(t, found)
	require.Equal(t, 0, idx)

	_, err = NewFusedNode(g, "empty", nil, []string{"x"}, []string{"y"})
	require.ErrorContains(t, err, "empty node list")
	_, err = NewFusedNode(g, "bad-input", []int{0}, []string{"ghost"}, []string{"a"})
	require.ErrorContains(t, err, "no shape information")
	// Output produced by a node outside the cluster.
	_, err = NewFusedNode(g, "bad-output", []int{0}, []string{"x", "c"}, []string{"y"})
	require.ErrorContains(t, err, "not produced inside")
}
