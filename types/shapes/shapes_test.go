package shapes

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	require.True(t, s.Ok())
	require.True(t, s.IsStatic())
	require.Equal(t, 2, s.Rank())
	require.Equal(t, 6, s.Size())
	require.Equal(t, uintptr(24), s.Memory())
	require.Equal(t, "(Float32)[2 3]", s.String())

	scalar := Make(dtypes.Int64)
	require.True(t, scalar.IsScalar())
	require.Equal(t, 1, scalar.Size())

	err := exceptions.TryCatch[error](func() { Make(dtypes.Float32, 2, 0) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { Make(dtypes.Float32, 2, DynamicDim) })
	require.Error(t, err)
}

func TestMakeDynamic(t *testing.T) {
	s := MakeDynamic(dtypes.Float32, DynamicDim, 8)
	require.True(t, s.Ok())
	require.False(t, s.IsStatic())
	require.False(t, s.IsScalar())
	require.Equal(t, "(Float32)[? 8]", s.String())

	err := exceptions.TryCatch[error](func() { s.Size() })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { MakeDynamic(dtypes.Float32, -2) })
	require.Error(t, err)
}

func TestInvalid(t *testing.T) {
	require.False(t, Invalid().Ok())
	require.False(t, Shape{}.Ok())
	require.False(t, Invalid().IsStatic())
	require.False(t, Invalid().IsScalar())
	require.Equal(t, "(invalid)", Invalid().String())
}

func TestEqualAndClone(t *testing.T) {
	a := Make(dtypes.Float32, 2, 3)
	b := Make(dtypes.Float32, 2, 3)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(Make(dtypes.Float64, 2, 3)))
	require.False(t, a.Equal(Make(dtypes.Float32, 3, 2)))

	c := a.Clone()
	require.True(t, a.Equal(c))
	c.Dimensions[0] = 7
	require.Equal(t, 2, a.Dimensions[0])
}
