// Package shapes defines Shape, the combination of an element data type (DType)
// and dimensions, used to describe tensors and compiled-program parameters.
//
// The DType enumeration comes from github.com/gomlx/gopjrt/dtypes.
//
// A dimension may be set to DynamicDim (-1) to represent a symbolic axis whose
// extent is only known at runtime -- e.g. an unresolved batch dimension declared
// by a model input. Shapes with dynamic dimensions cannot be allocated; check
// IsStatic before sizing buffers.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// DynamicDim is the marker for an axis whose dimension is not statically known.
const DynamicDim = -1

// Shape of a tensor or of a compiled-program parameter: element DType plus
// the dimension of each axis. A rank-0 Shape is a scalar.
//
// Shape is a value type: it's cheap to copy, and all exported fields make it
// gob-friendly.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a static Shape with the given dtype and dimensions.
// It panics if any dimension is not positive -- use MakeDynamic for shapes
// with symbolic axes.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): dimensions must be positive, got %v", dtype, dimensions)
		}
	}
	return s
}

// MakeDynamic is like Make but accepts DynamicDim (-1) for axes whose extent
// is not statically known.
func MakeDynamic(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 && dim != DynamicDim {
			exceptions.Panicf("shapes.MakeDynamic(%s): dimensions must be positive or DynamicDim, got %v", dtype, dimensions)
		}
	}
	return s
}

// Invalid returns an invalid Shape: Invalid().Ok() == false.
func Invalid() Shape { return Shape{DType: dtypes.InvalidDType} }

// Ok returns whether this is a valid Shape -- the zero value Shape{} is not.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, its number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// IsStatic returns whether every dimension is statically known.
func (s Shape) IsStatic() bool {
	for _, dim := range s.Dimensions {
		if dim == DynamicDim {
			return false
		}
	}
	return s.Ok()
}

// Size returns the number of elements of DType the shape holds: the product
// of all dimensions. It panics on shapes with dynamic dimensions.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		if dim == DynamicDim {
			exceptions.Panicf("Shape.Size() called on dynamic shape %s", s)
		}
		size *= dim
	}
	return size
}

// Memory returns the bytes needed to store a flat array of this shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String pretty-prints the shape, e.g. "(Float32)[2 3]". Dynamic axes print as "?".
func (s Shape) String() string {
	if !s.Ok() {
		return "(invalid)"
	}
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		if dim == DynamicDim {
			parts = append(parts, "?")
		} else {
			parts = append(parts, fmt.Sprintf("%d", dim))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// HasShape is implemented by any value with an associated Shape.
type HasShape interface {
	Shape() Shape
}
