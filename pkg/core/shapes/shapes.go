// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the static dimensions of a tensor or variable, and Axis, the
// description of a static or dynamic axis.
//
// Shapes don't include the element type: tensors and variables carry their dtypes.DType
// separately. The data of a variable with dynamic axes is laid out with the variable's static
// dimensions first, followed by the extents of its dynamic axes (e.g.: sequence, batch).
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
)

// Shape holds the ordered dimensions of a tensor. A Shape with no dimensions is a scalar.
type Shape struct {
	Dimensions []int
}

// Make returns a Shape with the given dimensions. It panics on negative dimensions.
func Make(dimensions ...int) Shape {
	for axis, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%v): negative dimension for axis %d", dimensions, axis)
		}
	}
	return Shape{Dimensions: slices.Clone(dimensions)}
}

// Scalar returns the shape of a scalar.
func Scalar() Shape { return Shape{} }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a single scalar value (rank 0).
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axes count from the end.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjusted]
}

// Size returns the total number of elements, the product of the dimensions. A scalar has size 1.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// SubShape returns the shape formed by the dimensions starting at axis `from`.
// SubShape(Rank()) is a scalar.
func (s Shape) SubShape(from int) Shape {
	if from < 0 || from > s.Rank() {
		exceptions.Panicf("Shape.SubShape(%d) out-of-bounds for shape %s", from, s)
	}
	return Shape{Dimensions: slices.Clone(s.Dimensions[from:])}
}

// Concat returns a new shape with the dimensions of s followed by the given ones.
func (s Shape) Concat(dimensions ...int) Shape {
	newDims := make([]int, 0, s.Rank()+len(dimensions))
	newDims = append(newDims, s.Dimensions...)
	newDims = append(newDims, dimensions...)
	return Shape{Dimensions: newDims}
}

// Equal returns whether both shapes have the same dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// IsPrefixOf returns whether the dimensions of s are the leading dimensions of s2.
// A scalar is a prefix of any shape.
func (s Shape) IsPrefixOf(s2 Shape) bool {
	if s.Rank() > s2.Rank() {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions[:s.Rank()])
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{Dimensions: slices.Clone(s.Dimensions)}
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return "[]"
	}
	return fmt.Sprintf("%v", s.Dimensions)
}
