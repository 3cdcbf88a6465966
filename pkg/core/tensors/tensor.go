// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Tensor, a dense multidimensional array placed on a Device, and
// Value, a tensor with an optional Mask marking padded samples.
//
// Tensors are always stored as a flat slice of the Go type of their dtypes.DType, in row-major
// order. Tensors on the host can be accessed with ConstFlatData and MutableFlatData. Tensors on an
// accelerator can only be accessed by computation kernels (DeviceFlatData and DeviceMutableFlatData),
// anything else needs to copy them to the host first with Tensor.CopyTo.
package tensors

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/shapes"
)

// Tensor is a dense multidimensional array of one of the supported dtypes.
type Tensor struct {
	dtype    dtypes.DType
	shape    shapes.Shape
	device   Device
	readOnly bool

	// flat is either a []float32 or a []float64, according to dtype.
	flat any
}

// New creates a tensor filled with zeros on the given device.
//
// It panics if the dtype is not supported.
func New(dtype dtypes.DType, shape shapes.Shape, device Device) *Tensor {
	t := &Tensor{dtype: dtype, shape: shape.Clone(), device: device}
	switch dtype {
	case dtypes.Float:
		t.flat = make([]float32, shape.Size())
	case dtypes.Double:
		t.flat = make([]float64, shape.Size())
	default:
		exceptions.Panicf("tensors.New(%s): unsupported dtype", dtype)
	}
	return t
}

// Full creates a tensor filled with value on the given device.
func Full(dtype dtypes.DType, shape shapes.Shape, value float64, device Device) *Tensor {
	t := New(dtype, shape, device)
	t.Fill(value)
	return t
}

// ZerosLike returns a zero tensor with the same dtype, shape and device as t.
func ZerosLike(t *Tensor) *Tensor {
	return New(t.dtype, t.shape, t.device)
}

// FromFlatDataAndDimensions creates a host tensor with the given dimensions, and a copy of the
// data given.
//
// It panics if the size of data doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t := New(dtypes.FromGenericsType[T](), shape, HostDevice())
	copy(t.flat.([]T), data)
	return t
}

// FromScalar creates a host scalar tensor holding value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.dtype }

// Shape of the tensor. It should not be modified.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Device where the tensor is stored.
func (t *Tensor) Device() Device { return t.device }

// Size returns the total number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsReadOnly returns whether the tensor is immutable, as is the case for the values of constants.
func (t *Tensor) IsReadOnly() bool { return t.readOnly }

// CopyTo returns a mutable copy of the tensor stored on the given device.
func (t *Tensor) CopyTo(device Device) *Tensor {
	return t.DeepClone(device, false)
}

// DeepClone returns a copy of the tensor on the given device, optionally marked as read-only.
func (t *Tensor) DeepClone(device Device, readOnly bool) *Tensor {
	clone := &Tensor{dtype: t.dtype, shape: t.shape.Clone(), device: device, readOnly: readOnly}
	switch flat := t.flat.(type) {
	case []float32:
		clone.flat = append([]float32(nil), flat...)
	case []float64:
		clone.flat = append([]float64(nil), flat...)
	}
	return clone
}

// Fill sets every element of the tensor to value, in place, on whatever device it lives.
//
// It panics if the tensor is read-only.
func (t *Tensor) Fill(value float64) {
	t.assertWritable("Fill")
	switch flat := t.flat.(type) {
	case []float32:
		v := float32(value)
		for ii := range flat {
			flat[ii] = v
		}
	case []float64:
		for ii := range flat {
			flat[ii] = value
		}
	}
}

// CopyFrom overwrites the contents of t with the contents of src, which must have the same dtype
// and shape. Devices may differ.
//
// It panics if the tensor is read-only or if dtype or shape differ.
func (t *Tensor) CopyFrom(src *Tensor) {
	t.assertWritable("CopyFrom")
	if t.dtype != src.dtype || !t.shape.Equal(src.shape) {
		exceptions.Panicf("Tensor.CopyFrom: source (%s)%s is incompatible with destination (%s)%s",
			src.dtype, src.shape, t.dtype, t.shape)
	}
	switch flat := t.flat.(type) {
	case []float32:
		copy(flat, src.flat.([]float32))
	case []float64:
		copy(flat, src.flat.([]float64))
	}
}

func (t *Tensor) assertWritable(method string) {
	if t.readOnly {
		exceptions.Panicf("Tensor.%s: tensor (%s)%s is read-only", method, t.dtype, t.shape)
	}
}

// Equal returns whether both tensors have the same dtype, shape and bit-identical values.
// The device and read-only flag are not compared.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil {
		return false
	}
	if t.dtype != other.dtype || !t.shape.Equal(other.shape) {
		return false
	}
	switch flat := t.flat.(type) {
	case []float32:
		otherFlat := other.flat.([]float32)
		for ii, v := range flat {
			if math.Float32bits(v) != math.Float32bits(otherFlat[ii]) {
				return false
			}
		}
	case []float64:
		otherFlat := other.flat.([]float64)
		for ii, v := range flat {
			if math.Float64bits(v) != math.Float64bits(otherFlat[ii]) {
				return false
			}
		}
	}
	return true
}

// InDelta returns whether both tensors have the same dtype and shape, and their values differ by
// at most delta.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if t.dtype != other.dtype || !t.shape.Equal(other.shape) {
		return false
	}
	a, b := toFloat64s(t), toFloat64s(other)
	for ii := range a {
		if math.Abs(a[ii]-b[ii]) > delta {
			return false
		}
	}
	return true
}

// toFloat64s returns a copy of the values of t as float64, regardless of device.
func toFloat64s(t *Tensor) []float64 {
	switch flat := t.flat.(type) {
	case []float32:
		values := make([]float64, len(flat))
		for ii, v := range flat {
			values[ii] = float64(v)
		}
		return values
	case []float64:
		return append([]float64(nil), flat...)
	}
	return nil
}

// maxStringElements is the maximum number of elements printed by Tensor.String.
const maxStringElements = 16

// String implements fmt.Stringer. Only the first few values are printed.
func (t *Tensor) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "(%s)%s", t.dtype, t.shape)
	if !t.device.IsHost() {
		_, _ = fmt.Fprintf(&sb, "@%s", t.device)
		return sb.String()
	}
	values := toFloat64s(t)
	parts := make([]string, 0, min(len(values), maxStringElements)+1)
	for ii, v := range values {
		if ii == maxStringElements {
			parts = append(parts, "...")
			break
		}
		parts = append(parts, fmt.Sprintf("%.4g", v))
	}
	_, _ = fmt.Fprintf(&sb, "{%s}", strings.Join(parts, ", "))
	return sb.String()
}
