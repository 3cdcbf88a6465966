// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, dtypes.Float, tensor.DType())
	assert.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	assert.True(t, tensor.Device().IsHost())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](tensor))

	assert.Panics(t, func() { _ = FromFlatDataAndDimensions([]float64{1, 2}, 3) })
	assert.Panics(t, func() { _ = CopyFlatData[float64](tensor) })

	scalar := FromScalar(3.5)
	assert.Equal(t, dtypes.Double, scalar.DType())
	assert.Equal(t, 3.5, ToScalar[float64](scalar))
	assert.Panics(t, func() { _ = ToScalar[float32](tensor) })
}

func TestDeviceAccess(t *testing.T) {
	host := FromFlatDataAndDimensions([]float64{1, 2, 3}, 3)
	onAccelerator := host.CopyTo(AcceleratorDevice(0))
	assert.Equal(t, "accelerator:0", onAccelerator.Device().String())

	err := ConstFlatData(onAccelerator, func(flat []float64) {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotOnHost))
	assert.Panics(t, func() { _ = ToScalar[float64](onAccelerator) })

	// Kernels can still see the data, and a copy back to the host is readable.
	assert.Equal(t, []float64{1, 2, 3}, DeviceFlatData[float64](onAccelerator))
	back := onAccelerator.CopyTo(HostDevice())
	assert.Equal(t, []float64{1, 2, 3}, CopyFlatData[float64](back))
	assert.True(t, host.Equal(onAccelerator))
}

func TestReadOnly(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2}, 2).DeepClone(HostDevice(), true)
	assert.True(t, tensor.IsReadOnly())
	assert.Panics(t, func() { tensor.Fill(0) })
	assert.Panics(t, func() { _ = DeviceMutableFlatData[float32](tensor) })
	require.Error(t, MutableFlatData(tensor, func(flat []float32) {}))
	require.NoError(t, ConstFlatData(tensor, func(flat []float32) {}))

	mutable := tensor.CopyTo(HostDevice())
	assert.False(t, mutable.IsReadOnly())
	mutable.Fill(7)
	assert.Equal(t, []float32{7, 7}, CopyFlatData[float32](mutable))
	assert.Equal(t, []float32{1, 2}, CopyFlatData[float32](tensor))
}

func TestCopyFrom(t *testing.T) {
	dst := New(dtypes.Double, shapes.Make(2), AcceleratorDevice(1))
	dst.CopyFrom(FromFlatDataAndDimensions([]float64{3, 4}, 2))
	assert.Equal(t, []float64{3, 4}, DeviceFlatData[float64](dst))
	assert.Panics(t, func() { dst.CopyFrom(FromFlatDataAndDimensions([]float64{3, 4, 5}, 3)) })
	assert.Panics(t, func() { dst.CopyFrom(FromFlatDataAndDimensions([]float32{3, 4}, 2)) })
}

func TestEqualAndInDelta(t *testing.T) {
	a := FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
	b := FromFlatDataAndDimensions([]float32{1, 2, 3.0001}, 3)
	assert.False(t, a.Equal(b))
	assert.True(t, a.InDelta(b, 1e-3))
	assert.False(t, a.InDelta(b, 1e-6))
	assert.False(t, a.Equal(FromFlatDataAndDimensions([]float32{1, 2, 3}, 3, 1)))
	assert.False(t, a.Equal(nil))
}

func TestRandom(t *testing.T) {
	shape := shapes.Make(4, 5)
	u1 := RandomUniform(dtypes.Float, shape, -0.5, 0.5, 42, HostDevice())
	u2 := RandomUniform(dtypes.Float, shape, -0.5, 0.5, 42, HostDevice())
	assert.True(t, u1.Equal(u2))
	for _, v := range CopyFlatData[float32](u1) {
		assert.GreaterOrEqual(t, v, float32(-0.5))
		assert.Less(t, v, float32(0.5))
	}
	u3 := RandomUniform(dtypes.Float, shape, -0.5, 0.5, 43, HostDevice())
	assert.False(t, u1.Equal(u3))

	n := RandomNormal(dtypes.Double, shapes.Make(1000), 1, 0.1, 7, HostDevice())
	sum := 0.0
	for _, v := range CopyFlatData[float64](n) {
		sum += v
	}
	assert.InDelta(t, 1.0, sum/1000, 0.02)
}

func TestMaskAndValue(t *testing.T) {
	mask := NewMask(3, 2)
	mask.InvalidateSequenceTail(1, 1)
	assert.Equal(t, 2, mask.MaskedCount())
	assert.True(t, mask.IsValid(0))
	assert.True(t, mask.IsValid(1))
	assert.False(t, mask.IsValid(3))
	assert.False(t, mask.IsValid(5))
	assert.Panics(t, func() { mask.Invalidate(6) })

	data := New(dtypes.Float, shapes.Make(4, 3, 2), HostDevice())
	value := NewValue(data, mask)
	assert.Equal(t, 2, value.MaskedCount())
	assert.Panics(t, func() { _ = NewValue(New(dtypes.Float, shapes.Make(4, 2), HostDevice()), mask) })

	clone := value.DeepClone(AcceleratorDevice(0))
	mask.Invalidate(0)
	assert.Equal(t, 2, clone.MaskedCount())
	assert.Equal(t, 0, FromTensor(data).MaskedCount())
}
