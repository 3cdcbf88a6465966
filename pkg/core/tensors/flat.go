// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// ErrNotOnHost is returned when host access is requested for a tensor stored on an accelerator.
var ErrNotOnHost = errors.New("tensor is not stored on the host")

func flatAs[T dtypes.Supported](t *Tensor, caller string) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("%s: requested dtype %s, but tensor is %s",
			caller, dtypes.FromGenericsType[T](), t.dtype)
	}
	return flat
}

// ConstFlatData calls accessFn with the flat data of a host tensor. The slice must not be modified
// and it is only valid during the call.
//
// It returns ErrNotOnHost (wrapped) if the tensor is on an accelerator, and it panics if T doesn't
// match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if !t.device.IsHost() {
		return errors.Wrapf(ErrNotOnHost, "ConstFlatData on tensor (%s)%s stored on %s", t.dtype, t.shape, t.device)
	}
	accessFn(flatAs[T](t, "ConstFlatData"))
	return nil
}

// MustConstFlatData is like ConstFlatData, but panics if the tensor is not on the host.
func MustConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if err := ConstFlatData(t, accessFn); err != nil {
		panic(err)
	}
}

// MutableFlatData calls accessFn with the flat data of a host tensor, which can be modified in place.
//
// It returns an error if the tensor is on an accelerator or if it is read-only.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if !t.device.IsHost() {
		return errors.Wrapf(ErrNotOnHost, "MutableFlatData on tensor (%s)%s stored on %s", t.dtype, t.shape, t.device)
	}
	if t.readOnly {
		return errors.Errorf("MutableFlatData on read-only tensor (%s)%s", t.dtype, t.shape)
	}
	accessFn(flatAs[T](t, "MutableFlatData"))
	return nil
}

// CopyFlatData returns a copy of the flat data of a host tensor.
//
// It panics if the tensor is not on the host or if T doesn't match its dtype.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var data []T
	MustConstFlatData(t, func(flat []T) {
		data = append([]T(nil), flat...)
	})
	return data
}

// ToScalar returns the single value of a host tensor of size 1.
//
// It panics if the tensor is not on the host, if it holds more than one element or if T doesn't
// match its dtype.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	if t.Size() != 1 {
		exceptions.Panicf("ToScalar: tensor (%s)%s has %d elements", t.dtype, t.shape, t.Size())
	}
	var value T
	MustConstFlatData(t, func(flat []T) { value = flat[0] })
	return value
}

// DeviceFlatData gives computation kernels read access to the flat data of a tensor, regardless of
// the device it lives on.
func DeviceFlatData[T dtypes.Supported](t *Tensor) []T {
	return flatAs[T](t, "DeviceFlatData")
}

// DeviceMutableFlatData gives computation kernels write access to the flat data of a tensor,
// regardless of the device it lives on. It panics if the tensor is read-only.
func DeviceMutableFlatData[T dtypes.Supported](t *Tensor) []T {
	t.assertWritable("DeviceMutableFlatData")
	return flatAs[T](t, "DeviceMutableFlatData")
}

// Float64s returns a copy of the values of a tensor on any device, converted to float64.
// Used for reductions and reporting.
func Float64s(t *Tensor) []float64 {
	return toFloat64s(t)
}
