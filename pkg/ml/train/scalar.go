// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/tensors"
)

// ScalarValue returns the only element of value, as a float64.
//
// The value must hold exactly one element and no mask. Values on an accelerator are copied to the
// host first. It panics otherwise.
func ScalarValue(value *tensors.Value) float64 {
	if value.Mask() != nil {
		exceptions.Panicf("ScalarValue: value shaped %s has a mask, it must be a plain scalar", value.Shape())
	}
	data := value.Data()
	if data.Size() != 1 {
		exceptions.Panicf("ScalarValue: value shaped %s has %d elements, expected exactly 1", data.Shape(), data.Size())
	}
	if !data.Device().IsHost() {
		data = data.CopyTo(tensors.HostDevice())
	}
	switch data.DType() {
	case dtypes.Float:
		return float64(tensors.ToScalar[float32](data))
	case dtypes.Double:
		return tensors.ToScalar[float64](data)
	default:
		exceptions.Panicf("ScalarValue: unsupported dtype %s", data.DType())
	}
	return 0
}

// SampleCount returns the number of real samples in the value computed for v: the total size of the
// dimensions of value past the static rank of v, less the samples masked as padding.
//
// It panics if the mask covers more samples than there are.
func SampleCount(v *graph.Variable, value *tensors.Value) int {
	slots := value.Shape().SubShape(v.Shape().Rank()).Size()
	masked := value.MaskedCount()
	if masked > slots {
		exceptions.Panicf("SampleCount(%s): %d masked samples, but the value shaped %s only has %d samples",
			v, masked, value.Shape(), slots)
	}
	return slots - masked
}
