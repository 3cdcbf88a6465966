// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/shapes"
)

// Mask flags which samples of a batch (or of a batch of sequences) are padding.
//
// Its shape is the shape of the dynamic extents of the data it masks: [batchSize] for a
// batch, or [sequenceLength, batchSize] for a batch of sequences. Sample ii of the mask
// corresponds to the flat index ii of that shape.
type Mask struct {
	shape   shapes.Shape
	invalid []bool
}

// NewMask creates a mask with all samples valid.
func NewMask(dimensions ...int) *Mask {
	shape := shapes.Make(dimensions...)
	return &Mask{shape: shape, invalid: make([]bool, shape.Size())}
}

// Shape of the mask.
func (m *Mask) Shape() shapes.Shape { return m.shape }

// Size is the number of samples covered by the mask.
func (m *Mask) Size() int { return len(m.invalid) }

// Invalidate marks the samples at the given flat indices as padding.
func (m *Mask) Invalidate(indices ...int) {
	for _, idx := range indices {
		if idx < 0 || idx >= len(m.invalid) {
			exceptions.Panicf("Mask.Invalidate(%d): index out of range for mask shape %s", idx, m.shape)
		}
		m.invalid[idx] = true
	}
}

// InvalidateSequenceTail marks as padding every step >= fromStep of the sequence at position
// sequence in the batch. It requires a mask of shape [sequenceLength, batchSize].
func (m *Mask) InvalidateSequenceTail(sequence, fromStep int) {
	if m.shape.Rank() != 2 {
		exceptions.Panicf("Mask.InvalidateSequenceTail requires a [sequenceLength, batchSize] mask, got %s", m.shape)
	}
	steps, batch := m.shape.Dimensions[0], m.shape.Dimensions[1]
	for step := fromStep; step < steps; step++ {
		m.Invalidate(step*batch + sequence)
	}
}

// IsValid returns whether the sample at flat index idx is a real sample.
func (m *Mask) IsValid(idx int) bool {
	return !m.invalid[idx]
}

// MaskedCount returns the number of padding samples.
func (m *Mask) MaskedCount() int {
	count := 0
	for _, invalid := range m.invalid {
		if invalid {
			count++
		}
	}
	return count
}

// Clone returns a copy of the mask.
func (m *Mask) Clone() *Mask {
	return &Mask{shape: m.shape.Clone(), invalid: append([]bool(nil), m.invalid...)}
}

// String implements fmt.Stringer.
func (m *Mask) String() string {
	return fmt.Sprintf("Mask%s{masked=%d}", m.shape, m.MaskedCount())
}

// Value is the data bound to a variable in a computation: a tensor and an optional Mask.
// A nil mask means every sample is valid.
type Value struct {
	data *Tensor
	mask *Mask
}

// NewValue creates a Value with the given data and an optional mask.
//
// The mask shape, if given, must match the trailing dimensions of the data.
func NewValue(data *Tensor, mask *Mask) *Value {
	if mask != nil {
		rank, maskRank := data.Rank(), mask.shape.Rank()
		if maskRank > rank || !data.shape.SubShape(rank-maskRank).Equal(mask.shape) {
			exceptions.Panicf("NewValue: mask shape %s doesn't match the trailing dimensions of data shape %s",
				mask.shape, data.shape)
		}
	}
	return &Value{data: data, mask: mask}
}

// FromTensor creates an unmasked Value.
func FromTensor(data *Tensor) *Value {
	return &Value{data: data}
}

// Data returns the tensor holding the values.
func (v *Value) Data() *Tensor { return v.data }

// Mask returns the mask, or nil if all samples are valid.
func (v *Value) Mask() *Mask { return v.mask }

// Shape of the data.
func (v *Value) Shape() shapes.Shape { return v.data.shape }

// DType of the data.
func (v *Value) DType() dtypes.DType { return v.data.dtype }

// Device where the data is stored.
func (v *Value) Device() Device { return v.data.device }

// MaskedCount returns the number of padding samples, 0 if there is no mask.
func (v *Value) MaskedCount() int {
	if v.mask == nil {
		return 0
	}
	return v.mask.MaskedCount()
}

// DeepClone returns a copy of the value, with data on the given device.
func (v *Value) DeepClone(device Device) *Value {
	clone := &Value{data: v.data.DeepClone(device, false)}
	if v.mask != nil {
		clone.mask = v.mask.Clone()
	}
	return clone
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v.mask == nil {
		return v.data.String()
	}
	return fmt.Sprintf("%s %s", v.data, v.mask)
}
