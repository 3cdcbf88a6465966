// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"testing"

	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/graph/graphtest"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
)

func TestScalarValue(t *testing.T) {
	assert.Equal(t, 2.5, ScalarValue(tensors.FromTensor(tensors.FromScalar(float32(2.5)))))
	assert.Equal(t, -3.0, ScalarValue(tensors.FromTensor(tensors.FromScalar(-3.0))))
	assert.Equal(t, 7.0, ScalarValue(tensors.FromTensor(tensors.FromFlatDataAndDimensions([]float64{7}, 1, 1))))

	accelerator := tensors.FromScalar(1.25).CopyTo(tensors.AcceleratorDevice(0))
	assert.Equal(t, 1.25, ScalarValue(tensors.FromTensor(accelerator)))

	// More than one element.
	assert.Panics(t, func() {
		_ = ScalarValue(tensors.FromTensor(tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)))
	})
	// Masked.
	assert.Panics(t, func() {
		_ = ScalarValue(tensors.NewValue(tensors.FromFlatDataAndDimensions([]float32{1}, 1), tensors.NewMask(1)))
	})
}

func TestSampleCount(t *testing.T) {
	g := graph.NewGraph("test")
	x := graph.InputWithOptions(g, shapes.Make(2), dtypes.Float,
		graph.InputOptions{Name: "x", DynamicAxes: graphtest.BatchAxes()})
	value := graphtest.Value(x, []float32{1, 2, 3, 4, 5, 6, 7, 8}, 4)
	assert.Equal(t, 4, SampleCount(x, value))

	mask := tensors.NewMask(4)
	mask.Invalidate(3)
	assert.Equal(t, 3, SampleCount(x, tensors.NewValue(value.Data(), mask)))

	// Per-sample scalar outputs have one element per sample.
	m := smallModel()
	lossOutput := m.Loss.Output()
	assert.Equal(t, 5, SampleCount(lossOutput, tensors.FromTensor(tensors.FromFlatDataAndDimensions(make([]float32, 5), 5))))

	// Samples are counted from the dynamic extents, even if the static shape is empty.
	empty := graph.InputWithOptions(g, shapes.Make(0), dtypes.Float,
		graph.InputOptions{Name: "empty", DynamicAxes: graphtest.BatchAxes()})
	assert.Equal(t, 3, SampleCount(empty, graphtest.Value(empty, []float32{}, 3)))

	// A mask covering more samples than there are.
	flat := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 4)
	overMask := tensors.NewMask(4)
	overMask.Invalidate(0, 1, 2)
	assert.Panics(t, func() { _ = SampleCount(x, tensors.NewValue(flat, overMask)) })
}
