// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	"github.com/gomlx/symtrain/pkg/core/dtypes"
	. "github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/graph/graphtest"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallLinear builds prediction = [[1, 2]]·x + 0.5, with squared error loss.
func smallLinear(t *testing.T) (g *Graph, x, labels, weights, bias *Variable, prediction, loss *Function) {
	g = NewGraph("test")
	x = InputWithOptions(g, shapes.Make(2), dtypes.Float, InputOptions{Name: "x", DynamicAxes: graphtest.BatchAxes()})
	labels = InputWithOptions(g, shapes.Make(1), dtypes.Float, InputOptions{Name: "labels", DynamicAxes: graphtest.BatchAxes()})
	weights = NewParameter(g, tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2), "weights")
	bias = NewParameter(g, tensors.FromFlatDataAndDimensions([]float32{0.5}, 1), "bias")
	predictionVar := Plus(Times(weights, x, "times"), bias, "prediction")
	prediction = predictionVar.Owner()
	loss = SquaredError(predictionVar, labels, "loss").Owner()
	require.Equal(t, []int{1}, predictionVar.Shape().Dimensions)
	return
}

func TestEnumValues(t *testing.T) {
	// Written to model files, they must never change.
	assert.Equal(t, Kind(0), KindInput)
	assert.Equal(t, Kind(1), KindOutput)
	assert.Equal(t, Kind(2), KindParameter)
	assert.Equal(t, Kind(3), KindConstant)
	assert.Equal(t, Kind(4), KindPlaceholder)
	assert.Equal(t, "Placeholder", KindPlaceholder.String())
	assert.Equal(t, OpType(4), OpTimes)
	assert.Equal(t, OpType(14), OpReduceSum)
	assert.Equal(t, "CrossEntropyWithSoftmax", OpCrossEntropyWithSoftmax.String())
}

func TestVariables(t *testing.T) {
	g, x, _, weights, bias, prediction, loss := smallLinear(t)
	assert.True(t, x.IsInput())
	assert.True(t, weights.IsParameter())
	assert.True(t, weights.NeedsGradient())
	assert.NotEqual(t, weights.UID(), bias.UID())
	assert.Equal(t, []shapes.Axis{shapes.DefaultBatchAxis()}, x.DynamicAxes())
	assert.Same(t, weights, g.Leaf(weights.UID()))

	output := prediction.Output()
	assert.True(t, output.IsOutput())
	assert.Same(t, prediction, output.Owner())
	assert.Nil(t, x.Owner())
	assert.Panics(t, func() { _ = output.Value() })

	assert.Equal(t, []*Variable{weights, bias}, loss.Parameters())
	assert.Len(t, loss.Arguments(), 2)
	assert.Len(t, prediction.Arguments(), 1)

	// Default input axes: sequence and batch.
	seq := Input(g, shapes.Make(3), dtypes.Double, "seq")
	assert.Equal(t, shapes.DefaultInputDynamicAxes(), seq.DynamicAxes())

	constant := NewConstant(g, tensors.FromScalar(float32(2)), "two")
	assert.True(t, constant.Value().IsReadOnly())
	assert.Panics(t, func() { constant.SetValue(tensors.FromScalar(float32(3))) })

	u1 := UniformInitParameter(g, shapes.Make(3, 4), dtypes.Double, 0.1, 7, tensors.HostDevice(), "u1")
	u2 := UniformInitParameter(g, shapes.Make(3, 4), dtypes.Double, 0.1, 7, tensors.HostDevice(), "u2")
	assert.True(t, u1.Value().Equal(u2.Value()))
	assert.Panics(t, func() {
		_ = NormalInitParameter(g, shapes.Make(3), dtypes.Unknown, 1, 7, tensors.HostDevice(), "bad")
	})

	// Incompatible shapes panic at construction.
	assert.Panics(t, func() { _ = Plus(weights, x, "") })
	assert.Panics(t, func() { _ = Times(x, weights, "") })
	other := NewGraph("other")
	assert.Panics(t, func() { _ = Plus(Input(other, shapes.Make(2), dtypes.Float, ""), x, "") })
}

func TestForward(t *testing.T) {
	_, x, labels, _, _, prediction, loss := smallLinear(t)
	xValue := graphtest.Value(x, []float32{1, 0, 1, 0, 1, 1}, 3)
	labelsValue := graphtest.Value(labels, []float32{1, 2, 3}, 3)

	outputs := map[*Variable]*tensors.Value{prediction.Output(): nil, loss.Output(): nil}
	state, err := loss.Forward(map[*Variable]*tensors.Value{x: xValue, labels: labelsValue}, outputs, tensors.HostDevice())
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Equal(t, []float32{1.5, 2.5, 3.5}, tensors.CopyFlatData[float32](outputs[prediction.Output()].Data()))
	assert.Equal(t, []float32{0.25, 0.25, 0.25}, tensors.CopyFlatData[float32](outputs[loss.Output()].Data()))

	// Only the arguments needed by the requested outputs are required.
	outputs = map[*Variable]*tensors.Value{prediction.Output(): nil}
	_, err = loss.Forward(map[*Variable]*tensors.Value{x: xValue}, outputs, tensors.HostDevice())
	require.NoError(t, err)
	assert.NotNil(t, outputs[prediction.Output()])

	// Missing or invalid arguments are errors.
	_, err = loss.Forward(map[*Variable]*tensors.Value{x: xValue}, map[*Variable]*tensors.Value{loss.Output(): nil}, tensors.HostDevice())
	assert.Error(t, err)
	_, err = loss.Forward(map[*Variable]*tensors.Value{x: graphtest.Value(x, []float64{1, 0, 1, 0, 1, 1}, 3)},
		map[*Variable]*tensors.Value{prediction.Output(): nil}, tensors.HostDevice())
	assert.Error(t, err)
	_, err = prediction.Forward(map[*Variable]*tensors.Value{x: xValue, labels: labelsValue},
		map[*Variable]*tensors.Value{prediction.Output(): nil}, tensors.HostDevice())
	assert.Error(t, err, "labels is not an argument of prediction")
	_, err = loss.Forward(map[*Variable]*tensors.Value{x: graphtest.Value(x, []float32{1, 0, 1, 0, 1, 1}, 1, 3)},
		map[*Variable]*tensors.Value{prediction.Output(): nil}, tensors.HostDevice())
	assert.Error(t, err)

	// Execution on an accelerator: arguments are copied, results stay on the accelerator.
	onAccelerator := tensors.AcceleratorDevice(0)
	outputs = map[*Variable]*tensors.Value{loss.Output(): nil}
	_, err = loss.Forward(map[*Variable]*tensors.Value{x: xValue, labels: labelsValue}, outputs, onAccelerator)
	require.NoError(t, err)
	assert.Equal(t, onAccelerator, outputs[loss.Output()].Device())
}

func TestBackward(t *testing.T) {
	_, x, labels, weights, bias, _, loss := smallLinear(t)
	total := ReduceSum(loss.Output(), "total")
	f := Combine("training", total, loss.Output())
	args := map[*Variable]*tensors.Value{
		x:      graphtest.Value(x, []float32{1, 0, 1, 0, 1, 1}, 3),
		labels: graphtest.Value(labels, []float32{1, 2, 3}, 3),
	}
	outputs := map[*Variable]*tensors.Value{total: nil}
	state, err := f.Forward(args, outputs, tensors.HostDevice(), total)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, float32(0.75), tensors.ToScalar[float32](outputs[total].Data()))

	rootGrads := map[*Variable]*tensors.Value{total: tensors.FromTensor(tensors.FromScalar(float32(1)))}
	paramGrads := map[*Variable]*tensors.Value{weights: nil, bias: nil}
	require.NoError(t, f.Backward(state, rootGrads, paramGrads))
	assert.Equal(t, []float32{2, 2}, tensors.CopyFlatData[float32](paramGrads[weights].Data()))
	assert.Equal(t, []float32{3}, tensors.CopyFlatData[float32](paramGrads[bias].Data()))
	assert.Nil(t, paramGrads[weights].Mask())

	// The state can only be used once.
	assert.Error(t, f.Backward(state, rootGrads, paramGrads))
	assert.Error(t, f.Backward(nil, rootGrads, paramGrads))

	// Gradients can only be computed from retained roots.
	state, err = f.Forward(args, map[*Variable]*tensors.Value{total: nil}, tensors.HostDevice(), total)
	require.NoError(t, err)
	err = f.Backward(state, map[*Variable]*tensors.Value{loss.Output(): tensors.FromTensor(tensors.FromScalar(float32(1)))}, paramGrads)
	assert.Error(t, err)
}

// lossAndGrads returns the total loss and the gradients of the classifier parameters.
func lossAndGrads(t *testing.T, m *graphtest.ToyModel, args map[*Variable]*tensors.Value) (float64, []*tensors.Tensor) {
	total := ReduceSum(m.Loss.Output(), "")
	f := Combine("", total)
	outputs := map[*Variable]*tensors.Value{total: nil}
	state, err := f.Forward(args, outputs, tensors.HostDevice(), total)
	require.NoError(t, err)
	paramGrads := make(map[*Variable]*tensors.Value)
	for _, param := range m.Params {
		paramGrads[param] = nil
	}
	require.NoError(t, f.Backward(state, map[*Variable]*tensors.Value{total: tensors.FromTensor(tensors.FromScalar(1.0))}, paramGrads))
	grads := make([]*tensors.Tensor, len(m.Params))
	for ii, param := range m.Params {
		grads[ii] = paramGrads[param].Data()
	}
	return tensors.ToScalar[float64](outputs[total].Data()), grads
}

func TestGradientsNumerically(t *testing.T) {
	m := graphtest.Classifier(dtypes.Double, 3, 4, 2, 11, false)
	args := m.Arguments(
		graphtest.Value(m.Features, []float64{0.5, -1, 2, 0.1, 0.3, -0.7, 1, 1, -2, 0.2, 0.4, 0.8}, 4),
		graphtest.Value(m.Labels, []float64{1, 0, 0, 0.5, 0, 1, 1, 0.5}, 4))
	_, grads := lossAndGrads(t, m, args)
	const epsilon = 1e-6
	for ii, param := range m.Params {
		for jj := range param.Shape().Size() {
			perturb := func(delta float64) {
				require.NoError(t, tensors.MutableFlatData(param.Value(), func(flat []float64) { flat[jj] += delta }))
			}
			perturb(epsilon)
			plus, _ := lossAndGrads(t, m, args)
			perturb(-2 * epsilon)
			minus, _ := lossAndGrads(t, m, args)
			perturb(epsilon)
			numerical := (plus - minus) / (2 * epsilon)
			assert.InDelta(t, numerical, tensors.CopyFlatData[float64](grads[ii])[jj], 1e-5,
				"parameter %s, element %d", param, jj)
		}
	}
}

func TestMaskedSequences(t *testing.T) {
	m := graphtest.Classifier(dtypes.Double, 2, 3, 2, 5, true)
	// 2 steps, 2 sequences: features are [2 features, 2 steps, 2 sequences].
	features := []float64{1, 2, 3, 0, -1, -2, -3, 0}
	labels := []float64{1, 0, 1, 0, 0, 1, 0, 1}
	mask := tensors.NewMask(2, 2)
	mask.InvalidateSequenceTail(1, 1)
	featuresValue := tensors.NewValue(tensors.FromFlatDataAndDimensions(features, 2, 2, 2), mask)
	labelsValue := tensors.NewValue(tensors.FromFlatDataAndDimensions(labels, 2, 2, 2), mask)
	lossMasked, gradsMasked := lossAndGrads(t, m, m.Arguments(featuresValue, labelsValue))

	// Per-sample losses: the padded one must not be included in the sum.
	outputs := map[*Variable]*tensors.Value{m.Loss.Output(): nil}
	_, err := m.Loss.Forward(m.Arguments(featuresValue, labelsValue), outputs, tensors.HostDevice())
	require.NoError(t, err)
	perSample := tensors.CopyFlatData[float64](outputs[m.Loss.Output()].Data())
	require.Len(t, perSample, 4)
	assert.Equal(t, 1, outputs[m.Loss.Output()].MaskedCount())
	assert.InDelta(t, perSample[0]+perSample[1]+perSample[2], lossMasked, 1e-12)

	// Garbage in the padded sample changes neither the loss nor the gradients.
	features[3], features[7] = 100, -100
	labels[3], labels[7] = 7, 7
	featuresValue = tensors.NewValue(tensors.FromFlatDataAndDimensions(features, 2, 2, 2), mask)
	labelsValue = tensors.NewValue(tensors.FromFlatDataAndDimensions(labels, 2, 2, 2), mask)
	lossGarbage, gradsGarbage := lossAndGrads(t, m, m.Arguments(featuresValue, labelsValue))
	assert.Equal(t, lossMasked, lossGarbage)
	for ii := range gradsMasked {
		assert.True(t, gradsMasked[ii].InDelta(gradsGarbage[ii], 1e-12), "gradient of %s", m.Params[ii])
	}
}

func TestReplacePlaceholders(t *testing.T) {
	g := NewGraph("placeholders")
	p := Placeholder(g, shapes.Make(2), dtypes.Float, graphtest.BatchAxes(), "p")
	f := Negate(p, "negate").Owner()
	assert.Equal(t, []*Variable{p}, f.Placeholders())

	x := InputWithOptions(g, shapes.Make(2), dtypes.Float, InputOptions{DynamicAxes: graphtest.BatchAxes()})
	assert.Panics(t, func() {
		f.ReplacePlaceholders(map[*Variable]*Variable{p: Input(g, shapes.Make(3), dtypes.Float, "")})
	})
	assert.Same(t, f, f.ReplacePlaceholders(map[*Variable]*Variable{p: x}))
	assert.Empty(t, f.Placeholders())
	assert.Equal(t, []*Variable{x}, f.Arguments())

	outputs := map[*Variable]*tensors.Value{f.Output(): nil}
	_, err := f.Forward(map[*Variable]*tensors.Value{x: graphtest.Value(x, []float32{1, 2}, 1)}, outputs, tensors.HostDevice())
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, -2}, tensors.CopyFlatData[float32](outputs[f.Output()].Data()))
}
