// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds toy models and test utilities for packages that depend on the graph package.
package graphtest

import (
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
)

// ToyModel is a small model with its loss and evaluation functions, ready to be trained.
type ToyModel struct {
	Graph *graph.Graph

	// Features and Labels are the inputs of the model.
	Features, Labels *graph.Variable

	// Params of the model, in creation order.
	Params []*graph.Variable

	// Model computes the predictions, Loss and Evaluation the per-sample loss and evaluation.
	Model, Loss, Evaluation *graph.Function
}

// BatchAxes are the dynamic axes of inputs with only a batch axis.
func BatchAxes() []shapes.Axis {
	return []shapes.Axis{shapes.DefaultBatchAxis()}
}

// LinearRegression builds prediction = W·features + b, with squared error loss and evaluation.
// W is initialized uniformly in [-0.5, 0.5), and b with zeros.
func LinearRegression(dtype dtypes.DType, numFeatures, numOutputs int, seed uint64) *ToyModel {
	g := graph.NewGraph("linear_regression")
	m := &ToyModel{Graph: g}
	m.Features = graph.InputWithOptions(g, shapes.Make(numFeatures), dtype,
		graph.InputOptions{Name: "features", DynamicAxes: BatchAxes()})
	m.Labels = graph.InputWithOptions(g, shapes.Make(numOutputs), dtype,
		graph.InputOptions{Name: "labels", DynamicAxes: BatchAxes()})
	weights := graph.UniformInitParameter(g, shapes.Make(numOutputs, numFeatures), dtype, 0.5, seed,
		tensors.HostDevice(), "weights")
	bias := graph.NewParameter(g, tensors.New(dtype, shapes.Make(numOutputs), tensors.HostDevice()), "bias")
	m.Params = []*graph.Variable{weights, bias}
	prediction := graph.Plus(graph.Times(weights, m.Features, "times"), bias, "prediction")
	m.Model = prediction.Owner()
	m.Loss = graph.SquaredError(prediction, m.Labels, "loss").Owner()
	m.Evaluation = graph.SquaredError(prediction, m.Labels, "evaluation").Owner()
	return m
}

// Classifier builds a one hidden layer (tanh) classifier, with cross-entropy loss and classification
// error evaluation. Sequence inputs use the default dynamic axes (sequence and batch).
func Classifier(dtype dtypes.DType, numFeatures, numHidden, numClasses int, seed uint64, sequences bool) *ToyModel {
	g := graph.NewGraph("classifier")
	m := &ToyModel{Graph: g}
	axes := BatchAxes()
	if sequences {
		axes = shapes.DefaultInputDynamicAxes()
	}
	m.Features = graph.InputWithOptions(g, shapes.Make(numFeatures), dtype,
		graph.InputOptions{Name: "features", DynamicAxes: axes})
	m.Labels = graph.InputWithOptions(g, shapes.Make(numClasses), dtype,
		graph.InputOptions{Name: "labels", DynamicAxes: axes})
	hiddenWeights := graph.NormalInitParameter(g, shapes.Make(numHidden, numFeatures), dtype, 0.5, seed,
		tensors.HostDevice(), "hidden_weights")
	hiddenBias := graph.NewParameter(g, tensors.New(dtype, shapes.Make(numHidden), tensors.HostDevice()), "hidden_bias")
	outputWeights := graph.NormalInitParameter(g, shapes.Make(numClasses, numHidden), dtype, 0.5, seed+1,
		tensors.HostDevice(), "output_weights")
	outputBias := graph.NewParameter(g, tensors.New(dtype, shapes.Make(numClasses), tensors.HostDevice()), "output_bias")
	m.Params = []*graph.Variable{hiddenWeights, hiddenBias, outputWeights, outputBias}
	hidden := graph.Tanh(graph.Plus(graph.Times(hiddenWeights, m.Features, ""), hiddenBias, ""), "hidden")
	logits := graph.Plus(graph.Times(outputWeights, hidden, ""), outputBias, "logits")
	m.Model = logits.Owner()
	m.Loss = graph.CrossEntropyWithSoftmax(logits, m.Labels, "loss").Owner()
	m.Evaluation = graph.ClassificationError(logits, m.Labels, "evaluation").Owner()
	return m
}

// Value creates an unmasked host value for the variable v, with the given flat data and the extents
// of its dynamic axes.
func Value[T dtypes.Supported](v *graph.Variable, data []T, dynamicExtents ...int) *tensors.Value {
	dims := v.Shape().Concat(dynamicExtents...).Dimensions
	return tensors.FromTensor(tensors.FromFlatDataAndDimensions(data, dims...))
}

// Arguments maps features and labels to the given values.
func (m *ToyModel) Arguments(features, labels *tensors.Value) map[*graph.Variable]*tensors.Value {
	return map[*graph.Variable]*tensors.Value{m.Features: features, m.Labels: labels}
}

// ParamValues returns host copies of the current values of the parameters, in order.
func (m *ToyModel) ParamValues() []*tensors.Tensor {
	values := make([]*tensors.Tensor, len(m.Params))
	for ii, param := range m.Params {
		values[ii] = param.Value().CopyTo(tensors.HostDevice())
	}
	return values
}
