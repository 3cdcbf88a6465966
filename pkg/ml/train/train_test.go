// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"testing"

	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/graph/graphtest"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/gomlx/symtrain/pkg/ml/learners"
	"github.com/stretchr/testify/require"
)

// smallModel builds prediction = [[1, 2]]·features + 0.5, with squared error loss and evaluation.
func smallModel() *graphtest.ToyModel {
	g := graph.NewGraph("small")
	m := &graphtest.ToyModel{Graph: g}
	m.Features = graph.InputWithOptions(g, shapes.Make(2), dtypes.Float,
		graph.InputOptions{Name: "features", DynamicAxes: graphtest.BatchAxes()})
	m.Labels = graph.InputWithOptions(g, shapes.Make(1), dtypes.Float,
		graph.InputOptions{Name: "labels", DynamicAxes: graphtest.BatchAxes()})
	weights := graph.NewParameter(g, tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2), "weights")
	bias := graph.NewParameter(g, tensors.FromFlatDataAndDimensions([]float32{0.5}, 1), "bias")
	m.Params = []*graph.Variable{weights, bias}
	prediction := graph.Plus(graph.Times(weights, m.Features, "times"), bias, "prediction")
	m.Model = prediction.Owner()
	m.Loss = graph.SquaredError(prediction, m.Labels, "loss").Owner()
	m.Evaluation = graph.SquaredError(prediction, m.Labels, "evaluation").Owner()
	return m
}

// smallBatch has the 4 samples (1,0), (0,1), (1,1) and (2,1), each off by 0.5 from the prediction of
// smallModel. Values are laid out [features, samples].
func smallBatch(m *graphtest.ToyModel) map[*graph.Variable]*tensors.Value {
	return m.Arguments(
		graphtest.Value(m.Features, []float32{1, 0, 1, 2, 0, 1, 1, 1}, 4),
		graphtest.Value(m.Labels, []float32{1, 2, 3, 4}, 4))
}

// newSGDTrainer creates a trainer for m with one SGD learner for all parameters.
func newSGDTrainer(t *testing.T, m *graphtest.ToyModel, learningRate float64) *Trainer {
	learner, err := learners.SGD(m.Params).LearningRate(learningRate).Done()
	require.NoError(t, err)
	trainer, err := NewTrainer(m.Model, m.Loss, m.Evaluation, []learners.Learner{learner})
	require.NoError(t, err)
	return trainer
}

// regressionBatches returns numBatches deterministic batches of batchSize samples for a
// graphtest.LinearRegression model.
func regressionBatches(m *graphtest.ToyModel, numBatches, batchSize int) []map[*graph.Variable]*tensors.Value {
	numFeatures, numOutputs := m.Features.Shape().Size(), m.Labels.Shape().Size()
	batches := make([]map[*graph.Variable]*tensors.Value, numBatches)
	for ii := range batches {
		features := tensors.RandomUniform(dtypes.Double, shapes.Make(numFeatures, batchSize), -1, 1,
			uint64(100+ii), tensors.HostDevice())
		labels := tensors.RandomNormal(dtypes.Double, shapes.Make(numOutputs, batchSize), 0, 1,
			uint64(200+ii), tensors.HostDevice())
		batches[ii] = m.Arguments(tensors.FromTensor(features), tensors.FromTensor(labels))
	}
	return batches
}
