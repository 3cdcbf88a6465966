// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"testing"

	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/graph/graphtest"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/gomlx/symtrain/pkg/ml/learners"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrainer(t *testing.T) {
	m := smallModel()
	weights, bias := m.Params[0], m.Params[1]
	all := learners.SGD(m.Params).MustDone()

	trainer, err := NewTrainer(m.Model, m.Loss, m.Evaluation, []learners.Learner{all})
	require.NoError(t, err)
	assert.Same(t, m.Model, trainer.Model())
	assert.Same(t, m.Loss, trainer.LossFunction())
	assert.Same(t, m.Evaluation, trainer.EvaluationFunction())
	assert.Equal(t, []learners.Learner{all}, trainer.ParameterLearners())
	combined := trainer.CombinedTrainingFunction()
	assert.Equal(t, "combinedTraining", combined.Name())
	assert.Len(t, combined.Outputs(), 5)
	assert.ElementsMatch(t, m.Params, combined.Parameters())

	// Evaluation is optional.
	trainer, err = NewTrainer(m.Model, m.Loss, nil, []learners.Learner{all})
	require.NoError(t, err)
	assert.Nil(t, trainer.EvaluationFunction())
	assert.Len(t, trainer.CombinedTrainingFunction().Outputs(), 3)

	unused := graph.NewParameter(m.Graph, tensors.FromFlatDataAndDimensions([]float32{0}, 1), "unused")
	for _, tc := range []struct {
		name              string
		loss, evaluation  *graph.Function
		parameterLearners []learners.Learner
	}{
		{"nil loss", nil, m.Evaluation, []learners.Learner{all}},
		{"loss without dynamic axes", graph.ReduceSum(m.Loss.Output(), "sum").Owner(), nil,
			[]learners.Learner{all}},
		{"evaluation without dynamic axes", m.Loss, graph.ReduceSum(m.Evaluation.Output(), "sum").Owner(),
			[]learners.Learner{all}},
		{"loss with two outputs", graph.Combine("both", m.Loss.Output(), m.Evaluation.Output()), nil,
			[]learners.Learner{all}},
		{"no learners", m.Loss, m.Evaluation, nil},
		{"parameter without learner", m.Loss, m.Evaluation,
			[]learners.Learner{learners.SGD([]*graph.Variable{weights}).MustDone()}},
		{"parameter owned twice", m.Loss, m.Evaluation, []learners.Learner{
			learners.SGD([]*graph.Variable{weights}).MustDone(),
			learners.SGD([]*graph.Variable{weights, bias}).MustDone()}},
		{"learner parameter not in the model", m.Loss, m.Evaluation, []learners.Learner{
			learners.SGD([]*graph.Variable{weights, bias, unused}).MustDone()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTrainer(m.Model, tc.loss, tc.evaluation, tc.parameterLearners)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument), "error %v should wrap ErrInvalidArgument", err)
		})
	}
}

func TestTrainMinibatch(t *testing.T) {
	m := smallModel()
	trainer := newSGDTrainer(t, m, 0.05)
	batch := smallBatch(m)

	_, err := trainer.PreviousMinibatchLossAverage()
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = trainer.PreviousMinibatchEvaluationAverage()
	require.ErrorIs(t, err, ErrInvalidArgument)

	// Each sample is off by 0.5: loss of 0.25 per sample, and gradients of the aggregated loss
	// dW = sum(features) = [4, 3], db = 4.
	outputs := map[*graph.Variable]*tensors.Value{m.Model.Output(): nil}
	updated, err := trainer.TrainMinibatchWithOutputs(batch, outputs, tensors.HostDevice())
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, []float32{1.5, 2.5, 3.5, 4.5}, tensors.CopyFlatData[float32](outputs[m.Model.Output()].Data()))
	assert.Equal(t, 4, trainer.PreviousMinibatchSampleCount())
	loss, err := trainer.PreviousMinibatchLossAverage()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, loss, 1e-6)
	evaluation, err := trainer.PreviousMinibatchEvaluationAverage()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, evaluation, 1e-6)

	params := m.ParamValues()
	assert.InDeltaSlice(t, []float32{0.8, 1.85}, tensors.CopyFlatData[float32](params[0]), 1e-6)
	assert.InDeltaSlice(t, []float32{0.3}, tensors.CopyFlatData[float32](params[1]), 1e-6)
	assert.Equal(t, 4, trainer.ParameterLearners()[0].TotalNumberOfSamplesSeen())

	// Errors are 0.1, 0.15, -0.05 and -0.25 with the updated parameters.
	const secondLoss = (0.01 + 0.0225 + 0.0025 + 0.0625) / 4
	evaluation, err = trainer.TestMinibatch(batch, tensors.HostDevice())
	require.NoError(t, err)
	assert.InDelta(t, secondLoss, evaluation, 1e-5)
	assert.Equal(t, 4, trainer.PreviousMinibatchSampleCount(), "TestMinibatch doesn't change training statistics")

	updated, err = trainer.TrainMinibatch(batch, tensors.HostDevice())
	require.NoError(t, err)
	assert.True(t, updated)
	loss, err = trainer.PreviousMinibatchLossAverage()
	require.NoError(t, err)
	assert.InDelta(t, secondLoss, loss, 1e-5)

	// Missing arguments fail.
	_, err = trainer.TrainMinibatch(map[*graph.Variable]*tensors.Value{m.Features: batch[m.Features]}, tensors.HostDevice())
	assert.Error(t, err)
}

func TestTrainMaskedMinibatch(t *testing.T) {
	m := smallModel()
	trainer := newSGDTrainer(t, m, 0.05)
	mask := tensors.NewMask(4)
	mask.Invalidate(3)
	features := graphtest.Value(m.Features, []float32{1, 0, 1, 2, 0, 1, 1, 1}, 4)
	labels := graphtest.Value(m.Labels, []float32{1, 2, 3, 100}, 4)
	batch := m.Arguments(tensors.NewValue(features.Data(), mask), tensors.NewValue(labels.Data(), mask.Clone()))

	_, err := trainer.TrainMinibatch(batch, tensors.HostDevice())
	require.NoError(t, err)
	assert.Equal(t, 3, trainer.PreviousMinibatchSampleCount())
	loss, err := trainer.PreviousMinibatchLossAverage()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, loss, 1e-6)

	// Only the first 3 samples contribute: dW = [2, 2], db = 3.
	params := m.ParamValues()
	assert.InDeltaSlice(t, []float32{0.9, 1.9}, tensors.CopyFlatData[float32](params[0]), 1e-6)
	assert.InDeltaSlice(t, []float32{0.35}, tensors.CopyFlatData[float32](params[1]), 1e-6)
}

func TestDisjointLearners(t *testing.T) {
	t.Run("OneUpdates", func(t *testing.T) {
		m := smallModel()
		weights, bias := m.Params[0], m.Params[1]
		weightsLearner := learners.SGD([]*graph.Variable{weights}).LearningRate(0.05).MustDone()
		biasLearner := learners.MomentumSGD([]*graph.Variable{bias}).LearningRate(0).MustDone()
		trainer, err := NewTrainer(m.Model, m.Loss, m.Evaluation, []learners.Learner{weightsLearner, biasLearner})
		require.NoError(t, err)
		initial := m.ParamValues()

		updated, err := trainer.TrainMinibatch(smallBatch(m), tensors.HostDevice())
		require.NoError(t, err)
		assert.True(t, updated)
		params := m.ParamValues()
		assert.False(t, params[0].Equal(initial[0]), "weights are updated")
		assert.True(t, params[1].Equal(initial[1]), "bias learner performed no update")
		assert.Equal(t, 4, weightsLearner.TotalNumberOfSamplesSeen())
		assert.Equal(t, 0, biasLearner.TotalNumberOfSamplesSeen())
	})

	t.Run("NoneUpdates", func(t *testing.T) {
		m := smallModel()
		trainer := newSGDTrainer(t, m, 0)
		initial := m.ParamValues()
		updated, err := trainer.TrainMinibatch(smallBatch(m), tensors.HostDevice())
		require.NoError(t, err)
		assert.False(t, updated)
		for ii, param := range m.ParamValues() {
			assert.True(t, param.Equal(initial[ii]))
		}
		// Statistics are still recorded.
		loss, err := trainer.PreviousMinibatchLossAverage()
		require.NoError(t, err)
		assert.InDelta(t, 0.25, loss, 1e-6)
	})
}

func TestWithoutEvaluation(t *testing.T) {
	m := smallModel()
	trainer, err := NewTrainer(m.Model, m.Loss, nil, []learners.Learner{learners.SGD(m.Params).MustDone()})
	require.NoError(t, err)
	batch := smallBatch(m)

	_, err = trainer.TestMinibatch(batch, tensors.HostDevice())
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = trainer.TrainMinibatch(batch, tensors.HostDevice())
	require.NoError(t, err)
	_, err = trainer.PreviousMinibatchEvaluationAverage()
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = trainer.TestMinibatch(batch, tensors.HostDevice())
	require.ErrorIs(t, err, ErrInvalidArgument)
}
