// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/graph/graphtest"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/gomlx/symtrain/pkg/ml/learners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkpointSetup is a linear regression trainer with stateful learners, and its data.
type checkpointSetup struct {
	model   *graphtest.ToyModel
	trainer *Trainer
	batches []map[*graph.Variable]*tensors.Value
}

func newCheckpointSetup(t *testing.T, seed uint64) *checkpointSetup {
	m := graphtest.LinearRegression(dtypes.Double, 3, 2, seed)
	weights, bias := m.Params[0], m.Params[1]
	trainer, err := NewTrainer(m.Model, m.Loss, m.Evaluation, []learners.Learner{
		learners.MomentumSGD([]*graph.Variable{weights}).LearningRate(0.01).Momentum(0.9).MustDone(),
		learners.AdaGrad([]*graph.Variable{bias}).LearningRate(0.1).MustDone(),
	})
	require.NoError(t, err)
	return &checkpointSetup{model: m, trainer: trainer, batches: regressionBatches(m, 4, 8)}
}

// train runs the batches with indices in [from, to), and returns the loss averages.
func (s *checkpointSetup) train(t *testing.T, from, to int) []float64 {
	var losses []float64
	for ii := from; ii < to; ii++ {
		_, err := s.trainer.TrainMinibatch(s.batches[ii], tensors.HostDevice())
		require.NoError(t, err)
		loss, err := s.trainer.PreviousMinibatchLossAverage()
		require.NoError(t, err)
		losses = append(losses, loss)
	}
	return losses
}

func assertSameParams(t *testing.T, want, got []*tensors.Tensor) {
	require.Len(t, got, len(want))
	for ii := range want {
		assert.Equal(t, tensors.CopyFlatData[float64](want[ii]), tensors.CopyFlatData[float64](got[ii]),
			"parameter #%d", ii)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	for _, legacyFormat := range []bool{false, true} {
		name := "Records"
		if legacyFormat {
			name = "Legacy"
		}
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model")
			reference := newCheckpointSetup(t, 1)
			reference.train(t, 0, 2)
			require.NoError(t, reference.trainer.SaveCheckpoint(path, legacyFormat))
			assert.FileExists(t, path)
			assert.FileExists(t, CheckpointStatePath(path))
			assert.Equal(t, path+".ckp", CheckpointStatePath(path))
			wantLosses := reference.train(t, 2, 4)
			wantParams := reference.model.ParamValues()

			// Freshly constructed trainer, with different initial parameters.
			restored := newCheckpointSetup(t, 2)
			require.NoError(t, restored.trainer.RestoreFromCheckpoint(path, legacyFormat))
			assert.Equal(t, 16, restored.trainer.ParameterLearners()[0].TotalNumberOfSamplesSeen())
			assert.Equal(t, wantLosses, restored.train(t, 2, 4))
			assertSameParams(t, wantParams, restored.model.ParamValues())

			// Restoring into the trainer that saved the checkpoint rewinds it.
			require.NoError(t, reference.trainer.RestoreFromCheckpoint(path, legacyFormat))
			assert.Equal(t, wantLosses, reference.train(t, 2, 4))
			assertSameParams(t, wantParams, reference.model.ParamValues())
		})
	}
}

func TestRestoredCombinedFunction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model")
	s := newCheckpointSetup(t, 1)
	s.train(t, 0, 1)
	require.NoError(t, s.trainer.SaveCheckpoint(path, false))
	original := s.trainer.CombinedTrainingFunction()

	restored := newCheckpointSetup(t, 3)
	require.NoError(t, restored.trainer.RestoreFromCheckpoint(path, false))
	combined := restored.trainer.CombinedTrainingFunction()
	assert.Equal(t, original.UID(), combined.UID())
	assert.Empty(t, combined.Placeholders(), "inputs are rewired to the current inputs")
	assert.ElementsMatch(t, []*graph.Variable{restored.model.Features, restored.model.Labels}, combined.Arguments())
	assert.ElementsMatch(t, restored.model.Params, combined.Parameters(), "parameters keep their identity")

	evaluation, err := restored.trainer.TestMinibatch(restored.batches[1], tensors.HostDevice())
	require.NoError(t, err)
	want, err := s.trainer.TestMinibatch(s.batches[1], tensors.HostDevice())
	require.NoError(t, err)
	assert.Equal(t, want, evaluation)
}

func TestCheckpointFailures(t *testing.T) {
	t.Run("MissingState", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model")
		s := newCheckpointSetup(t, 1)
		require.NoError(t, s.trainer.SaveCheckpoint(path, false))
		require.NoError(t, os.Remove(CheckpointStatePath(path)))
		s.train(t, 0, 1)
		before := s.model.ParamValues()
		combined := s.trainer.CombinedTrainingFunction()

		require.Error(t, s.trainer.RestoreFromCheckpoint(path, false))
		assertSameParams(t, before, s.model.ParamValues())
		assert.Same(t, combined, s.trainer.CombinedTrainingFunction())
		assert.Equal(t, 8, s.trainer.ParameterLearners()[0].TotalNumberOfSamplesSeen())
	})

	t.Run("CorruptState", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model")
		s := newCheckpointSetup(t, 1)
		require.NoError(t, s.trainer.SaveCheckpoint(path, false))
		require.NoError(t, os.WriteFile(CheckpointStatePath(path), []byte("not a record"), 0o644))
		s.train(t, 0, 1)
		before := s.model.ParamValues()
		require.Error(t, s.trainer.RestoreFromCheckpoint(path, false))
		assertSameParams(t, before, s.model.ParamValues())
	})

	t.Run("WrongFormat", func(t *testing.T) {
		dir := t.TempDir()
		recordsPath, legacyPath := filepath.Join(dir, "records"), filepath.Join(dir, "legacy")
		s := newCheckpointSetup(t, 1)
		require.NoError(t, s.trainer.SaveCheckpoint(recordsPath, false))
		require.NoError(t, s.trainer.SaveCheckpoint(legacyPath, true))
		s.train(t, 0, 1)
		before := s.model.ParamValues()

		err := s.trainer.RestoreFromCheckpoint(recordsPath, true)
		require.Error(t, err)
		// The metadata file of the legacy format is missing: it fails before reading the model.
		assertSameParams(t, before, s.model.ParamValues())

		require.Error(t, s.trainer.RestoreFromCheckpoint(legacyPath, false))
		assertSameParams(t, before, s.model.ParamValues())
		assert.Equal(t, 8, s.trainer.ParameterLearners()[0].TotalNumberOfSamplesSeen())
	})

	t.Run("MismatchedModel", func(t *testing.T) {
		// Same inputs and parameter uids as the checkpointSetup model, plus an extra parameter.
		path := filepath.Join(t.TempDir(), "model")
		other := graphtest.LinearRegression(dtypes.Double, 3, 2, 7)
		extra := graph.NewParameter(other.Graph, tensors.Full(dtypes.Double, shapes.Make(2), 1, tensors.HostDevice()), "extra")
		prediction := graph.Plus(other.Model.Output(), extra, "shifted")
		loss := graph.SquaredError(prediction, other.Labels, "loss").Owner()
		otherTrainer, err := NewTrainer(prediction.Owner(), loss, nil, []learners.Learner{
			learners.SGD([]*graph.Variable{other.Params[0], extra}).MustDone(),
			learners.SGD([]*graph.Variable{other.Params[1]}).MustDone(),
		})
		require.NoError(t, err)
		require.NoError(t, otherTrainer.SaveCheckpoint(path, false))

		s := newCheckpointSetup(t, 1)
		s.train(t, 0, 1)
		before := s.model.ParamValues()
		combined := s.trainer.CombinedTrainingFunction()
		err = s.trainer.RestoreFromCheckpoint(path, false)
		require.ErrorContains(t, err, "differ from the learners' parameters")
		assertSameParams(t, before, s.model.ParamValues())
		assert.Same(t, combined, s.trainer.CombinedTrainingFunction())
		assert.Nil(t, s.model.Graph.Leaf(extra.UID()), "leaves created by the failed restore are dropped")
		assert.Equal(t, 8, s.trainer.ParameterLearners()[0].TotalNumberOfSamplesSeen())
		s.train(t, 1, 2)
	})

	t.Run("LearnerCountMismatch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model")
		s := newCheckpointSetup(t, 1)
		require.NoError(t, s.trainer.SaveCheckpoint(path, false))

		m := graphtest.LinearRegression(dtypes.Double, 3, 2, 1)
		single, err := NewTrainer(m.Model, m.Loss, m.Evaluation,
			[]learners.Learner{learners.SGD(m.Params).MustDone()})
		require.NoError(t, err)
		assert.Panics(t, func() { _ = single.RestoreFromCheckpoint(path, false) })
	})
}
