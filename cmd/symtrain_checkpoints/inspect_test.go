// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/graph/graphtest"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/gomlx/symtrain/pkg/ml/learners"
	"github.com/gomlx/symtrain/pkg/ml/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// saveCheckpoint trains a linear regression for one step and saves it to path.
func saveCheckpoint(t *testing.T, path string, legacyFormat bool) {
	m := graphtest.LinearRegression(dtypes.Float, 3, 2, 1)
	weights, bias := m.Params[0], m.Params[1]
	trainer, err := train.NewTrainer(m.Model, m.Loss, m.Evaluation, []learners.Learner{
		learners.MomentumSGD([]*graph.Variable{weights}).MustDone(),
		learners.SGD([]*graph.Variable{bias}).MustDone(),
	})
	require.NoError(t, err)
	features := tensors.FromFlatDataAndDimensions(make([]float32, 3*4), 3, 4)
	labels := tensors.FromFlatDataAndDimensions(make([]float32, 2*4), 2, 4)
	_, err = trainer.TrainMinibatch(m.Arguments(tensors.FromTensor(features), tensors.FromTensor(labels)), tensors.HostDevice())
	require.NoError(t, err)
	require.NoError(t, trainer.SaveCheckpoint(path, legacyFormat))
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model")
	saveCheckpoint(t, path, false)

	model, err := loadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "combinedTraining", model.Name())
	states, err := describeLearners(path)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, learners.StateSummary{Algorithm: "MomentumSGD", SampleCount: 4, MinibatchCount: 1,
		NumBuffers: 1, BufferBytes: 6 * 4}, states[0])
	assert.Equal(t, "SGD", states[1].Algorithm)

	summary := make(map[string]string)
	for _, row := range summaryRows(path, model, states) {
		summary[row[0]] = row[1]
	}
	assert.Equal(t, "2", summary["# parameters"])
	assert.Equal(t, "8", summary["# parameter elements"])
	assert.Equal(t, "2", summary["# arguments"])
	assert.Equal(t, "2", summary["# learners"])
	assert.Equal(t, "4", summary["samples seen"])

	rows := variableRows(model, []graph.Kind{graph.KindParameter})
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Len(t, row, len(variablesHeader))
		assert.Equal(t, "Parameter", row[0])
	}
	assert.Len(t, variableRows(model, []graph.Kind{graph.KindPlaceholder}), 2,
		"inputs are loaded as placeholders")
	assert.Empty(t, variableRows(model, []graph.Kind{graph.KindInput}))

	learnerTable := learnerRows(states)
	require.Len(t, learnerTable, 2)
	assert.Equal(t, []string{"0", "MomentumSGD", "4", "1", "1", "24 B"}, learnerTable[0])
}

func TestInspectFailures(t *testing.T) {
	dir := t.TempDir()
	_, err := loadModel(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	legacyPath := filepath.Join(dir, "legacy")
	saveCheckpoint(t, legacyPath, true)
	_, err = loadModel(legacyPath)
	assert.ErrorContains(t, err, "legacy")
	// The learners' state is the same in both formats.
	states, err := describeLearners(legacyPath)
	require.NoError(t, err)
	assert.Len(t, states, 2)

	_, err = describeLearners(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
