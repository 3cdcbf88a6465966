// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/symtrain/pkg/core/dictionary"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	. "github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/graph/graphtest"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeAndDecode passes the record through its binary encoding.
func encodeAndDecode(t *testing.T, d dictionary.Dictionary) dictionary.Dictionary {
	buf, err := dictionary.Marshal(d)
	require.NoError(t, err)
	decoded, err := dictionary.Unmarshal(buf)
	require.NoError(t, err)
	return decoded
}

func TestVariableSerialization(t *testing.T) {
	g := NewGraph("variables")
	x := InputWithOptions(g, shapes.Make(3), dtypes.Double, InputOptions{Name: "x", IsSparse: true})
	param := UniformInitParameter(g, shapes.Make(2, 3), dtypes.Float, 1, 3, tensors.HostDevice(), "w")
	constant := NewConstant(g, tensors.FromFlatDataAndDimensions([]float64{1, 2}, 2), "c")

	other := NewGraph("other")
	for _, v := range []*Variable{x, param, constant} {
		restored := VariableFromDictionary(other, encodeAndDecode(t, v.Serialize()), tensors.HostDevice())
		assert.Equal(t, v.UID(), restored.UID())
		assert.Equal(t, v.Kind(), restored.Kind())
		assert.Equal(t, v.Name(), restored.Name())
		assert.Equal(t, v.DType(), restored.DType())
		assert.True(t, v.Shape().Equal(restored.Shape()))
		assert.Equal(t, v.DynamicAxes(), restored.DynamicAxes())
		assert.Equal(t, v.IsSparse(), restored.IsSparse())
		assert.Equal(t, v.NeedsGradient(), restored.NeedsGradient())
		if v.IsParameter() || v.IsConstant() {
			assert.True(t, v.Value().Equal(restored.Value()))
			assert.NotSame(t, v.Value(), restored.Value())
			assert.Equal(t, v.IsConstant(), restored.Value().IsReadOnly())
		}
	}

	// Restoring into the graph with the same parameter reuses it.
	saved := param.Serialize()
	want := param.Value().DeepClone(tensors.HostDevice(), false)
	param.Value().Fill(0)
	assert.Same(t, param, VariableFromDictionary(g, saved, tensors.HostDevice()))
	assert.True(t, want.Equal(param.Value()))

	// New variables never reuse uids loaded in the graph.
	fresh := Input(other, shapes.Make(3), dtypes.Double, "")
	assert.NotEqual(t, x.UID(), fresh.UID())
	assert.NotEqual(t, param.UID(), UniformInitParameter(other, shapes.Make(2), dtypes.Float, 1, 3, tensors.HostDevice(), "").UID())

	// Invalid records.
	assert.Panics(t, func() { _ = Negate(x, "").Serialize() })
	corrupt := func(key string, value dictionary.Value) dictionary.Dictionary {
		d := param.Serialize()
		d[key] = value
		return d
	}
	assert.Panics(t, func() { VariableFromDictionary(other, corrupt("kind", dictionary.SizeT(99)), tensors.HostDevice()) })
	assert.Panics(t, func() { VariableFromDictionary(other, corrupt("kind", dictionary.SizeT(uint64(KindOutput))), tensors.HostDevice()) })
	assert.Panics(t, func() { VariableFromDictionary(other, corrupt("data_type", dictionary.SizeT(99)), tensors.HostDevice()) })
	assert.Panics(t, func() { VariableFromDictionary(other, corrupt("version", dictionary.SizeT(99)), tensors.HostDevice()) })
	assert.Panics(t, func() { VariableFromDictionary(other, corrupt("type", dictionary.String("Function")), tensors.HostDevice()) })
	assert.Panics(t, func() { VariableFromDictionary(other, corrupt("shape", dictionary.Bool(true)), tensors.HostDevice()) })
	missing := param.Serialize()
	delete(missing, "value")
	assert.Panics(t, func() { VariableFromDictionary(NewGraph("empty"), missing, tensors.HostDevice()) })
}

func TestSaveAndLoad(t *testing.T) {
	m := graphtest.LinearRegression(dtypes.Float, 3, 2, 42)
	f := Combine("all", m.Model.Output(), m.Loss.Output())
	saved := encodeAndDecode(t, Save(f))
	args := m.Arguments(
		graphtest.Value(m.Features, []float32{1, 2, 3, 4, 5, 6}, 2),
		graphtest.Value(m.Labels, []float32{1, 0, 0, 1}, 2))
	original := map[*Variable]*tensors.Value{m.Model.Output(): nil, m.Loss.Output(): nil}
	_, err := f.Forward(args, original, tensors.HostDevice())
	require.NoError(t, err)

	t.Run("NewGraph", func(t *testing.T) {
		g := NewGraph("loaded")
		loaded := Load(g, saved, tensors.HostDevice())
		assert.Equal(t, f.UID(), loaded.UID())
		assert.Equal(t, "all", loaded.Name())
		placeholders := loaded.Placeholders()
		require.Len(t, placeholders, 2)
		assert.Equal(t, m.Features.UID(), placeholders[0].UID())
		assert.Equal(t, m.Features.DynamicAxes(), placeholders[0].DynamicAxes())
		params := loaded.Parameters()
		require.Len(t, params, len(m.Params))
		for ii, param := range params {
			assert.Equal(t, m.Params[ii].UID(), param.UID())
			assert.True(t, m.Params[ii].Value().Equal(param.Value()))
		}

		// Variables are matched by uid: the original variables can be used to execute the loaded function.
		outputs := map[*Variable]*tensors.Value{m.Model.Output(): nil, m.Loss.Output(): nil}
		_, err := loaded.Forward(args, outputs, tensors.HostDevice())
		require.NoError(t, err)
		for v, value := range original {
			assert.True(t, value.Data().Equal(outputs[v].Data()), "output %s", v)
		}
	})

	t.Run("SameGraph", func(t *testing.T) {
		want := m.ParamValues()
		for _, param := range m.Params {
			param.Value().Fill(1)
		}
		loaded := Load(m.Graph, saved, tensors.HostDevice())
		params := loaded.Parameters()
		require.Len(t, params, len(m.Params))
		for ii, param := range params {
			assert.Same(t, m.Params[ii], param)
			assert.True(t, want[ii].Equal(param.Value()))
		}
	})

	t.Run("SnapshotRestore", func(t *testing.T) {
		for _, param := range m.Params {
			param.Value().Fill(1)
		}
		want := m.ParamValues()
		added := NewGraph("other")
		loadedElsewhere := Load(added, saved, tensors.HostDevice())
		extra := NewParameter(added, tensors.Full(dtypes.Float, shapes.Make(2), 3, tensors.HostDevice()), "extra")
		shifted := Plus(loadedElsewhere.Outputs()[0], extra, "shifted")
		other := encodeAndDecode(t, Save(shifted.Owner()))

		snapshot := m.Graph.SnapshotLeaves()
		Load(m.Graph, other, tensors.HostDevice())
		require.NotNil(t, m.Graph.Leaf(extra.UID()))
		assert.False(t, want[0].Equal(m.Params[0].Value()), "Load overwrites the parameters in place")
		snapshot.Restore()
		assert.Nil(t, m.Graph.Leaf(extra.UID()))
		for ii, param := range m.Params {
			assert.Same(t, param, m.Graph.Leaf(param.UID()))
			assert.True(t, want[ii].Equal(param.Value()), "parameter #%d", ii)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		d := saved.DeepClone()
		d["root"] = dictionary.String("unknown")
		assert.Panics(t, func() { Load(NewGraph(""), d, tensors.HostDevice()) })
		d = saved.DeepClone()
		d["type"] = dictionary.String("Variable")
		assert.Panics(t, func() { Load(NewGraph(""), d, tensors.HostDevice()) })
	})
}

func TestLegacyModel(t *testing.T) {
	m := graphtest.LinearRegression(dtypes.Double, 4, 2, 17)
	dir := t.TempDir()
	path := filepath.Join(dir, "model")
	require.NoError(t, SaveAsLegacyModel(m.Loss, path))
	want := m.ParamValues()
	for _, param := range m.Params {
		param.Value().Fill(0)
	}
	require.NoError(t, m.Loss.RestoreFromLegacyModel(path))
	for ii, param := range m.Params {
		assert.True(t, want[ii].Equal(param.Value()), "parameter %s", param)
	}

	// A different graph with the same structure.
	other := graphtest.LinearRegression(dtypes.Double, 4, 2, 99)
	require.NoError(t, other.Loss.RestoreFromLegacyModel(path))
	for ii, param := range other.Params {
		assert.True(t, want[ii].Equal(param.Value()), "parameter %s", param)
	}

	// Fails fast without metadata.
	assert.Error(t, m.Loss.RestoreFromLegacyModel(filepath.Join(dir, "missing")))

	// A structured-record model is not a legacy model.
	recordPath := filepath.Join(dir, "record")
	buf, err := dictionary.Marshal(Save(m.Loss))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(recordPath, buf, 0o644))
	metadata, err := os.ReadFile(path + LegacyMetadataSuffix)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(recordPath+LegacyMetadataSuffix, metadata, 0o644))
	err = m.Loss.RestoreFromLegacyModel(recordPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "structured-record")

	// Incompatible shapes: nothing is modified.
	bigger := graphtest.LinearRegression(dtypes.Double, 5, 2, 3)
	before := bigger.ParamValues()
	assert.Error(t, bigger.Loss.RestoreFromLegacyModel(path))
	for ii, param := range bigger.Params {
		assert.True(t, before[ii].Equal(param.Value()), "parameter %s", param)
	}
}
