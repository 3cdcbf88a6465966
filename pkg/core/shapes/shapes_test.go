// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(3, 4, 5)
	assert.Equal(t, 3, s.Rank())
	assert.Equal(t, 60, s.Size())
	assert.Equal(t, 5, s.Dim(-1))
	assert.Equal(t, []int{4, 5}, s.SubShape(1).Dimensions)
	assert.True(t, s.SubShape(3).IsScalar())
	assert.Equal(t, 1, Scalar().Size())
	assert.Equal(t, "[3 4 5]", s.String())
	assert.Equal(t, "[]", Scalar().String())
	assert.True(t, Make(3, 4).IsPrefixOf(s))
	assert.True(t, Scalar().IsPrefixOf(s))
	assert.False(t, Make(4).IsPrefixOf(s))
	assert.True(t, Make(3, 4, 5, 2).Equal(s.Concat(2)))
	require.Panics(t, func() { Make(-1) })
	require.Panics(t, func() { s.Dim(3) })
	require.Panics(t, func() { s.SubShape(4) })
}

func TestAxis(t *testing.T) {
	batch := DefaultBatchAxis()
	assert.True(t, batch.IsDynamic())
	assert.False(t, batch.IsOrdered())
	assert.True(t, DefaultDynamicAxis().IsOrdered())
	assert.Equal(t, batch, DynamicAxis(DefaultBatchAxisName))
	assert.NotEqual(t, batch, DefaultDynamicAxis())
	static := StaticAxis(1)
	assert.True(t, static.IsStatic())
	assert.Equal(t, 1, static.StaticIndex())
	assert.Equal(t, static, NewAxis(static.StaticIndex(), static.Name(), false))
	assert.Equal(t, `Axis("defaultBatchAxis")`, batch.String())
}
