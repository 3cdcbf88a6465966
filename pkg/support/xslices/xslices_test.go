// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"flag"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumbers(t *testing.T) {
	assert.Equal(t, 6, Sum([]int{1, 2, 3}))
	assert.Equal(t, 3.5, Sum([]float64{1, 2.5}))
	assert.Equal(t, float32(0), Sum[float32](nil))
	assert.Equal(t, []string{"1", "2"}, Map([]int{1, 2}, strconv.Itoa))
}

func TestFlag(t *testing.T) {
	flagSet := flag.NewFlagSet("test", flag.ContinueOnError)
	values := Flag(flagSet, "values", []int{7}, "list of ints", strconv.Atoi)
	assert.Equal(t, []int{7}, *values)
	require.NoError(t, flagSet.Parse([]string{"-values=1, 2,3"}))
	assert.Equal(t, []int{1, 2, 3}, *values)
	assert.Equal(t, "1,2,3", flagSet.Lookup("values").Value.String())
	assert.Error(t, flagSet.Parse([]string{"-values=1,x"}))
}
