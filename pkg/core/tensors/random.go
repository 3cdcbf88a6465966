// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/shapes"
)

// newRNG returns a deterministic generator for the given seed.
func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func fillWith(t *Tensor, sample func() float64) {
	switch flat := t.flat.(type) {
	case []float32:
		for ii := range flat {
			flat[ii] = float32(sample())
		}
	case []float64:
		for ii := range flat {
			flat[ii] = sample()
		}
	}
}

// RandomUniform creates a tensor with values sampled uniformly from [low, high).
// The same seed always generates the same values.
func RandomUniform(dtype dtypes.DType, shape shapes.Shape, low, high float64, seed uint64, device Device) *Tensor {
	if high < low {
		exceptions.Panicf("RandomUniform: high (%g) < low (%g)", high, low)
	}
	t := New(dtype, shape, device)
	rng := newRNG(seed)
	fillWith(t, func() float64 { return low + (high-low)*rng.Float64() })
	return t
}

// RandomNormal creates a tensor with values sampled from a normal distribution.
// The same seed always generates the same values.
func RandomNormal(dtype dtypes.DType, shape shapes.Shape, mean, stddev float64, seed uint64, device Device) *Tensor {
	t := New(dtype, shape, device)
	rng := newRNG(seed)
	fillWith(t, func() float64 { return mean + stddev*rng.NormFloat64() })
	return t
}
