// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package learners

import (
	"math"

	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
)

// stepConfig holds the values of one update, already scaled by the minibatch sample count.
type stepConfig struct {
	lr, momentum, epsilon float64
	l2, clip              float64
}

// applyStep updates param in place. buffer is nil for AlgorithmSGD.
func applyStep(algorithm Algorithm, step stepConfig, param, grad, buffer *tensors.Tensor) {
	switch param.DType() {
	case dtypes.Float:
		updateFlat(algorithm, step, tensors.DeviceMutableFlatData[float32](param),
			tensors.DeviceFlatData[float32](grad), bufferFlat[float32](buffer))
	case dtypes.Double:
		updateFlat(algorithm, step, tensors.DeviceMutableFlatData[float64](param),
			tensors.DeviceFlatData[float64](grad), bufferFlat[float64](buffer))
	}
}

func bufferFlat[T dtypes.Supported](buffer *tensors.Tensor) []T {
	if buffer == nil {
		return nil
	}
	return tensors.DeviceMutableFlatData[T](buffer)
}

func updateFlat[T dtypes.Supported](algorithm Algorithm, step stepConfig, param, grad, buffer []T) {
	for ii := range param {
		p := float64(param[ii])
		g := float64(grad[ii])
		if step.l2 > 0 {
			g += step.l2 * p
		}
		g = max(-step.clip, min(step.clip, g))
		switch algorithm {
		case AlgorithmSGD:
			p -= step.lr * g
		case AlgorithmMomentumSGD:
			velocity := step.momentum*float64(buffer[ii]) + g
			buffer[ii] = T(velocity)
			p -= step.lr * velocity
		case AlgorithmNesterov:
			velocity := step.momentum*float64(buffer[ii]) + g
			buffer[ii] = T(velocity)
			p -= step.lr * (g + step.momentum*velocity)
		case AlgorithmAdaGrad:
			accumulator := float64(buffer[ii]) + g*g
			buffer[ii] = T(accumulator)
			p -= step.lr * g / (math.Sqrt(accumulator) + step.epsilon)
		}
		param[ii] = T(p)
	}
}
