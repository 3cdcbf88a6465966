// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
)

// This file implements the reverse-mode differentiation of the primitive operations:
// the VJP (vector-jacobian product) of each operation.

// vjpKernel returns the gradient with respect to each of the inputs of node, given the value of its
// output and the gradient with respect to it. Entries are nil for inputs that are not differentiable.
type vjpKernel func(node *execNode, output *tensors.Value, outputGrad *tensors.Tensor) []*tensors.Tensor

// vjpKernels are populated during initialization, in the same way as forwardKernels.
var vjpKernels = make(map[OpType]vjpKernel)

func init() {
	vjpKernels[OpPlus] = binaryVJP(
		func(_, _, g float64) float64 { return g },
		func(_, _, g float64) float64 { return g })
	vjpKernels[OpMinus] = binaryVJP(
		func(_, _, g float64) float64 { return g },
		func(_, _, g float64) float64 { return -g })
	vjpKernels[OpElementTimes] = binaryVJP(
		func(_, b, g float64) float64 { return g * b },
		func(a, _, g float64) float64 { return g * a })
	vjpKernels[OpTimes] = vjpByDType(timesVJP[float32], timesVJP[float64])

	vjpKernels[OpNegate] = unaryVJP(func(_, _, g float64) float64 { return -g })
	vjpKernels[OpSigmoid] = unaryVJP(func(_, y, g float64) float64 { return g * y * (1 - y) })
	vjpKernels[OpTanh] = unaryVJP(func(_, y, g float64) float64 { return g * (1 - y*y) })
	vjpKernels[OpReLU] = unaryVJP(func(x, _, g float64) float64 {
		if x > 0 {
			return g
		}
		return 0
	})
	vjpKernels[OpExp] = unaryVJP(func(_, y, g float64) float64 { return g * y })
	vjpKernels[OpLog] = unaryVJP(func(x, _, g float64) float64 { return g / x })

	vjpKernels[OpSquaredError] = vjpByDType(squaredErrorVJP[float32], squaredErrorVJP[float64])
	vjpKernels[OpCrossEntropyWithSoftmax] = vjpByDType(crossEntropyWithSoftmaxVJP[float32], crossEntropyWithSoftmaxVJP[float64])
	vjpKernels[OpClassificationError] = func(*execNode, *tensors.Value, *tensors.Tensor) []*tensors.Tensor {
		return []*tensors.Tensor{nil, nil}
	}
	vjpKernels[OpReduceSum] = vjpByDType(reduceSumVJP[float32], reduceSumVJP[float64])
}

func vjpByDType(float, double vjpKernel) vjpKernel {
	return func(node *execNode, output *tensors.Value, outputGrad *tensors.Tensor) []*tensors.Tensor {
		switch dtype := outputGrad.DType(); dtype {
		case dtypes.Float:
			return float(node, output, outputGrad)
		case dtypes.Double:
			return double(node, output, outputGrad)
		default:
			exceptions.Panicf("%s: unsupported dtype %s for gradient", node.fn, dtype)
			return nil
		}
	}
}

func gradLike(value *tensors.Value, device tensors.Device) *tensors.Tensor {
	return tensors.New(value.DType(), value.Shape(), device)
}

// binaryGradFn returns the gradient with respect to one of the operands, given both operands a and b
// and the output gradient g.
type binaryGradFn func(a, b, g float64) float64

func binaryVJP(lhsFn, rhsFn binaryGradFn) vjpKernel {
	return vjpByDType(
		func(node *execNode, _ *tensors.Value, g *tensors.Tensor) []*tensors.Tensor {
			return execBinaryVJP[float32](node, g, lhsFn, rhsFn)
		},
		func(node *execNode, _ *tensors.Value, g *tensors.Tensor) []*tensors.Tensor {
			return execBinaryVJP[float64](node, g, lhsFn, rhsFn)
		})
}

// execBinaryVJP accumulates the gradient of the broadcast operand over the elements it was broadcast to.
func execBinaryVJP[T dtypes.Supported](node *execNode, outputGrad *tensors.Tensor, lhsFn, rhsFn binaryGradFn) []*tensors.Tensor {
	big, small, swapped, ratio := broadcastOperands(node)
	bigGradFn, smallGradFn := lhsFn, rhsFn
	if swapped {
		bigGradFn, smallGradFn = rhsFn, lhsFn
	}
	bigGrad, smallGrad := gradLike(big, node.device), gradLike(small, node.device)
	bigFlat, smallFlat := tensors.DeviceFlatData[T](big.Data()), tensors.DeviceFlatData[T](small.Data())
	bigGradFlat, smallGradFlat := tensors.DeviceMutableFlatData[T](bigGrad), tensors.DeviceMutableFlatData[T](smallGrad)
	accumulated := make([]float64, len(smallFlat))
	for ii, g := range tensors.DeviceFlatData[T](outputGrad) {
		b, s := float64(bigFlat[ii]), float64(smallFlat[ii/ratio])
		lhs, rhs := b, s
		if swapped {
			lhs, rhs = s, b
		}
		bigGradFlat[ii] = T(bigGradFn(lhs, rhs, float64(g)))
		accumulated[ii/ratio] += smallGradFn(lhs, rhs, float64(g))
	}
	for ii, v := range accumulated {
		smallGradFlat[ii] = T(v)
	}
	if swapped {
		return []*tensors.Tensor{smallGrad, bigGrad}
	}
	return []*tensors.Tensor{bigGrad, smallGrad}
}

// unaryGradFn returns the gradient with respect to the operand x, given the output y and the output gradient g.
type unaryGradFn func(x, y, g float64) float64

func unaryVJP(fn unaryGradFn) vjpKernel {
	return vjpByDType(
		func(node *execNode, output *tensors.Value, g *tensors.Tensor) []*tensors.Tensor {
			return execUnaryVJP[float32](node, output, g, fn)
		},
		func(node *execNode, output *tensors.Value, g *tensors.Tensor) []*tensors.Tensor {
			return execUnaryVJP[float64](node, output, g, fn)
		})
}

func execUnaryVJP[T dtypes.Supported](node *execNode, output *tensors.Value, outputGrad *tensors.Tensor, fn unaryGradFn) []*tensors.Tensor {
	x := node.inputs[0]
	xGrad := gradLike(x, node.device)
	xFlat, yFlat := tensors.DeviceFlatData[T](x.Data()), tensors.DeviceFlatData[T](output.Data())
	xGradFlat := tensors.DeviceMutableFlatData[T](xGrad)
	for ii, g := range tensors.DeviceFlatData[T](outputGrad) {
		xGradFlat[ii] = T(fn(float64(xFlat[ii]), float64(yFlat[ii]), float64(g)))
	}
	return []*tensors.Tensor{xGrad}
}

// timesVJP: for y = W·x, dW = g·xᵀ and dx = Wᵀ·g.
func timesVJP[T dtypes.Supported](node *execNode, _ *tensors.Value, outputGrad *tensors.Tensor) []*tensors.Tensor {
	m, k, n := timesDims(node)
	weights, x := node.inputs[0], node.inputs[1]
	weightsGrad, xGrad := gradLike(weights, node.device), gradLike(x, node.device)
	g := tensors.DeviceFlatData[T](outputGrad)
	gemm(false, true, m, k, n, g, tensors.DeviceFlatData[T](x.Data()), tensors.DeviceMutableFlatData[T](weightsGrad))
	gemm(true, false, k, n, m, tensors.DeviceFlatData[T](weights.Data()), g, tensors.DeviceMutableFlatData[T](xGrad))
	return []*tensors.Tensor{weightsGrad, xGrad}
}

func squaredErrorVJP[T dtypes.Supported](node *execNode, _ *tensors.Value, outputGrad *tensors.Tensor) []*tensors.Tensor {
	staticSize, numSamples, _ := perSampleDims(node)
	prediction, targets := node.inputs[0], node.inputs[1]
	predictionGrad, targetsGrad := gradLike(prediction, node.device), gradLike(targets, node.device)
	p, t := tensors.DeviceFlatData[T](prediction.Data()), tensors.DeviceFlatData[T](targets.Data())
	pGrad, tGrad := tensors.DeviceMutableFlatData[T](predictionGrad), tensors.DeviceMutableFlatData[T](targetsGrad)
	g := tensors.DeviceFlatData[T](outputGrad)
	for sample := range numSamples {
		for j := range staticSize {
			idx := j*numSamples + sample
			d := 2 * float64(g[sample]) * (float64(p[idx]) - float64(t[idx]))
			pGrad[idx] = T(d)
			tGrad[idx] = T(-d)
		}
	}
	return []*tensors.Tensor{predictionGrad, targetsGrad}
}

// crossEntropyWithSoftmaxVJP: for loss = lse(z)*sum(l) - l·z, dz = g*(softmax(z)*sum(l) - l), and
// dl = g*(lse(z) - z).
func crossEntropyWithSoftmaxVJP[T dtypes.Supported](node *execNode, _ *tensors.Value, outputGrad *tensors.Tensor) []*tensors.Tensor {
	numClasses, numSamples, _ := perSampleDims(node)
	logits, labels := node.inputs[0], node.inputs[1]
	logitsGrad, labelsGrad := gradLike(logits, node.device), gradLike(labels, node.device)
	z, l := tensors.DeviceFlatData[T](logits.Data()), tensors.DeviceFlatData[T](labels.Data())
	zGrad, lGrad := tensors.DeviceMutableFlatData[T](logitsGrad), tensors.DeviceMutableFlatData[T](labelsGrad)
	g := tensors.DeviceFlatData[T](outputGrad)
	for sample := range numSamples {
		lse := logSumExp(z, numClasses, numSamples, sample)
		var sumLabels float64
		for c := range numClasses {
			sumLabels += float64(l[c*numSamples+sample])
		}
		gs := float64(g[sample])
		for c := range numClasses {
			idx := c*numSamples + sample
			softmax := math.Exp(float64(z[idx]) - lse)
			zGrad[idx] = T(gs * (softmax*sumLabels - float64(l[idx])))
			lGrad[idx] = T(gs * (lse - float64(z[idx])))
		}
	}
	return []*tensors.Tensor{logitsGrad, labelsGrad}
}

// reduceSumVJP broadcasts the output gradient to every valid sample; padding gets no gradient.
func reduceSumVJP[T dtypes.Supported](node *execNode, _ *tensors.Value, outputGrad *tensors.Tensor) []*tensors.Tensor {
	x := node.inputs[0]
	xGrad := gradLike(x, node.device)
	g := T(tensors.DeviceFlatData[T](outputGrad)[0])
	isValid := sampleValidity(x.Mask())
	xGradFlat := tensors.DeviceMutableFlatData[T](xGrad)
	for ii := range xGradFlat {
		if isValid(ii) {
			xGradFlat[ii] = g
		}
	}
	return []*tensors.Tensor{xGrad}
}

// zeroMasked sets to zero the elements of t (shaped like the data masked by mask) of padding samples.
func zeroMasked(t *tensors.Tensor, mask *tensors.Mask) {
	if mask == nil || mask.MaskedCount() == 0 {
		return
	}
	isValid := sampleValidity(mask)
	switch t.DType() {
	case dtypes.Float:
		zeroInvalid(tensors.DeviceMutableFlatData[float32](t), isValid)
	case dtypes.Double:
		zeroInvalid(tensors.DeviceMutableFlatData[float64](t), isValid)
	}
}

func zeroInvalid[T dtypes.Supported](flat []T, isValid func(int) bool) {
	for ii := range flat {
		if !isValid(ii) {
			flat[ii] = 0
		}
	}
}

// accumulateGrad adds src to dst, element-wise.
func accumulateGrad(dst, src *tensors.Tensor) {
	switch dst.DType() {
	case dtypes.Float:
		addInPlace(tensors.DeviceMutableFlatData[float32](dst), tensors.DeviceFlatData[float32](src))
	case dtypes.Double:
		addInPlace(tensors.DeviceMutableFlatData[float64](dst), tensors.DeviceFlatData[float64](src))
	}
}

func addInPlace[T dtypes.Supported](dst, src []T) {
	for ii, v := range src {
		dst[ii] += v
	}
}
