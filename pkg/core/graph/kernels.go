// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

// This file implements the forward computation of the primitive operations.
// Element-wise functions are written in float64 and the results rounded to the dtype of the output.

// execNode is a primitive function being executed, with the values of its inputs.
type execNode struct {
	fn     *Function
	inputs []*tensors.Value
	device tensors.Device
}

// forwardKernel returns the value of the output of node.
type forwardKernel func(node *execNode) *tensors.Value

// forwardKernels are populated during initialization for the ops implemented. Combine has no kernel.
var forwardKernels = make(map[OpType]forwardKernel)

func init() {
	forwardKernels[OpPlus] = binaryKernel(func(a, b float64) float64 { return a + b })
	forwardKernels[OpMinus] = binaryKernel(func(a, b float64) float64 { return a - b })
	forwardKernels[OpElementTimes] = binaryKernel(func(a, b float64) float64 { return a * b })
	forwardKernels[OpTimes] = byDType(execTimes[float32], execTimes[float64])

	forwardKernels[OpNegate] = unaryKernel(func(x float64) float64 { return -x })
	forwardKernels[OpSigmoid] = unaryKernel(sigmoid)
	forwardKernels[OpTanh] = unaryKernel(math.Tanh)
	forwardKernels[OpReLU] = unaryKernel(func(x float64) float64 { return max(x, 0) })
	forwardKernels[OpExp] = unaryKernel(math.Exp)
	forwardKernels[OpLog] = unaryKernel(math.Log)

	forwardKernels[OpSquaredError] = byDType(execSquaredError[float32], execSquaredError[float64])
	forwardKernels[OpCrossEntropyWithSoftmax] = byDType(execCrossEntropyWithSoftmax[float32], execCrossEntropyWithSoftmax[float64])
	forwardKernels[OpClassificationError] = byDType(execClassificationError[float32], execClassificationError[float64])
	forwardKernels[OpReduceSum] = byDType(execReduceSum[float32], execReduceSum[float64])
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// byDType returns a kernel that dispatches to the implementation for the dtype of the inputs.
func byDType(float, double forwardKernel) forwardKernel {
	return func(node *execNode) *tensors.Value {
		switch dtype := node.inputs[0].DType(); dtype {
		case dtypes.Float:
			return float(node)
		case dtypes.Double:
			return double(node)
		default:
			exceptions.Panicf("%s: unsupported dtype %s", node.fn, dtype)
			return nil
		}
	}
}

// mergeMasks returns a mask where every sample invalid in any of the given masks is invalid.
// It returns nil if no mask is given.
func mergeMasks(masks ...*tensors.Mask) *tensors.Mask {
	var merged *tensors.Mask
	cloned := false
	for _, mask := range masks {
		if mask == nil || mask == merged {
			continue
		}
		if merged == nil {
			merged = mask
			continue
		}
		if !merged.Shape().Equal(mask.Shape()) {
			exceptions.Panicf("incompatible masks %s and %s", merged, mask)
		}
		if !cloned {
			merged, cloned = merged.Clone(), true
		}
		for ii := range mask.Size() {
			if !mask.IsValid(ii) {
				merged.Invalidate(ii)
			}
		}
	}
	return merged
}

// broadcastOperands returns the operand with the larger rank first, and the ratio of the sizes.
// The data shape of the smaller one must be a prefix of the larger one: element ii of the larger
// one corresponds to element ii/ratio of the smaller one.
func broadcastOperands(node *execNode) (big, small *tensors.Value, swapped bool, ratio int) {
	big, small = node.inputs[0], node.inputs[1]
	if small.Shape().Rank() > big.Shape().Rank() {
		big, small, swapped = small, big, true
	}
	if !small.Shape().IsPrefixOf(big.Shape()) {
		exceptions.Panicf("%s: cannot broadcast values shaped %s and %s", node.fn,
			node.inputs[0].Shape(), node.inputs[1].Shape())
	}
	ratio = 1
	if small.Data().Size() > 0 {
		ratio = big.Data().Size() / small.Data().Size()
	}
	return
}

func binaryKernel(fn func(a, b float64) float64) forwardKernel {
	return byDType(
		func(node *execNode) *tensors.Value { return execBinary[float32](node, fn) },
		func(node *execNode) *tensors.Value { return execBinary[float64](node, fn) })
}

func execBinary[T dtypes.Supported](node *execNode, fn func(a, b float64) float64) *tensors.Value {
	big, small, swapped, ratio := broadcastOperands(node)
	output := tensors.New(big.DType(), big.Shape(), node.device)
	bigFlat, smallFlat := tensors.DeviceFlatData[T](big.Data()), tensors.DeviceFlatData[T](small.Data())
	outFlat := tensors.DeviceMutableFlatData[T](output)
	for ii, b := range bigFlat {
		s := smallFlat[ii/ratio]
		if swapped {
			outFlat[ii] = T(fn(float64(s), float64(b)))
		} else {
			outFlat[ii] = T(fn(float64(b), float64(s)))
		}
	}
	return tensors.NewValue(output, mergeMasks(node.inputs[0].Mask(), node.inputs[1].Mask()))
}

func unaryKernel(fn func(x float64) float64) forwardKernel {
	return byDType(
		func(node *execNode) *tensors.Value { return execUnary[float32](node, fn) },
		func(node *execNode) *tensors.Value { return execUnary[float64](node, fn) })
}

func execUnary[T dtypes.Supported](node *execNode, fn func(x float64) float64) *tensors.Value {
	x := node.inputs[0]
	output := tensors.New(x.DType(), x.Shape(), node.device)
	outFlat := tensors.DeviceMutableFlatData[T](output)
	for ii, v := range tensors.DeviceFlatData[T](x.Data()) {
		outFlat[ii] = T(fn(float64(v)))
	}
	return tensors.NewValue(output, x.Mask())
}

// gemm computes c = op(a) * op(b), where op(a) is [m, k] and op(b) is [k, n], all in row-major order.
// If transA, a is stored as [k, m], and if transB, b is stored as [n, k].
func gemm[T dtypes.Supported](transA, transB bool, m, n, k int, a, b, c []T) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		clear(c)
		return
	}
	aRows, aCols := m, k
	tA := blas.NoTrans
	if transA {
		aRows, aCols, tA = k, m, blas.Trans
	}
	bRows, bCols := k, n
	tB := blas.NoTrans
	if transB {
		bRows, bCols, tB = n, k, blas.Trans
	}
	switch aFlat := any(a).(type) {
	case []float32:
		blas32.Gemm(tA, tB, 1,
			blas32.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: aFlat},
			blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float32)},
			0, blas32.General{Rows: m, Cols: n, Stride: n, Data: any(c).([]float32)})
	case []float64:
		blas64.Gemm(tA, tB, 1,
			blas64.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: aFlat},
			blas64.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float64)},
			0, blas64.General{Rows: m, Cols: n, Stride: n, Data: any(c).([]float64)})
	}
}

// timesDims returns the dimensions of the matrix product of a Times node: weights are [m, k],
// x is [k, n] where n is the product of the extents of the dynamic axes of x.
func timesDims(node *execNode) (m, k, n int) {
	weights, x := node.inputs[0].Shape(), node.inputs[1].Shape()
	m, k = weights.Dimensions[0], weights.Dimensions[1]
	if x.Rank() == 0 || x.Dimensions[0] != k {
		exceptions.Panicf("%s: x shaped %s is incompatible with weights shaped %s", node.fn, x, weights)
	}
	n = x.SubShape(1).Size()
	return
}

func execTimes[T dtypes.Supported](node *execNode) *tensors.Value {
	m, k, n := timesDims(node)
	x := node.inputs[1]
	output := tensors.New(x.DType(), shapes.Make(m).Concat(x.Shape().Dimensions[1:]...), node.device)
	gemm(false, false, m, n, k,
		tensors.DeviceFlatData[T](node.inputs[0].Data()), tensors.DeviceFlatData[T](x.Data()),
		tensors.DeviceMutableFlatData[T](output))
	return tensors.NewValue(output, x.Mask())
}

// perSampleDims checks that both operands have the same data shape, and returns the size of the
// static part (per sample) and the number of samples.
func perSampleDims(node *execNode) (staticSize, numSamples int, samplesShape shapes.Shape) {
	lhs, rhs := node.inputs[0], node.inputs[1]
	if !lhs.Shape().Equal(rhs.Shape()) {
		exceptions.Panicf("%s: operands have different shapes %s and %s", node.fn, lhs.Shape(), rhs.Shape())
	}
	staticRank := node.fn.inputs[0].shape.Rank()
	if lhs.Shape().Rank() < staticRank {
		exceptions.Panicf("%s: operand shaped %s has fewer axes than its static shape %s",
			node.fn, lhs.Shape(), node.fn.inputs[0].shape)
	}
	samplesShape = lhs.Shape().SubShape(staticRank)
	return lhs.Shape().Size() / max(samplesShape.Size(), 1), samplesShape.Size(), samplesShape
}

func perSampleOutput(node *execNode, samplesShape shapes.Shape) (*tensors.Tensor, *tensors.Mask) {
	return tensors.New(node.inputs[0].DType(), samplesShape, node.device),
		mergeMasks(node.inputs[0].Mask(), node.inputs[1].Mask())
}

func execSquaredError[T dtypes.Supported](node *execNode) *tensors.Value {
	staticSize, numSamples, samplesShape := perSampleDims(node)
	output, mask := perSampleOutput(node, samplesShape)
	prediction := tensors.DeviceFlatData[T](node.inputs[0].Data())
	targets := tensors.DeviceFlatData[T](node.inputs[1].Data())
	outFlat := tensors.DeviceMutableFlatData[T](output)
	for sample := range numSamples {
		var sum float64
		for j := range staticSize {
			diff := float64(prediction[j*numSamples+sample]) - float64(targets[j*numSamples+sample])
			sum += diff * diff
		}
		outFlat[sample] = T(sum)
	}
	return tensors.NewValue(output, mask)
}

// logSumExp returns log(sum(exp(logits[c*stride+offset]))) over the classes c.
func logSumExp[T dtypes.Supported](logits []T, numClasses, stride, offset int) float64 {
	maxLogit := math.Inf(-1)
	for c := range numClasses {
		maxLogit = max(maxLogit, float64(logits[c*stride+offset]))
	}
	var sum float64
	for c := range numClasses {
		sum += math.Exp(float64(logits[c*stride+offset]) - maxLogit)
	}
	return maxLogit + math.Log(sum)
}

func execCrossEntropyWithSoftmax[T dtypes.Supported](node *execNode) *tensors.Value {
	numClasses, numSamples, samplesShape := perSampleDims(node)
	output, mask := perSampleOutput(node, samplesShape)
	logits := tensors.DeviceFlatData[T](node.inputs[0].Data())
	labels := tensors.DeviceFlatData[T](node.inputs[1].Data())
	outFlat := tensors.DeviceMutableFlatData[T](output)
	for sample := range numSamples {
		lse := logSumExp(logits, numClasses, numSamples, sample)
		var sumLabels, dot float64
		for c := range numClasses {
			label := float64(labels[c*numSamples+sample])
			sumLabels += label
			dot += label * float64(logits[c*numSamples+sample])
		}
		outFlat[sample] = T(lse*sumLabels - dot)
	}
	return tensors.NewValue(output, mask)
}

func argMax[T dtypes.Supported](values []T, numClasses, stride, offset int) int {
	best := 0
	for c := 1; c < numClasses; c++ {
		if values[c*stride+offset] > values[best*stride+offset] {
			best = c
		}
	}
	return best
}

func execClassificationError[T dtypes.Supported](node *execNode) *tensors.Value {
	numClasses, numSamples, samplesShape := perSampleDims(node)
	output, mask := perSampleOutput(node, samplesShape)
	prediction := tensors.DeviceFlatData[T](node.inputs[0].Data())
	labels := tensors.DeviceFlatData[T](node.inputs[1].Data())
	outFlat := tensors.DeviceMutableFlatData[T](output)
	for sample := range numSamples {
		if argMax(prediction, numClasses, numSamples, sample) != argMax(labels, numClasses, numSamples, sample) {
			outFlat[sample] = 1
		}
	}
	return tensors.NewValue(output, mask)
}

// sampleValidity returns a function telling whether the element at a flat index is a valid sample.
// The extents of the dynamic axes are the trailing dimensions, so the sample of element ii is
// ii % mask.Size().
func sampleValidity(mask *tensors.Mask) func(ii int) bool {
	if mask == nil || mask.MaskedCount() == 0 {
		return func(int) bool { return true }
	}
	numSamples := mask.Size()
	return func(ii int) bool { return mask.IsValid(ii % numSamples) }
}

func execReduceSum[T dtypes.Supported](node *execNode) *tensors.Value {
	x := node.inputs[0]
	isValid := sampleValidity(x.Mask())
	var sum float64
	for ii, v := range tensors.DeviceFlatData[T](x.Data()) {
		if isValid(ii) {
			sum += float64(v)
		}
	}
	output := tensors.New(x.DType(), shapes.Scalar(), node.device)
	tensors.DeviceMutableFlatData[T](output)[0] = T(sum)
	return tensors.FromTensor(output)
}
