// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/shapes"
)

// OpType enumerates the primitive operations.
//
// The integer values are written to model files: they are append-only.
type OpType int32

//go:generate go tool enumer -type=OpType -trimprefix=Op -output=gen_optype_enumer.go ops.go

const (
	OpCombine                 OpType = 0
	OpPlus                    OpType = 1
	OpMinus                   OpType = 2
	OpElementTimes            OpType = 3
	OpTimes                   OpType = 4
	OpNegate                  OpType = 5
	OpSigmoid                 OpType = 6
	OpTanh                    OpType = 7
	OpReLU                    OpType = 8
	OpExp                     OpType = 9
	OpLog                     OpType = 10
	OpSquaredError            OpType = 11
	OpCrossEntropyWithSoftmax OpType = 12
	OpClassificationError     OpType = 13
	OpReduceSum               OpType = 14
)

// Combine creates a Function whose outputs are the given variables, typically the outputs of other
// functions. It is used to execute several computations together.
func Combine(name string, outputs ...*Variable) *Function {
	if len(outputs) == 0 {
		exceptions.Panicf("Combine(%q): no outputs given", name)
	}
	g := outputs[0].graph
	for _, output := range outputs {
		g.assertSameGraph(output)
	}
	f := &Function{
		graph:   g,
		op:      OpCombine,
		name:    name,
		uid:     g.newUID(OpCombine.String()),
		inputs:  slices.Clone(outputs),
		outputs: slices.Clone(outputs),
	}
	g.registerFunction(f)
	return f
}

// checkInputs validates that all inputs belong to the same graph and have the same dtype.
func checkInputs(op OpType, inputs ...*Variable) *Graph {
	g := inputs[0].graph
	for _, input := range inputs {
		g.assertSameGraph(input)
		if input.dtype != inputs[0].dtype {
			exceptions.Panicf("%s: inputs have different dtypes: %s and %s", op, inputs[0], input)
		}
		if !input.dtype.IsSupported() {
			exceptions.Panicf("%s: input %s has unsupported dtype", op, input)
		}
	}
	return g
}

// broadcastShapes returns the output static shape and dynamic axes of an element-wise binary operation.
//
// The static shape of one operand must be a prefix of the other's. Only an operand without dynamic
// axes can be broadcast: if both have dynamic axes, their static shapes and dynamic axes must match.
func broadcastShapes(op OpType, lhs, rhs *Variable) (shapes.Shape, []shapes.Axis) {
	big, small := lhs, rhs
	if rhs.shape.Rank() > lhs.shape.Rank() {
		big, small = rhs, lhs
	}
	if !small.shape.IsPrefixOf(big.shape) {
		exceptions.Panicf("%s: incompatible shapes %s and %s", op, lhs, rhs)
	}
	switch {
	case len(small.dynamicAxes) == 0:
		// The data of small is a prefix of the data of big.
	case len(big.dynamicAxes) == 0 && small.shape.Equal(big.shape):
		big = small
	case slices.Equal(small.dynamicAxes, big.dynamicAxes) && small.shape.Equal(big.shape):
	default:
		exceptions.Panicf("%s: incompatible dynamic axes for %s and %s", op, lhs, rhs)
	}
	return big.shape.Clone(), slices.Clone(big.dynamicAxes)
}

func binaryOp(op OpType, lhs, rhs *Variable, name string) *Variable {
	g := checkInputs(op, lhs, rhs)
	shape, axes := broadcastShapes(op, lhs, rhs)
	return newPrimitive(g, op, name, []*Variable{lhs, rhs}, shape, axes).Output()
}

// Plus returns lhs + rhs, element-wise. The operand with smaller shape is broadcast.
func Plus(lhs, rhs *Variable, name string) *Variable { return binaryOp(OpPlus, lhs, rhs, name) }

// Minus returns lhs - rhs, element-wise. The operand with smaller shape is broadcast.
func Minus(lhs, rhs *Variable, name string) *Variable { return binaryOp(OpMinus, lhs, rhs, name) }

// ElementTimes returns lhs * rhs, element-wise. The operand with smaller shape is broadcast.
func ElementTimes(lhs, rhs *Variable, name string) *Variable {
	return binaryOp(OpElementTimes, lhs, rhs, name)
}

// Times returns the matrix product of weights, shaped [outputDim, inputDim], and x, shaped [inputDim].
// The dynamic axes of x are preserved, so the result is shaped [outputDim] with the dynamic axes of x.
func Times(weights, x *Variable, name string) *Variable {
	g := checkInputs(OpTimes, weights, x)
	if weights.shape.Rank() != 2 || len(weights.dynamicAxes) != 0 {
		exceptions.Panicf("Times: weights must be a matrix without dynamic axes, got %s", weights)
	}
	if x.shape.Rank() != 1 || x.shape.Dimensions[0] != weights.shape.Dimensions[1] {
		exceptions.Panicf("Times: x must be a vector of dimension %d, got %s", weights.shape.Dimensions[1], x)
	}
	return newPrimitive(g, OpTimes, name, []*Variable{weights, x},
		shapes.Make(weights.shape.Dimensions[0]), slices.Clone(x.dynamicAxes)).Output()
}

func unaryOp(op OpType, x *Variable, name string) *Variable {
	g := checkInputs(op, x)
	return newPrimitive(g, op, name, []*Variable{x}, x.shape.Clone(), slices.Clone(x.dynamicAxes)).Output()
}

// Negate returns -x.
func Negate(x *Variable, name string) *Variable { return unaryOp(OpNegate, x, name) }

// Sigmoid returns 1/(1+exp(-x)), element-wise.
func Sigmoid(x *Variable, name string) *Variable { return unaryOp(OpSigmoid, x, name) }

// Tanh returns the hyperbolic tangent of x, element-wise.
func Tanh(x *Variable, name string) *Variable { return unaryOp(OpTanh, x, name) }

// ReLU returns max(x, 0), element-wise.
func ReLU(x *Variable, name string) *Variable { return unaryOp(OpReLU, x, name) }

// Exp returns e^x, element-wise.
func Exp(x *Variable, name string) *Variable { return unaryOp(OpExp, x, name) }

// Log returns the natural logarithm of x, element-wise.
func Log(x *Variable, name string) *Variable { return unaryOp(OpLog, x, name) }

// perSampleOp checks that both operands have the same static shape and dynamic axes, and creates an
// op with one scalar per sample.
func perSampleOp(op OpType, lhs, rhs *Variable, name string) *Variable {
	g := checkInputs(op, lhs, rhs)
	if !lhs.shape.Equal(rhs.shape) || !slices.Equal(lhs.dynamicAxes, rhs.dynamicAxes) {
		exceptions.Panicf("%s: operands must have the same shape and dynamic axes, got %s and %s", op, lhs, rhs)
	}
	return newPrimitive(g, op, name, []*Variable{lhs, rhs}, shapes.Scalar(), slices.Clone(lhs.dynamicAxes)).Output()
}

// SquaredError returns, per sample, the sum over the static axes of (prediction - targets)^2.
func SquaredError(prediction, targets *Variable, name string) *Variable {
	return perSampleOp(OpSquaredError, prediction, targets, name)
}

// CrossEntropyWithSoftmax returns, per sample, the cross-entropy of softmax(logits) relative to the
// labels distribution. Both must be vectors (with dynamic axes) of the number of classes.
func CrossEntropyWithSoftmax(logits, labels *Variable, name string) *Variable {
	if logits.shape.Rank() != 1 {
		exceptions.Panicf("CrossEntropyWithSoftmax: logits must be a vector, got %s", logits)
	}
	return perSampleOp(OpCrossEntropyWithSoftmax, logits, labels, name)
}

// ClassificationError returns, per sample, 1 if the arg-max of prediction differs from the arg-max of
// labels, 0 otherwise. It is not differentiable.
func ClassificationError(prediction, labels *Variable, name string) *Variable {
	if prediction.shape.Rank() != 1 {
		exceptions.Panicf("ClassificationError: prediction must be a vector, got %s", prediction)
	}
	return perSampleOp(OpClassificationError, prediction, labels, name)
}

// ReduceSum returns the sum of all elements of x, over the static and the dynamic axes. The result is
// a scalar without dynamic axes. Samples marked as padding by the mask of x are excluded.
func ReduceSum(x *Variable, name string) *Variable {
	g := checkInputs(OpReduceSum, x)
	return newPrimitive(g, OpReduceSum, name, []*Variable{x}, shapes.Scalar(), nil).Output()
}
