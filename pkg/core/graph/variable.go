// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
)

// Kind of Variable.
//
// The integer values are written to model files: they are append-only.
type Kind int32

//go:generate go tool enumer -type=Kind -trimprefix=Kind -output=gen_kind_enumer.go variable.go

const (
	// KindInput is a variable bound to user data at execution time.
	KindInput Kind = 0

	// KindOutput is the output of a primitive Function.
	KindOutput Kind = 1

	// KindParameter is a learnable variable, with a value stored in the Graph.
	KindParameter Kind = 2

	// KindConstant is a variable with an immutable value stored in the Graph.
	KindConstant Kind = 3

	// KindPlaceholder is a variable to be replaced by another one, see Function.ReplacePlaceholders.
	KindPlaceholder Kind = 4
)

// Variable is a symbolic node of the graph.
type Variable struct {
	graph         *Graph
	kind          Kind
	shape         shapes.Shape
	dtype         dtypes.DType
	isSparse      bool
	needsGradient bool
	name          string
	uid           string
	dynamicAxes   []shapes.Axis

	// owner is the Function producing a KindOutput variable, InvalidFunctionID otherwise.
	owner FunctionID
}

// InputOptions are optional attributes of an input variable.
type InputOptions struct {
	Name          string
	NeedsGradient bool
	IsSparse      bool

	// DynamicAxes of the input. If nil, shapes.DefaultInputDynamicAxes is used.
	// Use an empty non-nil slice for an input without dynamic axes.
	DynamicAxes []shapes.Axis
}

// Input creates an input variable with the default dynamic axes (sequence and batch).
func Input(g *Graph, shape shapes.Shape, dtype dtypes.DType, name string) *Variable {
	return InputWithOptions(g, shape, dtype, InputOptions{Name: name})
}

// InputWithOptions creates an input variable.
func InputWithOptions(g *Graph, shape shapes.Shape, dtype dtypes.DType, options InputOptions) *Variable {
	assertSupportedDType("Input", dtype)
	axes := options.DynamicAxes
	if axes == nil {
		axes = shapes.DefaultInputDynamicAxes()
	}
	assertDynamicAxes("Input", axes)
	return newVariable(g, KindInput, shape, dtype, options.Name, options.NeedsGradient, options.IsSparse, axes)
}

// Placeholder creates a placeholder variable, to be replaced with Function.ReplacePlaceholders.
func Placeholder(g *Graph, shape shapes.Shape, dtype dtypes.DType, dynamicAxes []shapes.Axis, name string) *Variable {
	assertDynamicAxes("Placeholder", dynamicAxes)
	return newVariable(g, KindPlaceholder, shape, dtype, name, false, false, dynamicAxes)
}

// NewParameter creates a learnable parameter initialized with value.
// The tensor becomes owned by the graph: it is updated in place during training.
func NewParameter(g *Graph, value *tensors.Tensor, name string) *Variable {
	assertSupportedDType("NewParameter", value.DType())
	if value.IsReadOnly() {
		value = value.CopyTo(value.Device())
	}
	v := newVariable(g, KindParameter, value.Shape(), value.DType(), name, true, false, nil)
	g.setValue(v.uid, value)
	g.leaves[v.uid] = v
	return v
}

// NewConstant creates a constant holding an immutable copy of value.
func NewConstant(g *Graph, value *tensors.Tensor, name string) *Variable {
	assertSupportedDType("NewConstant", value.DType())
	v := newVariable(g, KindConstant, value.Shape(), value.DType(), name, false, false, nil)
	g.setValue(v.uid, value.DeepClone(value.Device(), true))
	g.leaves[v.uid] = v
	return v
}

// UniformInitParameter creates a parameter with values sampled uniformly from [-scale, scale).
func UniformInitParameter(g *Graph, shape shapes.Shape, dtype dtypes.DType, scale float64, seed uint64,
	device tensors.Device, name string) *Variable {
	assertSupportedDType("UniformInitParameter", dtype)
	return NewParameter(g, tensors.RandomUniform(dtype, shape, -scale, scale, seed, device), name)
}

// NormalInitParameter creates a parameter with values sampled from a normal distribution centered at 0.
func NormalInitParameter(g *Graph, shape shapes.Shape, dtype dtypes.DType, stddev float64, seed uint64,
	device tensors.Device, name string) *Variable {
	assertSupportedDType("NormalInitParameter", dtype)
	return NewParameter(g, tensors.RandomNormal(dtype, shape, 0, stddev, seed, device), name)
}

func assertSupportedDType(caller string, dtype dtypes.DType) {
	if !dtype.IsSupported() {
		exceptions.Panicf("%s: unsupported dtype %s", caller, dtype)
	}
}

func assertDynamicAxes(caller string, axes []shapes.Axis) {
	for _, axis := range axes {
		if !axis.IsDynamic() {
			exceptions.Panicf("%s: %s is not a dynamic axis", caller, axis)
		}
	}
}

func newVariable(g *Graph, kind Kind, shape shapes.Shape, dtype dtypes.DType, name string,
	needsGradient, isSparse bool, dynamicAxes []shapes.Axis) *Variable {
	return &Variable{
		graph:         g,
		kind:          kind,
		shape:         shape.Clone(),
		dtype:         dtype,
		isSparse:      isSparse,
		needsGradient: needsGradient,
		name:          name,
		uid:           g.newUID(kind.String()),
		dynamicAxes:   slices.Clone(dynamicAxes),
		owner:         InvalidFunctionID,
	}
}

// Graph returns the graph owning the variable.
func (v *Variable) Graph() *Graph { return v.graph }

// Kind of the variable.
func (v *Variable) Kind() Kind { return v.kind }

// Shape returns the static shape of the variable.
func (v *Variable) Shape() shapes.Shape { return v.shape }

// DType of the variable.
func (v *Variable) DType() dtypes.DType { return v.dtype }

// IsSparse returns whether the variable's data is expected to be sparse.
func (v *Variable) IsSparse() bool { return v.isSparse }

// NeedsGradient returns whether gradients with respect to this variable are tracked.
func (v *Variable) NeedsGradient() bool { return v.needsGradient }

// Name of the variable, not necessarily unique.
func (v *Variable) Name() string { return v.name }

// UID is the unique identifier of the variable in its graph.
// It is preserved when a function is saved and loaded.
func (v *Variable) UID() string { return v.uid }

// DynamicAxes returns the dynamic axes of the variable, in the order their extents appear in the data.
func (v *Variable) DynamicAxes() []shapes.Axis { return slices.Clone(v.dynamicAxes) }

// NumDynamicAxes returns the number of dynamic axes.
func (v *Variable) NumDynamicAxes() int { return len(v.dynamicAxes) }

// IsInput returns whether the variable is an Input.
func (v *Variable) IsInput() bool { return v.kind == KindInput }

// IsOutput returns whether the variable is the output of a Function.
func (v *Variable) IsOutput() bool { return v.kind == KindOutput }

// IsParameter returns whether the variable is a Parameter.
func (v *Variable) IsParameter() bool { return v.kind == KindParameter }

// IsConstant returns whether the variable is a Constant.
func (v *Variable) IsConstant() bool { return v.kind == KindConstant }

// IsPlaceholder returns whether the variable is a Placeholder.
func (v *Variable) IsPlaceholder() bool { return v.kind == KindPlaceholder }

// Owner returns the Function that produces this output variable, or nil for any other kind.
func (v *Variable) Owner() *Function {
	if v.owner == InvalidFunctionID {
		return nil
	}
	return v.graph.Function(v.owner)
}

// Value returns the tensor stored for a parameter or a constant.
//
// Parameters values are updated in place by learners. It panics for other kinds of variables.
func (v *Variable) Value() *tensors.Tensor {
	if v.kind != KindParameter && v.kind != KindConstant {
		exceptions.Panicf("Variable.Value(): variable %s of kind %s has no stored value", v, v.kind)
	}
	return v.graph.value(v.uid)
}

// SetValue copies the contents of value into the stored value of a parameter.
func (v *Variable) SetValue(value *tensors.Tensor) {
	if v.kind != KindParameter {
		exceptions.Panicf("Variable.SetValue(): variable %s is not a parameter", v)
	}
	v.Value().CopyFrom(value)
}

// dataShape returns the expected shape of the data for the given extents of the dynamic axes.
func (v *Variable) dataShape(dynamicExtents []int) shapes.Shape {
	return v.shape.Concat(dynamicExtents...)
}

// String implements fmt.Stringer.
func (v *Variable) String() string {
	name := v.name
	if name == "" {
		name = v.uid
	}
	if len(v.dynamicAxes) == 0 {
		return fmt.Sprintf("%s(%s, (%s)%s)", v.kind, name, v.dtype, v.shape)
	}
	return fmt.Sprintf("%s(%s, (%s)%s, dynamic=%v)", v.kind, name, v.dtype, v.shape, v.dynamicAxes)
}
