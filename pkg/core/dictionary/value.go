// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dictionary implements a generic structured key-value record, used to serialize graphs,
// variables and learner states.
//
// A Dictionary maps string keys to Value, a tagged union of booleans, integers, floating point
// numbers, strings, shapes, axes, tensors, and (recursively) vectors of values and dictionaries.
// Use Encode and Decode to write and read them as binary streams.
package dictionary

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
)

// Type of the content of a Value.
//
// The integer values are written to the binary format, they are append-only.
type Type int32

//go:generate go tool enumer -type=Type -output=gen_type_enumer.go value.go

const (
	NoneType       Type = 0
	BoolType       Type = 1
	SizeTType      Type = 2
	FloatType      Type = 3
	DoubleType     Type = 4
	StringType     Type = 5
	ShapeType      Type = 6
	AxisType       Type = 7
	VectorType     Type = 8
	DictionaryType Type = 9
	TensorType     Type = 10
)

// Value is a tagged union holding one of the types enumerated by Type.
// The zero value holds nothing (NoneType).
//
// Values hold tensors and nested containers by reference: use DeepClone to snapshot them.
type Value struct {
	typ  Type
	data any
}

// Bool creates a boolean Value.
func Bool(v bool) Value { return Value{typ: BoolType, data: v} }

// SizeT creates an unsigned integer Value.
func SizeT(v uint64) Value { return Value{typ: SizeTType, data: v} }

// Float creates a float32 Value.
func Float(v float32) Value { return Value{typ: FloatType, data: v} }

// Double creates a float64 Value.
func Double(v float64) Value { return Value{typ: DoubleType, data: v} }

// String creates a string Value.
func String(v string) Value { return Value{typ: StringType, data: v} }

// ShapeValue creates a Value holding a shape.
func ShapeValue(shape shapes.Shape) Value { return Value{typ: ShapeType, data: shape.Clone()} }

// AxisValue creates a Value holding an axis.
func AxisValue(axis shapes.Axis) Value { return Value{typ: AxisType, data: axis} }

// Vector creates a Value holding an ordered sequence of values.
func Vector(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{typ: VectorType, data: values}
}

// Dict creates a Value holding a nested Dictionary.
func Dict(d Dictionary) Value {
	if d == nil {
		d = Dictionary{}
	}
	return Value{typ: DictionaryType, data: d}
}

// TensorValue creates a Value holding a tensor (by reference).
func TensorValue(t *tensors.Tensor) Value {
	if t == nil {
		exceptions.Panicf("dictionary.TensorValue(nil)")
	}
	return Value{typ: TensorType, data: t}
}

// Type of the value.
func (v Value) Type() Type { return v.typ }

// IsNone returns whether the Value holds nothing.
func (v Value) IsNone() bool { return v.typ == NoneType }

func (v Value) assertType(expected Type) {
	if v.typ != expected {
		exceptions.Panicf("dictionary.Value: expected type %s, but value holds %s", expected, v.typ)
	}
}

// AsBool returns the boolean held by the value. It panics if the Value holds something else.
func (v Value) AsBool() bool {
	v.assertType(BoolType)
	return v.data.(bool)
}

// AsSizeT returns the unsigned integer held by the value. It panics if the Value holds something else.
func (v Value) AsSizeT() uint64 {
	v.assertType(SizeTType)
	return v.data.(uint64)
}

// AsInt returns the unsigned integer held by the value converted to int.
func (v Value) AsInt() int {
	return int(v.AsSizeT())
}

// AsFloat returns the float32 held by the value. It panics if the Value holds something else.
func (v Value) AsFloat() float32 {
	v.assertType(FloatType)
	return v.data.(float32)
}

// AsDouble returns the float64 held by the value. It panics if the Value holds something else.
func (v Value) AsDouble() float64 {
	v.assertType(DoubleType)
	return v.data.(float64)
}

// AsString returns the string held by the value. It panics if the Value holds something else.
func (v Value) AsString() string {
	v.assertType(StringType)
	return v.data.(string)
}

// AsShape returns the shape held by the value. It panics if the Value holds something else.
func (v Value) AsShape() shapes.Shape {
	v.assertType(ShapeType)
	return v.data.(shapes.Shape).Clone()
}

// AsAxis returns the axis held by the value. It panics if the Value holds something else.
func (v Value) AsAxis() shapes.Axis {
	v.assertType(AxisType)
	return v.data.(shapes.Axis)
}

// AsVector returns the values held by a vector Value. It panics if the Value holds something else.
func (v Value) AsVector() []Value {
	v.assertType(VectorType)
	return v.data.([]Value)
}

// AsDictionary returns the nested dictionary. It panics if the Value holds something else.
func (v Value) AsDictionary() Dictionary {
	v.assertType(DictionaryType)
	return v.data.(Dictionary)
}

// AsTensor returns the tensor held by the value. It panics if the Value holds something else.
func (v Value) AsTensor() *tensors.Tensor {
	v.assertType(TensorType)
	return v.data.(*tensors.Tensor)
}

// Equal returns whether both values have the same type and content, recursively.
// Floating point values are compared bit by bit, and tensors are compared with tensors.Tensor.Equal.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case NoneType:
		return true
	case FloatType:
		return math.Float32bits(v.data.(float32)) == math.Float32bits(other.data.(float32))
	case DoubleType:
		return math.Float64bits(v.data.(float64)) == math.Float64bits(other.data.(float64))
	case ShapeType:
		return v.data.(shapes.Shape).Equal(other.data.(shapes.Shape))
	case VectorType:
		return slices.EqualFunc(v.AsVector(), other.AsVector(), Value.Equal)
	case DictionaryType:
		return v.AsDictionary().Equal(other.AsDictionary())
	case TensorType:
		return v.AsTensor().Equal(other.AsTensor())
	default:
		return v.data == other.data
	}
}

// DeepClone returns a copy of the value where tensors (cloned to the host) and nested containers
// are not shared with the original.
func (v Value) DeepClone() Value {
	switch v.typ {
	case VectorType:
		values := v.AsVector()
		cloned := make([]Value, len(values))
		for ii, elem := range values {
			cloned[ii] = elem.DeepClone()
		}
		return Value{typ: VectorType, data: cloned}
	case DictionaryType:
		return Value{typ: DictionaryType, data: v.AsDictionary().DeepClone()}
	case TensorType:
		return Value{typ: TensorType, data: v.AsTensor().DeepClone(tensors.HostDevice(), false)}
	default:
		return v
	}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	switch v.typ {
	case NoneType:
		return "None"
	case StringType:
		return fmt.Sprintf("%q", v.data)
	case VectorType:
		parts := make([]string, 0, len(v.AsVector()))
		for _, elem := range v.AsVector() {
			parts = append(parts, elem.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v.data)
	}
}
