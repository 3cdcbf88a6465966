// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types of tensors and variables.
//
// The integer values of DType are written to model files and checkpoints. They are append-only:
// new data types can only be added at the end, existing values must never change.
package dtypes

import (
	"reflect"

	"github.com/gomlx/exceptions"
)

// DType is the element type of a tensor or of a variable.
type DType int32

//go:generate go tool enumer -type=DType -output=gen_dtype_enumer.go dtypes.go

const (
	// Unknown is used for variables whose element type is only known once they are bound,
	// typically placeholders.
	Unknown DType = 0

	// Float is a 32 bits IEEE floating point number, Go's float32.
	Float DType = 1

	// Double is a 64 bits IEEE floating point number, Go's float64.
	Double DType = 2
)

// Supported lists the Go types that can be used as tensor elements.
type Supported interface {
	float32 | float64
}

// FromGenericsType returns the DType enum for the given Go type.
func FromGenericsType[T Supported]() DType {
	var t T
	switch any(t).(type) {
	case float32:
		return Float
	case float64:
		return Double
	}
	return Unknown
}

// FromGoType returns the DType for the given reflect.Type, or Unknown.
func FromGoType(t reflect.Type) DType {
	switch t.Kind() {
	case reflect.Float32:
		return Float
	case reflect.Float64:
		return Double
	default:
		return Unknown
	}
}

// GoType returns the reflect.Type of the Go type used to store elements of this DType.
//
// It panics for Unknown or invalid values.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Float:
		return reflect.TypeOf(float32(0))
	case Double:
		return reflect.TypeOf(float64(0))
	default:
		exceptions.Panicf("dtype %s has no corresponding Go type", dtype)
	}
	return nil
}

// Size returns the number of bytes of one element of the DType, or 0 for Unknown.
func (dtype DType) Size() int {
	switch dtype {
	case Float:
		return 4
	case Double:
		return 8
	default:
		return 0
	}
}

// IsSupported returns whether tensors can hold elements of this DType.
func (dtype DType) IsSupported() bool {
	return dtype == Float || dtype == Double
}
