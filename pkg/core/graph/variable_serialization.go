// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dictionary"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"k8s.io/klog/v2"
)

// Keys of the records of serialized variables and functions.
const (
	versionKey       = "version"
	typeKey          = "type"
	uidKey           = "uid"
	kindKey          = "kind"
	dataTypeKey      = "data_type"
	dynamicAxisKey   = "dynamic_axis"
	isSparseKey      = "is_sparse"
	nameKey          = "name"
	needsGradientKey = "needs_gradient"
	shapeKey         = "shape"
	valueKey         = "value"
)

const (
	// variableVersion is the current version of the variable record.
	variableVersion = 1

	// variableTypeValue is the type tag of variable records.
	variableTypeValue = "Variable"
)

// requiredVariableKeys with their types.
var requiredVariableKeys = map[string]dictionary.Type{
	versionKey:       dictionary.SizeTType,
	typeKey:          dictionary.StringType,
	uidKey:           dictionary.StringType,
	kindKey:          dictionary.SizeTType,
	dataTypeKey:      dictionary.SizeTType,
	dynamicAxisKey:   dictionary.VectorType,
	isSparseKey:      dictionary.BoolType,
	nameKey:          dictionary.StringType,
	needsGradientKey: dictionary.BoolType,
	shapeKey:         dictionary.ShapeType,
}

// Serialize returns the record describing the variable, including the value of parameters and constants.
//
// Outputs of functions can't be serialized on their own (see Save): it panics if v is an output.
func (v *Variable) Serialize() dictionary.Dictionary {
	if v.kind == KindOutput {
		exceptions.Panicf("Variable.Serialize(): output variable %s cannot be serialized", v)
	}
	axes := make([]dictionary.Value, len(v.dynamicAxes))
	for ii, axis := range v.dynamicAxes {
		axes[ii] = dictionary.AxisValue(axis)
	}
	d := dictionary.Dictionary{
		versionKey:       dictionary.SizeT(variableVersion),
		typeKey:          dictionary.String(variableTypeValue),
		uidKey:           dictionary.String(v.uid),
		kindKey:          dictionary.SizeT(uint64(v.kind)),
		dataTypeKey:      dictionary.SizeT(uint64(v.dtype)),
		dynamicAxisKey:   dictionary.Vector(axes...),
		isSparseKey:      dictionary.Bool(v.isSparse),
		nameKey:          dictionary.String(v.name),
		needsGradientKey: dictionary.Bool(v.needsGradient),
		shapeKey:         dictionary.ShapeValue(v.shape),
	}
	if v.kind == KindParameter || v.kind == KindConstant {
		d[valueKey] = dictionary.TensorValue(v.Value().DeepClone(tensors.HostDevice(), false))
	}
	return d
}

// validateRecord panics if the record doesn't have the required keys, has an unsupported version or
// the wrong type tag.
func validateRecord(what string, d dictionary.Dictionary, required map[string]dictionary.Type,
	typeValue string, currentVersion uint64) {
	d.FromTypes(what, required)
	if version := d.Get(versionKey).AsSizeT(); version == 0 || version > currentVersion {
		exceptions.Panicf("%s: record version %d not supported, current version is %d", what, version, currentVersion)
	}
	if gotType := d.Get(typeKey).AsString(); gotType != typeValue {
		exceptions.Panicf("%s: record of type %q, expected %q", what, gotType, typeValue)
	}
}

// VariableFromDictionary creates the variable described by a record created by Variable.Serialize.
//
// For parameters and constants, the stored value is cloned onto the given device (read-only for
// constants). If g already has a parameter or constant with the same uid, that variable is returned
// instead, with its value overwritten: this keeps the identity of parameters shared with learners.
//
// It panics if the record is invalid.
func VariableFromDictionary(g *Graph, d dictionary.Dictionary, device tensors.Device) *Variable {
	validateRecord("VariableFromDictionary", d, requiredVariableKeys, variableTypeValue, variableVersion)
	uid := d.Get(uidKey).AsString()
	kind := Kind(d.Get(kindKey).AsSizeT())
	switch kind {
	case KindInput, KindParameter, KindConstant, KindPlaceholder:
	default:
		exceptions.Panicf("VariableFromDictionary(%q): unexpected variable kind %s", uid, kind)
	}
	dtype := dtypes.DType(d.Get(dataTypeKey).AsSizeT())
	if !dtype.IsADType() {
		exceptions.Panicf("VariableFromDictionary(%q): unexpected data type %s", uid, dtype)
	}
	var axes []shapes.Axis
	for _, axisValue := range d.Get(dynamicAxisKey).AsVector() {
		axes = append(axes, axisValue.AsAxis())
	}
	v := &Variable{
		graph:         g,
		kind:          kind,
		shape:         d.Get(shapeKey).AsShape(),
		dtype:         dtype,
		isSparse:      d.Get(isSparseKey).AsBool(),
		needsGradient: d.Get(needsGradientKey).AsBool(),
		name:          d.Get(nameKey).AsString(),
		uid:           uid,
		dynamicAxes:   axes,
		owner:         InvalidFunctionID,
	}
	g.observeUID(uid)
	if kind != KindParameter && kind != KindConstant {
		return v
	}

	if !d.Has(valueKey) {
		exceptions.Panicf("VariableFromDictionary(%q): %s record without a value", uid, kind)
	}
	value := d.Get(valueKey).AsTensor()
	if value.DType() != dtype || !value.Shape().Equal(v.shape) {
		exceptions.Panicf("VariableFromDictionary(%q): value (%s)%s doesn't match variable (%s)%s",
			uid, value.DType(), value.Shape(), dtype, v.shape)
	}
	if existing := g.leaves[uid]; existing != nil {
		if existing.kind != kind || existing.dtype != dtype || !existing.shape.Equal(v.shape) {
			exceptions.Panicf("VariableFromDictionary(%q): record %s conflicts with existing %s", uid, v, existing)
		}
		current := g.value(uid)
		if kind == KindParameter {
			current.CopyFrom(value)
		} else {
			g.setValue(uid, value.DeepClone(current.Device(), true))
		}
		klog.V(2).Infof("VariableFromDictionary: rebound value of %s", existing)
		return existing
	}
	g.setValue(uid, value.DeepClone(device, kind == KindConstant))
	g.leaves[uid] = v
	return v
}
