// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dictionary"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"k8s.io/klog/v2"
)

const (
	rootKey               = "root"
	inputsKey             = "inputs"
	primitiveFunctionsKey = "primitive_functions"
	opKey                 = "op"
	outputsKey            = "outputs"

	functionVersion   = 1
	functionTypeValue = "CompositeFunction"
	primitiveVersion  = 1
	primitiveType     = "PrimitiveFunction"
)

var requiredFunctionKeys = map[string]dictionary.Type{
	versionKey:            dictionary.SizeTType,
	typeKey:               dictionary.StringType,
	rootKey:               dictionary.StringType,
	nameKey:               dictionary.StringType,
	uidKey:                dictionary.StringType,
	inputsKey:             dictionary.VectorType,
	primitiveFunctionsKey: dictionary.VectorType,
}

var requiredPrimitiveKeys = map[string]dictionary.Type{
	versionKey: dictionary.SizeTType,
	typeKey:    dictionary.StringType,
	opKey:      dictionary.SizeTType,
	uidKey:     dictionary.StringType,
	nameKey:    dictionary.StringType,
	inputsKey:  dictionary.VectorType,
	outputsKey: dictionary.VectorType,
}

func uidsValue(vars []*Variable) dictionary.Value {
	uids := make([]dictionary.Value, len(vars))
	for ii, v := range vars {
		uids[ii] = dictionary.String(v.uid)
	}
	return dictionary.Vector(uids...)
}

// Save returns a record with the whole computation rooted at f: its leaf variables (including the
// values of parameters and constants) and its primitive functions, in topological order.
func Save(f *Function) dictionary.Dictionary {
	leaves := f.Inputs()
	inputs := make([]dictionary.Value, len(leaves))
	for ii, leaf := range leaves {
		inputs[ii] = dictionary.Dict(leaf.Serialize())
	}
	primitives := f.primitives()
	records := make([]dictionary.Value, len(primitives))
	for ii, fn := range primitives {
		records[ii] = dictionary.Dict(dictionary.Dictionary{
			versionKey: dictionary.SizeT(primitiveVersion),
			typeKey:    dictionary.String(primitiveType),
			opKey:      dictionary.SizeT(uint64(fn.op)),
			uidKey:     dictionary.String(fn.uid),
			nameKey:    dictionary.String(fn.name),
			inputsKey:  uidsValue(fn.inputs),
			outputsKey: uidsValue(fn.outputs),
		})
	}
	return dictionary.Dictionary{
		versionKey:            dictionary.SizeT(functionVersion),
		typeKey:               dictionary.String(functionTypeValue),
		rootKey:               dictionary.String(f.uid),
		nameKey:               dictionary.String(f.name),
		uidKey:                dictionary.String(f.uid),
		inputsKey:             dictionary.Vector(inputs...),
		primitiveFunctionsKey: dictionary.Vector(records...),
	}
}

// Load recreates in g the function saved with Save, with the same uids.
//
// Inputs of the saved function become placeholders with the same uid, dynamic axes, shape and dtype,
// to be rewired with Function.ReplacePlaceholders. Parameters and constants are created with their
// values cloned onto device, unless g already has a parameter or constant with the same uid: then
// that same variable is used, and its value is overwritten with the saved one.
//
// It panics if the record is invalid.
func Load(g *Graph, d dictionary.Dictionary, device tensors.Device) *Function {
	validateRecord("graph.Load", d, requiredFunctionKeys, functionTypeValue, functionVersion)
	byUID := make(map[string]*Variable)
	for _, inputValue := range d.Get(inputsKey).AsVector() {
		v := VariableFromDictionary(g, inputValue.AsDictionary(), device)
		if v.kind == KindInput {
			v.kind = KindPlaceholder
		}
		byUID[v.uid] = v
	}

	var root *Function
	rootUID := d.Get(rootKey).AsString()
	for ii, record := range d.Get(primitiveFunctionsKey).AsVector() {
		fn := loadPrimitive(g, record.AsDictionary(), byUID)
		klog.V(2).Infof("graph.Load: primitive #%d %s", ii, fn)
		if fn.uid == rootUID {
			root = fn
		}
	}
	if root == nil {
		exceptions.Panicf("graph.Load: root function %q not found in record", rootUID)
	}
	root.name = d.Get(nameKey).AsString()
	return root
}

func loadPrimitive(g *Graph, d dictionary.Dictionary, byUID map[string]*Variable) *Function {
	validateRecord("graph.Load", d, requiredPrimitiveKeys, primitiveType, primitiveVersion)
	op := OpType(d.Get(opKey).AsSizeT())
	if !op.IsAOpType() {
		exceptions.Panicf("graph.Load: unknown op %s", op)
	}
	uid, name := d.Get(uidKey).AsString(), d.Get(nameKey).AsString()
	resolve := func(key string) []*Variable {
		var vars []*Variable
		for _, uidValue := range d.Get(key).AsVector() {
			v, found := byUID[uidValue.AsString()]
			if !found {
				exceptions.Panicf("graph.Load: primitive %q refers to unknown variable %q", uid, uidValue.AsString())
			}
			vars = append(vars, v)
		}
		return vars
	}
	inputs := resolve(inputsKey)
	if len(inputs) == 0 {
		exceptions.Panicf("graph.Load: primitive %q has no inputs", uid)
	}

	var fn *Function
	if op == OpCombine {
		fn = Combine(name, resolve(outputsKey)...)
	} else {
		fn = buildPrimitive(op, inputs, name).Owner()
		outputUIDs := d.Get(outputsKey).AsVector()
		if len(outputUIDs) != 1 {
			exceptions.Panicf("graph.Load: primitive %q has %d outputs, expected 1", uid, len(outputUIDs))
		}
		output := fn.outputs[0]
		output.uid = outputUIDs[0].AsString()
		byUID[output.uid] = output
		g.observeUID(output.uid)
	}
	fn.uid = uid
	g.observeUID(uid)
	return fn
}

// buildPrimitive creates the primitive op with the given inputs, with shape inference and checks.
func buildPrimitive(op OpType, inputs []*Variable, name string) *Variable {
	expectInputs := func(n int) {
		if len(inputs) != n {
			exceptions.Panicf("graph.Load: op %s requires %d inputs, got %d", op, n, len(inputs))
		}
	}
	binary := map[OpType]func(a, b *Variable, name string) *Variable{
		OpPlus: Plus, OpMinus: Minus, OpElementTimes: ElementTimes, OpTimes: Times,
		OpSquaredError: SquaredError, OpCrossEntropyWithSoftmax: CrossEntropyWithSoftmax,
		OpClassificationError: ClassificationError,
	}
	unary := map[OpType]func(x *Variable, name string) *Variable{
		OpNegate: Negate, OpSigmoid: Sigmoid, OpTanh: Tanh, OpReLU: ReLU, OpExp: Exp, OpLog: Log,
		OpReduceSum: ReduceSum,
	}
	if fn, found := binary[op]; found {
		expectInputs(2)
		return fn(inputs[0], inputs[1], name)
	}
	if fn, found := unary[op]; found {
		expectInputs(1)
		return fn(inputs[0], name)
	}
	exceptions.Panicf("graph.Load: op %s cannot be built", op)
	return nil
}
