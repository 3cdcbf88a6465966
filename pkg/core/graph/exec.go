// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/gomlx/symtrain/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackPropState holds the intermediate values of a Forward execution, needed by Backward.
// It can be used only once.
type BackPropState struct {
	function *Function
	device   tensors.Device

	// order are the primitive functions executed, in topological order.
	order []*Function

	// values of every variable used or computed, indexed by uid.
	values map[string]*tensors.Value

	// roots are the uids of the variables from which gradients can be back-propagated.
	roots sets.Set[string]

	consumed bool
}

// Function that created the state.
func (s *BackPropState) Function() *Function { return s.function }

// Device where the computation was executed.
func (s *BackPropState) Device() tensors.Device { return s.device }

// Forward executes the computation of the given outputs.
//
// The arguments map the inputs (and unresolved placeholders) of f to their values. Only the
// arguments needed by the requested outputs must be given, and extra entries that are arguments of
// f are ignored. Arguments on a device other than the given one are copied.
//
// Every entry of outputs, which can be any variable computed or used by f, is set with its value.
// Variables are matched by UID, so variables of a function that was saved and loaded can be used.
//
// If retainBackwardStateFor is given, it returns the BackPropState to be used in a Backward call,
// to compute gradients from those variables. Otherwise, it returns a nil state.
func (f *Function) Forward(arguments map[*Variable]*tensors.Value, outputs map[*Variable]*tensors.Value,
	device tensors.Device, retainBackwardStateFor ...*Variable) (state *BackPropState, err error) {
	panicErr := exceptions.TryCatch[error](func() {
		state, err = f.forward(arguments, outputs, device, retainBackwardStateFor)
	})
	if panicErr != nil {
		err = panicErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "Forward(%s)", f)
	}
	return state, nil
}

func (f *Function) forward(arguments map[*Variable]*tensors.Value, outputs map[*Variable]*tensors.Value,
	device tensors.Device, retain []*Variable) (*BackPropState, error) {
	// Resolve the targets, matching by uid.
	targets := make(map[*Variable]*Variable, len(outputs)+len(retain))
	resolve := func(v *Variable) (*Variable, error) {
		if resolved, found := targets[v]; found {
			return resolved, nil
		}
		resolved := f.findVariable(v.uid)
		if resolved == nil {
			return nil, errors.Errorf("variable %s is not part of the computation", v)
		}
		targets[v] = resolved
		return resolved, nil
	}
	for v := range outputs {
		if _, err := resolve(v); err != nil {
			return nil, err
		}
	}
	roots := sets.Make[string](len(retain))
	for _, v := range retain {
		resolved, err := resolve(v)
		if err != nil {
			return nil, err
		}
		roots.Insert(resolved.uid)
	}

	// Select the primitive functions needed.
	needed := sets.Make[FunctionID]()
	var mark func(fn *Function)
	mark = func(fn *Function) {
		if needed.Has(fn.id) {
			return
		}
		needed.Insert(fn.id)
		for _, input := range fn.inputs {
			if owner := input.Owner(); owner != nil {
				mark(owner)
			}
		}
	}
	for _, resolved := range targets {
		if owner := resolved.Owner(); owner != nil {
			mark(owner)
		}
	}
	var order []*Function
	for _, fn := range f.primitives() {
		if needed.Has(fn.id) && fn.op != OpCombine {
			order = append(order, fn)
		}
	}

	// Bind arguments, by uid.
	argumentsByUID := make(map[string]*tensors.Value, len(arguments))
	validArguments := sets.Make[string]()
	for _, argument := range f.Arguments() {
		validArguments.Insert(argument.uid)
	}
	for v, value := range arguments {
		if !validArguments.Has(v.uid) {
			return nil, errors.Errorf("argument %s is not an input of the function", v)
		}
		argumentsByUID[v.uid] = value
	}
	values := make(map[string]*tensors.Value)
	bindLeaf := func(v *Variable) error {
		if _, found := values[v.uid]; found {
			return nil
		}
		switch v.kind {
		case KindParameter, KindConstant:
			values[v.uid] = tensors.FromTensor(v.Value())
			return nil
		case KindOutput:
			return nil
		}
		value, found := argumentsByUID[v.uid]
		if !found {
			return errors.Errorf("no value given for argument %s", v)
		}
		bound, err := bindArgument(v, value, device)
		if err != nil {
			return err
		}
		values[v.uid] = bound
		return nil
	}
	for _, fn := range order {
		for _, input := range fn.inputs {
			if err := bindLeaf(input); err != nil {
				return nil, err
			}
		}
	}
	for _, resolved := range targets {
		if err := bindLeaf(resolved); err != nil {
			return nil, err
		}
	}

	// Execute.
	for _, fn := range order {
		node := &execNode{fn: fn, device: device, inputs: make([]*tensors.Value, len(fn.inputs))}
		for ii, input := range fn.inputs {
			node.inputs[ii] = values[input.uid]
		}
		kernel, found := forwardKernels[fn.op]
		if !found {
			exceptions.Panicf("no kernel implemented for op %s", fn.op)
		}
		values[fn.outputs[0].uid] = kernel(node)
	}
	klog.V(3).Infof("Forward(%s): executed %d primitive functions on %s", f, len(order), device)

	for v := range outputs {
		outputs[v] = values[targets[v].uid]
	}
	if len(retain) == 0 {
		return nil, nil
	}
	return &BackPropState{function: f, device: device, order: order, values: values, roots: roots}, nil
}

// bindArgument checks that value can be bound to the argument v, and copies it to the device if needed.
func bindArgument(v *Variable, value *tensors.Value, device tensors.Device) (*tensors.Value, error) {
	if value == nil || value.Data() == nil {
		return nil, errors.Errorf("nil value given for argument %s", v)
	}
	if value.DType() != v.dtype {
		return nil, errors.Errorf("value of dtype %s given for argument %s", value.DType(), v)
	}
	dataShape := value.Shape()
	staticRank := v.shape.Rank()
	if dataShape.Rank() != staticRank+len(v.dynamicAxes) || !v.shape.IsPrefixOf(dataShape) {
		return nil, errors.Errorf("value shaped %s given for argument %s with %d dynamic axes",
			dataShape, v, len(v.dynamicAxes))
	}
	if mask := value.Mask(); mask != nil && mask.Shape().Rank() != len(v.dynamicAxes) {
		return nil, errors.Errorf("mask shaped %s given for argument %s with %d dynamic axes",
			mask.Shape(), v, len(v.dynamicAxes))
	}
	if value.Device() != device {
		klog.V(2).Infof("copying argument %s from %s to %s", v, value.Device(), device)
		return tensors.NewValue(value.Data().CopyTo(device), value.Mask()), nil
	}
	return value, nil
}

// Backward back-propagates gradients from the roots retained in state, and returns the gradients with
// respect to the requested parameters.
//
// The rootGradients must map variables given in Forward's retainBackwardStateFor to their
// gradients, with the same shape as their values. Every entry of parameterGradients, which must be
// parameters of the function, is set with the gradient with respect to it: these carry no mask,
// and are zero if the parameter doesn't affect the roots.
//
// The state is consumed by the call, even if it fails, and cannot be used again.
func (f *Function) Backward(state *BackPropState, rootGradients map[*Variable]*tensors.Value,
	parameterGradients map[*Variable]*tensors.Value) (err error) {
	if state == nil {
		return errors.Errorf("Backward(%s): nil BackPropState, Forward must be called with retainBackwardStateFor", f)
	}
	if state.consumed {
		return errors.Errorf("Backward(%s): BackPropState already used, call Forward again", f)
	}
	state.consumed = true
	if state.function != f {
		return errors.Errorf("Backward(%s): BackPropState was created by a different function %s", f, state.function)
	}
	panicErr := exceptions.TryCatch[error](func() {
		err = f.backward(state, rootGradients, parameterGradients)
	})
	if panicErr != nil {
		err = panicErr
	}
	if err != nil {
		return errors.WithMessagef(err, "Backward(%s)", f)
	}
	return nil
}

func (f *Function) backward(state *BackPropState, rootGradients map[*Variable]*tensors.Value,
	parameterGradients map[*Variable]*tensors.Value) error {
	grads := make(map[string]*tensors.Tensor)
	for v, rootGrad := range rootGradients {
		if !state.roots.Has(v.uid) {
			return errors.Errorf("gradient given for %s, which was not retained in Forward", v)
		}
		value := state.values[v.uid]
		if rootGrad.DType() != value.DType() || !rootGrad.Shape().Equal(value.Shape()) {
			return errors.Errorf("gradient shaped (%s)%s given for %s, whose value is shaped (%s)%s",
				rootGrad.DType(), rootGrad.Shape(), v, value.DType(), value.Shape())
		}
		grad := rootGrad.Data().CopyTo(state.device)
		zeroMasked(grad, rootGrad.Mask())
		grads[v.uid] = grad
	}

	params := make(map[string]*Variable)
	for _, param := range f.Parameters() {
		params[param.uid] = param
	}
	for v := range parameterGradients {
		if _, found := params[v.uid]; !found {
			return errors.Errorf("gradient requested for %s, which is not a parameter of the function", v)
		}
	}

	for _, fn := range slices.Backward(state.order) {
		output := fn.outputs[0]
		outputGrad, found := grads[output.uid]
		if !found {
			continue
		}
		outputValue := state.values[output.uid]
		zeroMasked(outputGrad, outputValue.Mask())
		node := &execNode{fn: fn, device: state.device, inputs: make([]*tensors.Value, len(fn.inputs))}
		for ii, input := range fn.inputs {
			node.inputs[ii] = state.values[input.uid]
		}
		inputGrads := vjpKernels[fn.op](node, outputValue, outputGrad)
		for ii, input := range fn.inputs {
			inputGrad := inputGrads[ii]
			if inputGrad == nil || input.kind == KindConstant || (input.kind == KindParameter && !input.needsGradient) {
				continue
			}
			zeroMasked(inputGrad, node.inputs[ii].Mask())
			if existing, found := grads[input.uid]; found {
				accumulateGrad(existing, inputGrad)
			} else {
				grads[input.uid] = inputGrad
			}
		}
	}

	for v := range parameterGradients {
		param := params[v.uid]
		grad, found := grads[param.uid]
		if !found {
			grad = tensors.New(param.dtype, param.shape, state.device)
		}
		parameterGradients[v] = tensors.FromTensor(grad)
	}
	return nil
}
