// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/support/sets"
)

// Function is a primitive operation (see OpType) on its input variables, producing its outputs.
//
// A Function also stands for the whole computation needed to produce its outputs: all the
// primitive functions reachable by following its inputs back to the leaves (inputs, parameters,
// constants and placeholders). Introspection methods like Parameters or Arguments refer to that
// whole computation.
type Function struct {
	graph   *Graph
	id      FunctionID
	op      OpType
	name    string
	uid     string
	inputs  []*Variable
	outputs []*Variable
}

// newPrimitive creates and registers a primitive function with one output of the given shape.
func newPrimitive(g *Graph, op OpType, name string, inputs []*Variable,
	outputShape shapes.Shape, outputAxes []shapes.Axis) *Function {
	f := &Function{
		graph:  g,
		op:     op,
		name:   name,
		uid:    g.newUID(op.String()),
		inputs: inputs,
	}
	g.registerFunction(f)
	f.outputs = []*Variable{{
		graph:       g,
		kind:        KindOutput,
		shape:       outputShape,
		dtype:       inputs[0].dtype,
		name:        name,
		uid:         f.uid + "_Output_0",
		dynamicAxes: outputAxes,
		owner:       f.id,
	}}
	return f
}

// Graph returns the graph owning the function.
func (f *Function) Graph() *Graph { return f.graph }

// ID of the function in its graph's table of functions.
func (f *Function) ID() FunctionID { return f.id }

// Op returns the primitive operation of the function.
func (f *Function) Op() OpType { return f.op }

// Name of the function, not necessarily unique.
func (f *Function) Name() string { return f.name }

// UID of the function. It is preserved when a function is saved and loaded.
func (f *Function) UID() string { return f.uid }

// RootInputs returns the direct inputs of the primitive operation.
func (f *Function) RootInputs() []*Variable { return slices.Clone(f.inputs) }

// Outputs of the function. For Combine these are the combined variables themselves.
func (f *Function) Outputs() []*Variable { return slices.Clone(f.outputs) }

// Output returns the only output of the function. It panics if the function has more than one output.
func (f *Function) Output() *Variable {
	if len(f.outputs) != 1 {
		exceptions.Panicf("Function.Output(): %s has %d outputs", f, len(f.outputs))
	}
	return f.outputs[0]
}

// String implements fmt.Stringer.
func (f *Function) String() string {
	name := f.name
	if name == "" {
		name = f.uid
	}
	inputs := make([]string, len(f.inputs))
	for ii, input := range f.inputs {
		inputs[ii] = input.uid
	}
	return fmt.Sprintf("%s:%s(%s)", name, f.op, strings.Join(inputs, ", "))
}

// primitives returns all primitive functions of the computation rooted at f, in topological order:
// every function comes after the functions producing its inputs. f itself is the last one.
func (f *Function) primitives() []*Function {
	var order []*Function
	visited := sets.Make[FunctionID]()
	var visit func(fn *Function)
	visit = func(fn *Function) {
		if visited.Has(fn.id) {
			return
		}
		visited.Insert(fn.id)
		for _, input := range fn.inputs {
			if owner := input.Owner(); owner != nil {
				visit(owner)
			}
		}
		order = append(order, fn)
	}
	visit(f)
	return order
}

// Inputs returns all the leaf variables (inputs, placeholders, parameters and constants) used by
// the computation rooted at f, in the order they are first found.
func (f *Function) Inputs() []*Variable {
	var leaves []*Variable
	seen := sets.Make[*Variable]()
	for _, fn := range f.primitives() {
		candidates := fn.inputs
		if fn.op == OpCombine {
			candidates = fn.outputs
		}
		for _, v := range candidates {
			if v.kind != KindOutput && !seen.Has(v) {
				seen.Insert(v)
				leaves = append(leaves, v)
			}
		}
	}
	return leaves
}

func (f *Function) inputsOfKind(kinds ...Kind) []*Variable {
	var selected []*Variable
	for _, v := range f.Inputs() {
		if slices.Contains(kinds, v.kind) {
			selected = append(selected, v)
		}
	}
	return selected
}

// Arguments returns the inputs and placeholders that need to be bound to values to execute the function.
func (f *Function) Arguments() []*Variable { return f.inputsOfKind(KindInput, KindPlaceholder) }

// Parameters returns the parameters used by the function.
func (f *Function) Parameters() []*Variable { return f.inputsOfKind(KindParameter) }

// Constants returns the constants used by the function.
func (f *Function) Constants() []*Variable { return f.inputsOfKind(KindConstant) }

// Placeholders returns the placeholders used by the function.
func (f *Function) Placeholders() []*Variable { return f.inputsOfKind(KindPlaceholder) }

// findVariable returns the variable with the given uid that is either a leaf or an output of one of
// the primitive functions of f, or nil if none is found.
func (f *Function) findVariable(uid string) *Variable {
	for _, fn := range f.primitives() {
		for _, v := range fn.outputs {
			if v.uid == uid {
				return v
			}
		}
		for _, v := range fn.inputs {
			if v.uid == uid {
				return v
			}
		}
	}
	return nil
}

// ReplacePlaceholders rewires every use of the given placeholders to their replacement variables.
//
// Replacements must belong to the same graph, and have the same shape, dtype and dynamic axes as the
// placeholder they replace. It returns f itself.
func (f *Function) ReplacePlaceholders(replacements map[*Variable]*Variable) *Function {
	for placeholder, replacement := range replacements {
		if !placeholder.IsPlaceholder() {
			exceptions.Panicf("ReplacePlaceholders: %s is not a placeholder", placeholder)
		}
		f.graph.assertSameGraph(replacement)
		if !placeholder.shape.Equal(replacement.shape) || placeholder.dtype != replacement.dtype ||
			!slices.Equal(placeholder.dynamicAxes, replacement.dynamicAxes) {
			exceptions.Panicf("ReplacePlaceholders: replacement %s is incompatible with placeholder %s",
				replacement, placeholder)
		}
	}
	for _, fn := range f.primitives() {
		for ii, input := range fn.inputs {
			if replacement, found := replacements[input]; found {
				fn.inputs[ii] = replacement
			}
		}
		if fn.op == OpCombine {
			for ii, output := range fn.outputs {
				if replacement, found := replacements[output]; found {
					fn.outputs[ii] = replacement
				}
			}
		}
	}
	return f
}
